package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "GROUPWIRE_LOG_LEVEL"
	EnvLogTimestamp = "GROUPWIRE_LOG_TIMESTAMP"
	EnvLogNoColor   = "GROUPWIRE_LOG_NOCOLOR"
	EnvLogBypass    = "GROUPWIRE_LOG_BYPASS"
)

type Profile int

const (
	// ProfileCLI logs to stderr so stdout carries only conversation output.
	ProfileCLI Profile = iota
	ProfileTest
)

var configureOnce sync.Once

// ConfigureCLI sets up logging for gwclient. A non-empty level wins over
// GROUPWIRE_LOG_LEVEL.
func ConfigureCLI(level string) error {
	var lvl zerolog.Level
	if level != "" {
		var ok bool
		if lvl, ok = ParseLevel(level); !ok {
			return fmt.Errorf("logging: unknown level %q", level)
		}
	}
	configureOnce.Do(func() {
		cfg := profileConfig(ProfileCLI)
		applyEnv(&cfg, os.Getenv)
		if level != "" {
			cfg.Level = lvl
		}
		Apply(cfg)
	})
	return nil
}

func ConfigureTests() {
	configureOnce.Do(func() {
		cfg := profileConfig(ProfileTest)
		applyEnv(&cfg, os.Getenv)
		Apply(cfg)
	})
}

func profileConfig(profile Profile) Config {
	cfg := DefaultConfig()
	if profile == ProfileTest {
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
		return cfg
	}
	cfg.Stderr = true
	return cfg
}

// applyEnv overlays the GROUPWIRE_LOG_* variables found through getenv.
// Unparseable values are ignored.
func applyEnv(cfg *Config, getenv func(string) string) {
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	flags := map[string]*bool{
		EnvLogTimestamp: &cfg.Timestamp,
		EnvLogNoColor:   &cfg.NoColor,
		EnvLogBypass:    &cfg.Bypass,
	}
	for name, dst := range flags {
		raw := strings.TrimSpace(getenv(name))
		if raw == "" {
			continue
		}
		if v, err := strconv.ParseBool(raw); err == nil {
			*dst = v
		}
	}
}

// ParseLevel accepts zerolog level names plus "warning" and "off".
func ParseLevel(raw string) (zerolog.Level, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return zerolog.InfoLevel, false
	case "warning":
		return zerolog.WarnLevel, true
	case "off", "none":
		return zerolog.Disabled, true
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

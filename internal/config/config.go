package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/groupwire/internal/client"
	"github.com/danmuck/groupwire/internal/transport"
)

var (
	ErrServerRequired = errors.New("config: server is required")
	ErrUserRequired   = errors.New("config: user is required")
	ErrNoPassword     = errors.New("config: password or password_env is required")
)

// ClientConfig is the resolved client configuration.
type ClientConfig struct {
	Server             string
	Port               int
	User               string
	Password           string
	PasswordEnv        string
	UserAgent          string
	ClientIP           string
	TLS                transport.TLSConfig
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadRetryBudget    int
	ReadRetryDelay     time.Duration
	MaxConnectAttempts int
	Backoff            transport.BackoffConfig
}

// client.toml key mapping. Durations are Go duration strings.
type clientFile struct {
	Server             string      `toml:"server"`
	Port               int         `toml:"port"`
	User               string      `toml:"user"`
	Password           string      `toml:"password"`
	PasswordEnv        string      `toml:"password_env"`
	UserAgent          string      `toml:"user_agent"`
	ClientIP           string      `toml:"client_ip"`
	TLS                tlsFile     `toml:"tls"`
	ConnectTimeout     string      `toml:"connect_timeout"`
	ReadTimeout        string      `toml:"read_timeout"`
	WriteTimeout       string      `toml:"write_timeout"`
	ReadRetryBudget    int         `toml:"read_retry_budget"`
	ReadRetryDelay     string      `toml:"read_retry_delay"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	Backoff            backoffFile `toml:"backoff"`
}

type tlsFile struct {
	Enabled            bool   `toml:"enabled"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFile struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

func DefaultClientConfig() ClientConfig {
	t := transport.DefaultConfig()
	return ClientConfig{
		Port:               t.Port,
		UserAgent:          client.DefaultUserAgent,
		ConnectTimeout:     t.ConnectTimeout,
		ReadTimeout:        t.ReadTimeout,
		WriteTimeout:       t.WriteTimeout,
		ReadRetryBudget:    t.RetryBudget,
		ReadRetryDelay:     t.RetryDelay,
		MaxConnectAttempts: 3,
		Backoff:            t.Backoff,
	}
}

// LoadClientConfig overlays the keys present in path onto
// DefaultClientConfig and validates the result.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("load client config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("server") {
		cfg.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("user") {
		cfg.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("password_env") {
		cfg.PasswordEnv = strings.TrimSpace(raw.PasswordEnv)
	}
	if meta.IsDefined("user_agent") {
		cfg.UserAgent = strings.TrimSpace(raw.UserAgent)
	}
	if meta.IsDefined("client_ip") {
		cfg.ClientIP = strings.TrimSpace(raw.ClientIP)
	}
	if meta.IsDefined("tls", "enabled") {
		cfg.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}
	if meta.IsDefined("read_retry_budget") {
		cfg.ReadRetryBudget = raw.ReadRetryBudget
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	durations := []struct {
		key  []string
		raw  string
		dest *time.Duration
	}{
		{[]string{"connect_timeout"}, raw.ConnectTimeout, &cfg.ConnectTimeout},
		{[]string{"read_timeout"}, raw.ReadTimeout, &cfg.ReadTimeout},
		{[]string{"write_timeout"}, raw.WriteTimeout, &cfg.WriteTimeout},
		{[]string{"read_retry_delay"}, raw.ReadRetryDelay, &cfg.ReadRetryDelay},
		{[]string{"backoff", "initial"}, raw.Backoff.Initial, &cfg.Backoff.InitialDelay},
		{[]string{"backoff", "max"}, raw.Backoff.Max, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return ClientConfig{}, fmt.Errorf("load client config: %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dest = v
	}

	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		return ErrServerRequired
	}
	if strings.TrimSpace(c.User) == "" {
		return ErrUserRequired
	}
	if c.Password == "" && strings.TrimSpace(c.PasswordEnv) == "" {
		return ErrNoPassword
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("config: max_connect_attempts must not be negative")
	}
	return c.Transport().Validate()
}

// ResolvePassword returns the configured password, reading PasswordEnv when
// no literal password is set.
func (c ClientConfig) ResolvePassword() (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	name := strings.TrimSpace(c.PasswordEnv)
	if name == "" {
		return "", ErrNoPassword
	}
	pw, ok := os.LookupEnv(name)
	if !ok || pw == "" {
		return "", fmt.Errorf("config: password env %s is empty", name)
	}
	return pw, nil
}

// Transport converts c into the dial configuration.
func (c ClientConfig) Transport() transport.Config {
	return transport.Config{
		Address:          c.Server,
		Port:             c.Port,
		TLS:              c.TLS,
		ConnectTimeout:   c.ConnectTimeout,
		HandshakeTimeout: c.ConnectTimeout,
		ReadTimeout:      c.ReadTimeout,
		WriteTimeout:     c.WriteTimeout,
		RetryBudget:      c.ReadRetryBudget,
		RetryDelay:       c.ReadRetryDelay,
		Backoff:          c.Backoff,
	}.WithDefaults()
}

// Client converts c into the client configuration, resolving the password.
func (c ClientConfig) Client() (client.Config, error) {
	pw, err := c.ResolvePassword()
	if err != nil {
		return client.Config{}, err
	}
	return client.Config{
		Transport:          c.Transport(),
		UserID:             c.User,
		Password:           pw,
		UserAgent:          c.UserAgent,
		ClientIP:           c.ClientIP,
		MaxConnectAttempts: c.MaxConnectAttempts,
	}, nil
}

package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/groupwire/internal/auth"
	"github.com/danmuck/groupwire/internal/peer"
)

// PeerConfig describes a local peer server for demos and manual testing.
type PeerConfig struct {
	Listen            string
	TLSCertFile       string
	TLSKeyFile        string
	RedirectPlaintext bool
	ReadTimeout       time.Duration
	Users             []PeerUser
}

type PeerUser struct {
	UserID   string `toml:"user_id"`
	DN       string `toml:"dn"`
	FullName string `toml:"full_name"`
	Password string `toml:"password"`
}

type peerFile struct {
	Listen            string     `toml:"listen"`
	TLSCertFile       string     `toml:"tls_cert_file"`
	TLSKeyFile        string     `toml:"tls_key_file"`
	RedirectPlaintext bool       `toml:"redirect_plaintext"`
	ReadTimeout       string     `toml:"read_timeout"`
	Users             []PeerUser `toml:"users"`
}

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		Listen:      "127.0.0.1:8300",
		ReadTimeout: 5 * time.Minute,
	}
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	cfg := DefaultPeerConfig()

	var raw peerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return PeerConfig{}, fmt.Errorf("load peer config: %w", err)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("redirect_plaintext") {
		cfg.RedirectPlaintext = raw.RedirectPlaintext
	}
	if meta.IsDefined("read_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReadTimeout))
		if err != nil {
			return PeerConfig{}, fmt.Errorf("load peer config: read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if meta.IsDefined("users") {
		cfg.Users = raw.Users
	}
	if err := cfg.Validate(); err != nil {
		return PeerConfig{}, fmt.Errorf("load peer config: %w", err)
	}
	return cfg, nil
}

func (c PeerConfig) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("peer config missing listen")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("peer config needs both tls_cert_file and tls_key_file")
	}
	if c.RedirectPlaintext && c.TLSCertFile == "" {
		return fmt.Errorf("peer config redirect_plaintext requires tls")
	}
	if len(c.Users) == 0 {
		return fmt.Errorf("peer config has no users")
	}
	for i, u := range c.Users {
		if strings.TrimSpace(u.UserID) == "" {
			return fmt.Errorf("users[%d] missing user_id", i)
		}
		if strings.TrimSpace(u.DN) == "" {
			return fmt.Errorf("users[%d] missing dn", i)
		}
	}
	return nil
}

// Peer converts c into the server configuration, loading the certificate
// when TLS is configured.
func (c PeerConfig) Peer() (peer.Config, error) {
	passwords := make(auth.StaticUsers, len(c.Users))
	users := make([]peer.User, 0, len(c.Users))
	for _, u := range c.Users {
		passwords[u.UserID] = u.Password
		users = append(users, peer.User{UserID: u.UserID, DN: u.DN, FullName: u.FullName})
	}
	out := peer.Config{
		Validator:         passwords,
		Users:             users,
		RedirectPlaintext: c.RedirectPlaintext,
		ReadTimeout:       c.ReadTimeout,
	}
	if c.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return peer.Config{}, fmt.Errorf("peer tls keypair: %w", err)
		}
		out.TLS = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return out, nil
}

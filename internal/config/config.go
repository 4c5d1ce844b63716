package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.relay/config.toml.
type Config struct {
	DefaultInstance string        `toml:"default_instance"`
	HTTP            HTTP          `toml:"http"`
	Auth            Auth          `toml:"auth"`
	Push            Push          `toml:"push"`
	Conversations   Conversations `toml:"conversations"`
	Messages        Messages      `toml:"messages"`
}

type HTTP struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type Auth struct {
	JWTSecret string   `toml:"jwt_secret"`
	Issuer    string   `toml:"issuer"`
	TokenTTL  Duration `toml:"token_ttl"`
}

// Push configures Web Push. Push is disabled while either VAPID key is empty.
type Push struct {
	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`
	Subscriber      string `toml:"subscriber"`
	Workers         int    `toml:"workers"`
	QueueSize       int    `toml:"queue_size"`
	TTLSeconds      int    `toml:"ttl_seconds"`
	OnlyOffline     bool   `toml:"only_offline"`
}

type Conversations struct {
	PreviewLimit int `toml:"preview_limit"`
}

type Messages struct {
	MaxLength int `toml:"max_length"`
	PageLimit int `toml:"page_limit"`
}

// Duration is a time.Duration written as a Go duration string ("720h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		HTTP: HTTP{Addr: "127.0.0.1:8080"},
		Auth: Auth{
			Issuer:   "relay",
			TokenTTL: Duration{30 * 24 * time.Hour},
		},
		Push: Push{
			Subscriber:  "mailto:admin@localhost",
			Workers:     2,
			QueueSize:   256,
			TTLSeconds:  60,
			OnlyOffline: true,
		},
		Conversations: Conversations{PreviewLimit: 10},
		Messages:      Messages{MaxLength: 5000, PageLimit: 50},
	}
}

// Load reads config from the given path on top of Default. Returns error if
// the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate reports settings relayd cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return errors.New("push: set both vapid keys or neither")
	}
	if c.Push.Workers < 1 || c.Push.QueueSize < 1 {
		return errors.New("push.workers and push.queue_size must be positive")
	}
	if c.Messages.MaxLength < 1 {
		return errors.New("messages.max_length must be positive")
	}
	return nil
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

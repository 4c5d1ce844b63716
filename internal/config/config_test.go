package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultInstance = "work"
	cfg.Auth.JWTSecret = "s3cret"
	cfg.Auth.TokenTTL = Duration{2 * time.Hour}
	cfg.HTTP.AllowedOrigins = []string{"https://chat.example"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultInstance != "work" {
		t.Errorf("DefaultInstance = %q, want %q", loaded.DefaultInstance, "work")
	}
	if loaded.Auth.TokenTTL.Duration != 2*time.Hour {
		t.Errorf("TokenTTL = %v, want 2h", loaded.Auth.TokenTTL)
	}
	if len(loaded.HTTP.AllowedOrigins) != 1 || loaded.HTTP.AllowedOrigins[0] != "https://chat.example" {
		t.Errorf("AllowedOrigins = %v", loaded.HTTP.AllowedOrigins)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "default_instance = \"dev\"\n\n[auth]\njwt_secret = \"x\"\ntoken_ttl = \"90m\"\n\n[push]\nworkers = 4\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.TokenTTL.Duration != 90*time.Minute {
		t.Errorf("TokenTTL = %v, want 90m", cfg.Auth.TokenTTL)
	}
	if cfg.Push.Workers != 4 || cfg.Push.QueueSize != 256 || !cfg.Push.OnlyOffline {
		t.Errorf("Push = %+v", cfg.Push)
	}
	if cfg.Conversations.PreviewLimit != 10 || cfg.Messages.PageLimit != 50 {
		t.Errorf("defaults not applied: %+v %+v", cfg.Conversations, cfg.Messages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.HTTP.Addr == "" {
		t.Error("LoadOrDefault() should return defaults")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[auth]\ntoken_ttl = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"no secret", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"no addr", func(c *Config) { c.HTTP.Addr = "" }, true},
		{"half vapid", func(c *Config) { c.Push.VAPIDPublicKey = "pub" }, true},
		{"full vapid", func(c *Config) { c.Push.VAPIDPublicKey, c.Push.VAPIDPrivateKey = "pub", "priv" }, false},
		{"no workers", func(c *Config) { c.Push.Workers = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "secret"
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

package instance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/relay/internal/config"
)

func TestDirHonorsRelayHome(t *testing.T) {
	base := t.TempDir()
	t.Setenv("RELAY_HOME", base)

	if got, want := Dir("main"), filepath.Join(base, "instances", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got := ConfigPath(); got != filepath.Join(base, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv("RELAY_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := Dir("main"), filepath.Join(home, ".relay", "instances", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPaths(t *testing.T) {
	tests := []struct {
		got    string
		suffix string
	}{
		{SocketPath("test"), filepath.Join("instances", "test", "relayd.sock")},
		{LockPath("test"), filepath.Join("instances", "test", "LOCK")},
		{DBPath("test"), filepath.Join("instances", "test", "relay.db")},
		{LogPath("test"), filepath.Join("instances", "test", "logs", "relayd.log")},
	}
	for _, tt := range tests {
		if !strings.HasSuffix(tt.got, tt.suffix) {
			t.Errorf("%q does not end in %q", tt.got, tt.suffix)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("RELAY_HOME", t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0700 {
		t.Errorf("log dir mode = %v", info.Mode())
	}
}

func TestResolve(t *testing.T) {
	cfg := &config.Config{DefaultInstance: "work"}
	tests := []struct {
		name string
		flag string
		cfg  *config.Config
		want string
	}{
		{"flag wins", "dev", cfg, "dev"},
		{"config default", "", cfg, "work"},
		{"no config", "", nil, DefaultName},
		{"empty default", "", &config.Config{}, DefaultName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.flag, tt.cfg); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "relay2", false},
		{"valid with hyphen", "eu-west", false},
		{"valid with underscore", "load_test", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.instance", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "a/b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns $RELAY_HOME, or ~/.relay when it is unset.
func BaseDir() string {
	if dir := os.Getenv("RELAY_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relay")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// SocketPath returns the admin socket path for an instance.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "relayd.sock")
}

// LockPath returns the lock file path for an instance.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the instance database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "relay.db")
}

// LogDir returns the log directory for an instance.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "relayd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the instance directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

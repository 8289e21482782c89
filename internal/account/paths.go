package account

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.connect.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".connect")
}

// Dir returns the per-user directory.
func Dir(userID string) string {
	return filepath.Join(BaseDir(), "users", userID)
}

// SocketPath returns the daemon socket path inside dir.
func SocketPath(dir string) string {
	return filepath.Join(dir, "daemon.sock")
}

// DBPath returns the state database path inside dir.
func DBPath(dir string) string {
	return filepath.Join(dir, "connect.db")
}

// LogDir returns the log directory inside dir.
func LogDir(dir string) string {
	return filepath.Join(dir, "logs")
}

// LogPath returns the daemon log file path inside dir.
func LogPath(dir string) string {
	return filepath.Join(LogDir(dir), "connectd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates dir and its log directory with owner-only permissions.
func EnsureDir(dir string) error {
	for _, d := range []string{dir, LogDir(dir)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

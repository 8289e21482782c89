package account

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/yanivian/connect-app-sub000/internal/config"
)

var userIDRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateUserID checks that id is safe to use as a directory name.
func ValidateUserID(id string) error {
	if !userIDRegexp.MatchString(id) {
		return fmt.Errorf("invalid user id %q: must match %s", id, userIDRegexp)
	}
	return nil
}

// Resolve determines the active user using precedence:
// 1. flagOverride (--user flag)
// 2. default_user in cfg
// It fails when neither is set.
func Resolve(flagOverride string, cfg *config.Config) (string, error) {
	id := flagOverride
	if id == "" && cfg != nil {
		id = cfg.DefaultUser
	}
	if id == "" {
		return "", errors.New("no user selected: pass --user or set default_user in " + ConfigPath())
	}
	if err := ValidateUserID(id); err != nil {
		return "", err
	}
	return id, nil
}

// LoadConfig reads the global config. A missing file yields defaults.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

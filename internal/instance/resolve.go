// Package instance names and locates relayd instances. Each instance owns a
// directory holding its database, lock, admin socket and logs.
package instance

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/relay/internal/config"
)

const DefaultName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to instance naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve determines the active instance name using precedence:
// 1. flagOverride (--instance flag)
// 2. default_instance from cfg
// 3. "main"
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultInstance != "" {
		return cfg.DefaultInstance
	}
	return DefaultName
}

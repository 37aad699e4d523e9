package admission

import (
	"strings"

	"landclaim.ai/internal/config"
)

const (
	KeyCaseSensitive = "worlds.case-sensitive"
	KeyUseBlacklist  = "worlds.use-blacklist"
	KeyBlacklist     = "worlds.blacklist"
	KeyUseWhitelist  = "worlds.use-whitelist"
	KeyWhitelist     = "worlds.whitelist"
)

// WorldAllowed reports whether claims may be made in the named world. The
// blacklist is consulted first; an enabled whitelist then admits only listed
// names.
func WorldAllowed(cfg config.View, worldName string) bool {
	match := func(a, b string) bool { return a == b }
	if !cfg.Bool(KeyCaseSensitive, true) {
		match = strings.EqualFold
	}

	if cfg.Bool(KeyUseBlacklist, false) {
		for _, name := range cfg.Strings(KeyBlacklist) {
			if match(name, worldName) {
				return false
			}
		}
	}
	if cfg.Bool(KeyUseWhitelist, false) {
		for _, name := range cfg.Strings(KeyWhitelist) {
			if match(name, worldName) {
				return true
			}
		}
		return false
	}
	return true
}

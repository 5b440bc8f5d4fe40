package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validLogFormats = []string{"text", "json"}

var validLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate checks the config for required fields and valid values and
// reports every problem at once.
func Validate(c *Config) error {
	var errors []string
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg}.Error())
	}

	if strings.TrimSpace(c.AppRoot) == "" {
		add("app_root", "is required")
	}

	if c.ShareKeep < 0 {
		add("share_keep", "must be non-negative")
	}

	if c.DefaultThrottleKBps < 0 {
		add("default_throttle_kbps", "must be non-negative (0 disables throttling)")
	}

	if c.Installer.Bin64 == "" {
		add("installer.bin64", "is required")
	}
	if c.Installer.Bin32 == "" {
		add("installer.bin32", "is required")
	}
	for _, bin := range []struct{ field, name string }{
		{"installer.bin64", c.Installer.Bin64},
		{"installer.bin32", c.Installer.Bin32},
	} {
		if strings.ContainsAny(bin.name, `/\`) {
			add(bin.field, fmt.Sprintf("%q must be a file name inside app_root", bin.name))
		}
	}

	if c.Network.MaxAttempts < 1 {
		add("network.max_attempts", "must be at least 1")
	}
	if c.Network.HeaderTimeout.Duration <= 0 {
		add("network.header_timeout", "must be positive")
	}
	if c.Network.StallTimeout.Duration <= 0 {
		add("network.stall_timeout", "must be positive")
	}
	if c.Extract.StartTimeout.Duration <= 0 {
		add("extract.start_timeout", "must be positive")
	}

	if !contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		add("log.format", fmt.Sprintf("invalid format %q (must be text or json)", c.Log.Format))
	}
	if !contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		add("log.level", fmt.Sprintf("invalid level %q (must be one of: debug, info, warn, error)", c.Log.Level))
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

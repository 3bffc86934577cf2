package model

import (
	"fmt"
	"time"
)

// Settings is the moderation policy consumed by the registry.
type Settings struct {
	DetectionEnabled     bool `json:"detection_enabled" yaml:"detection_enabled"`
	AutoBanEnabled       bool `json:"auto_ban_enabled" yaml:"auto_ban_enabled"`
	GlobalBanSync        bool `json:"global_ban_sync" yaml:"global_ban_sync"`
	MaxViolations        int  `json:"max_violations" yaml:"max_violations"`
	BanDuration          int  `json:"ban_duration" yaml:"ban_duration"` // hours, applied to auto-bans
	ViolationWindowHours int  `json:"violation_window_hours" yaml:"violation_window_hours"`
	SpeedCheckEnabled    bool `json:"speed_check_enabled" yaml:"speed_check_enabled"`
	HealthCheckEnabled   bool `json:"health_check_enabled" yaml:"health_check_enabled"`
	TeleportCheckEnabled bool `json:"teleport_check_enabled" yaml:"teleport_check_enabled"`
	WeaponCheckEnabled   bool `json:"weapon_check_enabled" yaml:"weapon_check_enabled"`
}

// DefaultSettings returns the policy a fresh installation starts with.
func DefaultSettings() Settings {
	return Settings{
		DetectionEnabled:     true,
		AutoBanEnabled:       true,
		GlobalBanSync:        true,
		MaxViolations:        3,
		BanDuration:          24,
		ViolationWindowHours: 24,
		SpeedCheckEnabled:    true,
		HealthCheckEnabled:   true,
		TeleportCheckEnabled: true,
		WeaponCheckEnabled:   true,
	}
}

// Validate returns an error wrapping ErrInvalidSettings if any bound is violated.
func (s Settings) Validate() error {
	if s.MaxViolations < 1 {
		return fmt.Errorf("%w: max_violations must be at least 1", ErrInvalidSettings)
	}
	if s.BanDuration < 0 {
		return fmt.Errorf("%w: ban_duration must not be negative", ErrInvalidSettings)
	}
	if s.ViolationWindowHours < 1 {
		return fmt.Errorf("%w: violation_window_hours must be at least 1", ErrInvalidSettings)
	}
	return nil
}

// Window is the tracking window inside which violations are merged and counted.
func (s Settings) Window() time.Duration {
	return time.Duration(s.ViolationWindowHours) * time.Hour
}

// CheckEnabled reports whether a violation of the given type is accepted.
// Types outside the known check families only depend on DetectionEnabled.
func (s Settings) CheckEnabled(violationType string) bool {
	if !s.DetectionEnabled {
		return false
	}
	switch Category(violationType) {
	case "speed":
		return s.SpeedCheckEnabled
	case "health":
		return s.HealthCheckEnabled
	case "teleport":
		return s.TeleportCheckEnabled
	case "weapon":
		return s.WeaponCheckEnabled
	default:
		return true
	}
}

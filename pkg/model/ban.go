package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxReasonLength bounds the free-text ban reason.
const MaxReasonLength = 512

// BanType records who created a ban.
type BanType string

const (
	BanAuto   BanType = "auto"   // issued by policy
	BanManual BanType = "manual" // issued by an operator
)

// Valid reports whether t is a known ban type.
func (t BanType) Valid() bool {
	return t == BanAuto || t == BanManual
}

// Ban denies a player access. ID, Type and Timestamp are immutable once
// created; Active only ever moves from true to false.
type Ban struct {
	ID        int64   `json:"id"`
	License   string  `json:"license"`
	Steam     string  `json:"steam"`
	Discord   string  `json:"discord"`
	Reason    string  `json:"reason"`
	Duration  int     `json:"duration"` // hours, PermanentHours = permanent
	Type      BanType `json:"type"`
	Admin     string  `json:"admin"`
	Timestamp int64   `json:"timestamp"` // unix seconds
	Active    bool    `json:"active"`
	RevokedAt int64   `json:"revoked_at,omitempty"`
	RevokedBy string  `json:"revoked_by,omitempty"`
}

// Identity returns the identifiers the ban applies to.
func (b Ban) Identity() Identity {
	return Identity{License: b.License, Steam: b.Steam, Discord: b.Discord}
}

// IsPermanent reports whether the ban never expires.
func (b Ban) IsPermanent() bool {
	return b.Duration == PermanentHours
}

// ExpiresAt returns the unix time the ban lapses, or 0 for permanent bans.
func (b Ban) ExpiresAt() int64 {
	if b.IsPermanent() {
		return 0
	}
	return b.Timestamp + int64(b.Duration)*int64(time.Hour/time.Second)
}

// Enforced reports whether the ban currently denies access: it is active and,
// unless permanent, not yet past its expiry.
func (b Ban) Enforced(now time.Time) bool {
	if !b.Active {
		return false
	}
	if b.IsPermanent() {
		return true
	}
	return now.Unix() < b.ExpiresAt()
}

// Validate checks the fields supplied by the creator.
func (b Ban) Validate() error {
	reason := strings.TrimSpace(b.Reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if len(reason) > MaxReasonLength {
		return fmt.Errorf("%w: reason must not exceed %d characters", ErrValidation, MaxReasonLength)
	}
	if b.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrValidation)
	}
	if !b.Type.Valid() {
		return fmt.Errorf("%w: unknown ban type %q", ErrValidation, b.Type)
	}
	if err := b.Identity().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// MarshalJSON adds the derived expires_at and duration_label fields and
// writes empty identifiers as null.
func (b Ban) MarshalJSON() ([]byte, error) {
	type plain Ban
	return json.Marshal(struct {
		plain
		License       *string `json:"license"`
		Steam         *string `json:"steam"`
		Discord       *string `json:"discord"`
		ExpiresAt     int64   `json:"expires_at"`
		DurationLabel string  `json:"duration_label"`
	}{
		plain:         plain(b),
		License:       nullable(b.License),
		Steam:         nullable(b.Steam),
		Discord:       nullable(b.Discord),
		ExpiresAt:     b.ExpiresAt(),
		DurationLabel: FormatDuration(b.Duration),
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

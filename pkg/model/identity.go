package model

import (
	"fmt"
	"strings"
)

// MaxIdentifierLength bounds license/steam/discord identifiers.
const MaxIdentifierLength = 128

var ErrIdentifierTooLong = fmt.Errorf("identifier must not exceed %d characters", MaxIdentifierLength)

// Identity is the external license/steam/discord tuple identifying a player
// across sessions. Any field may be empty.
type Identity struct {
	License string `json:"license"`
	Steam   string `json:"steam"`
	Discord string `json:"discord"`
}

// Normalize trims surrounding whitespace from every identifier.
func (id Identity) Normalize() Identity {
	return Identity{
		License: strings.TrimSpace(id.License),
		Steam:   strings.TrimSpace(id.Steam),
		Discord: strings.TrimSpace(id.Discord),
	}
}

// IsZero reports whether no identifier is set.
func (id Identity) IsZero() bool {
	return id.License == "" && id.Steam == "" && id.Discord == ""
}

// Matches reports whether the two identities share at least one non-empty identifier.
func (id Identity) Matches(other Identity) bool {
	return (id.License != "" && id.License == other.License) ||
		(id.Steam != "" && id.Steam == other.Steam) ||
		(id.Discord != "" && id.Discord == other.Discord)
}

// Validate checks identifier lengths. An empty identity is allowed.
func (id Identity) Validate() error {
	for _, v := range []string{id.License, id.Steam, id.Discord} {
		if len(v) > MaxIdentifierLength {
			return ErrIdentifierTooLong
		}
	}
	return nil
}

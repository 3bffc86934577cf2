package model

import "fmt"

// Player is an ephemeral session snapshot reported by the game server.
// It lives from connect to disconnect and is never persisted.
type Player struct {
	ID          int64  `json:"id"` // game-server assigned
	Name        string `json:"name"`
	License     string `json:"license"`
	Steam       string `json:"steam"`
	Discord     string `json:"discord"`
	Ping        int    `json:"ping"`
	ConnectedAt int64  `json:"connected_at"`
}

// Identity returns the player's external identifiers.
func (p Player) Identity() Identity {
	return Identity{License: p.License, Steam: p.Steam, Discord: p.Discord}
}

// Validate checks a connect notification.
func (p Player) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("%w: player id must be positive", ErrValidation)
	}
	if p.Ping < 0 {
		return fmt.Errorf("%w: ping must not be negative", ErrValidation)
	}
	if err := p.Identity().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

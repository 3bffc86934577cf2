// Package store holds the authoritative in-memory collections of bans,
// violations and connected players.
package store

import "github.com/NicolasHaas/gowarden/pkg/model"

// RecordStore defines the record collections the registry operates on.
// Implementations must make every method atomic; reads return copies.
type RecordStore interface {
	BanStore
	ViolationStore
	PlayerStore
}

// BanStore keeps ban records. IDs are strictly increasing and never reused.
type BanStore interface {
	// CreateBan assigns the next ID and stores the ban.
	CreateBan(ban model.Ban) (model.Ban, error)

	// GetBan returns model.ErrNotFound for unknown IDs.
	GetBan(id int64) (model.Ban, error)

	// ListBans returns all bans in insertion order.
	ListBans() []model.Ban

	// UpdateBan applies mutate in place. ID, Type and Timestamp cannot be
	// changed and a revoked ban cannot be re-activated.
	UpdateBan(id int64, mutate func(*model.Ban)) (model.Ban, error)
}

// ViolationStore keeps violation records. IDs are strictly increasing and never reused.
type ViolationStore interface {
	CreateViolation(v model.Violation) (model.Violation, error)
	GetViolation(id int64) (model.Violation, error)
	ListViolations() []model.Violation

	// UpdateViolation applies mutate in place. ID is fixed and Count never decreases.
	UpdateViolation(id int64, mutate func(*model.Violation)) (model.Violation, error)

	// DeleteViolations removes every record matching pred in one step and
	// returns the removed IDs.
	DeleteViolations(pred func(model.Violation) bool) []int64
}

// PlayerStore keeps connected player snapshots keyed by the game-server ID.
type PlayerStore interface {
	// PutPlayer inserts or replaces a player. A replaced player keeps its position.
	PutPlayer(p model.Player) model.Player
	GetPlayer(id int64) (model.Player, error)
	RemovePlayer(id int64) (model.Player, error)
	ListPlayers() []model.Player
	CountPlayers() int
}

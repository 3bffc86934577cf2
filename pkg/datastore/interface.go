// Package datastore persists bans, violations and settings to SQLite. The
// in-memory store stays authoritative at runtime; this package is written
// through asynchronously and read once at startup.
package datastore

import (
	"context"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for all GoWarden records.
type DataStore interface {
	BanReadProvider
	BanWriteProvider

	ViolationReadProvider
	ViolationWriteProvider

	SettingsReadProvider
	SettingsWriteProvider

	IDReadProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type BanReadProvider interface {
	ListBans(ctx context.Context) ([]model.Ban, error)
}

type BanWriteProvider interface {
	// SaveBan inserts or updates a ban by ID. A stored inactive ban stays inactive.
	SaveBan(ctx context.Context, ban model.Ban) error
}

type ViolationReadProvider interface {
	ListViolations(ctx context.Context) ([]model.Violation, error)
}

type ViolationWriteProvider interface {
	// SaveViolation inserts or updates a violation by ID. Count never decreases.
	SaveViolation(ctx context.Context, v model.Violation) error
	DeleteViolations(ctx context.Context, ids []int64) error
}

type SettingsReadProvider interface {
	// LoadSettings returns ok=false when no settings were ever saved.
	LoadSettings(ctx context.Context) (s model.Settings, ok bool, err error)
}

type SettingsWriteProvider interface {
	SaveSettings(ctx context.Context, s model.Settings) error
}

// LastIDs are the per-kind ID high-water marks.
type LastIDs struct {
	Ban       int64
	Violation int64
}

type IDReadProvider interface {
	// LastIDs survives deletes, so restored stores never hand out a pruned ID.
	LastIDs(ctx context.Context) (LastIDs, error)
}

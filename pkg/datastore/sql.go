package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out transactional and non-transactional views of one SQLite database.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: begin tx: %w", err)
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (sf *ProviderFactory) Close() error {
	return sf.DB.Close()
}

func (sf *ProviderFactory) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bans (
		id         INTEGER PRIMARY KEY,
		license    TEXT    NOT NULL DEFAULT '',
		steam      TEXT    NOT NULL DEFAULT '',
		discord    TEXT    NOT NULL DEFAULT '',
		reason     TEXT    NOT NULL CHECK(length(reason) > 0),
		duration   INTEGER NOT NULL CHECK(duration >= 0),
		type       TEXT    NOT NULL CHECK(type IN ('auto', 'manual')),
		admin      TEXT    NOT NULL DEFAULT '',
		timestamp  INTEGER NOT NULL,
		active     INTEGER NOT NULL DEFAULT 1,
		revoked_at INTEGER NOT NULL DEFAULT 0,
		revoked_by TEXT    NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS violations (
		id         INTEGER PRIMARY KEY,
		name       TEXT    NOT NULL DEFAULT '',
		license    TEXT    NOT NULL DEFAULT '',
		type       TEXT    NOT NULL,
		details    TEXT    NOT NULL DEFAULT '',
		count      INTEGER NOT NULL CHECK(count >= 1),
		first_seen INTEGER NOT NULL,
		timestamp  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		id   INTEGER PRIMARY KEY CHECK(id = 1),
		data TEXT    NOT NULL
	);
	`
	if err := sf.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := sf.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_violations_license ON violations(license)",
				"CREATE INDEX IF NOT EXISTS idx_violations_timestamp ON violations(timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_bans_license ON bans(license)",
			},
		},
		{
			version: 3,
			statements: []string{
				`CREATE TABLE IF NOT EXISTS id_counters (
					kind    TEXT    PRIMARY KEY CHECK(kind IN ('ban', 'violation')),
					last_id INTEGER NOT NULL
				)`,
				"INSERT OR IGNORE INTO id_counters (kind, last_id) SELECT 'ban', COALESCE(MAX(id), 0) FROM bans",
				"INSERT OR IGNORE INTO id_counters (kind, last_id) SELECT 'violation', COALESCE(MAX(id), 0) FROM violations",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := sf.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := sf.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (sf *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := sf.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := sf.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := sf.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (sf *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := sf.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (sf *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := sf.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (sf *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := sf.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- Bans ----

// SaveBan upserts a ban. The active flag can only be cleared, never set
// back, so a late retry of an older write cannot undo a revoke.
func (s *baseProvider) SaveBan(ctx context.Context, ban model.Ban) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO bans (id, license, steam, discord, reason, duration, type, admin, timestamp, active, revoked_at, revoked_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active     = MIN(bans.active, excluded.active),
			revoked_at = MAX(bans.revoked_at, excluded.revoked_at),
			revoked_by = CASE WHEN bans.revoked_by = '' THEN excluded.revoked_by ELSE bans.revoked_by END`,
		ban.ID, ban.License, ban.Steam, ban.Discord, ban.Reason, ban.Duration, string(ban.Type),
		ban.Admin, ban.Timestamp, boolToInt(ban.Active), ban.RevokedAt, ban.RevokedBy)
	if err != nil {
		return fmt.Errorf("datastore: save ban %d: %w", ban.ID, err)
	}
	return s.bumpLastID(ctx, kindBan, ban.ID)
}

// ListBans returns all bans ordered by ID.
func (s *baseProvider) ListBans(ctx context.Context) ([]model.Ban, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, license, steam, discord, reason, duration, type, admin, timestamp, active, revoked_at, revoked_by
		FROM bans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bans []model.Ban
	for rows.Next() {
		var b model.Ban
		var banType string
		var active int
		if err := rows.Scan(&b.ID, &b.License, &b.Steam, &b.Discord, &b.Reason, &b.Duration, &banType,
			&b.Admin, &b.Timestamp, &active, &b.RevokedAt, &b.RevokedBy); err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		b.Type = model.BanType(banType)
		b.Active = active != 0
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// ---- Violations ----

// SaveViolation upserts a violation record.
func (s *baseProvider) SaveViolation(ctx context.Context, v model.Violation) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO violations (id, name, license, type, details, count, first_seen, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			details   = excluded.details,
			count     = MAX(violations.count, excluded.count),
			timestamp = MAX(violations.timestamp, excluded.timestamp)`,
		v.ID, v.Name, v.License, v.Type, v.Details, v.Count, v.FirstSeen, v.Timestamp)
	if err != nil {
		return fmt.Errorf("datastore: save violation %d: %w", v.ID, err)
	}
	return s.bumpLastID(ctx, kindViolation, v.ID)
}

// ListViolations returns all violations ordered by ID.
func (s *baseProvider) ListViolations(ctx context.Context) ([]model.Violation, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT id, name, license, type, details, count, first_seen, timestamp
		FROM violations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("datastore: list violations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var violations []model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.Name, &v.License, &v.Type, &v.Details, &v.Count, &v.FirstSeen, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("datastore: scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// DeleteViolations removes the given IDs. Run it on a Tx provider to make
// the prune all-or-nothing.
func (s *baseProvider) DeleteViolations(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := s.ExecContext(ctx, "DELETE FROM violations WHERE id = ?", id); err != nil {
			return fmt.Errorf("datastore: delete violation %d: %w", id, err)
		}
	}
	return nil
}

// ---- ID counters ----

const (
	kindBan       = "ban"
	kindViolation = "violation"
)

// bumpLastID raises the stored high-water mark for kind to id. Deleting rows
// never lowers it.
func (s *baseProvider) bumpLastID(ctx context.Context, kind string, id int64) error {
	if _, err := s.ExecContext(ctx, `
		INSERT INTO id_counters (kind, last_id) VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET last_id = MAX(id_counters.last_id, excluded.last_id)`,
		kind, id); err != nil {
		return fmt.Errorf("datastore: bump %s id: %w", kind, err)
	}
	return nil
}

// LastIDs returns the highest ban and violation IDs ever saved, including
// those of rows deleted since.
func (s *baseProvider) LastIDs(ctx context.Context) (LastIDs, error) {
	rows, err := s.QueryContext(ctx, "SELECT kind, last_id FROM id_counters")
	if err != nil {
		return LastIDs{}, fmt.Errorf("datastore: read id counters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids LastIDs
	for rows.Next() {
		var kind string
		var last int64
		if err := rows.Scan(&kind, &last); err != nil {
			return LastIDs{}, fmt.Errorf("datastore: scan id counter: %w", err)
		}
		switch kind {
		case kindBan:
			ids.Ban = last
		case kindViolation:
			ids.Violation = last
		}
	}
	return ids, rows.Err()
}

// ---- Settings ----

// LoadSettings reads the stored settings row.
func (s *baseProvider) LoadSettings(ctx context.Context) (model.Settings, bool, error) {
	var data string
	err := s.QueryRowContext(ctx, "SELECT data FROM settings WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Settings{}, false, nil
	}
	if err != nil {
		return model.Settings{}, false, fmt.Errorf("datastore: load settings: %w", err)
	}
	var settings model.Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return model.Settings{}, false, fmt.Errorf("datastore: decode settings: %w", err)
	}
	return settings, true, nil
}

// SaveSettings replaces the stored settings row.
func (s *baseProvider) SaveSettings(ctx context.Context, settings model.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("datastore: encode settings: %w", err)
	}
	if _, err := s.ExecContext(ctx,
		"INSERT INTO settings (id, data) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data",
		string(data)); err != nil {
		return fmt.Errorf("datastore: save settings: %w", err)
	}
	return nil
}

// DeleteViolationsAtomic prunes ids inside one transaction.
func DeleteViolationsAtomic(ctx context.Context, f DataProviderFactory, ids []int64) error {
	tx, err := f.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.DeleteViolations(ctx, ids); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: commit: %w", err)
	}
	return nil
}

// Package registry implements the ban and violation lifecycle on top of the
// in-memory record store: issuing and revoking bans, folding violation
// reports, the auto-ban policy and the derived statistics.
//
// Every mutation completes in memory first. Durable writes and cross-server
// ban sync are handed to a writeback queue afterwards, so a slow database or
// Redis never holds up a request.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/gowarden/pkg/bansync"
	"github.com/NicolasHaas/gowarden/pkg/datastore"
	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/query"
	"github.com/NicolasHaas/gowarden/pkg/store"
	"github.com/NicolasHaas/gowarden/pkg/writeback"
)

// DefaultPruneAge is the age past which ClearOldViolations removes records.
const DefaultPruneAge = 30 * 24 * time.Hour

// RecentWindow is the look-back used for Statistics.RecentViolations.
const RecentWindow = 24 * time.Hour

// Options wires a Registry. Store and Settings are required.
type Options struct {
	Store    store.RecordStore
	Settings *SettingsStore
	Activity *ActivityLog // default NewActivityLog(0)

	// Data receives write-behind copies of every change. Optional.
	Data datastore.DataProviderFactory
	// Syncer mirrors bans to other servers when global_ban_sync is on. Optional.
	Syncer bansync.Syncer
	// Remote answers ban checks for bans mirrored by other servers. Optional.
	Remote bansync.Checker
	// Queue runs Data and Syncer jobs. When nil they run inline.
	Queue *writeback.Queue

	Now    func() time.Time // default time.Now
	Logger *slog.Logger     // default slog.Default()
}

// Counters are lifetime totals exported as metrics.
type Counters struct {
	BansIssued         int64
	AutoBans           int64
	BansRevoked        int64
	ViolationsRecorded int64
	ViolationsRejected int64
	ViolationsPruned   int64
	PlayersConnected   int64
	SideEffectErrors   int64
}

// ViolationResult is the outcome of RecordViolation.
type ViolationResult struct {
	Accepted  bool             `json:"accepted"`
	Violation *model.Violation `json:"violation,omitempty"`
	AutoBan   *model.Ban       `json:"auto_ban,omitempty"`
}

// Registry is the ban lifecycle manager.
type Registry struct {
	store    store.RecordStore
	settings *SettingsStore
	activity *ActivityLog
	data     datastore.DataProviderFactory
	syncer   bansync.Syncer
	remote   bansync.Checker
	queue    *writeback.Queue
	now      func() time.Time
	logger   *slog.Logger

	// mu serialises violation merging with the auto-ban decision it feeds.
	mu sync.Mutex

	bansIssued         atomic.Int64
	autoBans           atomic.Int64
	bansRevoked        atomic.Int64
	violationsRecorded atomic.Int64
	violationsRejected atomic.Int64
	violationsPruned   atomic.Int64
	playersConnected   atomic.Int64
	sideEffectErrors   atomic.Int64
}

// New creates a Registry.
func New(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("registry: store is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("registry: settings store is required")
	}
	if opts.Activity == nil {
		opts.Activity = NewActivityLog(0)
	}
	if opts.Syncer == nil {
		opts.Syncer = bansync.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		store:    opts.Store,
		settings: opts.Settings,
		activity: opts.Activity,
		data:     opts.Data,
		syncer:   opts.Syncer,
		remote:   opts.Remote,
		queue:    opts.Queue,
		now:      opts.Now,
		logger:   opts.Logger,
	}, nil
}

// Settings returns the settings store.
func (r *Registry) Settings() *SettingsStore { return r.settings }

// Activity returns the activity log.
func (r *Registry) Activity() *ActivityLog { return r.activity }

// Counters returns a snapshot of the lifetime counters.
func (r *Registry) Counters() Counters {
	return Counters{
		BansIssued:         r.bansIssued.Load(),
		AutoBans:           r.autoBans.Load(),
		BansRevoked:        r.bansRevoked.Load(),
		ViolationsRecorded: r.violationsRecorded.Load(),
		ViolationsRejected: r.violationsRejected.Load(),
		ViolationsPruned:   r.violationsPruned.Load(),
		PlayersConnected:   r.playersConnected.Load(),
		SideEffectErrors:   r.sideEffectErrors.Load(),
	}
}

// Load restores bans, violations and settings from the datastore. It must
// run before the registry serves requests.
func (r *Registry) Load(ctx context.Context) error {
	if r.data == nil {
		return nil
	}
	ds := r.data.NonTx()

	bans, err := ds.ListBans(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	violations, err := ds.ListViolations(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	last, err := ds.LastIDs(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	if err := r.restore(bans, violations, last); err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}

	settings, ok, err := ds.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	if ok {
		if err := r.settings.Replace(settings); err != nil {
			r.logger.Warn("stored settings invalid, keeping current", "err", err)
		}
	} else if err := ds.SaveSettings(ctx, r.settings.Get()); err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}

	r.logger.Info("registry loaded", "bans", len(bans), "violations", len(violations), "stored_settings", ok)
	return nil
}

func (r *Registry) restore(bans []model.Ban, violations []model.Violation, last datastore.LastIDs) error {
	type restorer interface {
		Restore([]model.Ban, []model.Violation) error
		AdvanceIDs(lastBan, lastViolation int64)
	}
	rs, ok := r.store.(restorer)
	if !ok {
		return fmt.Errorf("store %T cannot restore records", r.store)
	}
	if err := rs.Restore(bans, violations); err != nil {
		return err
	}
	rs.AdvanceIDs(last.Ban, last.Violation)
	return nil
}

// ---- Bans ----

// IssueManualBan creates an active operator ban at the current time.
func (r *Registry) IssueManualBan(ctx context.Context, identity model.Identity, reason string, durationHours int, admin string) (model.Ban, error) {
	admin = strings.TrimSpace(admin)
	if admin == "" {
		return model.Ban{}, fmt.Errorf("registry: issue ban: %w: admin is required", model.ErrValidation)
	}
	ban, err := r.issueBan(ctx, identity, reason, durationHours, model.BanManual, admin)
	if err != nil {
		return model.Ban{}, err
	}
	r.activity.Record(model.ActivityBan,
		fmt.Sprintf("%s banned %s for %s: %s", admin, describeIdentity(ban.Identity()), model.FormatDuration(ban.Duration), ban.Reason),
		ban.Timestamp)
	return ban, nil
}

// IssueAutoBan creates an active policy ban issued by SystemAdmin.
func (r *Registry) IssueAutoBan(ctx context.Context, identity model.Identity, reason string, durationHours int) (model.Ban, error) {
	ban, err := r.issueBan(ctx, identity, reason, durationHours, model.BanAuto, model.SystemAdmin)
	if err != nil {
		return model.Ban{}, err
	}
	r.autoBans.Add(1)
	r.activity.Record(model.ActivityAutoBan,
		fmt.Sprintf("Auto-banned %s for %s: %s", describeIdentity(ban.Identity()), model.FormatDuration(ban.Duration), ban.Reason),
		ban.Timestamp)
	return ban, nil
}

func (r *Registry) issueBan(ctx context.Context, identity model.Identity, reason string, durationHours int, typ model.BanType, admin string) (model.Ban, error) {
	identity = identity.Normalize()
	if identity.IsZero() {
		return model.Ban{}, fmt.Errorf("registry: issue ban: %w: one of license, steam or discord is required", model.ErrValidation)
	}
	ban, err := r.store.CreateBan(model.Ban{
		License:   identity.License,
		Steam:     identity.Steam,
		Discord:   identity.Discord,
		Reason:    strings.TrimSpace(reason),
		Duration:  durationHours,
		Type:      typ,
		Admin:     admin,
		Timestamp: r.now().Unix(),
		Active:    true,
	})
	if err != nil {
		return model.Ban{}, fmt.Errorf("registry: issue ban: %w", err)
	}
	r.bansIssued.Add(1)
	r.logger.Info("ban issued", "ban_id", ban.ID, "type", ban.Type, "admin", admin, "duration", ban.Duration)
	r.persistBan(ctx, ban)
	return ban, nil
}

// Revoke deactivates a ban. Revoking an inactive ban succeeds without
// changing it; the first revoke's time and admin are kept.
func (r *Registry) Revoke(ctx context.Context, banID int64, admin string) (model.Ban, error) {
	admin = strings.TrimSpace(admin)
	now := r.now().Unix()
	changed := false
	ban, err := r.store.UpdateBan(banID, func(b *model.Ban) {
		if !b.Active {
			return
		}
		b.Active = false
		b.RevokedAt = now
		b.RevokedBy = admin
		changed = true
	})
	if err != nil {
		return model.Ban{}, fmt.Errorf("registry: revoke: %w", err)
	}
	if !changed {
		return ban, nil
	}

	r.bansRevoked.Add(1)
	r.logger.Info("ban revoked", "ban_id", ban.ID, "admin", admin)
	r.persistBan(ctx, ban)
	r.activity.Record(model.ActivityRevoke,
		fmt.Sprintf("%s revoked ban #%d (%s)", admin, ban.ID, describeIdentity(ban.Identity())), now)
	return ban, nil
}

// CheckIdentity returns the bans currently enforced against identity.
func (r *Registry) CheckIdentity(identity model.Identity) []model.Ban {
	identity = identity.Normalize()
	if identity.IsZero() {
		return nil
	}
	now := r.now()
	return query.Filter(r.store.ListBans(), func(b model.Ban) bool {
		return b.Enforced(now) && b.Identity().Matches(identity)
	})
}

// CheckRemote reports whether any identifier of identity is banned in the
// shared ban keys, which also carry bans issued on other servers. It is false
// when global_ban_sync is off or no Remote is configured.
func (r *Registry) CheckRemote(ctx context.Context, identity model.Identity) (bool, error) {
	if r.remote == nil || !r.settings.Get().GlobalBanSync {
		return false, nil
	}
	identity = identity.Normalize()
	for _, id := range []string{identity.License, identity.Steam, identity.Discord} {
		if id == "" {
			continue
		}
		banned, err := r.remote.IsBanned(ctx, id)
		if err != nil {
			return false, fmt.Errorf("registry: remote check: %w", err)
		}
		if banned {
			return true, nil
		}
	}
	return false, nil
}

// GetBan returns one ban.
func (r *Registry) GetBan(id int64) (model.Ban, error) {
	return r.store.GetBan(id)
}

// ListBans applies the page's filter, search and window to all bans.
func (r *Registry) ListBans(page query.Page) ([]model.Ban, int, error) {
	pred, err := query.BanFilter(page.Filter)
	if err != nil {
		return nil, 0, fmt.Errorf("registry: list bans: %w", err)
	}
	bans := query.Search(query.Filter(r.store.ListBans(), pred), page.Search, query.BanFields)
	out, total := query.Paginate(bans, page.Offset, page.Limit)
	return out, total, nil
}

// ---- Violations ----

// RecordViolation folds a detector report into the violation records and
// applies the auto-ban policy. A report rejected by policy returns a result
// with Accepted false and an error wrapping model.ErrDetectionDisabled.
func (r *Registry) RecordViolation(ctx context.Context, report model.ViolationReport) (ViolationResult, error) {
	report = report.Normalize()
	if err := report.Validate(); err != nil {
		return ViolationResult{}, fmt.Errorf("registry: record violation: %w", err)
	}

	settings := r.settings.Get()
	if !settings.CheckEnabled(report.Type) {
		r.violationsRejected.Add(1)
		return ViolationResult{}, fmt.Errorf("registry: record violation %q: %w", report.Type, model.ErrDetectionDisabled)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-settings.Window()).Unix()
	key := report.IdentityKey()

	var inWindow []model.Violation
	match := -1
	for _, v := range r.store.ListViolations() {
		if v.IdentityKey() != key || v.Timestamp < cutoff {
			continue
		}
		inWindow = append(inWindow, v)
		if v.Type == report.Type {
			// ListViolations is ID ordered, so the last match is the newest.
			match = len(inWindow) - 1
		}
	}

	var recorded model.Violation
	var err error
	if match >= 0 {
		recorded, err = r.store.UpdateViolation(inWindow[match].ID, func(v *model.Violation) {
			v.Count++
			v.Timestamp = now.Unix()
			if report.Details != "" {
				v.Details = report.Details
			}
			if v.Name == "" {
				v.Name = report.Name
			}
		})
		if err == nil {
			inWindow[match] = recorded
		}
	} else {
		recorded, err = r.store.CreateViolation(model.Violation{
			Name:      report.Name,
			License:   report.License,
			Type:      report.Type,
			Details:   report.Details,
			Count:     1,
			FirstSeen: now.Unix(),
			Timestamp: now.Unix(),
		})
		if err == nil {
			inWindow = append(inWindow, recorded)
		}
	}
	if err != nil {
		return ViolationResult{}, fmt.Errorf("registry: record violation: %w", err)
	}

	r.violationsRecorded.Add(1)
	r.persistViolation(ctx, recorded)
	r.activity.Record(model.ActivityViolation,
		fmt.Sprintf("%s flagged for %s (x%d)", displayName(report), report.Type, recorded.Count), now.Unix())

	result := ViolationResult{Accepted: true, Violation: &recorded}

	if !settings.AutoBanEnabled || report.License == "" {
		return result, nil
	}
	total := 0
	for _, v := range inWindow {
		total += v.Count
	}
	if total < settings.MaxViolations {
		return result, nil
	}
	identity := model.Identity{License: report.License}
	if len(r.CheckIdentity(identity)) > 0 {
		return result, nil
	}

	ban, err := r.IssueAutoBan(ctx, identity, autoBanReason(inWindow, total, settings.ViolationWindowHours), settings.BanDuration)
	if err != nil {
		return result, fmt.Errorf("registry: auto-ban: %w", err)
	}
	result.AutoBan = &ban
	return result, nil
}

// autoBanReason summarises the violations behind an auto-ban, e.g.
// "Automatic ban: 3 violations in 1 day (health_hack x1, speed_hack x2)".
func autoBanReason(violations []model.Violation, total, windowHours int) string {
	perType := make(map[string]int)
	for _, v := range violations {
		perType[v.Type] += v.Count
	}
	types := make([]string, 0, len(perType))
	for t := range perType {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s x%d", t, perType[t]))
	}
	return fmt.Sprintf("Automatic ban: %d violations in %s (%s)",
		total, model.FormatDuration(windowHours), strings.Join(parts, ", "))
}

// ClearOldViolations removes every violation whose latest occurrence is older
// than olderThan (DefaultPruneAge when <= 0). Either all qualifying records
// are removed or none.
func (r *Registry) ClearOldViolations(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultPruneAge
	}

	r.mu.Lock()
	now := r.now()
	cutoff := now.Add(-olderThan).Unix()
	removed := r.store.DeleteViolations(func(v model.Violation) bool {
		return v.Timestamp < cutoff
	})
	r.mu.Unlock()

	if len(removed) == 0 {
		return 0, nil
	}
	r.violationsPruned.Add(int64(len(removed)))
	r.logger.Info("violations pruned", "removed", len(removed), "cutoff", cutoff)
	if r.data != nil {
		ids := removed
		r.submit(ctx, "delete violations", func(ctx context.Context) error {
			return datastore.DeleteViolationsAtomic(ctx, r.data, ids)
		})
	}
	r.activity.Record(model.ActivityViolation,
		fmt.Sprintf("Cleared %d violations older than %s", len(removed), model.FormatDuration(int(olderThan/time.Hour))),
		now.Unix())
	return len(removed), nil
}

// ListViolations applies the page's type filter, search and window.
func (r *Registry) ListViolations(page query.Page) ([]model.Violation, int) {
	violations := query.Filter(r.store.ListViolations(), query.ViolationFilter(page.Filter))
	violations = query.Search(violations, page.Search, query.ViolationFields)
	return query.Paginate(violations, page.Offset, page.Limit)
}

// ---- Players ----

// PlayerConnected records a connect notification and returns the bans
// enforced against the player, so the game server can refuse the session.
func (r *Registry) PlayerConnected(_ context.Context, p model.Player) (model.Player, []model.Ban, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.License = strings.TrimSpace(p.License)
	p.Steam = strings.TrimSpace(p.Steam)
	p.Discord = strings.TrimSpace(p.Discord)
	if err := p.Validate(); err != nil {
		return model.Player{}, nil, fmt.Errorf("registry: player connected: %w", err)
	}
	if p.ConnectedAt == 0 {
		p.ConnectedAt = r.now().Unix()
	}
	r.store.PutPlayer(p)
	r.playersConnected.Add(1)
	r.activity.Record(model.ActivityPlayer, fmt.Sprintf("%s connected", p.Name), p.ConnectedAt)
	return p, r.CheckIdentity(p.Identity()), nil
}

// PlayerDisconnected removes a connected player.
func (r *Registry) PlayerDisconnected(_ context.Context, id int64) error {
	p, err := r.store.RemovePlayer(id)
	if err != nil {
		return fmt.Errorf("registry: player disconnected: %w", err)
	}
	r.activity.Record(model.ActivityPlayer, fmt.Sprintf("%s disconnected", p.Name), r.now().Unix())
	return nil
}

// ListPlayers returns the connected players matching search.
func (r *Registry) ListPlayers(search string) ([]model.Player, int) {
	players := query.Search(r.store.ListPlayers(), search, query.PlayerFields)
	return players, len(players)
}

// ---- Settings ----

// maxSettingsAttempts bounds the compare-and-replace loop in UpdateSettings.
const maxSettingsAttempts = 5

// ReplaceSettings validates and installs next, then persists it. Last writer wins.
func (r *Registry) ReplaceSettings(ctx context.Context, next model.Settings, admin string) (model.Settings, error) {
	if err := r.settings.Replace(next); err != nil {
		return model.Settings{}, err
	}
	r.settingsChanged(ctx, admin)
	return next, nil
}

// UpdateSettings applies patch to a copy of the current settings and installs
// the result only if nothing else replaced them meanwhile. On a lost race patch
// runs again on the newer settings; after maxSettingsAttempts it gives up with
// model.ErrConflict.
func (r *Registry) UpdateSettings(ctx context.Context, patch func(*model.Settings) error, admin string) (model.Settings, error) {
	for attempt := 0; attempt < maxSettingsAttempts; attempt++ {
		old := r.settings.Get()
		next := old
		if err := patch(&next); err != nil {
			return model.Settings{}, err
		}
		ok, err := r.settings.CompareAndReplace(old, next)
		if err != nil {
			return model.Settings{}, err
		}
		if ok {
			r.settingsChanged(ctx, admin)
			return next, nil
		}
		r.logger.Debug("settings changed concurrently, retrying", "attempt", attempt+1)
	}
	return model.Settings{}, fmt.Errorf("registry: update settings: %w", model.ErrConflict)
}

func (r *Registry) settingsChanged(ctx context.Context, admin string) {
	r.logger.Info("settings updated", "admin", admin)
	if r.data != nil {
		// The job saves whatever is current when it runs, so queued saves
		// cannot overwrite a newer policy with an older one.
		r.submit(ctx, "save settings", func(ctx context.Context) error {
			return r.data.NonTx().SaveSettings(ctx, r.settings.Get())
		})
	}
	r.activity.Record(model.ActivitySettings, fmt.Sprintf("%s updated settings", admin), r.now().Unix())
}

// ---- Statistics ----

// Statistics derives the dashboard counters from the current records.
func (r *Registry) Statistics(now time.Time) model.Statistics {
	var s model.Statistics
	s.OnlinePlayers = r.store.CountPlayers()

	for _, b := range r.store.ListBans() {
		s.TotalBans++
		if b.Active {
			s.ActiveBans++
		}
		switch b.Type {
		case model.BanAuto:
			s.AutoBans++
		case model.BanManual:
			s.ManualBans++
		}
	}

	recent := now.Add(-RecentWindow).Unix()
	for _, v := range r.store.ListViolations() {
		s.TotalViolations++
		if v.Timestamp >= recent {
			s.RecentViolations++
		}
	}
	return s
}

// ---- side effects ----

func (r *Registry) persistBan(ctx context.Context, ban model.Ban) {
	if r.data != nil {
		r.submit(ctx, fmt.Sprintf("save ban %d", ban.ID), func(ctx context.Context) error {
			return r.data.NonTx().SaveBan(ctx, ban)
		})
	}
	if r.settings.Get().GlobalBanSync {
		// Other bans may share identifiers with this one; the enforced set is
		// read when the job runs so the mirrored keys reflect all of them.
		r.submit(ctx, fmt.Sprintf("sync ban %d", ban.ID), func(ctx context.Context) error {
			return r.syncer.Sync(ctx, ban, r.CheckIdentity(ban.Identity()))
		})
	}
}

func (r *Registry) persistViolation(ctx context.Context, v model.Violation) {
	if r.data == nil {
		return
	}
	r.submit(ctx, fmt.Sprintf("save violation %d", v.ID), func(ctx context.Context) error {
		return r.data.NonTx().SaveViolation(ctx, v)
	})
}

func (r *Registry) submit(ctx context.Context, name string, job writeback.Job) {
	if r.queue == nil {
		if err := job(context.WithoutCancel(ctx)); err != nil {
			r.sideEffectErrors.Add(1)
			r.logger.Error("side effect failed", "job", name, "err", err)
		}
		return
	}
	if err := r.queue.Submit(name, job); err != nil {
		r.sideEffectErrors.Add(1)
		r.logger.Error("side effect not queued", "job", name, "err", err)
	}
}

func describeIdentity(id model.Identity) string {
	switch {
	case id.License != "":
		return id.License
	case id.Steam != "":
		return id.Steam
	case id.Discord != "":
		return id.Discord
	default:
		return "unknown"
	}
}

func displayName(r model.ViolationReport) string {
	if r.Name != "" {
		return r.Name
	}
	return r.License
}

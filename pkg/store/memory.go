package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// MemoryStore is the default RecordStore. A single RWMutex guards all
// collections; readers get copies and never observe a half-applied mutation.
type MemoryStore struct {
	mu sync.RWMutex

	nextBanID       int64
	nextViolationID int64

	bansByID       map[int64]*model.Ban
	violationsByID map[int64]*model.Violation
	playersByID    map[int64]*model.Player
	playerOrder    []int64
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextBanID:       1,
		nextViolationID: 1,
		bansByID:        make(map[int64]*model.Ban),
		violationsByID:  make(map[int64]*model.Violation),
		playersByID:     make(map[int64]*model.Player),
	}
}

// Restore seeds the store with previously persisted records, keeping their
// IDs. ID counters advance past the highest restored ID so new records never
// reuse one. It fails on duplicate IDs without modifying the store.
func (s *MemoryStore) Restore(bans []model.Ban, violations []model.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bans {
		if _, exists := s.bansByID[b.ID]; exists || b.ID <= 0 {
			return fmt.Errorf("store: restore: invalid or duplicate ban id %d", b.ID)
		}
	}
	for _, v := range violations {
		if _, exists := s.violationsByID[v.ID]; exists || v.ID <= 0 {
			return fmt.Errorf("store: restore: invalid or duplicate violation id %d", v.ID)
		}
	}

	for _, b := range bans {
		copyBan := b
		s.bansByID[b.ID] = &copyBan
		if b.ID >= s.nextBanID {
			s.nextBanID = b.ID + 1
		}
	}
	for _, v := range violations {
		copyViolation := v
		s.violationsByID[v.ID] = &copyViolation
		if v.ID >= s.nextViolationID {
			s.nextViolationID = v.ID + 1
		}
	}
	return nil
}

// AdvanceIDs moves the ID counters past lastBan and lastViolation. IDs of
// records deleted before a restart are covered this way; counters never move
// backwards.
func (s *MemoryStore) AdvanceIDs(lastBan, lastViolation int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastBan >= s.nextBanID {
		s.nextBanID = lastBan + 1
	}
	if lastViolation >= s.nextViolationID {
		s.nextViolationID = lastViolation + 1
	}
}

// ---- Bans ----

// CreateBan assigns the next ban ID and stores the ban.
func (s *MemoryStore) CreateBan(ban model.Ban) (model.Ban, error) {
	if err := ban.Validate(); err != nil {
		return model.Ban{}, fmt.Errorf("store: create ban: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ban.ID = s.nextBanID
	s.nextBanID++
	stored := ban
	s.bansByID[ban.ID] = &stored
	return ban, nil
}

// GetBan retrieves a ban by ID.
func (s *MemoryStore) GetBan(id int64) (model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ban, ok := s.bansByID[id]
	if !ok {
		return model.Ban{}, fmt.Errorf("store: ban %d: %w", id, model.ErrNotFound)
	}
	return *ban, nil
}

// ListBans returns all bans ordered by ID, which is insertion order.
func (s *MemoryStore) ListBans() []model.Ban {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bans := make([]model.Ban, 0, len(s.bansByID))
	for _, ban := range s.bansByID {
		bans = append(bans, *ban)
	}
	sort.Slice(bans, func(i, j int) bool {
		return bans[i].ID < bans[j].ID
	})
	return bans
}

// UpdateBan mutates a ban under the write lock.
func (s *MemoryStore) UpdateBan(id int64, mutate func(*model.Ban)) (model.Ban, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ban, ok := s.bansByID[id]
	if !ok {
		return model.Ban{}, fmt.Errorf("store: ban %d: %w", id, model.ErrNotFound)
	}

	next := *ban
	mutate(&next)
	next.ID = ban.ID
	next.Type = ban.Type
	next.Timestamp = ban.Timestamp
	if !ban.Active {
		next.Active = false
	}
	*ban = next
	return next, nil
}

// ---- Violations ----

// CreateViolation assigns the next violation ID and stores the record.
func (s *MemoryStore) CreateViolation(v model.Violation) (model.Violation, error) {
	if v.Count < 1 {
		return model.Violation{}, fmt.Errorf("store: create violation: %w: count must be at least 1", model.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = s.nextViolationID
	s.nextViolationID++
	stored := v
	s.violationsByID[v.ID] = &stored
	return v, nil
}

// GetViolation retrieves a violation by ID.
func (s *MemoryStore) GetViolation(id int64) (model.Violation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.violationsByID[id]
	if !ok {
		return model.Violation{}, fmt.Errorf("store: violation %d: %w", id, model.ErrNotFound)
	}
	return *v, nil
}

// ListViolations returns all violations ordered by ID.
func (s *MemoryStore) ListViolations() []model.Violation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	violations := make([]model.Violation, 0, len(s.violationsByID))
	for _, v := range s.violationsByID {
		violations = append(violations, *v)
	}
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].ID < violations[j].ID
	})
	return violations
}

// UpdateViolation mutates a violation under the write lock.
func (s *MemoryStore) UpdateViolation(id int64, mutate func(*model.Violation)) (model.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.violationsByID[id]
	if !ok {
		return model.Violation{}, fmt.Errorf("store: violation %d: %w", id, model.ErrNotFound)
	}

	next := *v
	mutate(&next)
	next.ID = v.ID
	if next.Count < v.Count {
		next.Count = v.Count
	}
	*v = next
	return next, nil
}

// DeleteViolations removes all matching violations while holding the write
// lock, so either every qualifying record is gone or none is.
func (s *MemoryStore) DeleteViolations(pred func(model.Violation) bool) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []int64
	for id, v := range s.violationsByID {
		if pred(*v) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(s.violationsByID, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// ---- Players ----

// PutPlayer inserts or replaces a connected player.
func (s *MemoryStore) PutPlayer(p model.Player) model.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.playersByID[p.ID]; !exists {
		s.playerOrder = append(s.playerOrder, p.ID)
	}
	stored := p
	s.playersByID[p.ID] = &stored
	return p
}

// GetPlayer retrieves a connected player by game-server ID.
func (s *MemoryStore) GetPlayer(id int64) (model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.playersByID[id]
	if !ok {
		return model.Player{}, fmt.Errorf("store: player %d: %w", id, model.ErrNotFound)
	}
	return *p, nil
}

// RemovePlayer drops a player on disconnect.
func (s *MemoryStore) RemovePlayer(id int64) (model.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playersByID[id]
	if !ok {
		return model.Player{}, fmt.Errorf("store: player %d: %w", id, model.ErrNotFound)
	}
	delete(s.playersByID, id)
	for i, pid := range s.playerOrder {
		if pid == id {
			s.playerOrder = append(s.playerOrder[:i], s.playerOrder[i+1:]...)
			break
		}
	}
	return *p, nil
}

// ListPlayers returns connected players in connect order.
func (s *MemoryStore) ListPlayers() []model.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]model.Player, 0, len(s.playerOrder))
	for _, id := range s.playerOrder {
		players = append(players, *s.playersByID[id])
	}
	return players
}

// CountPlayers returns the number of connected players.
func (s *MemoryStore) CountPlayers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.playersByID)
}

// Compile-time check: *MemoryStore implements RecordStore.
var _ RecordStore = (*MemoryStore)(nil)

package registry

import (
	"fmt"
	"sync/atomic"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// SettingsStore holds the current policy. Replacement is a single pointer
// swap: readers see either the old or the new settings, never a mix.
type SettingsStore struct {
	cur atomic.Pointer[model.Settings]
}

// NewSettingsStore validates initial and wraps it.
func NewSettingsStore(initial model.Settings) (*SettingsStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("registry: initial settings: %w", err)
	}
	s := &SettingsStore{}
	s.cur.Store(&initial)
	return s, nil
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() model.Settings {
	return *s.cur.Load()
}

// Replace installs next if it validates. Last writer wins.
func (s *SettingsStore) Replace(next model.Settings) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("registry: replace settings: %w", err)
	}
	s.cur.Store(&next)
	return nil
}

// CompareAndReplace installs next only if the current settings still equal
// old. It reports whether the swap happened.
func (s *SettingsStore) CompareAndReplace(old, next model.Settings) (bool, error) {
	if err := next.Validate(); err != nil {
		return false, fmt.Errorf("registry: replace settings: %w", err)
	}
	p := s.cur.Load()
	if *p != old {
		return false, nil
	}
	return s.cur.CompareAndSwap(p, &next), nil
}

package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile is a saved server connection for wardenctl.
type Profile struct {
	Name     string `yaml:"name"`
	Server   string `yaml:"server"`
	Token    string `yaml:"token"`
	LastUsed int64  `yaml:"last_used,omitempty"`
}

// ProfileStore manages profiles in a YAML file.
type ProfileStore struct {
	path     string
	Current  string    `yaml:"current,omitempty"`
	Profiles []Profile `yaml:"profiles"`
}

// DefaultProfilePath returns $XDG_CONFIG_HOME/gowarden/profiles.yaml or the
// platform equivalent, falling back to the working directory.
func DefaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "wardenctl.yaml"
	}
	return filepath.Join(dir, "gowarden", "profiles.yaml")
}

// NewProfileStore creates a store backed by path.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// Path returns the backing file.
func (ps *ProfileStore) Path() string { return ps.path }

// Load reads profiles from disk. A missing file yields an empty store.
func (ps *ProfileStore) Load() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			ps.Current = ""
			ps.Profiles = nil
			return nil
		}
		return fmt.Errorf("read profiles: %w", err)
	}
	if err := yaml.Unmarshal(data, ps); err != nil {
		return fmt.Errorf("parse profiles %s: %w", ps.path, err)
	}
	return nil
}

// Save writes profiles to disk. The file holds tokens, so it is private.
func (ps *ProfileStore) Save() error {
	data, err := yaml.Marshal(ps)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(ps.path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	return os.WriteFile(ps.path, data, 0o600)
}

// Add adds or replaces a profile by name. Returns true if it was a new entry.
// The first profile added becomes current.
func (ps *ProfileStore) Add(p Profile) bool {
	if ps.Current == "" {
		ps.Current = p.Name
	}
	for i, existing := range ps.Profiles {
		if existing.Name == p.Name {
			ps.Profiles[i] = p
			return false
		}
	}
	ps.Profiles = append(ps.Profiles, p)
	return true
}

// Remove deletes a profile by name.
func (ps *ProfileStore) Remove(name string) bool {
	for i, p := range ps.Profiles {
		if p.Name == name {
			ps.Profiles = append(ps.Profiles[:i], ps.Profiles[i+1:]...)
			if ps.Current == name {
				ps.Current = ""
			}
			return true
		}
	}
	return false
}

// Use makes name the current profile.
func (ps *ProfileStore) Use(name string) error {
	if ps.Find(name) == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	ps.Current = name
	return nil
}

// Touch updates LastUsed for an existing profile.
func (ps *ProfileStore) Touch(name string, ts int64) bool {
	for i := range ps.Profiles {
		if ps.Profiles[i].Name == name {
			ps.Profiles[i].LastUsed = ts
			return true
		}
	}
	return false
}

// Find returns the named profile, or the current one when name is empty.
func (ps *ProfileStore) Find(name string) *Profile {
	if name == "" {
		name = ps.Current
	}
	for _, p := range ps.Profiles {
		if p.Name == name {
			return &p
		}
	}
	return nil
}

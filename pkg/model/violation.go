package model

import (
	"fmt"
	"strings"
)

// MaxDetailsLength bounds the detector-supplied description.
const MaxDetailsLength = 1024

// Violation is a detected suspicious behaviour for an identity. Repeated
// reports of the same type inside the tracking window are folded into one
// record by incrementing Count.
type Violation struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	License   string `json:"license"`
	Type      string `json:"type"`
	Details   string `json:"details"`
	Count     int    `json:"count"`
	FirstSeen int64  `json:"first_seen"`
	Timestamp int64  `json:"timestamp"` // most recent occurrence
}

// IdentityKey returns the key violations are grouped under: the license,
// or the reported name when the license is unknown.
func (v Violation) IdentityKey() string {
	if v.License != "" {
		return v.License
	}
	return v.Name
}

// ViolationReport is a single occurrence sent by an upstream detector.
type ViolationReport struct {
	Name    string `json:"name"`
	License string `json:"license"`
	Type    string `json:"type"`
	Details string `json:"details"`
}

// Normalize trims fields and lower-cases the type tag.
func (r ViolationReport) Normalize() ViolationReport {
	return ViolationReport{
		Name:    strings.TrimSpace(r.Name),
		License: strings.TrimSpace(r.License),
		Type:    strings.ToLower(strings.TrimSpace(r.Type)),
		Details: strings.TrimSpace(r.Details),
	}
}

// IdentityKey mirrors Violation.IdentityKey for an incoming report.
func (r ViolationReport) IdentityKey() string {
	if r.License != "" {
		return r.License
	}
	return r.Name
}

// Validate checks that the report names a type and some identity.
func (r ViolationReport) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("%w: violation type is required", ErrValidation)
	}
	if r.Name == "" && r.License == "" {
		return fmt.Errorf("%w: name or license is required", ErrValidation)
	}
	if len(r.License) > MaxIdentifierLength {
		return fmt.Errorf("%w: %v", ErrValidation, ErrIdentifierTooLong)
	}
	if len(r.Details) > MaxDetailsLength {
		return fmt.Errorf("%w: details must not exceed %d characters", ErrValidation, MaxDetailsLength)
	}
	return nil
}

// Category returns the check family of a violation type: the text before
// the first underscore ("speed_hack" -> "speed").
func Category(violationType string) string {
	if i := strings.IndexByte(violationType, '_'); i >= 0 {
		return violationType[:i]
	}
	return violationType
}

// Package query implements filtering, search and pagination over record
// slices. Every function preserves the input order and never mutates it.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

// Default page parameters used when a caller omits them.
const (
	DefaultLimit = 50
	FilterAll    = "all"
)

// Filter returns the records for which pred is true.
func Filter[T any](records []T, pred func(T) bool) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// Search keeps records where the case-insensitive term is a substring of
// any value returned by fields. An empty term matches everything.
func Search[T any](records []T, term string, fields func(T) []string) []T {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return records
	}
	return Filter(records, func(r T) bool {
		for _, f := range fields(r) {
			if strings.Contains(strings.ToLower(f), term) {
				return true
			}
		}
		return false
	})
}

// Paginate returns the window [offset, offset+limit) and the number of
// records before pagination. Offset and limit are clamped to [0, len].
func Paginate[T any](records []T, offset, limit int) ([]T, int) {
	total := len(records)
	offset = clamp(offset, 0, total)
	limit = clamp(limit, 0, total)
	end := offset + limit
	if end > total {
		end = total
	}
	return records[offset:end], total
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BanFilter returns the predicate for a ban filter name:
// all, active, expired, auto or manual. "expired" means revoked (not active).
func BanFilter(name string) (func(model.Ban) bool, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FilterAll:
		return func(model.Ban) bool { return true }, nil
	case "active":
		return func(b model.Ban) bool { return b.Active }, nil
	case "expired":
		return func(b model.Ban) bool { return !b.Active }, nil
	case "auto":
		return func(b model.Ban) bool { return b.Type == model.BanAuto }, nil
	case "manual":
		return func(b model.Ban) bool { return b.Type == model.BanManual }, nil
	default:
		return nil, fmt.Errorf("%w: unknown ban filter %q", model.ErrValidation, name)
	}
}

// ViolationFilter matches violations by exact type, or everything for "all".
func ViolationFilter(name string) func(model.Violation) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == FilterAll {
		return func(model.Violation) bool { return true }
	}
	return func(v model.Violation) bool { return v.Type == name }
}

// BanFields are the searchable columns of a ban row.
func BanFields(b model.Ban) []string {
	return []string{
		strconv.FormatInt(b.ID, 10),
		b.License, b.Steam, b.Discord,
		b.Reason,
		model.FormatDuration(b.Duration),
		string(b.Type),
		b.Admin,
	}
}

// ViolationFields are the searchable columns of a violation row.
func ViolationFields(v model.Violation) []string {
	return []string{v.Name, v.License, v.Type, v.Details, strconv.Itoa(v.Count)}
}

// PlayerFields are the searchable columns of a player row.
func PlayerFields(p model.Player) []string {
	return []string{
		strconv.FormatInt(p.ID, 10),
		p.Name, p.License, p.Steam, p.Discord,
		strconv.Itoa(p.Ping),
	}
}

// Page holds parsed list parameters.
type Page struct {
	Offset int
	Limit  int
	Filter string
	Search string
}

// ParsePage reads offset/limit/filter/search from string parameters as they
// arrive on a query string. Missing values take defaults; malformed or
// negative numbers are a validation error.
func ParsePage(offset, limit, filter, search string) (Page, error) {
	p := Page{Offset: 0, Limit: DefaultLimit, Filter: FilterAll, Search: search}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return Page{}, fmt.Errorf("%w: offset must be a non-negative integer", model.ErrValidation)
		}
		p.Offset = n
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return Page{}, fmt.Errorf("%w: limit must be a non-negative integer", model.ErrValidation)
		}
		p.Limit = n
	}
	if filter != "" {
		p.Filter = filter
	}
	return p, nil
}

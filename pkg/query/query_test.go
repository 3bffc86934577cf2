package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/gowarden/pkg/model"
)

func sampleBans() []model.Ban {
	return []model.Ban{
		{ID: 1, License: "license:aaa", Reason: "Speed hacking", Duration: 168, Type: model.BanAuto, Active: true},
		{ID: 2, License: "license:bbb", Reason: "Aimbot detection", Duration: 720, Type: model.BanAuto, Active: false},
		{ID: 3, Steam: "steam:ccc", Reason: "Toxic chat", Duration: 24, Type: model.BanManual, Active: true, Admin: "alice"},
		{ID: 4, Discord: "discord:ddd", Reason: "Griefing", Duration: model.PermanentHours, Type: model.BanManual, Active: false},
	}
}

func ids(bans []model.Ban) []int64 {
	out := make([]int64, 0, len(bans))
	for _, b := range bans {
		out = append(out, b.ID)
	}
	return out
}

func TestPaginate(t *testing.T) {
	records := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name   string
		offset int
		limit  int
		want   []int
	}{
		{"first page", 0, 2, []int{1, 2}},
		{"middle", 2, 2, []int{3, 4}},
		{"tail shorter than limit", 4, 2, []int{5}},
		{"offset past end", 10, 2, []int{}},
		{"negative offset", -3, 2, []int{1, 2}},
		{"limit past end", 0, 100, []int{1, 2, 3, 4, 5}},
		{"zero limit", 0, 0, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, total := Paginate(records, tt.offset, tt.limit)
			assert.Equal(t, 5, total)
			assert.Equal(t, tt.want, append([]int{}, page...))
		})
	}
}

func TestBanFiltersPartition(t *testing.T) {
	bans := sampleBans()

	count := func(name string) map[int64]bool {
		pred, err := BanFilter(name)
		require.NoError(t, err)
		seen := make(map[int64]bool)
		for _, b := range Filter(bans, pred) {
			seen[b.ID] = true
		}
		return seen
	}

	active, expired := count("active"), count("expired")
	auto, manual := count("auto"), count("manual")

	for _, b := range bans {
		assert.NotEqual(t, active[b.ID], expired[b.ID], "ban %d must be in exactly one of active/expired", b.ID)
		assert.NotEqual(t, auto[b.ID], manual[b.ID], "ban %d must be in exactly one of auto/manual", b.ID)
	}
	assert.Len(t, count("all"), len(bans))
	assert.Len(t, count(""), len(bans))
}

func TestBanFilterUnknown(t *testing.T) {
	_, err := BanFilter("pending")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestFilterPreservesOrder(t *testing.T) {
	pred, err := BanFilter("manual")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids(Filter(sampleBans(), pred)))
}

func TestSearch(t *testing.T) {
	bans := sampleBans()

	tests := []struct {
		term string
		want []int64
	}{
		{"", []int64{1, 2, 3, 4}},
		{"HACK", []int64{1}},
		{"license:", []int64{1, 2}},
		{"steam:ccc", []int64{3}},
		{"permanent", []int64{4}},
		{"1 week", []int64{1}},
		{"alice", []int64{3}},
		{"nothing-matches", []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Search(bans, tt.term, BanFields)))
		})
	}
}

func TestViolationFilter(t *testing.T) {
	violations := []model.Violation{
		{ID: 1, Type: "speed_hack"},
		{ID: 2, Type: "health_hack"},
		{ID: 3, Type: "speed_hack"},
	}
	got := Filter(violations, ViolationFilter("speed_hack"))
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
	assert.Len(t, Filter(violations, ViolationFilter("all")), 3)
	assert.Empty(t, Filter(violations, ViolationFilter("speed")))
}

func TestParsePage(t *testing.T) {
	p, err := ParsePage("", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, Page{Offset: 0, Limit: DefaultLimit, Filter: FilterAll}, p)

	p, err = ParsePage("10", "5", "active", "speed")
	require.NoError(t, err)
	assert.Equal(t, Page{Offset: 10, Limit: 5, Filter: "active", Search: "speed"}, p)

	for _, bad := range [][2]string{{"-1", ""}, {"x", ""}, {"", "-2"}, {"", "ten"}} {
		_, err := ParsePage(bad[0], bad[1], "", "")
		assert.ErrorIs(t, err, model.ErrValidation, "offset=%q limit=%q", bad[0], bad[1])
	}
}

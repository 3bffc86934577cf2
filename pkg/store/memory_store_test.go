package store_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/NicolasHaas/gowarden/pkg/model"
	"github.com/NicolasHaas/gowarden/pkg/store"

	"github.com/google/go-cmp/cmp"
)

func newBan(reason string) model.Ban {
	return model.Ban{
		License:   "license:" + reason,
		Reason:    reason,
		Duration:  24,
		Type:      model.BanManual,
		Timestamp: 1000,
		Active:    true,
	}
}

func TestCreateBanAssignsIncreasingIDs(t *testing.T) {
	st := store.NewMemory()

	var last int64
	for _, reason := range []string{"a", "b", "c"} {
		ban, err := st.CreateBan(newBan(reason))
		if err != nil {
			t.Fatalf("CreateBan: unexpected error: %v", err)
		}
		if ban.ID <= last {
			t.Fatalf("CreateBan: id %d not greater than previous %d", ban.ID, last)
		}
		last = ban.ID
	}

	if _, err := st.UpdateBan(2, func(b *model.Ban) { b.Active = false }); err != nil {
		t.Fatalf("UpdateBan: unexpected error: %v", err)
	}
	ban, err := st.CreateBan(newBan("d"))
	if err != nil {
		t.Fatalf("CreateBan: unexpected error: %v", err)
	}
	if ban.ID != 4 {
		t.Fatalf("CreateBan after revoke: id = %d, want 4", ban.ID)
	}
}

func TestCreateBanRejectsInvalid(t *testing.T) {
	st := store.NewMemory()
	bad := newBan("x")
	bad.Reason = ""
	if _, err := st.CreateBan(bad); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("CreateBan: err = %v, want ErrValidation", err)
	}
	if got := len(st.ListBans()); got != 0 {
		t.Fatalf("ListBans: len = %d, want 0", got)
	}
}

func TestConcurrentCreateBanUniqueIDs(t *testing.T) {
	st := store.NewMemory()
	const n = 64

	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ban, err := st.CreateBan(newBan("race"))
			if err != nil {
				t.Errorf("CreateBan: %v", err)
				return
			}
			ids <- ban.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d ids, want %d", len(seen), n)
	}
}

func TestGetBanNotFound(t *testing.T) {
	st := store.NewMemory()
	if _, err := st.GetBan(42); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetBan: err = %v, want ErrNotFound", err)
	}
	if _, err := st.UpdateBan(42, func(*model.Ban) {}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("UpdateBan: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateBanKeepsImmutableFields(t *testing.T) {
	st := store.NewMemory()
	created, err := st.CreateBan(newBan("a"))
	if err != nil {
		t.Fatalf("CreateBan: %v", err)
	}

	updated, err := st.UpdateBan(created.ID, func(b *model.Ban) {
		b.ID = 99
		b.Type = model.BanAuto
		b.Timestamp = 5
		b.Active = false
	})
	if err != nil {
		t.Fatalf("UpdateBan: %v", err)
	}
	want := created
	want.Active = false
	if diff := cmp.Diff(want, updated); diff != "" {
		t.Errorf("UpdateBan mismatch (-want +got):\n%s", diff)
	}

	again, err := st.UpdateBan(created.ID, func(b *model.Ban) { b.Active = true })
	if err != nil {
		t.Fatalf("UpdateBan: %v", err)
	}
	if again.Active {
		t.Fatalf("UpdateBan re-activated a revoked ban")
	}
}

func TestListBansReturnsCopies(t *testing.T) {
	st := store.NewMemory()
	if _, err := st.CreateBan(newBan("a")); err != nil {
		t.Fatalf("CreateBan: %v", err)
	}
	bans := st.ListBans()
	bans[0].Reason = "mutated"

	got, err := st.GetBan(bans[0].ID)
	if err != nil {
		t.Fatalf("GetBan: %v", err)
	}
	if got.Reason != "a" {
		t.Fatalf("store state leaked through ListBans: reason = %q", got.Reason)
	}
}

func TestViolationCountNeverDecreases(t *testing.T) {
	st := store.NewMemory()
	v, err := st.CreateViolation(model.Violation{License: "license:a", Type: "speed_hack", Count: 3})
	if err != nil {
		t.Fatalf("CreateViolation: %v", err)
	}
	got, err := st.UpdateViolation(v.ID, func(v *model.Violation) { v.Count = 1 })
	if err != nil {
		t.Fatalf("UpdateViolation: %v", err)
	}
	if got.Count != 3 {
		t.Fatalf("UpdateViolation: count = %d, want 3", got.Count)
	}

	if _, err := st.CreateViolation(model.Violation{Type: "x", Count: 0}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("CreateViolation with zero count: err = %v, want ErrValidation", err)
	}
}

func TestDeleteViolations(t *testing.T) {
	st := store.NewMemory()
	for _, ts := range []int64{10, 20, 30, 40} {
		if _, err := st.CreateViolation(model.Violation{Name: "p", Type: "t", Count: 1, Timestamp: ts}); err != nil {
			t.Fatalf("CreateViolation: %v", err)
		}
	}

	removed := st.DeleteViolations(func(v model.Violation) bool { return v.Timestamp < 25 })
	if diff := cmp.Diff([]int64{1, 2}, removed); diff != "" {
		t.Errorf("DeleteViolations removed mismatch (-want +got):\n%s", diff)
	}

	left := st.ListViolations()
	if len(left) != 2 || left[0].ID != 3 || left[1].ID != 4 {
		t.Fatalf("ListViolations after delete = %+v", left)
	}

	v, err := st.CreateViolation(model.Violation{Name: "p", Type: "t", Count: 1})
	if err != nil {
		t.Fatalf("CreateViolation: %v", err)
	}
	if v.ID != 5 {
		t.Fatalf("violation id reused: got %d, want 5", v.ID)
	}
}

func TestRestoreAdvancesCounters(t *testing.T) {
	st := store.NewMemory()
	restored := newBan("old")
	restored.ID = 10
	if err := st.Restore([]model.Ban{restored}, []model.Violation{{ID: 7, Name: "p", Type: "t", Count: 2}}); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	ban, err := st.CreateBan(newBan("new"))
	if err != nil {
		t.Fatalf("CreateBan: %v", err)
	}
	if ban.ID != 11 {
		t.Fatalf("CreateBan after restore: id = %d, want 11", ban.ID)
	}
	v, err := st.CreateViolation(model.Violation{Name: "p", Type: "t", Count: 1})
	if err != nil {
		t.Fatalf("CreateViolation: %v", err)
	}
	if v.ID != 8 {
		t.Fatalf("CreateViolation after restore: id = %d, want 8", v.ID)
	}

	if err := st.Restore([]model.Ban{restored}, nil); err == nil {
		t.Fatalf("Restore with duplicate id: expected error")
	}
}

func TestAdvanceIDs(t *testing.T) {
	st := store.NewMemory()
	st.AdvanceIDs(3, 9)
	st.AdvanceIDs(1, 2)

	ban, err := st.CreateBan(newBan("a"))
	if err != nil {
		t.Fatalf("CreateBan: %v", err)
	}
	if ban.ID != 4 {
		t.Fatalf("CreateBan after AdvanceIDs: id = %d, want 4", ban.ID)
	}
	v, err := st.CreateViolation(model.Violation{Name: "p", Type: "t", Count: 1})
	if err != nil {
		t.Fatalf("CreateViolation: %v", err)
	}
	if v.ID != 10 {
		t.Fatalf("CreateViolation after AdvanceIDs: id = %d, want 10", v.ID)
	}
}

func TestPlayersLifecycle(t *testing.T) {
	st := store.NewMemory()
	st.PutPlayer(model.Player{ID: 2, Name: "b"})
	st.PutPlayer(model.Player{ID: 1, Name: "a"})
	st.PutPlayer(model.Player{ID: 2, Name: "b", Ping: 80})

	players := st.ListPlayers()
	want := []model.Player{{ID: 2, Name: "b", Ping: 80}, {ID: 1, Name: "a"}}
	if diff := cmp.Diff(want, players); diff != "" {
		t.Errorf("ListPlayers mismatch (-want +got):\n%s", diff)
	}

	if _, err := st.RemovePlayer(2); err != nil {
		t.Fatalf("RemovePlayer: %v", err)
	}
	if _, err := st.RemovePlayer(2); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("RemovePlayer twice: err = %v, want ErrNotFound", err)
	}
	if st.CountPlayers() != 1 {
		t.Fatalf("CountPlayers = %d, want 1", st.CountPlayers())
	}
}

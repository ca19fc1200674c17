package store

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestGetXPState_MissingProfileReadsAsLevelOne(t *testing.T) {
	s := openTestStore(t)

	st, err := s.GetXPState(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetXPState failed: %v", err)
	}
	if st.XPTotal != 0 || st.Level != 1 {
		t.Errorf("got total=%d level=%d, want 0/1", st.XPTotal, st.Level)
	}
}

func TestListEvents_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	seedProfile(t, s, "p1")
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	refs := []string{"ch-1", "ch-2", "ch-3"}
	for i, ref := range refs {
		_, err := s.AppendEvent(ctx, EventRecord{
			ID: "ev-" + ref, ProfileID: "p1", Source: "manga_read", SourceRef: ref,
			XPDelta: 50, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}, testLevel)
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []string{"ch-3", "ch-2", "ch-1"} {
		if events[i].SourceRef != want {
			t.Errorf("events[%d].SourceRef = %s, want %s", i, events[i].SourceRef, want)
		}
	}
}

func TestListEvents_Limit(t *testing.T) {
	s := openTestStore(t)
	seedProfile(t, s, "p1")
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent(ctx, EventRecord{
			ID: time.Duration(i).String(), ProfileID: "p1", Source: "discord_event",
			SourceRef: time.Duration(i).String() + "-ref",
			XPDelta:   15, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}, testLevel)
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestGetReward_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetReward(context.Background(), "ghost")
	if err != sql.ErrNoRows {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestListRewards_ActiveFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rewards := []RewardRecord{
		{ID: "r1", Type: "early_access", Title: "Drop", Payload: "{}", MinLevel: 2, Active: true},
		{ID: "r2", Type: "discount_code", Title: "15% off", Payload: "{}", MinLevel: 5, Active: false},
		{ID: "r3", Type: "physical_item", Title: "Sticker pack", Payload: "{}", MinLevel: 1, Active: true},
	}
	for _, r := range rewards {
		if err := s.UpsertReward(ctx, r); err != nil {
			t.Fatalf("UpsertReward failed: %v", err)
		}
	}

	active, err := s.ListRewards(ctx, true)
	if err != nil {
		t.Fatalf("ListRewards failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d active rewards, want 2", len(active))
	}
	// Ordered by min_level.
	if active[0].ID != "r3" || active[1].ID != "r1" {
		t.Errorf("order = %s,%s, want r3,r1", active[0].ID, active[1].ID)
	}

	all, err := s.ListRewards(ctx, false)
	if err != nil {
		t.Fatalf("ListRewards failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d rewards, want 3", len(all))
	}
}

func TestUpsertReward_Overwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := RewardRecord{ID: "r1", Type: "early_access", Title: "Drop", Payload: "{}", MinLevel: 2, Active: true}
	if err := s.UpsertReward(ctx, r); err != nil {
		t.Fatalf("UpsertReward failed: %v", err)
	}

	r.MinLevel = 4
	r.Active = false
	if err := s.UpsertReward(ctx, r); err != nil {
		t.Fatalf("UpsertReward (second) failed: %v", err)
	}

	got, err := s.GetReward(ctx, "r1")
	if err != nil {
		t.Fatalf("GetReward failed: %v", err)
	}
	if got.MinLevel != 4 || got.Active {
		t.Errorf("reward = minLevel %d active %v, want 4/false", got.MinLevel, got.Active)
	}
}

func TestListClaimsByStatus(t *testing.T) {
	s := openTestStore(t)
	seedProfileAndReward(t, s)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	claims := []ClaimRecord{
		{ID: "c1", ProfileID: "p1", RewardID: "r1", Status: ClaimStatusPending, IssuedAt: now, UpdatedAt: now},
		{ID: "c2", ProfileID: "p1", RewardID: "r1", Status: ClaimStatusIssued, IssuedAt: now, UpdatedAt: now},
	}
	for _, c := range claims {
		if _, _, err := s.InsertClaim(ctx, c); err != nil {
			t.Fatalf("InsertClaim failed: %v", err)
		}
	}

	pending, err := s.ListClaimsByStatus(ctx, ClaimStatusPending, 10)
	if err != nil {
		t.Fatalf("ListClaimsByStatus failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "c1" {
		t.Errorf("pending = %v, want [c1]", pending)
	}
}

func TestListProfileIDs(t *testing.T) {
	s := openTestStore(t)
	seedProfile(t, s, "p1")
	seedProfile(t, s, "p2")
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.AppendEvent(ctx, EventRecord{
		ID: "ev1", ProfileID: "p1", Source: "manga_read", SourceRef: "ch-1",
		XPDelta: 50, CreatedAt: now,
	}, testLevel); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	ids, err := s.ListProfileIDs(ctx)
	if err != nil {
		t.Fatalf("ListProfileIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "p1" {
		t.Errorf("ids = %v, want [p1]", ids)
	}
}

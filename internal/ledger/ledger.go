// Package ledger credits XP for user actions through an append-only event
// log with a derived per-profile total and level.
//
// The write path is reject-then-apply: the storage-level unique constraint
// on (profile, source, sourceRef) decides whether an event credits, and a
// duplicate is a successful no-op, not an error. Webhook retries and
// double-submitting clients land here unchanged.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/moodmnky/dojo/internal/rules"
	"github.com/moodmnky/dojo/internal/store"
)

// Result reasons for non-credited calls.
const (
	// ReasonDuplicate means the ledger already holds this event.
	ReasonDuplicate = "duplicate"

	// ReasonNoAward means the rules evaluated the event to zero XP
	// (disabled source, quiz below threshold). No ledger row is written.
	ReasonNoAward = "no_award"
)

// Result reports the outcome of a record or adjust call. When Accepted is
// false, Reason says why and the totals are the profile's existing ones.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	XPDelta  int64  `json:"xp_delta"`
	XPTotal  int64  `json:"xp_total"`
	Level    int    `json:"level"`
	Tier     string `json:"tier"`
}

// Summary is a profile's current standing.
type Summary struct {
	ProfileID string `json:"profile_id"`
	XPTotal   int64  `json:"xp_total"`
	Level     int    `json:"level"`
	Tier      string `json:"tier"`
}

// Service is the ledger writer. All methods are safe for concurrent use;
// the storage constraint serializes conflicting writes.
type Service struct {
	store  *store.Store
	rules  rules.Snapshot
	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// New creates a ledger service over a store and a rules snapshot.
// ids defaults to UUIDv7Generator and now to time.Now when nil.
func New(st *store.Store, snap rules.Snapshot, ids IDGenerator, now func() time.Time) *Service {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  st,
		rules:  snap,
		ids:    ids,
		now:    now,
		logger: slog.Default(),
	}
}

// Rules returns the snapshot the service evaluates against.
func (s *Service) Rules() rules.Snapshot {
	return s.rules
}

// RecordEvent evaluates and credits one user action.
//
// The rules snapshot decides the XP delta; a zero delta (unknown or disabled
// source, quiz below its pass threshold) returns the profile's current
// totals with Reason=no_award and writes nothing. A delta that loses the
// uniqueness race returns the existing totals with Reason=duplicate.
//
// admin_adjust is rejected here; use Adjust.
func (s *Service) RecordEvent(ctx context.Context, profileID string, ev rules.Event) (Result, error) {
	if profileID == "" {
		return Result{}, newInputError(ErrCodeEmptyProfile, "profile id is required")
	}
	if ev.Source == rules.SourceAdminAdjust {
		return Result{}, newInputError(ErrCodeReservedSource, "admin_adjust must go through Adjust")
	}
	if !ev.Source.Valid() {
		return Result{}, newInputError(ErrCodeUnknownSource, "unknown event source %q", ev.Source)
	}
	if ev.SourceRef == "" {
		return Result{}, newInputError(ErrCodeEmptyRef, "source ref is required")
	}

	now := s.now()
	delta := s.rules.Evaluate(ev)
	if delta == 0 {
		st, err := s.store.GetXPState(ctx, profileID)
		if err != nil {
			return Result{}, err
		}
		s.logger.Debug("event awarded nothing",
			"profile", profileID, "source", ev.Source, "ref", ev.SourceRef)
		return Result{
			Accepted: false,
			Reason:   ReasonNoAward,
			XPTotal:  st.XPTotal,
			Level:    st.Level,
			Tier:     s.rules.TierFor(st.Level),
		}, nil
	}

	if err := s.store.EnsureProfile(ctx, store.Profile{
		ID:        profileID,
		Handle:    profileID,
		CreatedAt: now,
	}); err != nil {
		return Result{}, err
	}

	rec := store.EventRecord{
		ID:        s.ids.Generate(),
		ProfileID: profileID,
		Source:    string(ev.Source),
		SourceRef: s.dedupRef(ev, now),
		XPDelta:   delta,
		CreatedAt: now,
	}
	res, err := s.store.AppendEvent(ctx, rec, s.rules.Level)
	if err != nil {
		return Result{}, fmt.Errorf("record event: %w", err)
	}

	out := Result{
		Accepted: res.Accepted,
		XPTotal:  res.XPTotal,
		Level:    res.Level,
		Tier:     s.rules.TierFor(res.Level),
	}
	if res.Accepted {
		out.XPDelta = delta
		s.logger.Info("xp credited",
			"profile", profileID, "source", ev.Source, "ref", ev.SourceRef,
			"delta", delta, "total", res.XPTotal, "level", res.Level)
	} else {
		out.Reason = ReasonDuplicate
		s.logger.Debug("duplicate event ignored",
			"profile", profileID, "source", ev.Source, "ref", ev.SourceRef)
	}
	return out, nil
}

// Adjust records an explicit admin correction. This is the only path that
// may carry a negative delta; the store rejects adjustments that would take
// the total below zero. ref is generated when empty, so repeated corrections
// are distinct events unless the caller supplies its own dedup key.
func (s *Service) Adjust(ctx context.Context, profileID string, delta int64, ref string) (Result, error) {
	if profileID == "" {
		return Result{}, newInputError(ErrCodeEmptyProfile, "profile id is required")
	}
	if ref == "" {
		ref = s.ids.Generate()
	}

	now := s.now()
	if err := s.store.EnsureProfile(ctx, store.Profile{
		ID:        profileID,
		Handle:    profileID,
		CreatedAt: now,
	}); err != nil {
		return Result{}, err
	}

	rec := store.EventRecord{
		ID:        s.ids.Generate(),
		ProfileID: profileID,
		Source:    string(rules.SourceAdminAdjust),
		SourceRef: norm.NFC.String(ref),
		XPDelta:   delta,
		CreatedAt: now,
	}
	res, err := s.store.AppendEvent(ctx, rec, s.rules.Level)
	if err == store.ErrNegativeTotal {
		return Result{}, newInputError(ErrCodeNegativeTotal,
			"adjustment of %d would take profile %s below zero", delta, profileID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("adjust: %w", err)
	}

	out := Result{
		Accepted: res.Accepted,
		XPTotal:  res.XPTotal,
		Level:    res.Level,
		Tier:     s.rules.TierFor(res.Level),
	}
	if res.Accepted {
		out.XPDelta = delta
		s.logger.Info("admin adjustment recorded",
			"profile", profileID, "ref", ref, "delta", delta, "total", res.XPTotal)
	} else {
		out.Reason = ReasonDuplicate
	}
	return out, nil
}

// State returns a profile's current standing.
func (s *Service) State(ctx context.Context, profileID string) (Summary, error) {
	if profileID == "" {
		return Summary{}, newInputError(ErrCodeEmptyProfile, "profile id is required")
	}
	st, err := s.store.GetXPState(ctx, profileID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		ProfileID: profileID,
		XPTotal:   st.XPTotal,
		Level:     st.Level,
		Tier:      s.rules.TierFor(st.Level),
	}, nil
}

// Activity returns a profile's ledger rows, newest first.
func (s *Service) Activity(ctx context.Context, profileID string, limit int) ([]store.EventRecord, error) {
	if profileID == "" {
		return nil, newInputError(ErrCodeEmptyProfile, "profile id is required")
	}
	return s.store.ListEvents(ctx, profileID, limit)
}

// dedupRef builds the stored dedup key: the NFC-normalized sourceRef, plus
// a window suffix when the source carries a cooldown. Within a window the
// same ref dedupes; a new window is a new creditable action.
func (s *Service) dedupRef(ev rules.Event, now time.Time) string {
	ref := norm.NFC.String(ev.SourceRef)
	rule, ok := s.rules.Rule(ev.Source)
	if !ok || rule.CooldownDays <= 0 {
		return ref
	}
	window := now.UTC().Unix() / (int64(rule.CooldownDays) * 86400)
	return fmt.Sprintf("%s#w%d", ref, window)
}

// Package rules evaluates XP award rules against an explicit configuration
// snapshot.
//
// Evaluation is a pure function of the event and the snapshot: no storage,
// no clock, no ambient globals. The ledger decides whether an award is
// actually credited (idempotency lives there, not here).
package rules

import (
	"fmt"
	"sort"
)

// Source identifies the kind of action that can earn XP.
type Source string

const (
	SourceMangaRead    Source = "manga_read"
	SourceQuizPass     Source = "quiz_pass"
	SourceDownload     Source = "download"
	SourcePurchase     Source = "purchase"
	SourceUGCApproved  Source = "ugc_approved"
	SourceDiscordEvent Source = "discord_event"

	// SourceAdminAdjust is the explicit admin-correction path. It is never
	// awarded by Evaluate; the ledger records it with a caller-supplied delta.
	SourceAdminAdjust Source = "admin_adjust"
)

// Sources lists every event source accepted by the ledger, in a stable order.
var Sources = []Source{
	SourceMangaRead,
	SourceQuizPass,
	SourceDownload,
	SourcePurchase,
	SourceUGCApproved,
	SourceDiscordEvent,
	SourceAdminAdjust,
}

// Valid reports whether s is a recognized event source.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// DefaultPassThreshold is the quiz pass threshold used when the
// configuration does not specify one.
const DefaultPassThreshold = 70

// SourceRule configures the award for one event source.
type SourceRule struct {
	// XPReward is the flat award for an accepted event.
	XPReward int64

	// CooldownDays widens the dedup key to a time window: the same sourceRef
	// earns at most once per window. Zero means the ref alone dedupes.
	CooldownDays int

	// PassThreshold applies to quiz_pass only. Zero means DefaultPassThreshold.
	PassThreshold int

	// Disabled switches the source off; events evaluate to zero.
	Disabled bool
}

// PurchaseBand awards XP for order subtotals at or above MinSubtotalCents.
type PurchaseBand struct {
	MinSubtotalCents int64
	XP               int64
}

// TierBand maps a minimum level to a cosmetic tier label.
type TierBand struct {
	MinLevel int
	Label    string
}

// Event is one creditable user action, as delivered by a front-end or
// webhook. Score and SubtotalCents are meaningful only for their sources.
type Event struct {
	Source        Source
	SourceRef     string
	Score         int
	SubtotalCents int64
}

// Snapshot is an immutable view of the rule configuration, passed explicitly
// to every evaluation. Loaded from CUE config or built from Defaults.
type Snapshot struct {
	Sources         map[Source]SourceRule
	PurchaseBands   []PurchaseBand // ascending by MinSubtotalCents
	LevelThresholds []int64        // ascending, thresholds[0] == 0 for level 1
	Tiers           []TierBand     // ascending by MinLevel
}

// Defaults returns the documented fallback configuration, used whenever the
// config store is missing a block.
func Defaults() Snapshot {
	return Snapshot{
		Sources: map[Source]SourceRule{
			SourceMangaRead:    {XPReward: 50},
			SourceQuizPass:     {XPReward: 100, PassThreshold: DefaultPassThreshold},
			SourceDownload:     {XPReward: 10, CooldownDays: 1},
			SourceUGCApproved:  {XPReward: 75},
			SourceDiscordEvent: {XPReward: 15, CooldownDays: 1},
		},
		PurchaseBands: []PurchaseBand{
			{MinSubtotalCents: 0, XP: 25},
			{MinSubtotalCents: 1500, XP: 50},
			{MinSubtotalCents: 4000, XP: 100},
			{MinSubtotalCents: 7500, XP: 150},
		},
		LevelThresholds: []int64{0, 100, 250, 500, 1000, 2000, 4000, 8000},
		Tiers: []TierBand{
			{MinLevel: 1, Label: "white"},
			{MinLevel: 3, Label: "orange"},
			{MinLevel: 5, Label: "blue"},
			{MinLevel: 7, Label: "black"},
		},
	}
}

// Evaluate returns the XP delta for an event, or zero if the source is
// unrecognized, disabled, or the event fails its gate (quiz below threshold).
// Purchase events are banded by subtotal; admin_adjust always evaluates to
// zero because its delta is caller-supplied.
func (s Snapshot) Evaluate(ev Event) int64 {
	switch ev.Source {
	case SourcePurchase:
		rule, ok := s.Sources[SourcePurchase]
		if ok && rule.Disabled {
			return 0
		}
		return s.purchaseAward(ev.SubtotalCents)
	case SourceQuizPass:
		rule, ok := s.Sources[SourceQuizPass]
		if !ok {
			rule = Defaults().Sources[SourceQuizPass]
		}
		if rule.Disabled {
			return 0
		}
		threshold := rule.PassThreshold
		if threshold <= 0 {
			threshold = DefaultPassThreshold
		}
		if ev.Score < threshold {
			return 0
		}
		return rule.XPReward
	case SourceAdminAdjust:
		return 0
	default:
		rule, ok := s.Sources[ev.Source]
		if !ok {
			rule, ok = Defaults().Sources[ev.Source]
			if !ok {
				return 0
			}
		}
		if rule.Disabled {
			return 0
		}
		return rule.XPReward
	}
}

// purchaseAward returns the XP for the highest band at or below the subtotal.
func (s Snapshot) purchaseAward(subtotalCents int64) int64 {
	bands := s.PurchaseBands
	if len(bands) == 0 {
		bands = Defaults().PurchaseBands
	}
	var award int64
	for _, band := range bands {
		if subtotalCents >= band.MinSubtotalCents {
			award = band.XP
		}
	}
	return award
}

// Rule returns the effective rule for a source, falling back to defaults.
func (s Snapshot) Rule(src Source) (SourceRule, bool) {
	if rule, ok := s.Sources[src]; ok {
		return rule, true
	}
	rule, ok := Defaults().Sources[src]
	return rule, ok
}

// Level computes the level for an XP total: the highest threshold index i
// (1-based) such that thresholds[i-1] <= xpTotal. Monotonic non-decreasing
// in xpTotal. A total below thresholds[0] still maps to level 1.
func (s Snapshot) Level(xpTotal int64) int {
	thresholds := s.LevelThresholds
	if len(thresholds) == 0 {
		thresholds = Defaults().LevelThresholds
	}
	// First threshold above the total; the level is that index.
	idx := sort.Search(len(thresholds), func(i int) bool {
		return thresholds[i] > xpTotal
	})
	if idx < 1 {
		return 1
	}
	return idx
}

// TierFor returns the cosmetic tier label for a level, or the lowest tier's
// label when the level precedes every band.
func (s Snapshot) TierFor(level int) string {
	tiers := s.Tiers
	if len(tiers) == 0 {
		tiers = Defaults().Tiers
	}
	label := tiers[0].Label
	for _, tier := range tiers {
		if level >= tier.MinLevel {
			label = tier.Label
		}
	}
	return label
}

// Validate checks structural invariants of the snapshot: ascending level
// thresholds starting at 0, ascending purchase bands, non-negative rewards,
// and ascending tier bands.
func (s Snapshot) Validate() error {
	if len(s.LevelThresholds) > 0 {
		if s.LevelThresholds[0] != 0 {
			return fmt.Errorf("level thresholds must start at 0, got %d", s.LevelThresholds[0])
		}
		for i := 1; i < len(s.LevelThresholds); i++ {
			if s.LevelThresholds[i] <= s.LevelThresholds[i-1] {
				return fmt.Errorf("level thresholds must be strictly ascending: thresholds[%d]=%d <= thresholds[%d]=%d",
					i, s.LevelThresholds[i], i-1, s.LevelThresholds[i-1])
			}
		}
	}
	for i := 1; i < len(s.PurchaseBands); i++ {
		if s.PurchaseBands[i].MinSubtotalCents <= s.PurchaseBands[i-1].MinSubtotalCents {
			return fmt.Errorf("purchase bands must be strictly ascending by min_subtotal_cents at index %d", i)
		}
	}
	for _, band := range s.PurchaseBands {
		if band.XP < 0 {
			return fmt.Errorf("purchase band at %d cents has negative XP", band.MinSubtotalCents)
		}
	}
	for src, rule := range s.Sources {
		if !src.Valid() {
			return fmt.Errorf("unknown source %q in rules", src)
		}
		if rule.XPReward < 0 {
			return fmt.Errorf("source %q has negative xp reward", src)
		}
		if rule.CooldownDays < 0 {
			return fmt.Errorf("source %q has negative cooldown", src)
		}
	}
	for i := 1; i < len(s.Tiers); i++ {
		if s.Tiers[i].MinLevel <= s.Tiers[i-1].MinLevel {
			return fmt.Errorf("tiers must be strictly ascending by min_level at index %d", i)
		}
	}
	return nil
}

package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_FlatSources(t *testing.T) {
	snap := Defaults()

	assert.Equal(t, int64(50), snap.Evaluate(Event{Source: SourceMangaRead, SourceRef: "ch-1"}))
	assert.Equal(t, int64(75), snap.Evaluate(Event{Source: SourceUGCApproved, SourceRef: "post-9"}))
	assert.Equal(t, int64(10), snap.Evaluate(Event{Source: SourceDownload, SourceRef: "wallpaper-2"}))
}

func TestEvaluate_UnknownSourceIsZero(t *testing.T) {
	snap := Defaults()
	assert.Zero(t, snap.Evaluate(Event{Source: Source("tiktok_view"), SourceRef: "x"}))
}

func TestEvaluate_DisabledSourceIsZero(t *testing.T) {
	snap := Defaults()
	snap.Sources[SourceMangaRead] = SourceRule{XPReward: 50, Disabled: true}

	assert.Zero(t, snap.Evaluate(Event{Source: SourceMangaRead, SourceRef: "ch-1"}))
}

func TestEvaluate_QuizBelowThresholdAwardsNothing(t *testing.T) {
	snap := Defaults()

	// Pass threshold defaults to 70.
	assert.Zero(t, snap.Evaluate(Event{Source: SourceQuizPass, SourceRef: "quiz-3", Score: 65}))
	assert.Equal(t, int64(100), snap.Evaluate(Event{Source: SourceQuizPass, SourceRef: "quiz-3", Score: 70}))
	assert.Equal(t, int64(100), snap.Evaluate(Event{Source: SourceQuizPass, SourceRef: "quiz-3", Score: 98}))
}

func TestEvaluate_QuizConfiguredThreshold(t *testing.T) {
	snap := Defaults()
	snap.Sources[SourceQuizPass] = SourceRule{XPReward: 40, PassThreshold: 90}

	assert.Zero(t, snap.Evaluate(Event{Source: SourceQuizPass, Score: 89}))
	assert.Equal(t, int64(40), snap.Evaluate(Event{Source: SourceQuizPass, Score: 90}))
}

func TestEvaluate_QuizZeroThresholdFallsBackToDefault(t *testing.T) {
	snap := Defaults()
	snap.Sources[SourceQuizPass] = SourceRule{XPReward: 100}

	assert.Zero(t, snap.Evaluate(Event{Source: SourceQuizPass, Score: 69}))
	assert.Equal(t, int64(100), snap.Evaluate(Event{Source: SourceQuizPass, Score: 70}))
}

func TestEvaluate_PurchaseBands(t *testing.T) {
	snap := Defaults()

	tests := []struct {
		name          string
		subtotalCents int64
		want          int64
	}{
		{"small order", 999, 25},
		{"mid order $40", 4000, 100},
		{"top band $80", 8000, 150},
		{"exact band edge $75", 7500, 150},
		{"just below edge", 7499, 100},
		{"zero subtotal", 0, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := snap.Evaluate(Event{Source: SourcePurchase, SourceRef: "order-1", SubtotalCents: tt.subtotalCents})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_AdminAdjustNeverAwards(t *testing.T) {
	snap := Defaults()
	assert.Zero(t, snap.Evaluate(Event{Source: SourceAdminAdjust, SourceRef: "fix-1"}))
}

func TestLevel_ThresholdStepFunction(t *testing.T) {
	snap := Snapshot{LevelThresholds: []int64{0, 100, 250, 500}}

	tests := []struct {
		xp   int64
		want int
	}{
		{0, 1},
		{50, 1},
		{99, 1},
		{100, 2},
		{249, 2},
		{250, 3},
		{500, 4},
		{100000, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, snap.Level(tt.xp), "xp=%d", tt.xp)
	}
}

func TestLevel_Monotonic(t *testing.T) {
	snap := Defaults()

	prev := 0
	for xp := int64(0); xp <= 10000; xp += 7 {
		level := snap.Level(xp)
		require.GreaterOrEqual(t, level, prev, "level decreased at xp=%d", xp)
		prev = level
	}
}

func TestTierFor_Bands(t *testing.T) {
	snap := Defaults()

	assert.Equal(t, "white", snap.TierFor(1))
	assert.Equal(t, "white", snap.TierFor(2))
	assert.Equal(t, "orange", snap.TierFor(3))
	assert.Equal(t, "blue", snap.TierFor(6))
	assert.Equal(t, "black", snap.TierFor(9))
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidate_RejectsBadThresholds(t *testing.T) {
	snap := Snapshot{LevelThresholds: []int64{100, 200}}
	assert.Error(t, snap.Validate(), "first threshold must be 0")

	snap = Snapshot{LevelThresholds: []int64{0, 200, 200}}
	assert.Error(t, snap.Validate(), "thresholds must be strictly ascending")
}

func TestValidate_RejectsBadBandsAndSources(t *testing.T) {
	snap := Snapshot{PurchaseBands: []PurchaseBand{{0, 25}, {0, 50}}}
	assert.Error(t, snap.Validate())

	snap = Snapshot{Sources: map[Source]SourceRule{Source("bogus"): {XPReward: 1}}}
	assert.Error(t, snap.Validate())

	snap = Snapshot{Sources: map[Source]SourceRule{SourceMangaRead: {XPReward: -5}}}
	assert.Error(t, snap.Validate())
}

func TestSourceValid(t *testing.T) {
	assert.True(t, SourceMangaRead.Valid())
	assert.True(t, SourceAdminAdjust.Valid())
	assert.False(t, Source("steam_achievement").Valid())
}

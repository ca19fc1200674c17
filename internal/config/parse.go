package config

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/moodmnky/dojo/internal/rules"
	"github.com/moodmnky/dojo/internal/store"
)

// ParseError represents a config parse error with source position.
type ParseError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ParseError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// parseSources reads the xp block: per-source award rules keyed by source
// name. Missing fields take their zero value; Defaults fill missing sources
// at evaluation time.
//
//	xp: {
//		manga_read: {xp: 50}
//		quiz_pass:  {xp: 100, pass_threshold: 80}
//		download:   {xp: 10, cooldown_days: 1}
//	}
func parseSources(v cue.Value) (map[rules.Source]rules.SourceRule, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	out := make(map[rules.Source]rules.SourceRule)
	for iter.Next() {
		src := rules.Source(iter.Label())
		if !src.Valid() {
			return nil, &ParseError{
				Field:   "xp." + iter.Label(),
				Message: "unknown event source",
				Pos:     iter.Value().Pos(),
			}
		}

		rule := rules.SourceRule{}
		ruleVal := iter.Value()
		if err := intField(ruleVal, "xp", &rule.XPReward); err != nil {
			return nil, err
		}
		var cooldown, threshold int64
		if err := intField(ruleVal, "cooldown_days", &cooldown); err != nil {
			return nil, err
		}
		if err := intField(ruleVal, "pass_threshold", &threshold); err != nil {
			return nil, err
		}
		rule.CooldownDays = int(cooldown)
		rule.PassThreshold = int(threshold)

		disabledVal := ruleVal.LookupPath(cue.ParsePath("disabled"))
		if disabledVal.Exists() {
			disabled, err := disabledVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			rule.Disabled = disabled
		}
		out[src] = rule
	}
	return out, nil
}

// parsePurchaseBands reads the purchase block's bands list.
//
//	purchase: bands: [
//		{min_subtotal_cents: 0, xp: 25},
//		{min_subtotal_cents: 1500, xp: 50},
//	]
func parsePurchaseBands(v cue.Value) ([]rules.PurchaseBand, error) {
	bandsVal := v.LookupPath(cue.ParsePath("bands"))
	if !bandsVal.Exists() {
		return nil, &ParseError{
			Field:   "purchase.bands",
			Message: "bands list is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := bandsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var bands []rules.PurchaseBand
	for iter.Next() {
		var band rules.PurchaseBand
		if err := intField(iter.Value(), "min_subtotal_cents", &band.MinSubtotalCents); err != nil {
			return nil, err
		}
		if err := intField(iter.Value(), "xp", &band.XP); err != nil {
			return nil, err
		}
		bands = append(bands, band)
	}
	return bands, nil
}

// parseLevelThresholds reads the levels block's thresholds list.
//
//	levels: thresholds: [0, 100, 250, 500]
func parseLevelThresholds(v cue.Value) ([]int64, error) {
	thresholdsVal := v.LookupPath(cue.ParsePath("thresholds"))
	if !thresholdsVal.Exists() {
		return nil, &ParseError{
			Field:   "levels.thresholds",
			Message: "thresholds list is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := thresholdsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var thresholds []int64
	for iter.Next() {
		n, err := iter.Value().Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		thresholds = append(thresholds, n)
	}
	return thresholds, nil
}

// parseTiers reads the tiers list.
//
//	tiers: [
//		{min_level: 1, label: "white"},
//		{min_level: 3, label: "orange"},
//	]
func parseTiers(v cue.Value) ([]rules.TierBand, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var tiers []rules.TierBand
	for iter.Next() {
		var minLevel int64
		if err := intField(iter.Value(), "min_level", &minLevel); err != nil {
			return nil, err
		}
		label, err := iter.Value().LookupPath(cue.ParsePath("label")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		tiers = append(tiers, rules.TierBand{MinLevel: int(minLevel), Label: label})
	}
	return tiers, nil
}

// parseRewards reads the reward block: catalog entries keyed by reward ID.
// The payload sub-struct is carried as JSON; its type-specific shape is
// validated by the reward package during catalog sync.
//
//	reward: "disc-15": {
//		type:      "discount_code"
//		title:     "15% off"
//		min_level: 3
//		active:    true
//		payload: {percent_off: 15}
//	}
func parseRewards(v cue.Value) ([]store.RewardRecord, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []store.RewardRecord
	for iter.Next() {
		rewardVal := iter.Value()
		rec := store.RewardRecord{ID: iter.Label(), Payload: "{}"}

		typ, err := rewardVal.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, &ParseError{
				Field:   "reward." + iter.Label() + ".type",
				Message: "type is required",
				Pos:     rewardVal.Pos(),
			}
		}
		rec.Type = typ

		title, err := rewardVal.LookupPath(cue.ParsePath("title")).String()
		if err != nil {
			return nil, &ParseError{
				Field:   "reward." + iter.Label() + ".title",
				Message: "title is required",
				Pos:     rewardVal.Pos(),
			}
		}
		rec.Title = title

		var minLevel int64
		if err := intField(rewardVal, "min_level", &minLevel); err != nil {
			return nil, err
		}
		rec.MinLevel = int(minLevel)

		for field, dst := range map[string]*bool{
			"repeatable": &rec.Repeatable,
			"active":     &rec.Active,
		} {
			fv := rewardVal.LookupPath(cue.ParsePath(field))
			if !fv.Exists() {
				continue
			}
			b, err := fv.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			*dst = b
		}

		payloadVal := rewardVal.LookupPath(cue.ParsePath("payload"))
		if payloadVal.Exists() {
			raw, err := json.Marshal(payloadVal)
			if err != nil {
				return nil, &ParseError{
					Field:   "reward." + iter.Label() + ".payload",
					Message: fmt.Sprintf("payload must be a concrete struct: %v", err),
					Pos:     payloadVal.Pos(),
				}
			}
			rec.Payload = string(raw)
		}
		out = append(out, rec)
	}
	return out, nil
}

// intField reads an optional integer field into dst, leaving it untouched
// when the field is absent.
func intField(v cue.Value, name string, dst *int64) error {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil
	}
	n, err := fv.Int64()
	if err != nil {
		return formatCUEError(err)
	}
	*dst = n
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &ParseError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

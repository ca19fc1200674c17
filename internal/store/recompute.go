package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecomputeResult compares a profile's stored xp_state against what the
// ledger says it should be. Drift means a bug or manual tampering; the
// ledger is authoritative.
type RecomputeResult struct {
	ProfileID     string
	StoredTotal   int64
	LedgerTotal   int64
	StoredLevel   int
	ExpectedLevel int
	Drifted       bool
	Repaired      bool
}

// RecomputeProfile re-derives a profile's XP total from the ledger and
// compares it to xp_state. With repair=true a drifted row is rewritten to
// the ledger-derived values inside the same transaction.
func (s *Store) RecomputeProfile(ctx context.Context, profileID string, level func(total int64) int, repair bool, now time.Time) (RecomputeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("recompute: begin tx: %w", err)
	}
	defer tx.Rollback()

	res := RecomputeResult{ProfileID: profileID}

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(xp_delta), 0) FROM xp_events WHERE profile_id = ?
	`, profileID).Scan(&res.LedgerTotal)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("recompute: sum ledger: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT xp_total, level FROM xp_state WHERE profile_id = ?
	`, profileID).Scan(&res.StoredTotal, &res.StoredLevel)
	switch {
	case err == sql.ErrNoRows:
		res.StoredTotal = 0
		res.StoredLevel = level(0)
	case err != nil:
		return RecomputeResult{}, fmt.Errorf("recompute: read state: %w", err)
	}

	res.ExpectedLevel = level(res.LedgerTotal)
	res.Drifted = res.StoredTotal != res.LedgerTotal || res.StoredLevel != res.ExpectedLevel

	if res.Drifted && repair {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO xp_state (profile_id, xp_total, level, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(profile_id) DO UPDATE SET
				xp_total = excluded.xp_total,
				level = excluded.level,
				updated_at = excluded.updated_at
		`, profileID, res.LedgerTotal, res.ExpectedLevel, fmtTime(now))
		if err != nil {
			return RecomputeResult{}, fmt.Errorf("recompute: repair: %w", err)
		}
		res.Repaired = true
	}

	if err := tx.Commit(); err != nil {
		return RecomputeResult{}, fmt.Errorf("recompute: commit: %w", err)
	}
	return res, nil
}

// RecomputeAll audits every profile with ledger or state rows.
func (s *Store) RecomputeAll(ctx context.Context, level func(total int64) int, repair bool, now time.Time) ([]RecomputeResult, error) {
	ids, err := s.ListProfileIDs(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]RecomputeResult, 0, len(ids))
	for _, id := range ids {
		res, err := s.RecomputeProfile(ctx, id, level, repair, now)
		if err != nil {
			return results, fmt.Errorf("recompute %s: %w", id, err)
		}
		results = append(results, res)
	}
	return results, nil
}

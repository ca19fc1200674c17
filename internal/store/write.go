package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNegativeTotal is returned when an adjustment would drive a profile's
// XP total below zero. The ledger row is not written.
var ErrNegativeTotal = errors.New("xp total would become negative")

// EnsureProfile inserts a profile row if it does not exist.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - repeat calls are no-ops.
func (s *Store) EnsureProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, handle, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.Handle, fmtTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

// AppendEvent appends a ledger row and updates the derived xp_state, in one
// transaction. The UNIQUE constraint on (profile_id, source, source_ref) is
// the sole concurrency guard: the insert uses ON CONFLICT DO NOTHING, and a
// zero rows-affected count means the event was already credited. In that
// case the existing totals are returned with Accepted=false - reject first,
// apply only when the insert won.
//
// level maps an XP total to a level; it is applied to the post-insert total
// so xp_state.level never drifts from the threshold function.
func (s *Store) AppendEvent(ctx context.Context, ev EventRecord, level func(total int64) int) (LedgerResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LedgerResult{}, fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO xp_events (id, profile_id, source, source_ref, xp_delta, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, source, source_ref) DO NOTHING
	`, ev.ID, ev.ProfileID, ev.Source, ev.SourceRef, ev.XPDelta, fmtTime(ev.CreatedAt))
	if err != nil {
		return LedgerResult{}, fmt.Errorf("append event: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return LedgerResult{}, fmt.Errorf("append event: rows affected: %w", err)
	}

	var total int64
	var storedLevel int
	err = tx.QueryRowContext(ctx, `
		SELECT xp_total, level FROM xp_state WHERE profile_id = ?
	`, ev.ProfileID).Scan(&total, &storedLevel)
	switch {
	case err == sql.ErrNoRows:
		total = 0
		storedLevel = level(0)
	case err != nil:
		return LedgerResult{}, fmt.Errorf("append event: read state: %w", err)
	}

	if rowsAffected == 0 {
		// Duplicate delivery - the ledger already has this event.
		if err := tx.Commit(); err != nil {
			return LedgerResult{}, fmt.Errorf("append event: commit (duplicate): %w", err)
		}
		return LedgerResult{Accepted: false, XPTotal: total, Level: storedLevel}, nil
	}

	newTotal := total + ev.XPDelta
	if newTotal < 0 {
		return LedgerResult{}, ErrNegativeTotal
	}
	newLevel := level(newTotal)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO xp_state (profile_id, xp_total, level, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			xp_total = excluded.xp_total,
			level = excluded.level,
			updated_at = excluded.updated_at
	`, ev.ProfileID, newTotal, newLevel, fmtTime(ev.CreatedAt))
	if err != nil {
		return LedgerResult{}, fmt.Errorf("append event: update state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LedgerResult{}, fmt.Errorf("append event: commit: %w", err)
	}

	return LedgerResult{Accepted: true, XPTotal: newTotal, Level: newLevel}, nil
}

// UpsertReward writes a catalog row, replacing any existing definition.
// The catalog is config-owned; a sync overwrites what is there.
func (s *Store) UpsertReward(ctx context.Context, r RewardRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rewards (id, type, title, payload, min_level, repeatable, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			payload = excluded.payload,
			min_level = excluded.min_level,
			repeatable = excluded.repeatable,
			active = excluded.active
	`, r.ID, r.Type, r.Title, r.Payload, r.MinLevel, boolInt(r.Repeatable), boolInt(r.Active))
	if err != nil {
		return fmt.Errorf("upsert reward: %w", err)
	}
	return nil
}

// InsertClaim inserts a claim row, enforcing at-most-one non-revoked claim
// per (profile, reward) for exclusive claims via the partial unique index.
// Returns the stored claim and whether a new row was inserted.
//
// Concurrent claims for the same pair race on the index; exactly one insert
// wins. The loser gets the winner's row back with inserted=false.
func (s *Store) InsertClaim(ctx context.Context, c ClaimRecord) (ClaimRecord, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ClaimRecord{}, false, fmt.Errorf("insert claim: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO reward_claims
		(id, profile_id, reward_id, status, exclusive, external_ref, issued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		c.ID,
		c.ProfileID,
		c.RewardID,
		c.Status,
		boolInt(c.Exclusive),
		nullString(c.ExternalRef),
		fmtTime(c.IssuedAt),
		fmtTime(c.UpdatedAt),
	)
	if err != nil {
		return ClaimRecord{}, false, fmt.Errorf("insert claim: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return ClaimRecord{}, false, fmt.Errorf("insert claim: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Conflict - fetch the claim that holds the slot.
		existing, err := scanClaim(tx.QueryRowContext(ctx, claimColumns+`
			FROM reward_claims
			WHERE profile_id = ? AND reward_id = ? AND status != 'revoked'
			ORDER BY issued_at DESC
			LIMIT 1
		`, c.ProfileID, c.RewardID))
		if err != nil {
			return ClaimRecord{}, false, fmt.Errorf("insert claim: select existing: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return ClaimRecord{}, false, fmt.Errorf("insert claim: commit (existing): %w", err)
		}
		return existing, false, nil
	}

	if err := tx.Commit(); err != nil {
		return ClaimRecord{}, false, fmt.Errorf("insert claim: commit: %w", err)
	}
	return c, true, nil
}

// MarkClaimIssued attaches the externally generated reference and moves a
// pending claim to issued. No-op if the claim is not pending.
func (s *Store) MarkClaimIssued(ctx context.Context, claimID, externalRef string, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reward_claims
		SET status = ?, external_ref = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, ClaimStatusIssued, externalRef, fmtTime(updatedAt), claimID, ClaimStatusPending)
	if err != nil {
		return fmt.Errorf("mark claim issued: %w", err)
	}
	return nil
}

// MarkClaimRedeemed flips an issued claim to redeemed, looked up by the
// external reference the checkout collaborator holds.
// Returns false if no issued claim carries that reference.
func (s *Store) MarkClaimRedeemed(ctx context.Context, externalRef string, updatedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reward_claims
		SET status = ?, updated_at = ?
		WHERE external_ref = ? AND status = ?
	`, ClaimStatusRedeemed, fmtTime(updatedAt), externalRef, ClaimStatusIssued)
	if err != nil {
		return false, fmt.Errorf("mark claim redeemed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark claim redeemed: rows affected: %w", err)
	}
	return n > 0, nil
}

// RevokeClaim administratively reverses a claim. Revoked rows fall out of
// the partial unique index, so the profile may claim again.
func (s *Store) RevokeClaim(ctx context.Context, claimID string, updatedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reward_claims
		SET status = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, ClaimStatusRevoked, fmtTime(updatedAt), claimID, ClaimStatusRevoked)
	if err != nil {
		return false, fmt.Errorf("revoke claim: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke claim: rows affected: %w", err)
	}
	return n > 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const claimColumns = `
		SELECT id, profile_id, reward_id, status, exclusive,
			COALESCE(external_ref, ''), issued_at, updated_at`

// GetProfile returns a profile row, or sql.ErrNoRows if absent.
func (s *Store) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var p Profile
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, handle, created_at FROM profiles WHERE id = ?
	`, profileID).Scan(&p.ID, &p.Handle, &createdAt)
	if err != nil {
		return Profile{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// GetXPState returns the derived state for a profile. A profile with no
// ledger activity yet reads as total 0, level 1.
func (s *Store) GetXPState(ctx context.Context, profileID string) (XPState, error) {
	var st XPState
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id, xp_total, level, updated_at
		FROM xp_state WHERE profile_id = ?
	`, profileID).Scan(&st.ProfileID, &st.XPTotal, &st.Level, &updatedAt)
	if err == sql.ErrNoRows {
		return XPState{ProfileID: profileID, XPTotal: 0, Level: 1}, nil
	}
	if err != nil {
		return XPState{}, fmt.Errorf("get xp state: %w", err)
	}
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

// ListEvents returns a profile's ledger rows, newest first. The activity
// feed sorts on (created_at, id) so same-instant rows have a stable order.
func (s *Store) ListEvents(ctx context.Context, profileID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, source, source_ref, xp_delta, created_at
		FROM xp_events
		WHERE profile_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.ProfileID, &ev.Source, &ev.SourceRef, &ev.XPDelta, &createdAt); err != nil {
			return nil, fmt.Errorf("list events: scan: %w", err)
		}
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SumEvents computes a profile's XP total directly from the ledger.
// This is the correctness oracle for xp_state.
func (s *Store) SumEvents(ctx context.Context, profileID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(xp_delta), 0) FROM xp_events WHERE profile_id = ?
	`, profileID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum events: %w", err)
	}
	return total, nil
}

// GetReward returns a catalog row, or sql.ErrNoRows if absent.
func (s *Store) GetReward(ctx context.Context, rewardID string) (RewardRecord, error) {
	var r RewardRecord
	var repeatable, active int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, title, payload, min_level, repeatable, active
		FROM rewards WHERE id = ?
	`, rewardID).Scan(&r.ID, &r.Type, &r.Title, &r.Payload, &r.MinLevel, &repeatable, &active)
	if err != nil {
		return RewardRecord{}, err
	}
	r.Repeatable = repeatable != 0
	r.Active = active != 0
	return r, nil
}

// ListRewards returns the catalog, optionally restricted to active rewards,
// ordered by min_level then id.
func (s *Store) ListRewards(ctx context.Context, activeOnly bool) ([]RewardRecord, error) {
	query := `
		SELECT id, type, title, payload, min_level, repeatable, active
		FROM rewards
	`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY min_level, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []RewardRecord
	for rows.Next() {
		var r RewardRecord
		var repeatable, active int
		if err := rows.Scan(&r.ID, &r.Type, &r.Title, &r.Payload, &r.MinLevel, &repeatable, &active); err != nil {
			return nil, fmt.Errorf("list rewards: scan: %w", err)
		}
		r.Repeatable = repeatable != 0
		r.Active = active != 0
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

// GetClaim returns a claim row by ID, or sql.ErrNoRows if absent.
func (s *Store) GetClaim(ctx context.Context, claimID string) (ClaimRecord, error) {
	return scanClaim(s.db.QueryRowContext(ctx, claimColumns+`
		FROM reward_claims WHERE id = ?
	`, claimID))
}

// ListClaims returns a profile's claims, newest first.
func (s *Store) ListClaims(ctx context.Context, profileID string) ([]ClaimRecord, error) {
	rows, err := s.db.QueryContext(ctx, claimColumns+`
		FROM reward_claims
		WHERE profile_id = ?
		ORDER BY issued_at DESC, id DESC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ListClaimsByStatus returns claims in a given status, oldest first, capped
// at limit. Used by the pending-code retry pass.
func (s *Store) ListClaimsByStatus(ctx context.Context, status string, limit int) ([]ClaimRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, claimColumns+`
		FROM reward_claims
		WHERE status = ?
		ORDER BY issued_at, id
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list claims by status: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

// ListProfileIDs returns every profile that has ledger or state rows.
// Used by full recomputation audits.
func (s *Store) ListProfileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id FROM xp_state
		UNION
		SELECT DISTINCT profile_id FROM xp_events
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list profile ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list profile ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (ClaimRecord, error) {
	var c ClaimRecord
	var exclusive int
	var issuedAt, updatedAt string
	err := row.Scan(&c.ID, &c.ProfileID, &c.RewardID, &c.Status, &exclusive,
		&c.ExternalRef, &issuedAt, &updatedAt)
	if err != nil {
		return ClaimRecord{}, err
	}
	c.Exclusive = exclusive != 0
	c.IssuedAt = parseTime(issuedAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func collectClaims(rows *sql.Rows) ([]ClaimRecord, error) {
	var claims []ClaimRecord
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

package store

import "time"

// Claim status values. A claim is born pending (uniqueness slot taken,
// external code not yet attached), becomes issued once complete, redeemed
// when the checkout collaborator consumes it, and revoked only by
// administrative reversal.
const (
	ClaimStatusPending  = "pending"
	ClaimStatusIssued   = "issued"
	ClaimStatusRedeemed = "redeemed"
	ClaimStatusRevoked  = "revoked"
)

// Profile is a minimal identity row. Authentication happens upstream; the
// ledger only needs a stable ID to hang state off.
type Profile struct {
	ID        string
	Handle    string
	CreatedAt time.Time
}

// EventRecord is one append-only ledger row. (ProfileID, Source, SourceRef)
// is unique; replays of the same underlying action do not double-credit.
type EventRecord struct {
	ID        string
	ProfileID string
	Source    string
	SourceRef string
	XPDelta   int64
	CreatedAt time.Time
}

// XPState is the derived per-profile cache: total and level. It must always
// equal what a recomputation over xp_events produces.
type XPState struct {
	ProfileID string
	XPTotal   int64
	Level     int
	UpdatedAt time.Time
}

// LedgerResult reports the outcome of an AppendEvent call.
// Accepted=false means the event was already in the ledger; the totals are
// the existing ones and nothing was credited.
type LedgerResult struct {
	Accepted bool
	XPTotal  int64
	Level    int
}

// RewardRecord is one catalog row, synced from configuration.
type RewardRecord struct {
	ID         string
	Type       string
	Title      string
	Payload    string // JSON, shape depends on Type
	MinLevel   int
	Repeatable bool
	Active     bool
}

// ClaimRecord is one reward claim row.
type ClaimRecord struct {
	ID          string
	ProfileID   string
	RewardID    string
	Status      string
	Exclusive   bool
	ExternalRef string
	IssuedAt    time.Time
	UpdatedAt   time.Time
}

// fmtTime serializes timestamps for TEXT columns.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is the inverse of fmtTime. Malformed values scan as zero time
// rather than failing the whole read.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

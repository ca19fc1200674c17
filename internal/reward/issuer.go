package reward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moodmnky/dojo/internal/ledger"
	"github.com/moodmnky/dojo/internal/store"
)

// Claim refusal reasons. A refusal is a normal outcome, not an error; the
// profile gets told why and nothing is written (except already_claimed,
// which returns the claim holding the slot).
const (
	ReasonNotFound       = "not_found"
	ReasonInactive       = "inactive"
	ReasonIneligible     = "ineligible"
	ReasonAlreadyClaimed = "already_claimed"
)

// ClaimResult reports a claim attempt. Granted means a new claim row was
// created this call; Claim is populated for grants and for already_claimed.
type ClaimResult struct {
	Granted bool              `json:"granted"`
	Reason  string            `json:"reason,omitempty"`
	Claim   store.ClaimRecord `json:"claim,omitempty"`
	Code    string            `json:"code,omitempty"`
}

// Issuer grants reward claims. The uniqueness slot is taken at insert time
// under the storage constraint; code generation happens after, so a crashed
// or failed generation leaves a pending claim rather than a double grant.
type Issuer struct {
	store  *store.Store
	codes  CodeGenerator
	ids    ledger.IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// NewIssuer creates an issuer. codes defaults to a local PrefixCodeGenerator,
// ids to UUIDv7, now to time.Now.
func NewIssuer(st *store.Store, codes CodeGenerator, ids ledger.IDGenerator, now func() time.Time) *Issuer {
	if codes == nil {
		codes = PrefixCodeGenerator{}
	}
	if ids == nil {
		ids = ledger.UUIDv7Generator{}
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		store:  st,
		codes:  codes,
		ids:    ids,
		now:    now,
		logger: slog.Default(),
	}
}

// SyncCatalog validates reward definitions and writes them to the catalog.
// Any invalid payload fails the whole sync; the catalog is config-owned and
// a partial write would leave it ambiguous.
func (i *Issuer) SyncCatalog(ctx context.Context, defs []store.RewardRecord) error {
	for _, def := range defs {
		if _, err := ParsePayload(def.Type, def.Payload); err != nil {
			return fmt.Errorf("reward %q: %w", def.ID, err)
		}
	}
	for _, def := range defs {
		if err := i.store.UpsertReward(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// List returns catalog rows, optionally only active ones.
func (i *Issuer) List(ctx context.Context, activeOnly bool) ([]store.RewardRecord, error) {
	return i.store.ListRewards(ctx, activeOnly)
}

// Claims returns a profile's claims, newest first.
func (i *Issuer) Claims(ctx context.Context, profileID string) ([]store.ClaimRecord, error) {
	return i.store.ListClaims(ctx, profileID)
}

// Claim attempts to grant a reward to a profile.
//
// Order of checks: catalog lookup, active flag, level gate, then the insert.
// The insert is the only concurrency guard; two racing claims for an
// exclusive reward resolve to one grant and one already_claimed carrying the
// winner's row.
//
// Discount-code claims are inserted pending, then the code generator runs;
// on success the claim moves to issued with the code attached. A generation
// failure is logged and the pending claim is returned for RetryPending to
// finish later. Other reward types are complete at insert and go straight
// to issued.
func (i *Issuer) Claim(ctx context.Context, profileID, rewardID string) (ClaimResult, error) {
	reward, err := i.store.GetReward(ctx, rewardID)
	if errors.Is(err, sql.ErrNoRows) {
		return ClaimResult{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return ClaimResult{}, err
	}
	if !reward.Active {
		return ClaimResult{Reason: ReasonInactive}, nil
	}

	state, err := i.store.GetXPState(ctx, profileID)
	if err != nil {
		return ClaimResult{}, err
	}
	if state.Level < reward.MinLevel {
		return ClaimResult{Reason: ReasonIneligible}, nil
	}

	now := i.now()
	if err := i.store.EnsureProfile(ctx, store.Profile{
		ID: profileID, Handle: profileID, CreatedAt: now,
	}); err != nil {
		return ClaimResult{}, err
	}

	status := store.ClaimStatusIssued
	if reward.Type == TypeDiscountCode {
		status = store.ClaimStatusPending
	}
	claim := store.ClaimRecord{
		ID:        i.ids.Generate(),
		ProfileID: profileID,
		RewardID:  rewardID,
		Status:    status,
		Exclusive: !reward.Repeatable,
		IssuedAt:  now,
		UpdatedAt: now,
	}
	stored, inserted, err := i.store.InsertClaim(ctx, claim)
	if err != nil {
		return ClaimResult{}, err
	}
	if !inserted {
		return ClaimResult{Reason: ReasonAlreadyClaimed, Claim: stored, Code: stored.ExternalRef}, nil
	}

	if reward.Type != TypeDiscountCode {
		i.logger.Info("reward claimed",
			"profile", profileID, "reward", rewardID, "claim", stored.ID)
		return ClaimResult{Granted: true, Claim: stored}, nil
	}

	code, err := i.attachCode(ctx, reward, stored)
	if err != nil {
		// The slot is taken; the code arrives on a later retry pass.
		i.logger.Warn("discount code generation failed, claim left pending",
			"profile", profileID, "reward", rewardID, "claim", stored.ID, "error", err)
		return ClaimResult{Granted: true, Claim: stored}, nil
	}
	stored.Status = store.ClaimStatusIssued
	stored.ExternalRef = code
	i.logger.Info("reward claimed",
		"profile", profileID, "reward", rewardID, "claim", stored.ID, "code", code)
	return ClaimResult{Granted: true, Claim: stored, Code: code}, nil
}

// attachCode generates and attaches the external code for a pending claim.
func (i *Issuer) attachCode(ctx context.Context, reward store.RewardRecord, claim store.ClaimRecord) (string, error) {
	code, err := i.codes.Generate(ctx, reward, claim.ID)
	if err != nil {
		return "", err
	}
	if err := i.store.MarkClaimIssued(ctx, claim.ID, code, i.now()); err != nil {
		return "", err
	}
	return code, nil
}

// RetryPending sweeps pending discount-code claims, oldest first, and tries
// to finish them. Returns how many claims reached issued. Individual
// failures are logged and left for the next sweep.
func (i *Issuer) RetryPending(ctx context.Context, limit int) (int, error) {
	pending, err := i.store.ListClaimsByStatus(ctx, store.ClaimStatusPending, limit)
	if err != nil {
		return 0, err
	}

	issued := 0
	for _, claim := range pending {
		reward, err := i.store.GetReward(ctx, claim.RewardID)
		if err != nil {
			i.logger.Warn("pending claim references missing reward",
				"claim", claim.ID, "reward", claim.RewardID, "error", err)
			continue
		}
		if _, err := i.attachCode(ctx, reward, claim); err != nil {
			i.logger.Warn("retry failed, claim stays pending",
				"claim", claim.ID, "error", err)
			continue
		}
		issued++
	}
	if issued > 0 {
		i.logger.Info("pending claims issued", "count", issued, "scanned", len(pending))
	}
	return issued, nil
}

// MarkRedeemed records that the checkout collaborator consumed a code.
// Returns false when no issued claim carries the code.
func (i *Issuer) MarkRedeemed(ctx context.Context, code string) (bool, error) {
	return i.store.MarkClaimRedeemed(ctx, code, i.now())
}

// Revoke administratively reverses a claim, freeing its uniqueness slot.
func (i *Issuer) Revoke(ctx context.Context, claimID string) (bool, error) {
	return i.store.RevokeClaim(ctx, claimID, i.now())
}

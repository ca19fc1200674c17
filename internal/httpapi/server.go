// Package httpapi exposes the XP ledger and reward claims over HTTP.
//
// Profile identity arrives on a trusted header set by the upstream gateway;
// this service performs no authentication of its own beyond the admin
// bearer token and the order webhook signature.
package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moodmnky/dojo/internal/ledger"
	"github.com/moodmnky/dojo/internal/reward"
	"github.com/moodmnky/dojo/internal/rules"
	"github.com/moodmnky/dojo/internal/store"
)

// maxBodyBytes caps request bodies; ledger payloads are small.
const maxBodyBytes = 1 << 16

// Options configures a Handler.
type Options struct {
	// WebhookSecret verifies order webhook signatures.
	WebhookSecret string

	// AllowUnsigned accepts order webhooks without signatures. Local
	// development only.
	AllowUnsigned bool

	// AdminToken authorizes /v1/admin. Empty disables those routes.
	AdminToken string

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler holds all API handler state.
type Handler struct {
	ledger *ledger.Service
	issuer *reward.Issuer
	store  *store.Store

	webhookSecret string
	allowUnsigned bool
	adminToken    string
	logger        *slog.Logger
	now           func() time.Time
}

// NewHandler creates the API handler.
func NewHandler(ldg *ledger.Service, iss *reward.Issuer, st *store.Store, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		ledger:        ldg,
		issuer:        iss,
		store:         st,
		webhookSecret: opts.WebhookSecret,
		allowUnsigned: opts.AllowUnsigned,
		adminToken:    opts.AdminToken,
		logger:        logger,
		now:           now,
	}
}

// Router mounts all endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestLogger)

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/orders", h.orderWebhook)

		r.Get("/profiles/{id}", h.getProfile)
		r.Get("/profiles/{id}/activity", h.getActivity)
		r.Get("/rewards", h.listRewards)

		r.Group(func(r chi.Router) {
			r.Use(requireProfile)
			r.Post("/events", h.postEvent)
			r.Post("/rewards/{id}/claim", h.claimReward)
			r.Get("/claims", h.listClaims)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminAuth)
			r.Post("/adjust", h.adminAdjust)
			r.Post("/recompute", h.adminRecompute)
			r.Post("/claims/retry", h.adminRetryClaims)
			r.Post("/claims/{id}/revoke", h.adminRevokeClaim)
			r.Post("/redeem", h.adminRedeem)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type eventRequest struct {
	Source    string `json:"source"`
	SourceRef string `json:"source_ref"`
	Score     int    `json:"score,omitempty"`
}

func (h *Handler) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}

	// Purchase XP comes only from the signed order webhook; a client cannot
	// declare its own subtotal.
	if rules.Source(req.Source) == rules.SourcePurchase {
		writeError(w, http.StatusBadRequest, "RESERVED_SOURCE", "purchase events arrive via the order webhook")
		return
	}

	res, err := h.ledger.RecordEvent(r.Context(), profileID(r), rules.Event{
		Source:    rules.Source(req.Source),
		SourceRef: req.SourceRef,
		Score:     req.Score,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type orderWebhookRequest struct {
	OrderID       string `json:"order_id"`
	ProfileID     string `json:"profile_id"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

// orderWebhook records purchase XP from the commerce backend. The body is
// read raw first because the signature covers the exact bytes sent.
func (h *Handler) orderWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "unreadable body")
		return
	}

	if h.webhookSecret != "" {
		if err := VerifySignature(r.Header.Get(SignatureHeader), payload, h.webhookSecret, h.now()); err != nil {
			h.logger.Warn("order webhook rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "BAD_SIGNATURE", err.Error())
			return
		}
	} else if !h.allowUnsigned {
		writeError(w, http.StatusUnauthorized, "BAD_SIGNATURE", "webhook signing not configured")
		return
	}

	var req orderWebhookRequest
	if err := unmarshalStrict(payload, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	if req.OrderID == "" || req.ProfileID == "" {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "order_id and profile_id are required")
		return
	}

	res, err := h.ledger.RecordEvent(r.Context(), req.ProfileID, rules.Event{
		Source:        rules.SourcePurchase,
		SourceRef:     req.OrderID,
		SubtotalCents: req.SubtotalCents,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.State(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type activityEntry struct {
	Source    string    `json:"source"`
	SourceRef string    `json:"source_ref"`
	XPDelta   int64     `json:"xp_delta"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "BAD_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.ledger.Activity(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]activityEntry, 0, len(events))
	for _, ev := range events {
		out = append(out, activityEntry{
			Source:    ev.Source,
			SourceRef: ev.SourceRef,
			XPDelta:   ev.XPDelta,
			CreatedAt: ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type rewardEntry struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	MinLevel   int    `json:"min_level"`
	Repeatable bool   `json:"repeatable"`
	Eligible   *bool  `json:"eligible,omitempty"`
}

// listRewards returns the active catalog. When the caller identifies itself
// through the profile header, each entry carries an eligibility flag for
// that profile's current level.
func (h *Handler) listRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.issuer.List(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	level := 0
	if pid := profileID(r); pid != "" {
		summary, err := h.ledger.State(r.Context(), pid)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
			return
		}
		level = summary.Level
	}

	out := make([]rewardEntry, 0, len(rewards))
	for _, rec := range rewards {
		entry := rewardEntry{
			ID:         rec.ID,
			Type:       rec.Type,
			Title:      rec.Title,
			MinLevel:   rec.MinLevel,
			Repeatable: rec.Repeatable,
		}
		if level > 0 {
			eligible := level >= rec.MinLevel
			entry.Eligible = &eligible
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": out})
}

// claimReward maps refusal reasons onto statuses: unknown reward 404, level
// gate 403, inactive 409. already_claimed returns 200 with the original
// claim so a retrying client gets its code back.
func (h *Handler) claimReward(w http.ResponseWriter, r *http.Request) {
	res, err := h.issuer.Claim(r.Context(), profileID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	switch res.Reason {
	case reward.ReasonNotFound:
		writeError(w, http.StatusNotFound, "REWARD_NOT_FOUND", "no such reward")
	case reward.ReasonInactive:
		writeError(w, http.StatusConflict, "REWARD_INACTIVE", "reward is not active")
	case reward.ReasonIneligible:
		writeError(w, http.StatusForbidden, "LEVEL_TOO_LOW", "profile level below reward minimum")
	case reward.ReasonAlreadyClaimed:
		writeJSON(w, http.StatusOK, claimResponse(res))
	default:
		writeJSON(w, http.StatusCreated, claimResponse(res))
	}
}

type claimEntry struct {
	ID       string    `json:"id"`
	RewardID string    `json:"reward_id"`
	Status   string    `json:"status"`
	Code     string    `json:"code,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

func claimResponse(res reward.ClaimResult) map[string]any {
	return map[string]any{
		"granted": res.Granted,
		"claim": claimEntry{
			ID:       res.Claim.ID,
			RewardID: res.Claim.RewardID,
			Status:   res.Claim.Status,
			Code:     res.Code,
			IssuedAt: res.Claim.IssuedAt,
		},
	}
}

func (h *Handler) listClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.issuer.Claims(r.Context(), profileID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	out := make([]claimEntry, 0, len(claims))
	for _, c := range claims {
		out = append(out, claimEntry{
			ID:       c.ID,
			RewardID: c.RewardID,
			Status:   c.Status,
			Code:     c.ExternalRef,
			IssuedAt: c.IssuedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": out})
}

type adjustRequest struct {
	ProfileID string `json:"profile_id"`
	Delta     int64  `json:"delta"`
	Ref       string `json:"ref,omitempty"`
}

func (h *Handler) adminAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	res, err := h.ledger.Adjust(r.Context(), req.ProfileID, req.Delta, req.Ref)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type recomputeRequest struct {
	ProfileID string `json:"profile_id,omitempty"`
	Repair    bool   `json:"repair,omitempty"`
}

func (h *Handler) adminRecompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}

	level := h.ledger.Rules().Level
	var results []store.RecomputeResult
	var err error
	if req.ProfileID != "" {
		var res store.RecomputeResult
		res, err = h.store.RecomputeProfile(r.Context(), req.ProfileID, level, req.Repair, h.now())
		results = []store.RecomputeResult{res}
	} else {
		results, err = h.store.RecomputeAll(r.Context(), level, req.Repair, h.now())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	out := make([]recomputeEntry, 0, len(results))
	drifted := 0
	for _, res := range results {
		if res.Drifted {
			drifted++
		}
		out = append(out, recomputeEntry{
			ProfileID:     res.ProfileID,
			StoredTotal:   res.StoredTotal,
			LedgerTotal:   res.LedgerTotal,
			StoredLevel:   res.StoredLevel,
			ExpectedLevel: res.ExpectedLevel,
			Drifted:       res.Drifted,
			Repaired:      res.Repaired,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checked": len(results),
		"drifted": drifted,
		"results": out,
	})
}

type recomputeEntry struct {
	ProfileID     string `json:"profile_id"`
	StoredTotal   int64  `json:"stored_total"`
	LedgerTotal   int64  `json:"ledger_total"`
	StoredLevel   int    `json:"stored_level"`
	ExpectedLevel int    `json:"expected_level"`
	Drifted       bool   `json:"drifted"`
	Repaired      bool   `json:"repaired"`
}

func (h *Handler) adminRetryClaims(w http.ResponseWriter, r *http.Request) {
	issued, err := h.issuer.RetryPending(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"issued": issued})
}

func (h *Handler) adminRevokeClaim(w http.ResponseWriter, r *http.Request) {
	ok, err := h.issuer.Revoke(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "CLAIM_NOT_FOUND", "no revocable claim with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (h *Handler) adminRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	ok, err := h.issuer.MarkRedeemed(r.Context(), req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "CODE_NOT_FOUND", "no issued claim carries that code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"redeemed": true})
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moodmnky/dojo/internal/ledger"
	"github.com/moodmnky/dojo/internal/reward"
	"github.com/moodmnky/dojo/internal/rules"
	"github.com/moodmnky/dojo/internal/store"
)

const (
	testSecret = "whsec_test"
	testAdmin  = "tok_admin"
)

var testTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type testAPI struct {
	handler *Handler
	router  http.Handler
	store   *store.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ldg := ledger.New(st, rules.Defaults(), nil, func() time.Time { return testTime })
	iss := reward.NewIssuer(st, nil, nil, func() time.Time { return testTime })
	require.NoError(t, iss.SyncCatalog(context.Background(), []store.RewardRecord{
		{ID: "disc-15", Type: reward.TypeDiscountCode, Title: "15% off",
			Payload: `{"percent_off": 15}`, MinLevel: 3, Active: true},
		{ID: "sticker", Type: reward.TypePhysicalItem, Title: "Sticker pack",
			Payload: `{"sku": "STK-001"}`, MinLevel: 1, Repeatable: true, Active: true},
	}))

	h := NewHandler(ldg, iss, st, Options{
		WebhookSecret: testSecret,
		AdminToken:    testAdmin,
		Now:           func() time.Time { return testTime },
	})
	return &testAPI{handler: h, router: h.Router(), store: st}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func asProfile(id string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(ProfileHeader, id) }
}

func asAdmin(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+testAdmin)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func (a *testAPI) grantXP(t *testing.T, profile string, xp int64) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/admin/adjust",
		adjustRequest{ProfileID: profile, Delta: xp, Ref: fmt.Sprintf("seed-%d", xp)}, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPostEvent(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/events",
		eventRequest{Source: "manga_read", SourceRef: "ch-1"}, asProfile("p1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ledger.Result
	decode(t, rec, &res)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(50), res.XPTotal)
	assert.Equal(t, "white", res.Tier)

	// Replay reports duplicate without crediting.
	rec = api.do(t, http.MethodPost, "/v1/events",
		eventRequest{Source: "manga_read", SourceRef: "ch-1"}, asProfile("p1"))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.False(t, res.Accepted)
	assert.Equal(t, ledger.ReasonDuplicate, res.Reason)
}

func TestPostEvent_RequiresProfileHeader(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/events",
		eventRequest{Source: "manga_read", SourceRef: "ch-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostEvent_BadInput(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/events",
		eventRequest{Source: "karaoke", SourceRef: "x"}, asProfile("p1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "UNKNOWN_SOURCE", body.Error.Code)

	// admin_adjust is not reachable through the public event path.
	rec = api.do(t, http.MethodPost, "/v1/events",
		eventRequest{Source: "admin_adjust", SourceRef: "x"}, asProfile("p1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Neither is purchase; the signed webhook is the only subtotal source.
	rec = api.do(t, http.MethodPost, "/v1/events",
		eventRequest{Source: "purchase", SourceRef: "order-1"}, asProfile("p1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "RESERVED_SOURCE", body.Error.Code)
}

func signedOrder(t *testing.T, body orderWebhookRequest, secret string, ts time.Time) (payload []byte, header string) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return payload, SignPayload(payload, secret, ts.Unix())
}

func TestOrderWebhook(t *testing.T) {
	api := newTestAPI(t)
	payload, header := signedOrder(t, orderWebhookRequest{
		OrderID: "order-1001", ProfileID: "p1", SubtotalCents: 8000,
	}, testSecret, testTime)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/orders", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, header)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ledger.Result
	decode(t, rec, &res)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(150), res.XPDelta)

	// The commerce backend retries; the same delivery stays credited once.
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/orders", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, header)
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.False(t, res.Accepted)
}

func TestOrderWebhook_SignatureChecks(t *testing.T) {
	api := newTestAPI(t)
	body := orderWebhookRequest{OrderID: "order-1", ProfileID: "p1", SubtotalCents: 1000}

	t.Run("missing header", func(t *testing.T) {
		payload, _ := signedOrder(t, body, testSecret, testTime)
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/orders", bytes.NewReader(payload))
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload, header := signedOrder(t, body, "whsec_other", testTime)
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/orders", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, header)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		payload, header := signedOrder(t, body, testSecret, testTime.Add(-time.Hour))
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/orders", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, header)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		_, header := signedOrder(t, body, testSecret, testTime)
		tampered := orderWebhookRequest{OrderID: "order-1", ProfileID: "p1", SubtotalCents: 999900}
		payload, err := json.Marshal(tampered)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/orders", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, header)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetProfileAndActivity(t *testing.T) {
	api := newTestAPI(t)
	api.grantXP(t, "p1", 260)

	rec := api.do(t, http.MethodGet, "/v1/profiles/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary ledger.Summary
	decode(t, rec, &summary)
	assert.Equal(t, int64(260), summary.XPTotal)
	assert.Equal(t, 3, summary.Level)
	assert.Equal(t, "orange", summary.Tier)

	rec = api.do(t, http.MethodGet, "/v1/profiles/p1/activity?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var activity struct {
		Events []activityEntry `json:"events"`
	}
	decode(t, rec, &activity)
	require.Len(t, activity.Events, 1)
	assert.Equal(t, "admin_adjust", activity.Events[0].Source)

	rec = api.do(t, http.MethodGet, "/v1/profiles/p1/activity?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRewards(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/v1/rewards", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Rewards []rewardEntry `json:"rewards"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Rewards, 2)
	for _, r := range body.Rewards {
		assert.Nil(t, r.Eligible, "anonymous listing carries no eligibility")
	}

	// An identified level-1 profile is eligible for the sticker but not
	// the level-gated discount.
	rec = api.do(t, http.MethodGet, "/v1/rewards", nil, asProfile("p1"))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &body)
	for _, r := range body.Rewards {
		require.NotNil(t, r.Eligible, "reward %s", r.ID)
		assert.Equal(t, r.MinLevel <= 1, *r.Eligible, "reward %s", r.ID)
	}
}

func TestClaimReward(t *testing.T) {
	api := newTestAPI(t)
	api.grantXP(t, "p1", 300) // level 4

	rec := api.do(t, http.MethodPost, "/v1/rewards/disc-15/claim", nil, asProfile("p1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res struct {
		Granted bool       `json:"granted"`
		Claim   claimEntry `json:"claim"`
	}
	decode(t, rec, &res)
	assert.True(t, res.Granted)
	assert.Equal(t, store.ClaimStatusIssued, res.Claim.Status)
	assert.NotEmpty(t, res.Claim.Code)
	firstCode := res.Claim.Code

	// Claiming again returns the original claim and code, 200 not 201.
	rec = api.do(t, http.MethodPost, "/v1/rewards/disc-15/claim", nil, asProfile("p1"))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.False(t, res.Granted)
	assert.Equal(t, firstCode, res.Claim.Code)

	rec = api.do(t, http.MethodGet, "/v1/claims", nil, asProfile("p1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var claims struct {
		Claims []claimEntry `json:"claims"`
	}
	decode(t, rec, &claims)
	assert.Len(t, claims.Claims, 1)
}

func TestClaimReward_Refusals(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/rewards/ghost/claim", nil, asProfile("p1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Level 1 profile cannot take a min-level-3 reward.
	rec = api.do(t, http.MethodPost, "/v1/rewards/disc-15/claim", nil, asProfile("p1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/admin/adjust",
		adjustRequest{ProfileID: "p1", Delta: 10})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/admin/adjust",
		adjustRequest{ProfileID: "p1", Delta: 10},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer wrong") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuth_DisabledWithoutToken(t *testing.T) {
	api := newTestAPI(t)
	api.handler.adminToken = ""

	rec := api.do(t, http.MethodPost, "/v1/admin/adjust",
		adjustRequest{ProfileID: "p1", Delta: 10}, asAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRecompute(t *testing.T) {
	api := newTestAPI(t)
	api.grantXP(t, "p1", 120)

	// Tamper, then audit without repair.
	_, err := api.store.DB().Exec(`UPDATE xp_state SET xp_total = 999 WHERE profile_id = 'p1'`)
	require.NoError(t, err)

	rec := api.do(t, http.MethodPost, "/v1/admin/recompute", recomputeRequest{}, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var audit struct {
		Checked int              `json:"checked"`
		Drifted int              `json:"drifted"`
		Results []recomputeEntry `json:"results"`
	}
	decode(t, rec, &audit)
	assert.Equal(t, 1, audit.Checked)
	assert.Equal(t, 1, audit.Drifted)

	rec = api.do(t, http.MethodPost, "/v1/admin/recompute",
		recomputeRequest{ProfileID: "p1", Repair: true}, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &audit)
	require.Len(t, audit.Results, 1)
	assert.True(t, audit.Results[0].Repaired)

	rec = api.do(t, http.MethodGet, "/v1/profiles/p1", nil)
	var summary ledger.Summary
	decode(t, rec, &summary)
	assert.Equal(t, int64(120), summary.XPTotal)
}

func TestAdminRevokeAndRedeem(t *testing.T) {
	api := newTestAPI(t)
	api.grantXP(t, "p1", 300)

	rec := api.do(t, http.MethodPost, "/v1/rewards/disc-15/claim", nil, asProfile("p1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var res struct {
		Claim claimEntry `json:"claim"`
	}
	decode(t, rec, &res)

	rec = api.do(t, http.MethodPost, "/v1/admin/redeem",
		redeemRequest{Code: res.Claim.Code}, asAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/admin/redeem",
		redeemRequest{Code: res.Claim.Code}, asAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code, "double redeem finds nothing issued")

	rec = api.do(t, http.MethodPost, "/v1/admin/claims/"+res.Claim.ID+"/revoke", nil, asAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The slot is free again.
	rec = api.do(t, http.MethodPost, "/v1/rewards/disc-15/claim", nil, asProfile("p1"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

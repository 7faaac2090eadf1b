package webhooks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
	"github.com/tuckshop-za/tuckshop/internal/auth"
	"github.com/tuckshop-za/tuckshop/internal/tenant"
)

const (
	platformSecret    = "whsec_cGxhdGZvcm0tc2lnbmluZy1zZWNyZXQtMDEyMzQ1"
	testSessionSecret = "session-secret"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

const succeededBody = `{"id":"evt_001","type":"payment.succeeded","payload":{"id":"p_123","amount":15900,"currency":"zar",` +
	`"metadata":{"checkoutId":"ch_abc","token":"tok-1","storeId":"store_1","upgradeTo":"pro","upgradeFrom":"trial","referralCode":"LERA0001"}}}`

const orderPaidBody = `{"id":"evt_ord","type":"payment.succeeded","payload":{"id":"p_456","amount":25000,"currency":"zar",` +
	`"metadata":{"checkoutId":"ch_ord","orderNumber":"TS-1001"}}}`

func signedHeader(secret, id string, ts time.Time, body []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderWebhookID, id)
	h.Set(HeaderWebhookTimestamp, strconv.FormatInt(ts.Unix(), 10))
	h.Set(HeaderWebhookSignature, Sign(secret, id, ts.Unix(), body))
	return h
}

// ---------------------------------------------------------------------------
// Standard scheme
// ---------------------------------------------------------------------------

func TestStandardScheme_VerifyAndParse(t *testing.T) {
	s := NewStandardScheme("yoco")
	body := []byte(succeededBody)
	h := signedHeader(platformSecret, "msg_1", now, body)

	require.NoError(t, s.Verify(h, body, platformSecret, now))

	ev, err := s.Parse(h, body)
	require.NoError(t, err)
	ps, ok := ev.(*PaymentSucceeded)
	require.True(t, ok, "expected PaymentSucceeded, got %T", ev)
	assert.Equal(t, KindPaymentSucceeded, ps.Kind())
	assert.Equal(t, "evt_001", ps.ID)
	assert.Equal(t, "yoco", ps.Provider)
	assert.Equal(t, "ch_abc", ps.Reference)
	assert.Equal(t, "tok-1", ps.Token)
	assert.Equal(t, "store_1", ps.StoreID)
	assert.Equal(t, tenant.PlanPro, ps.Plan)
	assert.Equal(t, tenant.PlanTrial, ps.PreviousPlan)
	assert.Equal(t, int64(15900), ps.AmountCents)
	assert.Equal(t, "ZAR", ps.Currency)
	assert.Equal(t, "LERA0001", ps.ReferralCode)
}

func TestStandardScheme_RejectsTampering(t *testing.T) {
	s := NewStandardScheme("yoco")
	body := []byte(succeededBody)
	h := signedHeader(platformSecret, "msg_1", now, body)

	tampered := []byte(strings.Replace(succeededBody, "15900", "100", 1))
	assert.ErrorIs(t, s.Verify(h, tampered, platformSecret, now), ErrInvalidSignature)

	// Re-serialized JSON is a different byte sequence.
	var v map[string]any
	require.NoError(t, json.Unmarshal(body, &v))
	reencoded, _ := json.Marshal(v)
	assert.ErrorIs(t, s.Verify(h, reencoded, platformSecret, now), ErrInvalidSignature)

	assert.ErrorIs(t, s.Verify(h, body, "whsec_b3RoZXItc2VjcmV0LXZhbHVlLTAxMjM0NTY3", now), ErrInvalidSignature)

	h.Set(HeaderWebhookID, "msg_2")
	assert.ErrorIs(t, s.Verify(h, body, platformSecret, now), ErrInvalidSignature)
}

func TestStandardScheme_Timestamp(t *testing.T) {
	s := NewStandardScheme("yoco")
	body := []byte(succeededBody)

	old := signedHeader(platformSecret, "msg_1", now.Add(-6*time.Minute), body)
	assert.ErrorIs(t, s.Verify(old, body, platformSecret, now), ErrInvalidSignature)

	future := signedHeader(platformSecret, "msg_1", now.Add(6*time.Minute), body)
	assert.ErrorIs(t, s.Verify(future, body, platformSecret, now), ErrInvalidSignature)

	recent := signedHeader(platformSecret, "msg_1", now.Add(-4*time.Minute), body)
	assert.NoError(t, s.Verify(recent, body, platformSecret, now))

	missing := http.Header{}
	assert.ErrorIs(t, s.Verify(missing, body, platformSecret, now), ErrInvalidSignature)
}

func TestStandardScheme_MultipleSignatures(t *testing.T) {
	s := NewStandardScheme("yoco")
	body := []byte(succeededBody)
	h := signedHeader(platformSecret, "msg_1", now, body)
	h.Set(HeaderWebhookSignature, "v1,bm90LWEtc2lnbmF0dXJl "+h.Get(HeaderWebhookSignature))

	assert.NoError(t, s.Verify(h, body, platformSecret, now))
}

func TestSecretKey(t *testing.T) {
	key := []byte("0123456789abcdef")
	assert.Equal(t, key, SecretKey("whsec_"+base64.StdEncoding.EncodeToString(key)))
	assert.Equal(t, []byte("not base64!"), SecretKey("not base64!"))
}

func TestStandardScheme_ParseVariants(t *testing.T) {
	s := NewStandardScheme("yoco")

	tests := []struct {
		body string
		kind Kind
	}{
		{`{"id":"e1","type":"payment.failed","payload":{"id":"p1","failureReason":"card declined","metadata":{"checkoutId":"ch_1","token":"t1"}}}`, KindPaymentFailed},
		{`{"id":"e2","type":"subscription.created","payload":{"id":"sub_1","metadata":{"storeId":"store_1"}}}`, KindSubscriptionCreated},
		{`{"id":"e3","type":"subscription.cancelled","payload":{"id":"sub_1","metadata":{"storeId":"store_1"}}}`, KindSubscriptionCancelled},
		{`{"id":"e4","type":"refund.succeeded","payload":{"id":"r1"}}`, KindUnknown},
	}
	for _, tt := range tests {
		ev, err := s.Parse(http.Header{}, []byte(tt.body))
		require.NoError(t, err)
		assert.Equal(t, tt.kind, ev.Kind(), tt.body)
	}

	ev, _ := s.Parse(http.Header{}, []byte(tests[0].body))
	pf := ev.(*PaymentFailed)
	assert.Equal(t, "ch_1", pf.Reference)
	assert.Equal(t, "card declined", pf.Reason)

	ev, _ = s.Parse(http.Header{}, []byte(tests[2].body))
	sc := ev.(*SubscriptionCancelled)
	assert.Equal(t, "sub_1", sc.SubscriptionID)
	assert.Equal(t, "store_1", sc.StoreID)

	_, err := s.Parse(http.Header{}, []byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = s.Parse(http.Header{}, []byte(`{"type":"payment.succeeded"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

// ---------------------------------------------------------------------------
// Stripe scheme
// ---------------------------------------------------------------------------

const stripeSecret = "whsec_stripe_test_secret"

func stripeSigned(t *testing.T, body string) (http.Header, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set(StripeSignatureHeader, signed.Header)
	return h, signed.Payload
}

func TestStripeScheme_CheckoutCompleted(t *testing.T) {
	body := `{"id":"evt_s1","object":"event","type":"checkout.session.completed","data":{"object":{` +
		`"id":"cs_test_1","object":"checkout.session","payment_status":"paid","amount_total":29900,"currency":"zar",` +
		`"client_reference_id":"tok-9","metadata":{"storeId":"store_2","upgradeTo":"premium","upgradeFrom":"pro"}}}}`
	h, payload := stripeSigned(t, body)

	var s StripeScheme
	require.NoError(t, s.Verify(h, payload, stripeSecret, time.Now()))

	ev, err := s.Parse(h, payload)
	require.NoError(t, err)
	ps, ok := ev.(*PaymentSucceeded)
	require.True(t, ok, "expected PaymentSucceeded, got %T", ev)
	assert.Equal(t, "evt_s1", ps.ID)
	assert.Equal(t, "cs_test_1", ps.Reference)
	assert.Equal(t, "tok-9", ps.Token)
	assert.Equal(t, "store_2", ps.StoreID)
	assert.Equal(t, tenant.PlanPremium, ps.Plan)
	assert.Equal(t, int64(29900), ps.AmountCents)
	assert.Equal(t, "ZAR", ps.Currency)
}

func TestStripeScheme_UnpaidSessionIgnored(t *testing.T) {
	body := `{"id":"evt_s2","object":"event","type":"checkout.session.completed","data":{"object":{` +
		`"id":"cs_test_2","object":"checkout.session","payment_status":"unpaid"}}}`
	var s StripeScheme
	ev, err := s.Parse(nil, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, ev.Kind())
}

func TestStripeScheme_SubscriptionAndFailure(t *testing.T) {
	var s StripeScheme

	ev, err := s.Parse(nil, []byte(`{"id":"evt_s3","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_9","object":"subscription","metadata":{"storeId":"store_3"}}}}`))
	require.NoError(t, err)
	sc, ok := ev.(*SubscriptionCancelled)
	require.True(t, ok)
	assert.Equal(t, "sub_9", sc.SubscriptionID)
	assert.Equal(t, "store_3", sc.StoreID)

	ev, err = s.Parse(nil, []byte(`{"id":"evt_s4","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"token":"tok-3"},"last_payment_error":{"message":"Your card was declined."}}}}`))
	require.NoError(t, err)
	pf, ok := ev.(*PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "tok-3", pf.Token)
	assert.Equal(t, "Your card was declined.", pf.Reason)
}

func TestStripeScheme_BadSignature(t *testing.T) {
	h, payload := stripeSigned(t, `{"id":"evt_s5","object":"event","type":"ping","data":{"object":{}}}`)
	var s StripeScheme
	assert.ErrorIs(t, s.Verify(h, payload, "whsec_other", time.Now()), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify(http.Header{}, payload, stripeSecret, time.Now()), ErrInvalidSignature)
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

func newTestVerifier(secret string, store SecretStore) *Verifier {
	v := NewVerifier(NewStandardScheme("yoco"), secret, store)
	v.now = func() time.Time { return now }
	return v
}

func TestVerifier_PlatformNotConfigured(t *testing.T) {
	v := newTestVerifier("", NewMemoryStore())
	body := []byte(succeededBody)
	_, err := v.VerifyPlatform(signedHeader(platformSecret, "msg_1", now, body), body)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifier_StoreSecrets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	v := newTestVerifier(platformSecret, store)
	body := []byte(orderPaidBody)

	_, err := v.VerifyStore(ctx, "store_1", signedHeader("whsec_c3RvcmUtb25lLXNlY3JldC0wMDAwMDAwMDAw", "msg_1", now, body), body)
	assert.ErrorIs(t, err, ErrNotConfigured, "no secrets registered")

	require.NoError(t, store.CreateSecret(ctx, &Secret{ID: "whs_old", StoreID: "store_1", Provider: "yoco", Secret: "whsec_b2xkLXNlY3JldC0wMDAwMDAwMDAwMDAwMDAw", Active: true, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateSecret(ctx, &Secret{ID: "whs_new", StoreID: "store_1", Provider: "yoco", Secret: "whsec_c3RvcmUtb25lLXNlY3JldC0wMDAwMDAwMDAw", Active: true, CreatedAt: now}))
	require.NoError(t, store.CreateSecret(ctx, &Secret{ID: "whs_other", StoreID: "store_2", Provider: "yoco", Secret: "whsec_c3RvcmUtdHdvLXNlY3JldC0wMDAwMDAwMDAw", Active: true, CreatedAt: now}))

	ev, err := v.VerifyStore(ctx, "store_1", signedHeader("whsec_b2xkLXNlY3JldC0wMDAwMDAwMDAwMDAwMDAw", "msg_1", now, body), body)
	require.NoError(t, err, "older secret still valid")
	assert.Equal(t, "store_1", ev.Meta().StoreScope)
	assert.Equal(t, now, ev.Meta().ReceivedAt)

	// Another store's secret does not verify.
	_, err = v.VerifyStore(ctx, "store_1", signedHeader("whsec_c3RvcmUtdHdvLXNlY3JldC0wMDAwMDAwMDAw", "msg_1", now, body), body)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// The platform secret does not verify a store flow.
	_, err = v.VerifyStore(ctx, "store_1", signedHeader(platformSecret, "msg_1", now, body), body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifier_StoreSecretOnlyVouchesForOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	v := newTestVerifier(platformSecret, store)
	const secret = "whsec_c3RvcmUtb25lLXNlY3JldC0wMDAwMDAwMDAw"
	require.NoError(t, store.CreateSecret(ctx, &Secret{ID: "whs_1", StoreID: "store_1", Provider: "yoco", Secret: secret, Active: true, CreatedAt: now}))

	tests := []struct {
		name string
		body string
	}{
		{"plan checkout paid", succeededBody},
		{"plan checkout failed", `{"id":"evt_f","type":"payment.failed","payload":{"id":"p_1","metadata":{"checkoutId":"ch_abc","storeId":"store_2"}}}`},
		{"subscription cancelled", `{"id":"evt_c","type":"subscription.cancelled","payload":{"id":"sub_1","metadata":{"storeId":"store_2"}}}`},
		{"subscription created", `{"id":"evt_s","type":"subscription.created","payload":{"id":"sub_1","metadata":{"storeId":"store_2"}}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := []byte(tc.body)
			_, err := v.VerifyStore(ctx, "store_1", signedHeader(secret, "msg_1", now, body), body)
			assert.ErrorIs(t, err, ErrOutOfScope)
		})
	}

	// The platform route still accepts the same plan events.
	body := []byte(succeededBody)
	_, err := v.VerifyPlatform(signedHeader(platformSecret, "msg_1", now, body), body)
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

type fakeProcessor struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type inboundEnv struct {
	router    *gin.Engine
	store     *MemoryStore
	processor *fakeProcessor
	sessions  *auth.Verifier
}

func setupInbound(t *testing.T) *inboundEnv {
	t.Helper()
	store := NewMemoryStore()
	proc := &fakeProcessor{}
	sessions := auth.NewVerifier(testSessionSecret)
	h := NewHandler(newTestVerifier(platformSecret, store), store, proc, nil)

	r := gin.New()
	r.Use(auth.Middleware(sessions))
	h.RegisterInboundRoutes(r)
	v1 := r.Group("/v1")
	h.RegisterProtectedRoutes(v1)
	return &inboundEnv{router: r, store: store, processor: proc, sessions: sessions}
}

func (e *inboundEnv) deliver(path string, header http.Header, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHandler_AcceptsSignedEvent(t *testing.T) {
	env := setupInbound(t)
	body := []byte(succeededBody)

	w := env.deliver("/webhooks/gateway", signedHeader(platformSecret, "msg_1", now, body), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	require.Equal(t, 1, env.processor.count())

	receipts, err := env.store.ListReceipts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "evt_001", receipts[0].EventID)
	assert.NotNil(t, receipts[0].ProcessedAt)
	assert.Equal(t, 1, receipts[0].Deliveries)
}

func TestHandler_RedeliveryStillProcessed(t *testing.T) {
	env := setupInbound(t)
	body := []byte(succeededBody)
	h := signedHeader(platformSecret, "msg_1", now, body)

	require.Equal(t, http.StatusOK, env.deliver("/webhooks/gateway", h, body).Code)
	require.Equal(t, http.StatusOK, env.deliver("/webhooks/gateway", h, body).Code)

	// The processor owns idempotency; the receipt only counts.
	assert.Equal(t, 2, env.processor.count())
	receipts, _ := env.store.ListReceipts(context.Background(), 10)
	require.Len(t, receipts, 1)
	assert.Equal(t, 2, receipts[0].Deliveries)
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	env := setupInbound(t)
	body := []byte(succeededBody)
	h := signedHeader("whsec_d3Jvbmctc2VjcmV0LTAwMDAwMDAwMDAwMA==", "msg_1", now, body)

	w := env.deliver("/webhooks/gateway", h, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, env.processor.count())
	receipts, _ := env.store.ListReceipts(context.Background(), 10)
	assert.Empty(t, receipts)
}

func TestHandler_Busy(t *testing.T) {
	env := setupInbound(t)
	env.processor.err = ErrBusy
	body := []byte(succeededBody)

	w := env.deliver("/webhooks/gateway", signedHeader(platformSecret, "msg_1", now, body), body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestHandler_ProcessingFailure(t *testing.T) {
	env := setupInbound(t)
	env.processor.err = errors.New("database unavailable")
	body := []byte(succeededBody)

	w := env.deliver("/webhooks/gateway", signedHeader(platformSecret, "msg_1", now, body), body)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	receipts, _ := env.store.ListReceipts(context.Background(), 10)
	require.Len(t, receipts, 1)
	assert.Nil(t, receipts[0].ProcessedAt)
	assert.Equal(t, "database unavailable", receipts[0].ProcessingError)
}

func TestHandler_UnknownAcknowledged(t *testing.T) {
	env := setupInbound(t)
	body := []byte(`{"id":"evt_x","type":"refund.succeeded","payload":{"id":"r1"}}`)

	w := env.deliver("/webhooks/gateway", signedHeader(platformSecret, "msg_x", now, body), body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.processor.count())
}

func TestHandler_TooLarge(t *testing.T) {
	env := setupInbound(t)
	body := []byte(`{"id":"big","pad":"` + strings.Repeat("x", 300<<10) + `"}`)
	w := env.deliver("/webhooks/gateway", signedHeader(platformSecret, "msg_1", now, body), body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHandler_StoreFlowWithRegisteredSecret(t *testing.T) {
	env := setupInbound(t)
	token, err := env.sessions.Issue("user_1", "store_1", time.Hour)
	require.NoError(t, err)

	// Unregistered store: configuration error, gateway retries.
	body := []byte(orderPaidBody)
	w := env.deliver("/webhooks/gateway/store_1", signedHeader(platformSecret, "msg_1", now, body), body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Register a generated secret.
	req := httptest.NewRequest(http.MethodPost, "/v1/stores/store_1/webhooks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Secret  string         `json:"secret"`
		Webhook map[string]any `json:"webhook"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.Secret, "whsec_"))
	assert.NotContains(t, created.Webhook, "secret")

	w = env.deliver("/webhooks/gateway/store_1", signedHeader(created.Secret, "msg_2", now, body), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 1, env.processor.count())
	assert.Equal(t, "store_1", env.processor.events[0].Meta().StoreScope)
}

func TestHandler_StoreSecretCannotDrivePlanEvents(t *testing.T) {
	env := setupInbound(t)
	ctx := context.Background()
	const secret = "whsec_c3RvcmUtb25lLXNlY3JldC0wMDAwMDAwMDAw"
	require.NoError(t, env.store.CreateSecret(ctx, &Secret{ID: "whs_1", StoreID: "store_1", Provider: "yoco", Secret: secret, Active: true, CreatedAt: now}))

	// A store owner signs an upgrade for their own store and a cancellation
	// for another store with the secret they were issued.
	for i, raw := range []string{
		succeededBody,
		`{"id":"evt_c","type":"subscription.cancelled","payload":{"id":"sub_9","metadata":{"storeId":"store_2"}}}`,
	} {
		body := []byte(raw)
		w := env.deliver("/webhooks/gateway/store_1", signedHeader(secret, "msg_"+strconv.Itoa(i), now, body), body)
		assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "out_of_scope")
	}
	assert.Equal(t, 0, env.processor.count())
}

func TestHandler_ProcessorScopeRejection(t *testing.T) {
	env := setupInbound(t)
	ctx := context.Background()
	const secret = "whsec_c3RvcmUtb25lLXNlY3JldC0wMDAwMDAwMDAw"
	require.NoError(t, env.store.CreateSecret(ctx, &Secret{ID: "whs_1", StoreID: "store_1", Provider: "yoco", Secret: secret, Active: true, CreatedAt: now}))
	// The order belongs to another store.
	env.processor.err = fmt.Errorf("order TS-1001: %w", ErrOutOfScope)

	body := []byte(orderPaidBody)
	w := env.deliver("/webhooks/gateway/store_1", signedHeader(secret, "msg_1", now, body), body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, env.processor.count())

	receipts, _ := env.store.ListReceipts(ctx, 10)
	require.Len(t, receipts, 1)
	assert.Nil(t, receipts[0].ProcessedAt)
}

func TestHandler_SecretManagementOwnership(t *testing.T) {
	env := setupInbound(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateSecret(ctx, &Secret{ID: "whs_1", StoreID: "store_1", Provider: "yoco", Secret: "whsec_x", Active: true, CreatedAt: now}))

	other, _ := env.sessions.Issue("user_2", "store_2", time.Hour)
	owner, _ := env.sessions.Issue("user_1", "store_1", time.Hour)

	do := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/v1/stores/store_1/webhooks", "").Code)
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/v1/stores/store_1/webhooks", other).Code)

	w := do(http.MethodGet, "/v1/stores/store_1/webhooks", owner)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "whs_1")
	assert.NotContains(t, w.Body.String(), "whsec_x")

	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/v1/stores/store_1/webhooks/whs_missing", owner).Code)
	assert.Equal(t, http.StatusOK, do(http.MethodDelete, "/v1/stores/store_1/webhooks/whs_1", owner).Code)
	_, err := env.store.GetSecret(ctx, "whs_1")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kix/internal/esewa"
	"kix/internal/refcode"
	"kix/internal/store"
)

type stubOrders struct {
	order         *store.Order
	esewaRefUUID  string
	esewaRefCode  string
	markedPaid    bool
	statusUpdates []string
}

func (s *stubOrders) GetByID(_ context.Context, id int64) (*store.Order, error) {
	if s.order == nil || s.order.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *s.order
	return &cp, nil
}

func (s *stubOrders) SetEsewaRef(_ context.Context, _ int64, transactionUUID, productCode string) error {
	s.esewaRefUUID = transactionUUID
	s.esewaRefCode = productCode
	s.order.EsewaTransactionUUID = &transactionUUID
	s.order.EsewaProductCode = &productCode
	return nil
}

func (s *stubOrders) SetPaymentStatus(_ context.Context, _ int64, status string) error {
	s.statusUpdates = append(s.statusUpdates, status)
	return nil
}

func (s *stubOrders) MarkPaid(_ context.Context, _ int64) error {
	s.markedPaid = true
	return nil
}

type stubPayments struct {
	nextID     int64
	byID       map[int64]*store.Payment
	byRef      map[string]int64
	markedPaid []int64
	statuses   map[int64]string
}

func newStubPayments() *stubPayments {
	return &stubPayments{
		nextID:   100,
		byID:     map[int64]*store.Payment{},
		byRef:    map[string]int64{},
		statuses: map[int64]string{},
	}
}

func (s *stubPayments) Create(_ context.Context, p *store.Payment) (*store.Payment, error) {
	s.nextID++
	cp := *p
	cp.ID = s.nextID
	cp.Status = "pending"
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *stubPayments) GetByID(_ context.Context, id int64) (*store.Payment, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubPayments) GetByProviderRef(_ context.Context, provider, ref string) (*store.Payment, error) {
	id, ok := s.byRef[provider+"/"+ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetByID(context.Background(), id)
}

func (s *stubPayments) SetProviderRef(_ context.Context, paymentID int64, ref string, _ any) error {
	p, ok := s.byID[paymentID]
	if !ok {
		return store.ErrNotFound
	}
	p.ProviderRef = &ref
	s.byRef["esewa/"+ref] = paymentID
	return nil
}

func (s *stubPayments) ListPendingOlderThan(_ context.Context, _ time.Time, limit int) ([]*store.Payment, error) {
	var out []*store.Payment
	for _, p := range s.byID {
		if p.Status == "pending" && p.ProviderRef != nil && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubPayments) ListRecent(_ context.Context, _, _ int) ([]*store.Payment, int, error) {
	var out []*store.Payment
	for _, p := range s.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (s *stubPayments) MarkPaid(_ context.Context, paymentID int64) error {
	if p, ok := s.byID[paymentID]; ok {
		p.Status = "paid"
	}
	s.markedPaid = append(s.markedPaid, paymentID)
	return nil
}

func (s *stubPayments) SetStatus(_ context.Context, paymentID int64, status string) error {
	if p, ok := s.byID[paymentID]; ok {
		p.Status = status
	}
	s.statuses[paymentID] = status
	return nil
}

type stubLogs struct {
	stages []string
}

func (s *stubLogs) Insert(_ context.Context, _ int64, stage string, _ any) error {
	s.stages = append(s.stages, stage)
	return nil
}

type testEnv struct {
	app      *application
	orders   *stubOrders
	payments *stubPayments
	logs     *stubLogs
	cfg      esewa.Config
}

// newTestEnv wires an application around stub stores and a gateway whose
// status-check endpoint is served by statusHandler.
func newTestEnv(t *testing.T, statusHandler http.HandlerFunc) *testEnv {
	t.Helper()

	cfg := esewa.DevelopmentDefaults()
	cfg.SuccessURL = "https://api.kix.example.com/v1/payments/esewa/return"
	cfg.FailureURL = "https://api.kix.example.com/v1/payments/esewa/return"

	if statusHandler != nil {
		srv := httptest.NewServer(statusHandler)
		t.Cleanup(srv.Close)
		cfg.StatusURL = srv.URL + "/api/epay/transaction/status/?transaction_uuid="
	}

	logger := zap.NewNop().Sugar()

	client, err := esewa.NewClient(cfg, logger)
	require.NoError(t, err)

	refs, err := refcode.New("test-salt")
	require.NoError(t, err)

	orders := &stubOrders{
		order: &store.Order{
			ID:            7,
			UserID:        42,
			OrderNumber:   "KIX-ORD-1001",
			CustomerName:  "Asha",
			CustomerEmail: "asha@example.com",
			TotalCents:    100000,
			Currency:      "NPR",
			PaymentStatus: "unpaid",
		},
	}
	payments := newStubPayments()
	logs := &stubLogs{}

	app := &application{
		config: config{
			env:         "test",
			frontendURL: "https://kix.example.com",
			payment:     paymentConfig{mode: esewa.ModeDevelopment, esewa: cfg},
		},
		store: store.Storage{
			Orders:      orders,
			Payments:    payments,
			PaymentLogs: logs,
		},
		logger: logger,
		esewa:  client,
		refs:   refs,
	}

	return &testEnv{app: app, orders: orders, payments: payments, logs: logs, cfg: cfg}
}

func authedRequest(method, target string, body []byte, userID int64) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(context.WithValue(r.Context(), userCtx, userID))
}

// seedAttempt creates a pending attempt with a known transaction uuid, the way
// the initiate handler would.
func seedAttempt(t *testing.T, env *testEnv, txID string) *store.Payment {
	t.Helper()

	pay, err := env.payments.Create(context.Background(), &store.Payment{
		OrderID:     env.orders.order.ID,
		Provider:    "esewa",
		AmountCents: env.orders.order.TotalCents,
		Currency:    "NPR",
	})
	require.NoError(t, err)
	require.NoError(t, env.payments.SetProviderRef(context.Background(), pay.ID, txID, nil))
	require.NoError(t, env.orders.SetEsewaRef(context.Background(), env.orders.order.ID, txID, env.cfg.MerchantCode))
	pay.ProviderRef = &txID
	return pay
}

// signedCallback builds the base64 payload eSewa would send on the return
// leg, signed with the shared secret.
func signedCallback(t *testing.T, cfg esewa.Config, txID, status string, amount any) string {
	t.Helper()

	amountStr, err := esewa.NormalizeAmount(amount)
	require.NoError(t, err)

	sig, err := esewa.GenerateSignature(map[string]string{
		"total_amount":     amountStr,
		"transaction_uuid": txID,
		"product_code":     cfg.MerchantCode,
	}, esewa.SignedFieldOrder(), cfg.SecretKey)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"transaction_code":   "000AXX1",
		"status":             status,
		"total_amount":       amount,
		"transaction_uuid":   txID,
		"product_code":       cfg.MerchantCode,
		"signed_field_names": esewa.SignedFieldNames,
		"signature":          sig,
	})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func statusCheckResponder(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"product_code":     r.URL.Query().Get("product_code"),
			"transaction_uuid": r.URL.Query().Get("transaction_uuid"),
			"total_amount":     1000,
			"status":           status,
			"ref_id":           "0001AB",
		})
	}
}

func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query()
}

func TestInitiateHandler(t *testing.T) {
	t.Run("returns a signed form for the order", func(t *testing.T) {
		env := newTestEnv(t, nil)

		body, _ := json.Marshal(map[string]any{"order_id": 7})
		rec := httptest.NewRecorder()
		env.app.esewaInitiateHandler(rec, authedRequest(http.MethodPost, "/v1/payments/esewa/initiate", body, 42))

		require.Equal(t, http.StatusCreated, rec.Code)

		var out struct {
			Data initiatePaymentResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))

		assert.NotZero(t, out.Data.PaymentID)
		assert.NotEmpty(t, out.Data.RefCode)
		assert.Equal(t, http.MethodPost, out.Data.Method)
		assert.Equal(t, env.cfg.PaymentURL, out.Data.URL)
		assert.Equal(t, "1000.00", out.Data.Fields["total_amount"])
		assert.Equal(t, env.cfg.MerchantCode, out.Data.Fields["product_code"])
		assert.NotEmpty(t, out.Data.Fields["signature"])

		// The reference pair must land on the order before the shopper leaves.
		assert.Equal(t, out.Data.Fields["transaction_uuid"], env.orders.esewaRefUUID)
		assert.Contains(t, env.logs.stages, "initiate")
	})

	t.Run("rejects another user's order", func(t *testing.T) {
		env := newTestEnv(t, nil)

		body, _ := json.Marshal(map[string]any{"order_id": 7})
		rec := httptest.NewRecorder()
		env.app.esewaInitiateHandler(rec, authedRequest(http.MethodPost, "/v1/payments/esewa/initiate", body, 99))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects an already paid order", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.orders.order.PaymentStatus = "paid"

		body, _ := json.Marshal(map[string]any{"order_id": 7})
		rec := httptest.NewRecorder()
		env.app.esewaInitiateHandler(rec, authedRequest(http.MethodPost, "/v1/payments/esewa/initiate", body, 42))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown order is a 404", func(t *testing.T) {
		env := newTestEnv(t, nil)

		body, _ := json.Marshal(map[string]any{"order_id": 12345})
		rec := httptest.NewRecorder()
		env.app.esewaInitiateHandler(rec, authedRequest(http.MethodPost, "/v1/payments/esewa/initiate", body, 42))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestReturnHandler(t *testing.T) {
	const txID = "KIX-1700000000000-aabbccddaabbccddaabbccddaabbccdd"

	t.Run("verified payment marks paid and redirects success", func(t *testing.T) {
		env := newTestEnv(t, statusCheckResponder("COMPLETE"))
		pay := seedAttempt(t, env, txID)

		data := signedCallback(t, env.cfg, txID, "COMPLETE", 1000.0)
		rec := httptest.NewRecorder()
		env.app.esewaReturnHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/return?data="+url.QueryEscape(data), nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "success", q.Get("result"))
		assert.Equal(t, fmt.Sprint(pay.ID), q.Get("payment_id"))
		assert.Contains(t, env.payments.markedPaid, pay.ID)
		assert.True(t, env.orders.markedPaid)
		assert.Contains(t, env.logs.stages, "redirect")
		assert.Contains(t, env.logs.stages, "verify")
	})

	t.Run("tampered amount never touches state", func(t *testing.T) {
		env := newTestEnv(t, statusCheckResponder("COMPLETE"))
		pay := seedAttempt(t, env, txID)

		// Payload claims a lower amount than the stored order.
		data := signedCallback(t, env.cfg, txID, "COMPLETE", 10.0)
		rec := httptest.NewRecorder()
		env.app.esewaReturnHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/return?data="+url.QueryEscape(data), nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "failed", q.Get("result"))
		assert.Equal(t, "callback_validation_failed", q.Get("reason"))
		assert.Empty(t, env.payments.markedPaid)
		assert.False(t, env.orders.markedPaid)

		// The attempt stays pending for the reconciler, it is not failed.
		_, failed := env.payments.statuses[pay.ID]
		assert.False(t, failed)
	})

	t.Run("gateway says pending keeps the attempt pending", func(t *testing.T) {
		env := newTestEnv(t, statusCheckResponder("PENDING"))
		pay := seedAttempt(t, env, txID)

		data := signedCallback(t, env.cfg, txID, "PENDING", 1000.0)
		rec := httptest.NewRecorder()
		env.app.esewaReturnHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/return?data="+url.QueryEscape(data), nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "pending", q.Get("result"))
		assert.Empty(t, env.payments.markedPaid)
		_, failed := env.payments.statuses[pay.ID]
		assert.False(t, failed)
	})

	t.Run("terminal gateway state fails the attempt", func(t *testing.T) {
		env := newTestEnv(t, statusCheckResponder("NOT_FOUND"))
		pay := seedAttempt(t, env, txID)

		data := signedCallback(t, env.cfg, txID, "PENDING", 1000.0)
		rec := httptest.NewRecorder()
		env.app.esewaReturnHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/return?data="+url.QueryEscape(data), nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "failed", q.Get("result"))
		assert.Equal(t, "failed", env.payments.statuses[pay.ID])
	})

	t.Run("unknown transaction uuid redirects failed", func(t *testing.T) {
		env := newTestEnv(t, nil)

		data := signedCallback(t, env.cfg, "KIX-1-ffffffffffffffffffffffffffffffff", "COMPLETE", 1000.0)
		rec := httptest.NewRecorder()
		env.app.esewaReturnHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/return?data="+url.QueryEscape(data), nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "failed", q.Get("result"))
		assert.Equal(t, "payment_not_found", q.Get("reason"))
	})

	t.Run("missing data parameter redirects failed", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := httptest.NewRecorder()
		env.app.esewaReturnHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/return", nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "failed", q.Get("result"))
		assert.Equal(t, "missing_data", q.Get("reason"))
	})

	t.Run("garbage payload redirects failed", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := httptest.NewRecorder()
		env.app.esewaReturnHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/return?data=not-valid-base64!!", nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "failed", q.Get("result"))
	})
}

func TestStatusHandler(t *testing.T) {
	const txID = "KIX-1700000000000-aabbccddaabbccddaabbccddaabbccdd"

	t.Run("owner sees the attempt status", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pay := seedAttempt(t, env, txID)

		rec := httptest.NewRecorder()
		env.app.esewaStatusHandler(rec, authedRequest(http.MethodGet, fmt.Sprintf("/v1/payments/esewa/status?payment_id=%d", pay.ID), nil, 42))

		require.Equal(t, http.StatusOK, rec.Code)

		var out struct {
			Data paymentStatusResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
		assert.Equal(t, pay.ID, out.Data.PaymentID)
		assert.Equal(t, "pending", out.Data.Status)
		assert.NotEmpty(t, out.Data.RefCode)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pay := seedAttempt(t, env, txID)

		rec := httptest.NewRecorder()
		env.app.esewaStatusHandler(rec, authedRequest(http.MethodGet, fmt.Sprintf("/v1/payments/esewa/status?payment_id=%d", pay.ID), nil, 99))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bad payment_id is a 400", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := httptest.NewRecorder()
		env.app.esewaStatusHandler(rec, authedRequest(http.MethodGet, "/v1/payments/esewa/status?payment_id=abc", nil, 42))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestManualVerifyHandler(t *testing.T) {
	const txID = "KIX-1700000000000-aabbccddaabbccddaabbccddaabbccdd"

	t.Run("settles a stuck attempt by ref code", func(t *testing.T) {
		env := newTestEnv(t, statusCheckResponder("COMPLETE"))
		pay := seedAttempt(t, env, txID)

		refCode, err := env.app.refs.Encode(pay.ID)
		require.NoError(t, err)

		body, _ := json.Marshal(map[string]any{"ref_code": refCode})
		req := httptest.NewRequest(http.MethodPost, "/v1/payments/esewa/verify", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		rec := httptest.NewRecorder()
		env.app.esewaVerifyHandler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var out struct {
			Data manualVerifyResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
		assert.Equal(t, "paid", out.Data.Outcome)
		assert.Contains(t, env.payments.markedPaid, pay.ID)
	})

	t.Run("requires an identifier", func(t *testing.T) {
		env := newTestEnv(t, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/payments/esewa/verify", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")

		rec := httptest.NewRecorder()
		env.app.esewaVerifyHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStartHandler(t *testing.T) {
	const txID = "KIX-1700000000000-aabbccddaabbccddaabbccddaabbccdd"

	t.Run("renders an auto-posting form with a fresh transaction uuid", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pay := seedAttempt(t, env, txID)

		rec := httptest.NewRecorder()
		env.app.esewaStartHandler(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/payments/esewa/start?payment_id=%d", pay.ID), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

		html := rec.Body.String()
		assert.Contains(t, html, env.cfg.PaymentURL)
		assert.Contains(t, html, `name="signature"`)

		// Retry must not reuse the original uuid.
		assert.NotContains(t, html, txID)
		assert.NotEqual(t, txID, env.orders.esewaRefUUID)
	})

	t.Run("paid order never goes back to the gateway through a stale attempt", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pay := seedAttempt(t, env, txID)

		// A later attempt paid the order; this attempt is still pending.
		env.orders.order.PaymentStatus = "paid"

		rec := httptest.NewRecorder()
		env.app.esewaStartHandler(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/payments/esewa/start?payment_id=%d", pay.ID), nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "success", q.Get("result"))
		assert.Equal(t, "already_paid", q.Get("reason"))

		// No fresh transaction uuid was minted.
		assert.Equal(t, txID, env.orders.esewaRefUUID)
	})

	t.Run("already paid attempt goes straight back to the storefront", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pay := seedAttempt(t, env, txID)
		require.NoError(t, env.payments.MarkPaid(context.Background(), pay.ID))

		rec := httptest.NewRecorder()
		env.app.esewaStartHandler(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/payments/esewa/start?payment_id=%d", pay.ID), nil))

		q := redirectQuery(t, rec)
		assert.Equal(t, "success", q.Get("result"))
	})

	t.Run("unknown payment is a 404", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := httptest.NewRecorder()
		env.app.esewaStartHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/esewa/start?payment_id=555", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

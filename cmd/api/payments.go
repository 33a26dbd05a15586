package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/template"
	"time"

	"kix/internal/esewa"
	"kix/internal/mailer"
	"kix/internal/params"
	"kix/internal/store"
)

type initiatePaymentRequest struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
}

type initiatePaymentResponse struct {
	PaymentID int64             `json:"payment_id"`
	RefCode   string            `json:"ref_code"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Fields    map[string]string `json:"fields"`
}

// esewaInitiateHandler godoc
//
//	@Summary		Initiate an eSewa payment
//	@Description	Creates a payment attempt for the order and returns the signed form the browser must POST to eSewa
//	@Tags			payments
//	@Accept			json
//	@Produce		json
//	@Param			request	body		initiatePaymentRequest	true	"Order to pay"
//	@Success		201		{object}	initiatePaymentResponse
//	@Failure		400		{object}	error
//	@Failure		403		{object}	error
//	@Failure		404		{object}	error
//	@Security		ApiKeyAuth
//	@Router			/payments/esewa/initiate [post]
func (app *application) esewaInitiateHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var in initiatePaymentRequest
	if err := readJSON(w, r, &in); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(in); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	order, err := app.store.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			app.notFoundResponse(w, r, fmt.Errorf("order %d not found", in.OrderID))
			return
		}
		app.internalServerError(w, r, err)
		return
	}
	if order.UserID != getUserIDFromContext(r) {
		app.forbiddenResponse(w, r)
		return
	}
	if strings.EqualFold(order.PaymentStatus, "paid") {
		app.badRequestResponse(w, r, fmt.Errorf("order %s is already paid", order.OrderNumber))
		return
	}

	pay, form, err := app.startEsewaAttempt(ctx, order)
	if err != nil {
		app.paymentBuildErrorResponse(w, r, err)
		return
	}

	refCode, err := app.refs.Encode(pay.ID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	app.jsonResponse(w, http.StatusCreated, initiatePaymentResponse{
		PaymentID: pay.ID,
		RefCode:   refCode,
		URL:       form.URL,
		Method:    form.Method,
		Fields:    form.Fields,
	})
}

// paymentBuildErrorResponse maps the request-builder taxonomy onto HTTP:
// amount problems go back to checkout for correction, everything else is a
// defect or misconfiguration.
func (app *application) paymentBuildErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, esewa.ErrInvalidAmount), errors.Is(err, esewa.ErrAmountLimit):
		app.badRequestResponse(w, r, err)
	default:
		app.internalServerError(w, r, err)
	}
}

// startEsewaAttempt creates the attempt row, generates a fresh transaction
// uuid, builds the signed form, and records the reference pair on both the
// attempt and the order. Each retry shows eSewa a uuid it has never seen.
func (app *application) startEsewaAttempt(ctx context.Context, order *store.Order) (*store.Payment, esewa.PaymentForm, error) {
	txID, err := esewa.GenerateTransactionID()
	if err != nil {
		return nil, esewa.PaymentForm{}, err
	}

	form, err := app.esewa.BuildPaymentForm(esewa.PaymentParams{
		TransactionID: txID,
		Amount:        order.Total(),
		ProductCode:   app.esewa.MerchantCode(),
		OrderNumber:   order.OrderNumber,
	})
	if err != nil {
		return nil, esewa.PaymentForm{}, err
	}

	pay, err := app.store.Payments.Create(ctx, &store.Payment{
		OrderID:     order.ID,
		Provider:    "esewa",
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
	})
	if err != nil {
		return nil, esewa.PaymentForm{}, err
	}

	if err := app.store.Payments.SetProviderRef(ctx, pay.ID, txID, form.Fields); err != nil {
		return nil, esewa.PaymentForm{}, err
	}
	pay.ProviderRef = &txID

	// The order side of the reference pair is what the callback validator
	// later treats as ground truth.
	if err := app.store.Orders.SetEsewaRef(ctx, order.ID, txID, form.MerchantCode); err != nil {
		return nil, esewa.PaymentForm{}, err
	}

	if err := app.store.PaymentLogs.Insert(ctx, pay.ID, "initiate", map[string]any{
		"payment_url":  form.URL,
		"order_number": order.OrderNumber,
		"fields":       form.Fields,
	}); err != nil {
		app.logger.Errorw("payment log insert failed", "payment_id", pay.ID, "error", err.Error())
	}

	return pay, form, nil
}

// esewaStartHandler godoc
//
//	@Summary		Redirect the browser to eSewa
//	@Description	Renders an auto-posting HTML form for an existing payment attempt; retries get a fresh transaction uuid
//	@Tags			payments
//	@Produce		html
//	@Param			payment_id	query	int	true	"Payment attempt ID"
//	@Success		200
//	@Router			/payments/esewa/start [get]
func (app *application) esewaStartHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	paymentID, err := strconv.ParseInt(r.URL.Query().Get("payment_id"), 10, 64)
	if err != nil || paymentID <= 0 {
		app.badRequestResponse(w, r, fmt.Errorf("invalid payment_id"))
		return
	}

	pay, err := app.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			app.notFoundResponse(w, r, fmt.Errorf("payment not found"))
			return
		}
		app.internalServerError(w, r, err)
		return
	}
	if !strings.EqualFold(pay.Provider, "esewa") {
		app.badRequestResponse(w, r, fmt.Errorf("payment provider mismatch"))
		return
	}

	refCode, err := app.refs.Encode(pay.ID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	// Already paid: straight back to the storefront, no second charge.
	if strings.EqualFold(pay.Status, "paid") {
		app.redirectToStorefront(w, r, "success", pay.OrderID, pay.ID, refCode, "COMPLETE", "already_paid")
		return
	}

	order, err := app.store.Orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	// The order may have been paid through a different attempt; a stale start
	// link must never send the shopper to eSewa for a second charge.
	if strings.EqualFold(order.PaymentStatus, "paid") {
		app.redirectToStorefront(w, r, "success", pay.OrderID, pay.ID, refCode, "COMPLETE", "already_paid")
		return
	}

	_, form, err := app.startEsewaAttempt(ctx, order)
	if err != nil {
		app.paymentBuildErrorResponse(w, r, fmt.Errorf("esewa initiate: %w", err))
		return
	}

	// Carry the public ref through the gateway round trip so the storefront
	// can resume the right attempt.
	form.Fields["success_url"] = addQuery(form.Fields["success_url"], "ref", refCode)
	form.Fields["failure_url"] = addQuery(form.Fields["failure_url"], "ref", refCode)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(http.StatusOK)
	if err := renderAutoPostForm(w, form.URL, form.Fields); err != nil {
		app.logger.Errorw("render auto-post form failed", "payment_id", pay.ID, "error", err.Error())
	}
}

// esewaReturnHandler is the canonical completion endpoint. eSewa redirects the
// shopper's browser here with a base64 JSON payload. The payload is never
// trusted on its own: it is validated against the stored order, its signature
// is checked, and the status-check API is the final source of truth before any
// state changes.
//
//	@Summary		eSewa return leg
//	@Description	Validates the gateway callback, verifies server-side and redirects back to the storefront
//	@Tags			payments
//	@Param			data	query	string	true	"Base64-encoded callback payload"
//	@Success		302
//	@Router			/payments/esewa/return [get]
func (app *application) esewaReturnHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	dataB64 := strings.TrimSpace(r.URL.Query().Get("data"))
	if dataB64 == "" {
		app.redirectToStorefront(w, r, "failed", 0, 0, "", "", "missing_data")
		return
	}

	cb, err := esewa.DecodeCallback(dataB64)
	if err != nil {
		app.logger.Warnw("esewa callback decode failed", "error", err.Error())
		app.redirectToStorefront(w, r, "failed", 0, 0, "", "", "invalid_payload")
		return
	}

	if cb.TransactionUUID == "" {
		app.redirectToStorefront(w, r, "failed", 0, 0, "", "", "missing_transaction_uuid")
		return
	}

	pay, err := app.store.Payments.GetByProviderRef(ctx, "esewa", cb.TransactionUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			app.redirectToStorefront(w, r, "failed", 0, 0, "", "", "payment_not_found")
			return
		}
		app.logger.Errorw("payment lookup failed", "ref", cb.TransactionUUID, "error", err.Error())
		app.redirectToStorefront(w, r, "pending", 0, 0, "", "", "db_lookup_failed")
		return
	}

	refCode, _ := app.refs.Encode(pay.ID)

	order, err := app.store.Orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		app.logger.Errorw("order lookup failed", "order_id", pay.OrderID, "error", err.Error())
		app.redirectToStorefront(w, r, "pending", pay.OrderID, pay.ID, refCode, "", "db_lookup_failed")
		return
	}

	snapshot := orderSnapshot(order)
	validation := esewa.ValidateCallback(cb, snapshot)

	sigOK := app.verifyCallbackSignature(cb)

	if err := app.store.PaymentLogs.Insert(ctx, pay.ID, "redirect", map[string]any{
		"payload":           cb,
		"sig_ok":            sigOK,
		"validation_errors": validation.Errors,
	}); err != nil {
		app.logger.Errorw("payment log insert failed", "payment_id", pay.ID, "error", err.Error())
	}

	// A callback that does not match the stored order is a tamper signal.
	// The payload is not acted on, but nothing is marked failed either: the
	// attempt stays pending for review and the reconciler.
	if !validation.Valid {
		app.logger.Warnw("esewa callback rejected",
			"payment_id", pay.ID,
			"errors", validation.Errors,
			"sig_ok", sigOK,
		)
		app.redirectToStorefront(w, r, "failed", pay.OrderID, pay.ID, refCode, cb.Status, "callback_validation_failed")
		return
	}

	if !sigOK {
		// eSewa's response signatures are unreliable in UAT. A consistent but
		// unsigned payload still goes through the status check, which is the
		// source of truth anyway; the mismatch is kept in the logs.
		app.logger.Warnw("esewa callback signature mismatch", "payment_id", pay.ID)
	}

	outcome, result := app.settlePayment(ctx, pay, order)

	switch outcome {
	case "paid":
		app.redirectToStorefront(w, r, "success", pay.OrderID, pay.ID, refCode, result.Status, "")
	case "pending":
		reason := "status_check_pending"
		if result.Error != "" {
			reason = "status_check_failed"
		}
		if !sigOK {
			reason = "bad_signature_and_" + reason
		}
		app.redirectToStorefront(w, r, "pending", pay.OrderID, pay.ID, refCode, result.Status, reason)
	default:
		app.redirectToStorefront(w, r, "failed", pay.OrderID, pay.ID, refCode, result.Status, "gateway_terminal")
	}
}

func orderSnapshot(order *store.Order) esewa.OrderSnapshot {
	snap := esewa.OrderSnapshot{Total: order.Total()}
	if order.EsewaTransactionUUID != nil {
		snap.TransactionID = *order.EsewaTransactionUUID
	}
	if order.EsewaProductCode != nil {
		snap.ProductCode = *order.EsewaProductCode
	}
	return snap
}

// verifyCallbackSignature checks the response signature eSewa attaches to the
// redirect payload. Same message shape as the request leg.
func (app *application) verifyCallbackSignature(cb esewa.Callback) bool {
	amount, err := esewa.NormalizeAmount(cb.TotalAmount)
	if err != nil {
		return false
	}
	fields := map[string]string{
		"total_amount":     amount,
		"transaction_uuid": cb.TransactionUUID,
		"product_code":     cb.ProductCode,
	}
	return esewa.VerifySignature(fields, esewa.SignedFieldOrder(), app.config.payment.esewa.SecretKey, cb.Signature)
}

// settlePayment runs the server-side status check and applies the outcome.
// Returns "paid", "pending" or "failed". Safe to call repeatedly for the same
// attempt: a paid attempt stays paid, and the store updates are no-ops the
// second time around.
func (app *application) settlePayment(ctx context.Context, pay *store.Payment, order *store.Order) (string, esewa.VerifyResult) {
	if strings.EqualFold(pay.Status, "paid") {
		return "paid", esewa.VerifyResult{Success: true, Verified: true, Status: "COMPLETE"}
	}
	if pay.ProviderRef == nil {
		return "pending", esewa.VerifyResult{Error: "attempt has no transaction uuid"}
	}

	productCode := app.esewa.MerchantCode()
	if order.EsewaProductCode != nil && *order.EsewaProductCode != "" {
		productCode = *order.EsewaProductCode
	}

	result, err := app.esewa.VerifyPayment(ctx, esewa.VerifyParams{
		TransactionID: *pay.ProviderRef,
		ProductCode:   productCode,
		TotalAmount:   pay.Amount(),
	})
	if err != nil {
		// Missing-parameter defects only; treat as unverified.
		app.logger.Errorw("esewa verify call rejected", "payment_id", pay.ID, "error", err.Error())
		return "pending", esewa.VerifyResult{Error: err.Error()}
	}

	if logErr := app.store.PaymentLogs.Insert(ctx, pay.ID, "verify", result); logErr != nil {
		app.logger.Errorw("payment log insert failed", "payment_id", pay.ID, "error", logErr.Error())
	}

	if result.Verified {
		if err := app.store.Payments.MarkPaid(ctx, pay.ID); err != nil {
			app.logger.Errorw("mark payment paid failed", "payment_id", pay.ID, "error", err.Error())
			return "pending", result
		}
		if err := app.store.Orders.MarkPaid(ctx, pay.OrderID); err != nil {
			app.logger.Errorw("mark order paid failed", "order_id", pay.OrderID, "error", err.Error())
		}
		app.sendPaymentReceipt(order, pay)
		return "paid", result
	}

	switch result.Status {
	case "PENDING", "AMBIGUOUS", "":
		// Transient or unknown: keep the attempt pending; the reconciler or a
		// manual verify picks it up later. Never fail on a network error.
		return "pending", result
	default:
		// Terminal gateway state (NOT_FOUND, CANCELED, FULL_REFUND, ...).
		if err := app.store.Payments.SetStatus(ctx, pay.ID, "failed"); err != nil {
			app.logger.Errorw("set payment failed status", "payment_id", pay.ID, "error", err.Error())
		}
		// A dead attempt only fails the order if nothing else paid it. The
		// reconciler sweeps stale attempts long after a retry may have gone
		// through, and a paid order must never be demoted by one of them.
		if !strings.EqualFold(order.PaymentStatus, "paid") {
			if err := app.store.Orders.SetPaymentStatus(ctx, pay.OrderID, "failed"); err != nil {
				app.logger.Errorw("set order failed status", "order_id", pay.OrderID, "error", err.Error())
			}
		}
		return "failed", result
	}
}

// sendPaymentReceipt emails the shopper in the background; receipts are
// best-effort and never hold up the redirect.
func (app *application) sendPaymentReceipt(order *store.Order, pay *store.Payment) {
	if app.mailer == nil || order.CustomerEmail == "" {
		return
	}

	refCode, err := app.refs.Encode(pay.ID)
	if err != nil {
		refCode = ""
	}

	go func() {
		data := map[string]any{
			"Username":    order.CustomerName,
			"OrderNumber": order.OrderNumber,
			"Amount":      esewa.FormatAmount(pay.Amount()),
			"RefCode":     refCode,
		}
		if err := app.mailer.Send(mailer.PaymentReceiptTemplate, order.CustomerName, order.CustomerEmail, data); err != nil {
			app.logger.Errorw("payment receipt email failed", "order_id", order.ID, "error", err.Error())
			return
		}
		app.logger.Infow("payment receipt sent", "order_id", order.ID)
	}()
}

type paymentStatusResponse struct {
	PaymentID int64  `json:"payment_id"`
	OrderID   int64  `json:"order_id"`
	RefCode   string `json:"ref_code"`
	Status    string `json:"status"`
}

// esewaStatusHandler godoc
//
//	@Summary		Poll a payment attempt
//	@Description	Returns the current status of the caller's payment attempt
//	@Tags			payments
//	@Produce		json
//	@Param			payment_id	query		int	true	"Payment attempt ID"
//	@Success		200			{object}	paymentStatusResponse
//	@Security		ApiKeyAuth
//	@Router			/payments/esewa/status [get]
func (app *application) esewaStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	paymentID, err := strconv.ParseInt(r.URL.Query().Get("payment_id"), 10, 64)
	if err != nil || paymentID <= 0 {
		app.badRequestResponse(w, r, fmt.Errorf("invalid payment_id"))
		return
	}

	pay, err := app.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			app.notFoundResponse(w, r, fmt.Errorf("payment not found"))
			return
		}
		app.internalServerError(w, r, err)
		return
	}

	order, err := app.store.Orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	if order.UserID != getUserIDFromContext(r) {
		app.forbiddenResponse(w, r)
		return
	}

	refCode, _ := app.refs.Encode(pay.ID)

	app.jsonResponse(w, http.StatusOK, paymentStatusResponse{
		PaymentID: pay.ID,
		OrderID:   pay.OrderID,
		RefCode:   refCode,
		Status:    pay.Status,
	})
}

type manualVerifyRequest struct {
	PaymentID int64  `json:"payment_id,omitempty"`
	RefCode   string `json:"ref_code,omitempty"`
}

type manualVerifyResponse struct {
	PaymentID int64  `json:"payment_id"`
	Outcome   string `json:"outcome"`
	Status    string `json:"gateway_status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// esewaVerifyHandler godoc
//
//	@Summary		Manually re-verify a payment
//	@Description	Support endpoint: runs the status check for a stuck attempt, by id or public ref code
//	@Tags			payments
//	@Accept			json
//	@Produce		json
//	@Param			request	body		manualVerifyRequest	true	"Attempt to verify"
//	@Success		200		{object}	manualVerifyResponse
//	@Router			/payments/esewa/verify [post]
func (app *application) esewaVerifyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	var in manualVerifyRequest
	if err := readJSON(w, r, &in); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	paymentID := in.PaymentID
	if paymentID == 0 && in.RefCode != "" {
		id, err := app.refs.Decode(in.RefCode)
		if err != nil {
			app.badRequestResponse(w, r, fmt.Errorf("invalid ref_code"))
			return
		}
		paymentID = id
	}
	if paymentID <= 0 {
		app.badRequestResponse(w, r, fmt.Errorf("payment_id or ref_code is required"))
		return
	}

	pay, err := app.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			app.notFoundResponse(w, r, fmt.Errorf("payment not found"))
			return
		}
		app.internalServerError(w, r, err)
		return
	}

	order, err := app.store.Orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	outcome, result := app.settlePayment(ctx, pay, order)

	app.jsonResponse(w, http.StatusOK, manualVerifyResponse{
		PaymentID: pay.ID,
		Outcome:   outcome,
		Status:    result.Status,
		Error:     result.Error,
	})
}

type attemptSummary struct {
	PaymentID   int64   `json:"payment_id"`
	OrderID     int64   `json:"order_id"`
	RefCode     string  `json:"ref_code"`
	ProviderRef *string `json:"provider_ref,omitempty"`
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

type attemptListResponse struct {
	Attempts   []attemptSummary  `json:"attempts"`
	Pagination params.Pagination `json:"pagination"`
}

// esewaListAttemptsHandler godoc
//
//	@Summary		List payment attempts
//	@Description	Support endpoint: pages through attempts, newest first
//	@Tags			payments
//	@Produce		json
//	@Param			page	query		int	false	"Page number"
//	@Param			limit	query		int	false	"Items per page"
//	@Success		200		{object}	attemptListResponse
//	@Router			/payments/esewa/attempts [get]
func (app *application) esewaListAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p := params.ParsePagination(r.URL.Query())

	attempts, total, err := app.store.Payments.ListRecent(ctx, p.Limit, p.Offset)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	p.ComputeMeta(total)

	out := attemptListResponse{
		Attempts:   make([]attemptSummary, 0, len(attempts)),
		Pagination: p,
	}
	for _, pay := range attempts {
		refCode, _ := app.refs.Encode(pay.ID)
		out.Attempts = append(out.Attempts, attemptSummary{
			PaymentID:   pay.ID,
			OrderID:     pay.OrderID,
			RefCode:     refCode,
			ProviderRef: pay.ProviderRef,
			Amount:      esewa.FormatAmount(pay.Amount()),
			Currency:    pay.Currency,
			Status:      pay.Status,
			CreatedAt:   pay.CreatedAt.Format(time.RFC3339),
		})
	}

	app.jsonResponse(w, http.StatusOK, out)
}

// redirectToStorefront sends the shopper back to the web storefront with
// enough query context to route to the right screen and optionally re-poll.
func (app *application) redirectToStorefront(
	w http.ResponseWriter,
	r *http.Request,
	result string, // "success" | "failed" | "pending"
	orderID, paymentID int64,
	refCode string,
	gatewayState string,
	reason string,
) {
	result = strings.ToLower(strings.TrimSpace(result))
	if result != "success" && result != "failed" && result != "pending" {
		result = "pending"
	}

	q := url.Values{}
	q.Set("result", result)
	if orderID > 0 {
		q.Set("order_id", strconv.FormatInt(orderID, 10))
	}
	if paymentID > 0 {
		q.Set("payment_id", strconv.FormatInt(paymentID, 10))
	}
	if refCode != "" {
		q.Set("ref", refCode)
	}
	if gatewayState != "" {
		q.Set("gateway_state", gatewayState)
	}
	if reason != "" {
		q.Set("reason", reason)
	}

	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.Header().Set("Referrer-Policy", "no-referrer")
	http.Redirect(w, r, fmt.Sprintf("%s/payments/return?%s", app.config.frontendURL, q.Encode()), http.StatusFound)
}

func addQuery(base, key, val string) string {
	u, err := url.Parse(base)
	if err != nil {
		if strings.Contains(base, "?") {
			return base + "&" + url.QueryEscape(key) + "=" + url.QueryEscape(val)
		}
		return base + "?" + url.QueryEscape(key) + "=" + url.QueryEscape(val)
	}
	q := u.Query()
	q.Set(key, val)
	u.RawQuery = q.Encode()
	return u.String()
}

func renderAutoPostForm(w http.ResponseWriter, action string, fields map[string]string) error {
	const tpl = `<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Redirecting…</title>
  <style>
    body { font-family: -apple-system, system-ui, Segoe UI, Roboto, Arial; padding: 24px; }
    .box { max-width: 480px; margin: 40px auto; text-align: center; }
  </style>
</head>
<body>
  <div class="box">
    <h3>Redirecting to eSewa…</h3>
    <p>Please wait.</p>

    <form id="f" method="POST" action="{{.Action}}">
      {{range $k, $v := .Fields}}
        <input type="hidden" name="{{$k}}" value="{{$v}}">
      {{end}}
      <noscript><button type="submit">Continue</button></noscript>
    </form>

    <script>
      (function(){ document.getElementById('f').submit(); })();
    </script>
  </div>
</body>
</html>`
	t := template.Must(template.New("p").Parse(tpl))
	return t.Execute(w, map[string]any{
		"Action": action,
		"Fields": fields,
	})
}

package esewa

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MaxAmount is the gateway's per-transaction ceiling in NPR.
const MaxAmount = 100000

const defaultVerifyTimeout = 10 * time.Second

// Client talks the eSewa ePay v2 protocol: it builds signed form payloads for
// the browser leg and checks transaction status server-side. It holds no
// mutable state, so a single instance is safe for concurrent checkouts.
type Client struct {
	config Config
	logger *zap.SugaredLogger

	httpClient    *http.Client
	verifyTimeout time.Duration

	// debugSigning logs the signing message with a truncated signature.
	// The secret key is never logged.
	debugSigning bool
}

type Option func(*Client)

// WithVerifyTimeout overrides the status-check timeout. Used by tests.
func WithVerifyTimeout(d time.Duration) Option {
	return func(c *Client) { c.verifyTimeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSigningDebug enables truncated signing diagnostics. Keep off outside
// UAT debugging sessions.
func WithSigningDebug() Option {
	return func(c *Client) { c.debugSigning = true }
}

func NewClient(cfg Config, logger *zap.SugaredLogger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("esewa: invalid config: %w", err)
	}
	c := &Client{
		config:        cfg,
		logger:        logger,
		httpClient:    &http.Client{},
		verifyTimeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MerchantCode returns the resolved merchant code. eSewa reuses it as the
// form's product_code.
func (c *Client) MerchantCode() string {
	return c.config.MerchantCode
}

// PaymentParams identifies one payment attempt. Amount is in NPR.
type PaymentParams struct {
	TransactionID string
	Amount        float64
	ProductCode   string
	OrderNumber   string
}

// PaymentForm is the outbound signed payload. Fields carries exactly what the
// browser must POST to URL; it is never mutated after signing. MerchantCode is
// returned for display and logs only -- eSewa authenticates the merchant via
// the signature, not an explicit form field.
type PaymentForm struct {
	URL          string
	Method       string
	Fields       map[string]string
	MerchantCode string
}

// BuildPaymentForm validates the attempt, normalizes the amount to the
// gateway's two-decimal string representation and returns the complete signed
// form payload.
func (c *Client) BuildPaymentForm(p PaymentParams) (PaymentForm, error) {
	if strings.TrimSpace(c.config.MerchantCode) == "" || strings.TrimSpace(c.config.SecretKey) == "" {
		return PaymentForm{}, ErrConfiguration
	}
	if p.TransactionID == "" {
		return PaymentForm{}, &MissingParameterError{Param: "transactionId"}
	}
	if p.ProductCode == "" {
		return PaymentForm{}, &MissingParameterError{Param: "productCode"}
	}
	if p.OrderNumber == "" {
		return PaymentForm{}, &MissingParameterError{Param: "orderNumber"}
	}
	if p.Amount <= 0 {
		return PaymentForm{}, ErrInvalidAmount
	}
	if p.Amount > MaxAmount {
		return PaymentForm{}, ErrAmountLimit
	}

	// The gateway's numeric protocol is decimal-string based; signing the same
	// fixed representation on both legs avoids float mismatches.
	total := FormatAmount(p.Amount)

	signed := map[string]string{
		"total_amount":     total,
		"transaction_uuid": p.TransactionID,
		"product_code":     p.ProductCode,
	}
	signature, err := GenerateSignature(signed, SignedFieldOrder(), c.config.SecretKey)
	if err != nil {
		return PaymentForm{}, err
	}

	if c.debugSigning && c.logger != nil {
		c.logger.Debugw("esewa signing",
			"order_number", p.OrderNumber,
			"message", fmt.Sprintf("total_amount=%s,transaction_uuid=%s,product_code=%s", total, p.TransactionID, p.ProductCode),
			"signature", truncate(signature, 8),
		)
	}

	fields := map[string]string{
		"amount":                  total,
		"tax_amount":              "0",
		"total_amount":            total,
		"transaction_uuid":        p.TransactionID,
		"product_code":            p.ProductCode,
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"success_url":             c.config.SuccessURL,
		"failure_url":             c.config.FailureURL,
		"signed_field_names":      SignedFieldNames,
		"signature":               signature,
	}

	return PaymentForm{
		URL:          c.config.PaymentURL,
		Method:       http.MethodPost,
		Fields:       fields,
		MerchantCode: c.config.MerchantCode,
	}, nil
}

// FormatAmount renders an amount the way every signed and verified leg of the
// protocol expects it: fixed two decimals.
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

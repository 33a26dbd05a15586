package esewa

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Callback is the payload eSewa hands back through the browser redirect.
// TotalAmount is `any` because the gateway sends it as a number in some flows
// and a string in others.
type Callback struct {
	TransactionCode  string `json:"transaction_code"`
	Status           string `json:"status"`
	TotalAmount      any    `json:"total_amount"`
	TransactionUUID  string `json:"transaction_uuid"`
	ProductCode      string `json:"product_code"`
	SignedFieldNames string `json:"signed_field_names"`
	Signature        string `json:"signature"`
}

// DecodeCallback parses the base64-encoded JSON blob from the redirect's
// `data` query parameter.
func DecodeCallback(data string) (Callback, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return Callback{}, fmt.Errorf("esewa: decode callback payload: %w", err)
	}
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return Callback{}, fmt.Errorf("esewa: parse callback payload: %w", err)
	}
	cb.TransactionUUID = strings.TrimSpace(cb.TransactionUUID)
	cb.ProductCode = strings.TrimSpace(cb.ProductCode)
	cb.Signature = strings.TrimSpace(cb.Signature)
	return cb, nil
}

// NormalizeAmount turns whatever the gateway sent into the stable "100.00"
// representation used for signing and comparison.
func NormalizeAmount(v any) (string, error) {
	switch t := v.(type) {
	case float64:
		return FormatAmount(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return "", fmt.Errorf("esewa: invalid total_amount %q", t)
		}
		return FormatAmount(f), nil
	default:
		return "", fmt.Errorf("esewa: unsupported total_amount type %T", v)
	}
}

func parseAmount(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("esewa: unsupported total_amount type %T", v)
	}
}

// OrderSnapshot is the callback validator's ground truth, supplied by the
// order side: the transaction uuid and product code stored when the attempt
// was initiated, and the order's authoritative total. This package never
// loads or writes it.
type OrderSnapshot struct {
	TransactionID string
	ProductCode   string
	Total         float64
}

// CallbackValidation lists every violation found, so the order side gets a
// complete diagnostic picture instead of the first mismatch.
type CallbackValidation struct {
	Valid  bool
	Errors []string
}

// amountTolerance absorbs the gateway's rounding: one hundredth of a rupee.
const amountTolerance = 0.01

// ValidateCallback cross-checks a redirect payload against the stored order.
// It never fails with an error -- a tampered or malformed callback is data the
// order service branches on, typically by rejecting or flagging for review.
func ValidateCallback(cb Callback, order OrderSnapshot) CallbackValidation {
	var errs []string

	if cb.TransactionUUID == "" {
		errs = append(errs, "Missing transaction_uuid")
	}
	if cb.ProductCode == "" {
		errs = append(errs, "Missing product_code")
	}

	amountMissing := cb.TotalAmount == nil
	if s, ok := cb.TotalAmount.(string); ok && strings.TrimSpace(s) == "" {
		amountMissing = true
	}
	if amountMissing {
		errs = append(errs, "Missing total_amount")
	}

	if cb.TransactionUUID != "" && cb.TransactionUUID != order.TransactionID {
		errs = append(errs, "Transaction ID mismatch")
	}
	if cb.ProductCode != "" && cb.ProductCode != order.ProductCode {
		errs = append(errs, "Product code mismatch")
	}

	if !amountMissing {
		got, amountErr := parseAmount(cb.TotalAmount)
		if amountErr != nil {
			errs = append(errs, fmt.Sprintf("Amount mismatch: expected %s, got %v", FormatAmount(order.Total), cb.TotalAmount))
		} else if diff := got - order.Total; diff > amountTolerance || diff < -amountTolerance {
			errs = append(errs, fmt.Sprintf("Amount mismatch: expected %s, got %s", FormatAmount(order.Total), FormatAmount(got)))
		}
	}

	// The gateway contract names the exact uppercase set; anything else,
	// including case variants, is reported verbatim.
	switch strings.TrimSpace(cb.Status) {
	case "SUCCESS", "COMPLETE", "PENDING", "FAILURE":
	default:
		errs = append(errs, fmt.Sprintf("Invalid status: %s", cb.Status))
	}

	return CallbackValidation{Valid: len(errs) == 0, Errors: errs}
}

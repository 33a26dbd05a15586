package esewa_test

import (
	"encoding/base64"
	"testing"

	"kix/internal/esewa"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeCallback(t *testing.T, body string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(body))
}

func TestDecodeCallback(t *testing.T) {
	t.Run("decodes and trims", func(t *testing.T) {
		data := encodeCallback(t, `{
			"transaction_code": "0001ABC",
			"status": "COMPLETE",
			"total_amount": "1000.0",
			"transaction_uuid": " KIX-1-abc ",
			"product_code": "EPAYTEST",
			"signed_field_names": "total_amount,transaction_uuid,product_code",
			"signature": "c2ln"
		}`)

		cb, err := esewa.DecodeCallback(data)
		require.NoError(t, err)

		assert.Equal(t, "KIX-1-abc", cb.TransactionUUID)
		assert.Equal(t, "EPAYTEST", cb.ProductCode)
		assert.Equal(t, "COMPLETE", cb.Status)
		assert.Equal(t, "c2ln", cb.Signature)
	})

	t.Run("numeric total_amount", func(t *testing.T) {
		cb, err := esewa.DecodeCallback(encodeCallback(t, `{"total_amount": 1000.5, "status": "COMPLETE"}`))
		require.NoError(t, err)

		amount, err := esewa.NormalizeAmount(cb.TotalAmount)
		require.NoError(t, err)
		assert.Equal(t, "1000.50", amount)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := esewa.DecodeCallback("not-base64!!!")
		assert.Error(t, err)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := esewa.DecodeCallback(encodeCallback(t, "not json"))
		assert.Error(t, err)
	})
}

func TestNormalizeAmount(t *testing.T) {
	testCases := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{name: "float", in: float64(1000), want: "1000.00"},
		{name: "string", in: "1000.0", want: "1000.00"},
		{name: "string with decimals", in: "19285.5", want: "19285.50"},
		{name: "bad string", in: "abc", wantErr: true},
		{name: "unsupported type", in: []string{"1000"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := esewa.NormalizeAmount(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidateCallback(t *testing.T) {
	order := esewa.OrderSnapshot{
		TransactionID: "KIX-1700000000000-0123456789abcdef0123456789abcdef",
		ProductCode:   "EPAYTEST",
		Total:         1000,
	}

	good := esewa.Callback{
		Status:          "COMPLETE",
		TotalAmount:     "1000.00",
		TransactionUUID: order.TransactionID,
		ProductCode:     order.ProductCode,
	}

	testCases := []struct {
		name       string
		mutate     func(cb *esewa.Callback)
		wantValid  bool
		wantErrors []string
	}{
		{
			name:      "valid callback",
			mutate:    func(cb *esewa.Callback) {},
			wantValid: true,
		},
		{
			name:      "amount inside tolerance",
			mutate:    func(cb *esewa.Callback) { cb.TotalAmount = "1000.005" },
			wantValid: true,
		},
		{
			name:      "numeric amount inside tolerance",
			mutate:    func(cb *esewa.Callback) { cb.TotalAmount = float64(999.995) },
			wantValid: true,
		},
		{
			name:       "tampered amount",
			mutate:     func(cb *esewa.Callback) { cb.TotalAmount = "1005" },
			wantErrors: []string{"Amount mismatch: expected 1000.00, got 1005.00"},
		},
		{
			name: "transaction id mismatch wins even with correct amount",
			mutate: func(cb *esewa.Callback) {
				cb.TransactionUUID = "KIX-1700000000000-ffffffffffffffffffffffffffffffff"
			},
			wantErrors: []string{"Transaction ID mismatch"},
		},
		{
			name:       "product code mismatch",
			mutate:     func(cb *esewa.Callback) { cb.ProductCode = "OTHER" },
			wantErrors: []string{"Product code mismatch"},
		},
		{
			name:       "invalid status",
			mutate:     func(cb *esewa.Callback) { cb.Status = "CANCELED" },
			wantErrors: []string{"Invalid status: CANCELED"},
		},
		{
			name:       "lowercase status is not in the contract",
			mutate:     func(cb *esewa.Callback) { cb.Status = "complete" },
			wantErrors: []string{"Invalid status: complete"},
		},
		{
			name:      "pending is an accepted status",
			mutate:    func(cb *esewa.Callback) { cb.Status = "PENDING" },
			wantValid: true,
		},
		{
			name:      "failure is an accepted status",
			mutate:    func(cb *esewa.Callback) { cb.Status = "FAILURE" },
			wantValid: true,
		},
		{
			name:       "missing transaction uuid",
			mutate:     func(cb *esewa.Callback) { cb.TransactionUUID = "" },
			wantErrors: []string{"Missing transaction_uuid"},
		},
		{
			name:       "missing product code",
			mutate:     func(cb *esewa.Callback) { cb.ProductCode = "" },
			wantErrors: []string{"Missing product_code"},
		},
		{
			name:       "missing amount",
			mutate:     func(cb *esewa.Callback) { cb.TotalAmount = nil },
			wantErrors: []string{"Missing total_amount"},
		},
		{
			name:       "empty string amount counts as missing",
			mutate:     func(cb *esewa.Callback) { cb.TotalAmount = "  " },
			wantErrors: []string{"Missing total_amount"},
		},
		{
			name: "violations accumulate",
			mutate: func(cb *esewa.Callback) {
				cb.TransactionUUID = "KIX-other"
				cb.ProductCode = "OTHER"
				cb.TotalAmount = "5000"
				cb.Status = "HACKED"
			},
			wantErrors: []string{
				"Transaction ID mismatch",
				"Product code mismatch",
				"Amount mismatch: expected 1000.00, got 5000.00",
				"Invalid status: HACKED",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cb := good
			tc.mutate(&cb)

			result := esewa.ValidateCallback(cb, order)

			if tc.wantValid {
				assert.True(t, result.Valid)
				assert.Empty(t, result.Errors)
				return
			}
			assert.False(t, result.Valid)
			assert.Equal(t, tc.wantErrors, result.Errors)
		})
	}
}

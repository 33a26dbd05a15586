package esewa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignedFieldNames is the literal field list eSewa expects to be signed, in
// this exact order. It is submitted verbatim as signed_field_names and doubles
// as the signing order, so the declared list and the actual message can never
// drift apart.
const SignedFieldNames = "total_amount,transaction_uuid,product_code"

// GenerateSignature builds the signing message by joining "key=value" pairs in
// the exact sequence given by fieldOrder (a protocol requirement -- the gateway
// re-derives the same byte string on its side) and returns the base64 encoded
// HMAC-SHA256 digest under the trimmed secret key.
func GenerateSignature(fields map[string]string, fieldOrder []string, secretKey string) (string, error) {
	secret := strings.TrimSpace(secretKey)
	if secret == "" {
		return "", ErrConfiguration
	}

	pairs := make([]string, 0, len(fieldOrder))
	for _, name := range fieldOrder {
		value, ok := fields[name]
		if !ok {
			return "", &MissingFieldError{Field: name}
		}
		pairs = append(pairs, name+"="+value)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature re-derives the signature for the given fields and compares
// it against the one the gateway sent, in constant time.
func VerifySignature(fields map[string]string, fieldOrder []string, secretKey, got string) bool {
	want, err := GenerateSignature(fields, fieldOrder, secretKey)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(got))
}

// SignedFieldOrder returns SignedFieldNames split into the signing sequence.
func SignedFieldOrder() []string {
	return strings.Split(SignedFieldNames, ",")
}

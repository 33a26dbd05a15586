package esewa

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const txnPrefix = "KIX"

// GenerateTransactionID returns a fresh per-attempt transaction uuid in the
// form KIX-<unix-millis>-<32 hex chars>. Uniqueness rests on 128 bits of
// crypto/rand entropy, so concurrent checkouts never need to coordinate.
// A failing random source is unrecoverable and is returned as an error, never
// downgraded to a weaker generator.
func GenerateTransactionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("esewa: read random: %w", err)
	}
	return fmt.Sprintf("%s-%d-%s", txnPrefix, time.Now().UnixMilli(), hex.EncodeToString(buf)), nil
}

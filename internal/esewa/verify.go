package esewa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// VerifyParams identifies the transaction to check. TotalAmount of 0 means
// "not supplied" and is forwarded to the gateway as 0.
type VerifyParams struct {
	TransactionID string
	ProductCode   string
	TotalAmount   float64
}

// VerifyResult is the normalized outcome of a status check. It is returned by
// value: an unverified payment is an expected branch for the order flow, not
// an exception. Error carries the transport or gateway reason when Verified
// is false.
type VerifyResult struct {
	Success       bool
	Verified      bool
	TransactionID string
	Status        string
	RefID         string
	Error         string
}

// statusResponse is the gateway's status-check body.
type statusResponse struct {
	ProductCode     string `json:"product_code"`
	TransactionUUID string `json:"transaction_uuid"`
	TotalAmount     any    `json:"total_amount"`
	Status          string `json:"status"`
	RefID           string `json:"ref_id"`
}

// VerifyPayment asks eSewa for the authoritative state of a transaction.
// The only error return is a missing parameter (caller bug); every transport
// or gateway failure resolves to an unverified result so the order flow can
// park the attempt as pending instead of crashing. The request is bounded by
// the client's verify timeout and aborted when it elapses.
func (c *Client) VerifyPayment(ctx context.Context, p VerifyParams) (VerifyResult, error) {
	if p.TransactionID == "" {
		return VerifyResult{}, &MissingParameterError{Param: "transactionId"}
	}
	if p.ProductCode == "" {
		return VerifyResult{}, &MissingParameterError{Param: "productCode"}
	}

	result := VerifyResult{TransactionID: p.TransactionID}

	amount := "0"
	if p.TotalAmount > 0 {
		amount = FormatAmount(p.TotalAmount)
	}

	// The status base already ends with "?transaction_uuid="; the remaining
	// parameters are appended the way the gateway documents them.
	url := c.config.StatusURL + p.TransactionID +
		"&product_code=" + p.ProductCode +
		"&total_amount=" + amount

	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("build status request: %v", err)
		return result, nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("status check failed: %v", err)
		return result, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Sprintf("status check returned HTTP %d", resp.StatusCode)
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		result.Error = fmt.Sprintf("read status response: %v", err)
		return result, nil
	}

	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		result.Error = fmt.Sprintf("decode status response: %v", err)
		return result, nil
	}

	result.Status = strings.ToUpper(strings.TrimSpace(sr.Status))
	result.RefID = sr.RefID

	switch result.Status {
	case "COMPLETE", "SUCCESS":
		result.Success = true
		result.Verified = true
	default:
		result.Error = fmt.Sprintf("transaction not complete: status %s", result.Status)
	}

	return result, nil
}

// Package payments defines the external payment authority boundary.
// Provider protocol details (Stripe, Razorpay, ...) live behind the
// Authority interface; the coordinator only sees charge success/failure.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDeclined is returned when the authority refuses the charge.
var ErrDeclined = errors.New("payment declined")

// ChargeRequest describes one purchase to authorize and capture.
type ChargeRequest struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	SessionID     uuid.UUID `json:"session_id"`
	ViewerID      uuid.UUID `json:"viewer_id"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
}

// ChargeResult is the authority's answer for a successful charge.
type ChargeResult struct {
	ChargeRef string `json:"charge_ref"`
}

// Authority authorizes and captures charges. Implementations must be
// safe for concurrent use.
type Authority interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// HTTPAuthority posts charges to a configured payment gateway endpoint.
type HTTPAuthority struct {
	endpoint string
	secret   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPAuthority creates an HTTP-backed payment authority.
func NewHTTPAuthority(endpoint, secret string, timeout time.Duration, logger *zap.Logger) *HTTPAuthority {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAuthority{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Charge posts the charge request and interprets a 2xx response as captured.
// A 402 from the gateway maps to ErrDeclined; anything else is a transport error.
func (a *HTTPAuthority) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("marshal charge: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.secret)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result ChargeResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return ChargeResult{}, fmt.Errorf("decode charge result: %w", err)
		}
		return result, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		a.logger.Info("charge declined", zap.String("reservation_id", req.ReservationID.String()))
		return ChargeResult{}, ErrDeclined
	default:
		return ChargeResult{}, fmt.Errorf("payment gateway status %d", resp.StatusCode)
	}
}

// NoopAuthority approves every charge. Used in development when no
// gateway endpoint is configured.
type NoopAuthority struct{}

// Charge always succeeds with a synthetic charge reference.
func (NoopAuthority) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	return ChargeResult{ChargeRef: "noop-" + req.ReservationID.String()}, nil
}

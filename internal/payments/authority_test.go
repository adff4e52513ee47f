package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAuthorityCapturesCharge(t *testing.T) {
	var gotAuth string
	var gotReq ChargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ChargeResult{ChargeRef: "ch_123"})
	}))
	defer srv.Close()

	a := NewHTTPAuthority(srv.URL, "topsecret", 5*time.Second, nil)
	req := ChargeRequest{
		ReservationID: uuid.New(),
		SessionID:     uuid.New(),
		ViewerID:      uuid.New(),
		AmountCents:   12900,
		Currency:      "USD",
	}
	result, err := a.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ch_123", result.ChargeRef)
	assert.Equal(t, "Bearer topsecret", gotAuth)
	assert.Equal(t, req.AmountCents, gotReq.AmountCents)
	assert.Equal(t, req.ReservationID, gotReq.ReservationID)
}

func TestHTTPAuthorityDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	a := NewHTTPAuthority(srv.URL, "topsecret", 5*time.Second, nil)
	_, err := a.Charge(context.Background(), ChargeRequest{ReservationID: uuid.New()})
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestHTTPAuthorityGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAuthority(srv.URL, "topsecret", 5*time.Second, nil)
	_, err := a.Charge(context.Background(), ChargeRequest{ReservationID: uuid.New()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeclined)
}

func TestNoopAuthorityAlwaysApproves(t *testing.T) {
	id := uuid.New()
	result, err := NoopAuthority{}.Charge(context.Background(), ChargeRequest{ReservationID: id})
	require.NoError(t, err)
	assert.Contains(t, result.ChargeRef, id.String())
}

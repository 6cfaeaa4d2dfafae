package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRequest() CaptureRequest {
	return CaptureRequest{
		OrderID:            "ord-1",
		Amount:             decimal.RequireFromString("23.25"),
		DestinationAccount: "acct-a",
		ApplicationFee:     decimal.RequireFromString("2.33"),
		IdempotencyKey:     "capture:ord-1",
	}
}

func TestClient_CreateCapture_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/captures", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "capture:ord-1", r.Header.Get("Idempotency-Key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ord-1", body["order_id"])
		assert.Equal(t, "23.25", body["amount"])
		assert.Equal(t, "acct-a", body["destination_account"])
		assert.Equal(t, "2.33", body["application_fee"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"capture_id":   "cap-1",
			"redirect_url": "https://pay.example.com/cap-1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	handle, err := c.CreateCapture(context.Background(), captureRequest())
	require.NoError(t, err)
	assert.Equal(t, "cap-1", handle.CaptureID)
	assert.Equal(t, "https://pay.example.com/cap-1", handle.RedirectURL)
}

func TestClient_CreateCapture_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "card_declined",
			"message": "insufficient funds",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	_, err := c.CreateCapture(context.Background(), captureRequest())

	var declined *DeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, "card_declined", declined.Code)
	assert.Equal(t, "insufficient funds", declined.Reason)
}

func TestClient_CreateCapture_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "upstream unavailable"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	_, err := c.CreateCapture(context.Background(), captureRequest())
	require.Error(t, err)

	var declined *DeclinedError
	assert.False(t, errors.As(err, &declined))
	assert.Contains(t, err.Error(), "status 502")
}

func TestClient_CreateCapture_ThrottlingIsTransient(t *testing.T) {
	for _, code := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "slow down"})
		}))

		c := NewClient(srv.URL, "test-key", time.Second)
		_, err := c.CreateCapture(context.Background(), captureRequest())
		require.Error(t, err)

		// Not a decline: the settlement retry policy must get a shot.
		var declined *DeclinedError
		assert.False(t, errors.As(err, &declined), "status %d", code)
		assert.Contains(t, err.Error(), "processor busy")
		srv.Close()
	}
}

func TestClient_CreateCapture_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only watches for client disconnect once the request
		// body is consumed; drain it so the context cancellation is seen.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, "test-key", time.Second)
	_, err := c.CreateCapture(ctx, captureRequest())
	require.Error(t, err)
}

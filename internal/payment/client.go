package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// Client is an HTTP adapter for a processor exposing a JSON captures API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a Client for the processor at baseURL. timeout bounds
// each capture call; slow calls surface as transient errors to the caller.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

var _ Processor = (*Client)(nil)

type captureBody struct {
	OrderID            string `json:"order_id"`
	Amount             string `json:"amount"`
	DestinationAccount string `json:"destination_account"`
	ApplicationFee     string `json:"application_fee"`
}

type captureResponse struct {
	CaptureID   string `json:"capture_id"`
	RedirectURL string `json:"redirect_url"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// CreateCapture posts a capture request. 4xx responses map to
// *DeclinedError, except 408 and 429 which are transient; 5xx and transport
// failures are returned as-is for the settlement retry policy to handle.
func (c *Client) CreateCapture(ctx context.Context, req CaptureRequest) (*CaptureHandle, error) {
	body, err := json.Marshal(captureBody{
		OrderID:            req.OrderID,
		Amount:             req.Amount.StringFixed(2),
		DestinationAccount: req.DestinationAccount,
		ApplicationFee:     req.ApplicationFee.StringFixed(2),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal capture request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/captures", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build capture request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "capture call")
	}
	defer resp.Body.Close()

	var out captureResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decode capture response (status %d)", resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &CaptureHandle{CaptureID: out.CaptureID, RedirectURL: out.RedirectURL}, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		// Retryable per the processor contract, unlike other 4xx.
		return nil, errors.Errorf("processor busy: status %d: %s", resp.StatusCode, out.Message)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &DeclinedError{Code: out.Code, Reason: out.Message}
	default:
		return nil, errors.Errorf("processor error: status %d: %s", resp.StatusCode, out.Message)
	}
}

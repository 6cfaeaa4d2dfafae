// Package payment defines the boundary to the external payment processor.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CaptureRequest asks the processor to capture the order total against the
// retailer's connected payout account, with the platform commission as the
// application fee. The idempotency key makes retried requests safe.
type CaptureRequest struct {
	OrderID            string
	Amount             decimal.Decimal
	DestinationAccount string
	ApplicationFee     decimal.Decimal
	IdempotencyKey     string
}

// CaptureHandle is the processor's reference for a created capture, with a
// URL the customer is redirected to for payment completion.
type CaptureHandle struct {
	CaptureID   string
	RedirectURL string
}

// DeclinedError is a permanent processor-side rejection. The order is
// cancelled rather than retried.
type DeclinedError struct {
	Code   string
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Reason)
}

// Processor creates payment captures. Any error other than *DeclinedError is
// treated as transient and retried per the settlement policy.
type Processor interface {
	CreateCapture(ctx context.Context, req CaptureRequest) (*CaptureHandle, error)
}

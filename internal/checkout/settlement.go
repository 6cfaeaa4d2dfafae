package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/velora/pickup-market/internal/domain/order"
	"github.com/velora/pickup-market/internal/payment"
)

// settle requests a capture handle for every order concurrently. Captures are
// independent: a slow or failing retailer never blocks the others. Failed
// orders are cancelled and their allocations compensated before returning.
func (s *Service) settle(
	ctx context.Context,
	attempt *order.CheckoutAttempt,
	orders []*order.Order,
	payoutAccounts map[string]string,
	discountCode string,
) []RetailerResult {
	lg := zctx.From(ctx)
	results := make([]RetailerResult, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	for i, o := range orders {
		g.Go(func() error {
			handle, err := s.capture(gctx, o, payoutAccounts[o.RetailerID])
			results[i] = RetailerResult{
				OrderID:      o.ID,
				RetailerID:   o.RetailerID,
				RetailerName: o.RetailerName,
				Total:        o.Total,
			}
			if err != nil {
				results[i].FailureReason = err.Error()
				lg.Warn("capture failed",
					zap.String("order_id", o.ID),
					zap.String("retailer_id", o.RetailerID),
					zap.Error(err),
				)
				return nil
			}
			results[i].Captured = true
			results[i].RedirectURL = handle.RedirectURL
			if err := s.orders.SetCapture(ctx, o.ID, handle.CaptureID, handle.RedirectURL); err != nil {
				lg.Error("record capture handle", zap.String("order_id", o.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	// Compensate every failed group before reporting back.
	failed := 0
	for i, r := range results {
		if r.Captured {
			continue
		}
		failed++
		if err := s.compensate(ctx, orders[i], r.FailureReason); err != nil {
			lg.Error("compensation failed",
				zap.String("order_id", orders[i].ID),
				zap.Error(err),
			)
		}
	}

	// The discount use belongs to the whole attempt; it is released only when
	// no order survived to use it.
	totalDiscount := decimal.Zero
	for _, o := range orders {
		totalDiscount = totalDiscount.Add(o.DiscountAmount)
	}
	if failed == len(orders) && discountCode != "" && totalDiscount.IsPositive() {
		if err := s.codes.ReleaseUse(ctx, discountCode); err != nil {
			lg.Error("release discount use",
				zap.String("attempt_id", attempt.ID),
				zap.Error(err),
			)
		}
	}
	return results
}

// capture calls the processor for one order with bounded retries. Declines
// are permanent; everything else backs off exponentially up to MaxAttempts.
func (s *Service) capture(ctx context.Context, o *order.Order, payoutAccount string) (*payment.CaptureHandle, error) {
	req := payment.CaptureRequest{
		OrderID:            o.ID,
		Amount:             o.Total,
		DestinationAccount: payoutAccount,
		ApplicationFee:     o.PlatformCommission,
		IdempotencyKey:     "capture:" + o.ID,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Settlement.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Settlement.Timeout)
		handle, err := s.processor.CreateCapture(callCtx, req)
		cancel()
		if err == nil {
			return handle, nil
		}

		var declined *payment.DeclinedError
		if errors.As(err, &declined) {
			return nil, err
		}
		lastErr = err

		if attempt < s.cfg.Settlement.MaxAttempts {
			backoff := s.cfg.Settlement.Backoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, errors.Wrapf(lastErr, "capture retries exhausted after %d attempts", s.cfg.Settlement.MaxAttempts)
}

// compensate cancels a failed order and returns its allocated points. The
// refund credit is idempotent by ref, so repeated compensation is safe.
func (s *Service) compensate(ctx context.Context, o *order.Order, reason string) error {
	from := o.Status
	if err := o.Cancel(reason, s.now()); err != nil {
		return err
	}
	if err := s.orders.UpdateStatus(ctx, o, from); err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if o.PointsRedeemed.IsPositive() {
		if err := s.ledger.Credit(ctx, o.CustomerID, o.PointsRedeemed, "refund:"+o.ID); err != nil {
			return errors.Wrap(err, "refund points")
		}
	}
	return nil
}

package order

import "time"

// Status is an order's lifecycle state after payment capture.
type Status string

const (
	// StatusPending awaits the payment processor's completion callback.
	StatusPending Status = "pending"
	// StatusProcessing means payment completed and the retailer is preparing
	// the order.
	StatusProcessing Status = "processing"
	// StatusReadyForPickup means the retailer has the order waiting.
	StatusReadyForPickup Status = "ready_for_pickup"
	// StatusPickedUp is the terminal success state.
	StatusPickedUp Status = "picked_up"
	// StatusCancelled is terminal and reachable from any non-terminal state.
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:        {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:     {StatusReadyForPickup: true, StatusCancelled: true},
	StatusReadyForPickup: {StatusPickedUp: true, StatusCancelled: true},
	StatusPickedUp:       {},
	StatusCancelled:      {},
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}

// CanTransition reports whether the status machine allows from -> to.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid status transition from " + string(e.From) + " to " + string(e.To)
}

// Transition moves the order to the given status, stamping the lifecycle
// timestamps exactly once on first entry to their state. The order is not
// modified when the transition is rejected.
func (o *Order) Transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}

	o.Status = to
	o.UpdatedAt = now
	switch to {
	case StatusReadyForPickup:
		if o.ReadyForPickupAt == nil {
			t := now
			o.ReadyForPickupAt = &t
		}
	case StatusPickedUp:
		if o.PickedUpAt == nil {
			t := now
			o.PickedUpAt = &t
		}
	}
	return nil
}

// Cancel transitions the order to cancelled and records the reason.
func (o *Order) Cancel(reason string, now time.Time) error {
	if err := o.Transition(StatusCancelled, now); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}

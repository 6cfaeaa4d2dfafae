package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusReadyForPickup, StatusPickedUp, StatusCancelled}

	allowed := map[Status][]Status{
		StatusPending:        {StatusProcessing, StatusCancelled},
		StatusProcessing:     {StatusReadyForPickup, StatusCancelled},
		StatusReadyForPickup: {StatusPickedUp, StatusCancelled},
		StatusPickedUp:       {},
		StatusCancelled:      {},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusPending))
	assert.True(t, ValidStatus(StatusPickedUp))
	assert.False(t, ValidStatus("shipped"))
	assert.False(t, ValidStatus(""))
}

func TestOrder_Transition_FullLifecycle(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o := &Order{Status: StatusPending}

	require.NoError(t, o.Transition(StatusProcessing, t0))
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Nil(t, o.ReadyForPickupAt)

	t1 := t0.Add(time.Hour)
	require.NoError(t, o.Transition(StatusReadyForPickup, t1))
	require.NotNil(t, o.ReadyForPickupAt)
	assert.Equal(t, t1, *o.ReadyForPickupAt)

	t2 := t1.Add(time.Hour)
	require.NoError(t, o.Transition(StatusPickedUp, t2))
	require.NotNil(t, o.PickedUpAt)
	assert.Equal(t, t2, *o.PickedUpAt)
	assert.Equal(t, t2, o.UpdatedAt)
}

func TestOrder_Transition_RejectedLeavesOrderUnchanged(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o := &Order{Status: StatusPending, UpdatedAt: t0}

	err := o.Transition(StatusPickedUp, t0.Add(time.Hour))

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusPending, invalid.From)
	assert.Equal(t, StatusPickedUp, invalid.To)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, t0, o.UpdatedAt)
	assert.Nil(t, o.PickedUpAt)
}

func TestOrder_Transition_TerminalStatesAreFinal(t *testing.T) {
	now := time.Now()

	picked := &Order{Status: StatusPickedUp}
	require.Error(t, picked.Transition(StatusCancelled, now))

	cancelled := &Order{Status: StatusCancelled}
	require.Error(t, cancelled.Transition(StatusProcessing, now))
}

func TestOrder_Transition_TimestampsSetOnce(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stamped := t0.Add(-time.Hour)
	o := &Order{Status: StatusProcessing, ReadyForPickupAt: &stamped}

	require.NoError(t, o.Transition(StatusReadyForPickup, t0))
	assert.Equal(t, stamped, *o.ReadyForPickupAt)
}

func TestOrder_Cancel(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o := &Order{Status: StatusProcessing}

	require.NoError(t, o.Cancel("payment failed", now))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "payment failed", o.CancelReason)

	err := o.Cancel("again", now)
	require.Error(t, err)
	assert.Equal(t, "payment failed", o.CancelReason)
}

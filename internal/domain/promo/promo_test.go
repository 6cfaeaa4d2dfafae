package promo

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora/pickup-market/internal/domain/points"
)

type mockCodeRepo struct {
	rule          *Rule
	err           error
	incrementCode string
	releaseCode   string
}

func (m *mockCodeRepo) FindByCode(_ context.Context, _ string) (*Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rule, nil
}

func (m *mockCodeRepo) IncrementUses(_ context.Context, code string) error {
	m.incrementCode = code
	return nil
}

func (m *mockCodeRepo) ReleaseUse(_ context.Context, code string) error {
	m.releaseCode = code
	return nil
}

type mockBalanceReader struct {
	balance decimal.Decimal
	err     error
}

func (m *mockBalanceReader) Balance(_ context.Context, _ string) (decimal.Decimal, error) {
	return m.balance, m.err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestResolver_ValidateDiscount(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pastTime := fixedNow.Add(-24 * time.Hour)
	futureTime := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		repo       *mockCodeRepo
		orderTotal string
		wantAmount string
		wantErr    error
	}{
		{
			name: "fixed discount",
			repo: &mockCodeRepo{rule: &Rule{
				Code:  "FIVER",
				Type:  DiscountFixed,
				Value: dec("5.00"),
			}},
			orderTotal: "40.00",
			wantAmount: "5.00",
		},
		{
			name: "percentage discount rounds to 2 places",
			repo: &mockCodeRepo{rule: &Rule{
				Code:  "TEN",
				Type:  DiscountPercentage,
				Value: dec("10"),
			}},
			orderTotal: "33.33",
			wantAmount: "3.33",
		},
		{
			name: "percentage discount capped by max",
			repo: &mockCodeRepo{rule: &Rule{
				Code:        "BIGCAP",
				Type:        DiscountPercentage,
				Value:       dec("50"),
				MaxDiscount: dec("8.00"),
			}},
			orderTotal: "100.00",
			wantAmount: "8.00",
		},
		{
			name: "fixed discount never exceeds order total",
			repo: &mockCodeRepo{rule: &Rule{
				Code:  "HUGE",
				Type:  DiscountFixed,
				Value: dec("50.00"),
			}},
			orderTotal: "12.00",
			wantAmount: "12.00",
		},
		{
			name:       "unknown code",
			repo:       &mockCodeRepo{err: ErrDiscountNotFound},
			orderTotal: "40.00",
			wantErr:    ErrDiscountNotFound,
		},
		{
			name: "not yet valid",
			repo: &mockCodeRepo{rule: &Rule{
				Code:      "SOON",
				Type:      DiscountFixed,
				Value:     dec("5.00"),
				ValidFrom: &futureTime,
			}},
			orderTotal: "40.00",
			wantErr:    ErrDiscountExpired,
		},
		{
			name: "expired",
			repo: &mockCodeRepo{rule: &Rule{
				Code:       "OLD",
				Type:       DiscountFixed,
				Value:      dec("5.00"),
				ValidUntil: &pastTime,
			}},
			orderTotal: "40.00",
			wantErr:    ErrDiscountExpired,
		},
		{
			name: "usage limit reached",
			repo: &mockCodeRepo{rule: &Rule{
				Code:    "SPENT",
				Type:    DiscountFixed,
				Value:   dec("5.00"),
				MaxUses: 10,
				Uses:    10,
			}},
			orderTotal: "40.00",
			wantErr:    ErrDiscountUsageExceeded,
		},
		{
			name: "unlimited uses",
			repo: &mockCodeRepo{rule: &Rule{
				Code:    "FOREVER",
				Type:    DiscountFixed,
				Value:   dec("5.00"),
				MaxUses: 0,
				Uses:    9999,
			}},
			orderTotal: "40.00",
			wantAmount: "5.00",
		},
		{
			name: "order below minimum",
			repo: &mockCodeRepo{rule: &Rule{
				Code:          "MIN25",
				Type:          DiscountFixed,
				Value:         dec("5.00"),
				MinOrderTotal: dec("25.00"),
			}},
			orderTotal: "24.99",
			wantErr:    ErrDiscountMinimumNotMet,
		},
		{
			name: "order exactly at minimum",
			repo: &mockCodeRepo{rule: &Rule{
				Code:          "MIN25",
				Type:          DiscountFixed,
				Value:         dec("5.00"),
				MinOrderTotal: dec("25.00"),
			}},
			orderTotal: "25.00",
			wantAmount: "5.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.repo, &mockBalanceReader{})
			r.now = func() time.Time { return fixedNow }

			got, err := r.ValidateDiscount(context.Background(), "CODE", dec(tt.orderTotal))

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tt.wantAmount).Equal(got), "expected %s, got %s", tt.wantAmount, got)
		})
	}
}

func TestResolver_ValidateDiscount_RepoError(t *testing.T) {
	r := NewResolver(&mockCodeRepo{err: errors.New("db down")}, &mockBalanceReader{})
	_, err := r.ValidateDiscount(context.Background(), "ANY", dec("10.00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup discount code")
}

func TestResolver_ValidateRedemption(t *testing.T) {
	tests := []struct {
		name       string
		balance    string
		requested  string
		orderTotal string
		discount   string
		useMax     bool
		wantAmount string
		wantErr    error
	}{
		{
			name:       "exact request within balance and total",
			balance:    "10.00",
			requested:  "4.00",
			orderTotal: "40.00",
			discount:   "5.00",
			wantAmount: "4.00",
		},
		{
			name:       "request above balance",
			balance:    "3.00",
			requested:  "4.00",
			orderTotal: "40.00",
			discount:   "0.00",
			wantErr:    points.ErrInsufficientPoints,
		},
		{
			name:       "request above post-discount remainder",
			balance:    "50.00",
			requested:  "36.00",
			orderTotal: "40.00",
			discount:   "5.00",
			wantErr:    ErrRedemptionExceedsTotal,
		},
		{
			name:       "use max clamps to balance",
			balance:    "3.00",
			requested:  "10.00",
			orderTotal: "40.00",
			discount:   "0.00",
			useMax:     true,
			wantAmount: "3.00",
		},
		{
			name:       "use max clamps to remainder",
			balance:    "100.00",
			requested:  "100.00",
			orderTotal: "40.00",
			discount:   "5.00",
			useMax:     true,
			wantAmount: "35.00",
		},
		{
			name:       "use max without amount spends as much as possible",
			balance:    "12.00",
			requested:  "0.00",
			orderTotal: "40.00",
			discount:   "5.00",
			useMax:     true,
			wantAmount: "12.00",
		},
		{
			name:       "use max honors a lower requested cap",
			balance:    "12.00",
			requested:  "6.00",
			orderTotal: "40.00",
			discount:   "5.00",
			useMax:     true,
			wantAmount: "6.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&mockCodeRepo{}, &mockBalanceReader{balance: dec(tt.balance)})

			got, err := r.ValidateRedemption(context.Background(), "cust-1",
				dec(tt.requested), dec(tt.orderTotal), dec(tt.discount), tt.useMax)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tt.wantAmount).Equal(got), "expected %s, got %s", tt.wantAmount, got)
		})
	}
}

func TestRule_Amount(t *testing.T) {
	percent := &Rule{Type: DiscountPercentage, Value: dec("15")}
	assert.True(t, percent.Amount(dec("19.99")).Equal(dec("3.00")))

	fixed := &Rule{Type: DiscountFixed, Value: dec("2.50")}
	assert.True(t, fixed.Amount(dec("1.00")).Equal(dec("1.00")))
}

package points

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/catalog"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, catalog.Sync(ctx, db, catalog.Default()))
	require.NoError(t, db.UpsertAccount(ctx, domain.Account{ID: "acc-1", Kind: domain.AccountB2B, Active: true}))
	return New(DefaultConfig(), db, observability.Discard()), db
}

func sumEntries(t *testing.T, db *sqlite.DB, account string) int64 {
	t.Helper()
	entries, err := db.Entries(context.Background(), account, 10_000)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	return sum
}

func TestPointsFor(t *testing.T) {
	tests := []struct {
		perEuro string
		amount  string
		want    int64
	}{
		{"1", "1000", 1000},
		{"1", "99.99", 99},
		{"1", "0.99", 0},
		{"1.5", "10.5", 15},
		{"0.1", "1234", 123},
	}
	for _, tt := range tests {
		t.Run(tt.perEuro+"x"+tt.amount, func(t *testing.T) {
			l := New(Config{PerEuro: decimal.RequireFromString(tt.perEuro)}, nil, observability.Discard())
			got, err := l.PointsFor(decimal.RequireFromString(tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointsFor_TooLarge(t *testing.T) {
	l := New(DefaultConfig(), nil, observability.Discard())

	got, err := l.PointsFor(decimal.RequireFromString("9223372036854775807.99"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	_, err = l.PointsFor(decimal.RequireFromString("20000000000000000000"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAward_TooLargeWritesNothing(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Award(ctx, "ord-1", "acc-1", decimal.RequireFromString("20000000000000000000"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(0), sumEntries(t, db, "acc-1"))
}

func TestAward_ColonIDsDoNotCollide(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Award(ctx, "c", "a:b", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := l.Award(ctx, "b:c", "a", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, second.Duplicate, "a different (account, order) pair is not a redelivery")
	assert.Equal(t, int64(100), second.Balance)
	assert.Equal(t, int64(100), sumEntries(t, db, "a"))
	assert.Equal(t, int64(100), sumEntries(t, db, "a:b"))
}

func TestAward_Idempotent(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Award(ctx, "ord-1", "acc-1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(1000), first.Points)
	assert.Equal(t, int64(1000), first.Balance)

	second, err := l.Award(ctx, "ord-1", "acc-1", decimal.NewFromInt(1000))
	require.NoError(t, err, "a duplicate accrual is not an error")
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(1000), second.Balance)

	entries, err := db.Entries(ctx, "acc-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAward_ConcurrentDuplicates(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Award(ctx, "ord-1", "acc-1", decimal.NewFromInt(250))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := l.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), bal)
	assert.Equal(t, bal, sumEntries(t, db, "acc-1"))
}

func TestAward_ZeroPointsWritesNothing(t *testing.T) {
	l, db := newTestLedger(t)
	res, err := l.Award(context.Background(), "ord-1", "acc-1", decimal.RequireFromString("0.50"))
	require.NoError(t, err)
	assert.Zero(t, res.Points)
	assert.False(t, res.Duplicate)
	entries, _ := db.Entries(context.Background(), "acc-1", 0)
	assert.Empty(t, entries)
}

func TestAward_NegativeAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Award(context.Background(), "ord-1", "acc-1", decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, domain.ErrNegativeAmount)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRedeem(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Award(ctx, "ord-1", "acc-1", decimal.NewFromInt(600))
	require.NoError(t, err)

	entry, err := l.Redeem(ctx, "acc-1", "bon-50")
	require.NoError(t, err)
	assert.Equal(t, int64(-500), entry.Delta)
	assert.Equal(t, domain.ReasonRedemption, entry.Reason)
	assert.NotEmpty(t, entry.ID)

	_, err = l.Redeem(ctx, "acc-1", "livraison-offerte")
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)
	assert.Equal(t, domain.KindState, domain.KindOf(err))

	bal, _ := l.Balance(ctx, "acc-1")
	assert.Equal(t, int64(100), bal)
}

func TestRedeem_UnknownOrInactiveReward(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertReward(ctx, domain.Reward{ID: "retired", Title: "Retired", PointsCost: 1, Active: false}))
	_, err := l.Award(ctx, "ord-1", "acc-1", decimal.NewFromInt(100))
	require.NoError(t, err)

	for _, id := range []string{"nope", "retired"} {
		_, err := l.Redeem(ctx, "acc-1", id)
		assert.ErrorIs(t, err, domain.ErrRewardNotFound, id)
	}
}

func TestRedeem_ConcurrentNeverOverdraws(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Award(ctx, "ord-1", "acc-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, poor int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Redeem(ctx, "acc-1", "livraison-offerte")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientPoints):
				poor++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok, "1000 points buy three 300-point rewards")
	assert.Equal(t, attempts-3, poor)
	bal, err := l.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)
	assert.Equal(t, bal, sumEntries(t, db, "acc-1"))
}

func TestAdjust(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Adjust(ctx, "acc-1", 50, "goodwill")
	require.NoError(t, err)

	_, err = l.Adjust(ctx, "acc-1", -80, "correction")
	assert.ErrorIs(t, err, domain.ErrInsufficientPoints)

	entry, err := l.Adjust(ctx, "acc-1", -50, "correction")
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonAdjustment, entry.Reason)

	_, err = l.Adjust(ctx, "acc-1", 0, "nothing")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = l.Adjust(ctx, "acc-1", 10, " ")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = l.Adjust(ctx, "ghost", 10, "x")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestCredit_Keyed(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	key := domain.ReferralRewardKey("acc-1", "red-1")

	inserted, err := l.Credit(ctx, "acc-1", 200, key, domain.ReasonReferralReward)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = l.Credit(ctx, "acc-1", 200, key, domain.ReasonReferralReward)
	require.NoError(t, err)
	assert.False(t, inserted)

	bal, _ := l.Balance(ctx, "acc-1")
	assert.Equal(t, int64(200), bal)

	_, err = l.Credit(ctx, "acc-1", 0, "k", domain.ReasonReferralReward)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBalance_EqualsSumOfEntries(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Award(ctx, fmt.Sprintf("ord-%d", i), "acc-1", decimal.NewFromInt(int64(100*(i+1))))
		require.NoError(t, err)
	}
	_, err := l.Redeem(ctx, "acc-1", "bon-100")
	require.NoError(t, err)
	_, err = l.Adjust(ctx, "acc-1", -1, "rounding")
	require.NoError(t, err)

	bal, err := l.Balance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500-900-1), bal)
	assert.Equal(t, bal, sumEntries(t, db, "acc-1"))

	history, err := l.Entries(ctx, "acc-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ReasonAdjustment, history[0].Reason)
}

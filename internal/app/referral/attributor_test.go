package referral

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/loyalty/internal/app/points"
	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

func newTestAttributor(t *testing.T, accounts ...string) (*Attributor, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	for _, id := range accounts {
		require.NoError(t, db.UpsertAccount(ctx, domain.Account{ID: id, Kind: domain.AccountB2C, Active: true}))
	}
	logger := observability.Discard()
	ledger := points.New(points.DefaultConfig(), db, logger)
	return New(Config{RewardPoints: 200}, db, ledger, logger), db
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in, want string
		valid    bool
	}{
		{"ABCD-EFGH", "ABCD-EFGH", true},
		{"abcd-efgh", "ABCD-EFGH", true},
		{" abcd efgh ", "ABCD-EFGH", true},
		{"abcdefgh", "ABCD-EFGH", true},
		{"ABCD-EFG0", "ABCD-EFG0", false},
		{"ABCD-EFGI", "ABCD-EFGI", false},
		{"ABC-DEFGH", "ABC-DEFGH", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeCode(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.valid, ValidCode(got))
		})
	}
}

func TestGenerateCode_OnePerAccount(t *testing.T) {
	a, _ := newTestAttributor(t, "alice")
	ctx := context.Background()

	first, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ValidCode(first.Code), "code %q", first.Code)
	assert.Equal(t, "alice", first.OwnerAccountID)

	second, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)

	_, err = a.GenerateCode(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestGenerateCode_RetriesOnCollision(t *testing.T) {
	a, _ := newTestAttributor(t, "alice", "bob")
	ctx := context.Background()

	// Both accounts draw the same first code; bob's second draw differs.
	draws := append(make([]byte, 16), bytes.Repeat([]byte{1}, 8)...)
	a.rand = bytes.NewReader(draws)

	alice, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "AAAA-AAAA", alice.Code)

	bob, err := a.GenerateCode(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "BBBB-BBBB", bob.Code)
}

func TestGenerateCode_GivesUpAfterMaxAttempts(t *testing.T) {
	a, _ := newTestAttributor(t, "alice", "bob")
	ctx := context.Background()
	a.rand = bytes.NewReader(make([]byte, 8*(maxCodeAttempts+1)))

	_, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	_, err = a.GenerateCode(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrCodeCollision)
}

func TestAttribute(t *testing.T) {
	a, _ := newTestAttributor(t, "alice", "bob", "carol")
	ctx := context.Background()
	code, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)

	r, err := a.Attribute(ctx, code.Code, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RedemptionPending, r.Status)
	assert.Equal(t, "alice", r.ReferrerAccountID)
	assert.NotEmpty(t, r.ID)

	tests := []struct {
		name    string
		code    string
		account string
		want    error
		kind    domain.Kind
	}{
		{"malformed", "nope", "carol", domain.ErrInvalidCode, domain.KindValidation},
		{"unknown code", "ZZZZ-ZZZZ", "carol", domain.ErrCodeNotFound, domain.KindNotFound},
		{"unknown account", code.Code, "ghost", domain.ErrAccountNotFound, domain.KindNotFound},
		{"self referral", code.Code, "alice", domain.ErrSelfReferral, domain.KindState},
		{"already redeemed", code.Code, "bob", domain.ErrAlreadyRedeemed, domain.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Attribute(ctx, tt.code, tt.account)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestQualify_CreditsReferrerOnce(t *testing.T) {
	a, db := newTestAttributor(t, "alice", "bob")
	ctx := context.Background()
	code, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	r, err := a.Attribute(ctx, code.Code, "bob")
	require.NoError(t, err)

	res, err := a.Qualify(ctx, r.ID, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedemptionQualified, res.Redemption.Status)
	require.NotNil(t, res.Redemption.QualifyingOrderID)
	assert.Equal(t, "ord-1", *res.Redemption.QualifyingOrderID)
	assert.True(t, res.RewardRecorded)
	assert.Equal(t, int64(200), res.RewardPoints)

	_, err = a.Qualify(ctx, r.ID, "ord-2")
	assert.ErrorIs(t, err, domain.ErrRedemptionSettled)

	bal, err := db.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)

	pending, err := a.PendingFor(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestQualify_Concurrent(t *testing.T) {
	a, db := newTestAttributor(t, "alice", "bob")
	ctx := context.Background()
	code, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	r, err := a.Attribute(ctx, code.Code, "bob")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Qualify(ctx, r.ID, "ord-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrRedemptionSettled):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	bal, err := db.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal)
}

func TestQualify_OrderFromAnotherAccount(t *testing.T) {
	a, db := newTestAttributor(t, "alice", "bob", "carol")
	ctx := context.Background()
	code, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	r, err := a.Attribute(ctx, code.Code, "bob")
	require.NoError(t, err)
	require.NoError(t, db.EnsureOrder(ctx, domain.Order{ID: "ord-c", AccountID: "carol", AmountHT: decimal.NewFromInt(90)}))

	_, err = a.Qualify(ctx, r.ID, "ord-c")
	assert.ErrorIs(t, err, domain.ErrOrderAccountMismatch)

	pending, err := a.PendingFor(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, pending, "failed qualification leaves the redemption pending")
}

func TestQualify_UnknownRedemption(t *testing.T) {
	a, _ := newTestAttributor(t)
	_, err := a.Qualify(context.Background(), "missing", "ord-1")
	assert.ErrorIs(t, err, domain.ErrRedemptionNotFound)
}

func TestReject(t *testing.T) {
	a, db := newTestAttributor(t, "alice", "bob")
	ctx := context.Background()
	code, err := a.GenerateCode(ctx, "alice")
	require.NoError(t, err)
	r, err := a.Attribute(ctx, code.Code, "bob")
	require.NoError(t, err)

	rejected, err := a.Reject(ctx, r.ID, " fraud ")
	require.NoError(t, err)
	assert.Equal(t, domain.RedemptionRejected, rejected.Status)
	assert.Equal(t, "fraud", rejected.RejectReason)

	_, err = a.Qualify(ctx, r.ID, "ord-1")
	assert.ErrorIs(t, err, domain.ErrRedemptionSettled)
	_, err = a.Reject(ctx, r.ID, "again")
	assert.ErrorIs(t, err, domain.ErrRedemptionSettled)

	bal, _ := db.Balance(ctx, "alice")
	assert.Zero(t, bal)

	list, err := a.Redemptions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.RedemptionRejected, list[0].Status)
}

func TestConfig_Qualifies(t *testing.T) {
	cfg := Config{MinOrderAmount: decimal.NewFromInt(50)}
	assert.False(t, cfg.Qualifies(decimal.RequireFromString("49.99")))
	assert.True(t, cfg.Qualifies(decimal.NewFromInt(50)))
	assert.True(t, DefaultConfig().Qualifies(decimal.Zero))
}

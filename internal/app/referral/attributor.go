// Package referral manages referral codes and their redemptions.
//
// Lifecycle of a redemption:
//
//	Attribute → Pending ──Qualify──→ Qualified (referrer credited once)
//	                    └─Reject───→ Rejected
//
// Both transitions are compare-and-swap updates on status = pending, so
// concurrent callers never both succeed.
package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/app/points"
	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// alphabet has no 0/O or 1/I so codes survive being read aloud.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 8

var codePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`)

// NormalizeCode upper-cases a code, drops spaces and restores the dash.
func NormalizeCode(code string) string {
	c := strings.ToUpper(strings.Join(strings.Fields(code), ""))
	if len(c) == 8 && !strings.Contains(c, "-") {
		c = c[:4] + "-" + c[4:]
	}
	return c
}

// ValidCode reports whether code is a well-formed, normalized code.
func ValidCode(code string) bool { return codePattern.MatchString(code) }

// Config controls referral rewards.
type Config struct {
	RewardPoints   int64           // credited to the referrer on qualification (default: 500)
	MinOrderAmount decimal.Decimal // smallest amount_ht that qualifies a referral (default: 0)
}

// DefaultConfig returns referral defaults.
func DefaultConfig() Config {
	return Config{RewardPoints: 500, MinOrderAmount: decimal.Zero}
}

// Qualifies reports whether an order of amountHT is large enough to qualify a
// pending referral.
func (c Config) Qualifies(amountHT decimal.Decimal) bool {
	return amountHT.GreaterThanOrEqual(c.MinOrderAmount)
}

// Attributor issues codes and tracks redemptions.
type Attributor struct {
	db     *sqlite.DB
	ledger *points.Ledger
	cfg    Config
	log    *slog.Logger
	rand   io.Reader
	now    func() time.Time
}

// New creates an attributor. Referrer rewards are credited through ledger.
func New(cfg Config, db *sqlite.DB, ledger *points.Ledger, logger *slog.Logger) *Attributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Attributor{
		db:     db,
		ledger: ledger,
		cfg:    cfg,
		log:    logger.With("component", "referral"),
		rand:   rand.Reader,
		now:    time.Now,
	}
}

// GenerateCode returns the account's referral code, creating it on first use.
func (a *Attributor) GenerateCode(ctx context.Context, accountID string) (domain.ReferralCode, error) {
	if !domain.ValidID(accountID) {
		return domain.ReferralCode{}, domain.Validationf("account_id %q is not a valid identifier", accountID)
	}
	if _, err := a.db.GetAccount(ctx, accountID); err != nil {
		return domain.ReferralCode{}, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if existing, err := a.db.GetReferralCodeByOwner(ctx, accountID); err == nil {
			return existing, nil
		} else if !errors.Is(err, domain.ErrCodeNotFound) {
			return domain.ReferralCode{}, err
		}

		code, err := a.newCode()
		if err != nil {
			return domain.ReferralCode{}, err
		}
		rc := domain.ReferralCode{Code: code, OwnerAccountID: accountID, CreatedAt: a.now().UTC()}
		err = a.db.InsertReferralCode(ctx, rc)
		if err == nil {
			a.log.Info("referral code issued", "account_id", accountID, "code", code)
			return rc, nil
		}
		if !errors.Is(err, domain.ErrCodeCollision) {
			return domain.ReferralCode{}, err
		}
		a.log.Debug("referral code collision, retrying", "attempt", attempt+1)
	}
	return domain.ReferralCode{}, fmt.Errorf("%w after %d attempts", domain.ErrCodeCollision, maxCodeAttempts)
}

func (a *Attributor) newCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(a.rand, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	var sb strings.Builder
	for i, b := range buf {
		if i == 4 {
			sb.WriteByte('-')
		}
		sb.WriteByte(alphabet[int(b)%len(alphabet)])
	}
	return sb.String(), nil
}

// Attribute records that newAccountID signed up with code.
func (a *Attributor) Attribute(ctx context.Context, code, newAccountID string) (domain.ReferralRedemption, error) {
	req := domain.AttributeReferralRequest{Code: code, NewAccountID: newAccountID}
	if err := req.Validate(); err != nil {
		return domain.ReferralRedemption{}, err
	}
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return domain.ReferralRedemption{}, fmt.Errorf("%w %q", domain.ErrInvalidCode, code)
	}

	var r domain.ReferralRedemption
	err := a.db.WithTx(ctx, func(tx *sqlite.DB) error {
		rc, err := tx.GetReferralCode(ctx, code)
		if err != nil {
			return err
		}
		if _, err := tx.GetAccount(ctx, newAccountID); err != nil {
			return err
		}
		if rc.OwnerAccountID == newAccountID {
			return domain.ErrSelfReferral
		}
		now := a.now().UTC()
		r = domain.ReferralRedemption{
			ID:                uuid.New().String(),
			Code:              code,
			ReferrerAccountID: rc.OwnerAccountID,
			ReferredAccountID: newAccountID,
			Status:            domain.RedemptionPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return tx.InsertRedemption(ctx, r)
	})
	if err != nil {
		return domain.ReferralRedemption{}, err
	}

	observability.ReferralTransitions.WithLabelValues(string(domain.RedemptionPending)).Inc()
	a.log.Info("referral attributed", "redemption_id", r.ID,
		"referrer", r.ReferrerAccountID, "referred", r.ReferredAccountID)
	return r, nil
}

// Qualify moves a pending redemption to qualified and credits the referrer in
// the same transaction. A redemption that is no longer pending yields
// domain.ErrRedemptionSettled.
func (a *Attributor) Qualify(ctx context.Context, redemptionID, orderID string) (domain.QualifyResult, error) {
	req := domain.QualifyReferralRequest{RedemptionID: redemptionID, OrderID: orderID}
	if err := req.Validate(); err != nil {
		return domain.QualifyResult{}, err
	}

	var res domain.QualifyResult
	err := a.db.WithTx(ctx, func(tx *sqlite.DB) error {
		r, err := tx.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		order, err := tx.GetOrder(ctx, orderID)
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
		case err != nil:
			return err
		case order.AccountID != r.ReferredAccountID:
			return fmt.Errorf("%w: order %s is not from the referred account", domain.ErrOrderAccountMismatch, orderID)
		}

		ok, err := tx.QualifyRedemption(ctx, redemptionID, orderID, a.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is %s", domain.ErrRedemptionSettled, redemptionID, r.Status)
		}
		if res.Redemption, err = tx.GetRedemption(ctx, redemptionID); err != nil {
			return err
		}

		if a.cfg.RewardPoints > 0 {
			key := domain.ReferralRewardKey(r.ReferrerAccountID, redemptionID)
			recorded, err := a.ledger.WithDB(tx).Credit(ctx, r.ReferrerAccountID, a.cfg.RewardPoints, key, domain.ReasonReferralReward)
			if err != nil {
				return fmt.Errorf("credit referrer: %w", err)
			}
			res.RewardPoints = a.cfg.RewardPoints
			res.RewardRecorded = recorded
		}
		return nil
	})
	if err != nil {
		return domain.QualifyResult{}, err
	}

	observability.ReferralTransitions.WithLabelValues(string(domain.RedemptionQualified)).Inc()
	a.log.Info("referral qualified", "redemption_id", redemptionID, "order_id", orderID,
		"referrer", res.Redemption.ReferrerAccountID, "reward_points", res.RewardPoints)
	return res, nil
}

// Reject moves a pending redemption to rejected. Rejection is terminal.
func (a *Attributor) Reject(ctx context.Context, redemptionID, reason string) (domain.ReferralRedemption, error) {
	if !domain.ValidID(redemptionID) {
		return domain.ReferralRedemption{}, domain.Validationf("redemption_id %q is not a valid identifier", redemptionID)
	}
	var r domain.ReferralRedemption
	err := a.db.WithTx(ctx, func(tx *sqlite.DB) error {
		cur, err := tx.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		ok, err := tx.RejectRedemption(ctx, redemptionID, strings.TrimSpace(reason), a.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is %s", domain.ErrRedemptionSettled, redemptionID, cur.Status)
		}
		r, err = tx.GetRedemption(ctx, redemptionID)
		return err
	})
	if err != nil {
		return domain.ReferralRedemption{}, err
	}
	observability.ReferralTransitions.WithLabelValues(string(domain.RedemptionRejected)).Inc()
	a.log.Info("referral rejected", "redemption_id", redemptionID, "reason", r.RejectReason)
	return r, nil
}

// PendingFor returns the referred account's pending redemption, or nil.
func (a *Attributor) PendingFor(ctx context.Context, referredAccountID string) (*domain.ReferralRedemption, error) {
	r, err := a.db.GetRedemptionByReferred(ctx, referredAccountID)
	if errors.Is(err, domain.ErrRedemptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.Status != domain.RedemptionPending {
		return nil, nil
	}
	return &r, nil
}

// Redemptions lists the redemptions of an account's code.
func (a *Attributor) Redemptions(ctx context.Context, referrerID string) ([]domain.ReferralRedemption, error) {
	return a.db.ListRedemptionsByReferrer(ctx, referrerID)
}

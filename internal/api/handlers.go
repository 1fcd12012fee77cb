package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
)

// ─── Loyalty API ────────────────────────────────────────────────────────────
//
// GET  /v1/accounts/{id}/discount          — discount the account gets now
// POST /v1/orders/{id}/freeze              — freeze the discount on an order
// POST /v1/orders/{id}/points              — award points for an order
// POST /v1/events/order-completed          — order pipeline entry point
// GET  /v1/accounts/{id}/points            — balance
// POST /v1/accounts/{id}/redemptions       — spend points on a reward
// POST /v1/accounts/{id}/referral-code     — get or create the referral code
// POST /v1/referrals                       — attribute a signup to a code
// POST /v1/referrals/{id}/qualify          — qualify a pending redemption
// GET  /v1/tiers, /v1/tiers/snapshot       — catalog and latest ranking
// POST /v1/jobs/spend, /v1/jobs/tiers      — run batch jobs now

// ─── Accounts ───────────────────────────────────────────────────────────────

type upsertAccountBody struct {
	Kind      domain.AccountKind `json:"account_kind"`
	CreatedAt time.Time          `json:"created_at"`
	Active    *bool              `json:"active,omitempty"`
}

func (s *Server) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	var body upsertAccountBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.UpsertAccount(r.Context(), domain.UpsertAccountRequest{
		AccountID: chi.URLParam(r, "id"),
		Kind:      body.Kind,
		CreatedAt: body.CreatedAt,
		Active:    body.Active,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.engine.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ─── Discounts ──────────────────────────────────────────────────────────────

func (s *Server) handleResolveDiscount(w http.ResponseWriter, r *http.Request) {
	q, err := s.engine.ResolveDiscount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type freezeBody struct {
	AccountID string           `json:"account_id"`
	AmountHT  *decimal.Decimal `json:"amount_ht,omitempty"`
	Currency  string           `json:"currency,omitempty"`
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	var body freezeBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.engine.FreezeOrderDiscount(r.Context(), domain.FreezeOrderRequest{
		OrderID:   chi.URLParam(r, "id"),
		AccountID: body.AccountID,
		AmountHT:  body.AmountHT,
		Currency:  body.Currency,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ─── Points ─────────────────────────────────────────────────────────────────

type awardBody struct {
	AccountID string          `json:"account_id"`
	AmountHT  decimal.Decimal `json:"amount_ht"`
}

func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	var body awardBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.AwardPoints(r.Context(), domain.AwardPointsRequest{
		OrderID:   chi.URLParam(r, "id"),
		AccountID: body.AccountID,
		AmountHT:  body.AmountHT,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate || res.Points == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleOrderCompleted(w http.ResponseWriter, r *http.Request) {
	var ev domain.OrderCompleted
	if err := decode(r, &ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.HandleOrderCompleted(r.Context(), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bal, err := s.engine.GetBalance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": bal})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.engine.Entries(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type redeemBody struct {
	RewardID string `json:"reward_id"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var body redeemBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	entry, err := s.engine.RedeemReward(r.Context(), domain.RedeemRewardRequest{AccountID: id, RewardID: body.RewardID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.engine.GetBalance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry": entry, "balance": bal})
}

// ─── Referrals ──────────────────────────────────────────────────────────────

func (s *Server) handleReferralCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.engine.GenerateReferralCode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (s *Server) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.Redemptions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redemptions": list})
}

func (s *Server) handleAttribute(w http.ResponseWriter, r *http.Request) {
	var req domain.AttributeReferralRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	red, err := s.engine.AttributeReferral(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, red)
}

type qualifyBody struct {
	OrderID string `json:"order_id"`
}

func (s *Server) handleQualify(w http.ResponseWriter, r *http.Request) {
	var body qualifyBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.QualifyReferral(r.Context(), domain.QualifyReferralRequest{
		RedemptionID: chi.URLParam(r, "id"),
		OrderID:      body.OrderID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Catalog & Snapshots ────────────────────────────────────────────────────

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.engine.ListTiers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.engine.ListRewards(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": rewards})
}

func (s *Server) handleTierSnapshot(w http.ResponseWriter, r *http.Request) {
	rows, err := s.engine.GetTierSnapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": rows})
}

// ─── Jobs ───────────────────────────────────────────────────────────────────

func (s *Server) handleRunSpend(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.RunSpendAggregation(r.Context())
	s.writeRun(w, r, run, err)
}

func (s *Server) handleRunTiers(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.RunTierResolution(r.Context())
	s.writeRun(w, r, run, err)
}

// writeRun reports a manual job run. A run that lost its lease or was
// superseded is a conflict.
func (s *Server) writeRun(w http.ResponseWriter, r *http.Request, run observability.Run, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, run)
	case errors.Is(err, domain.ErrLeaseHeld), errors.Is(err, domain.ErrStaleSnapshot):
		s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrConflict, err))
	default:
		s.writeError(w, r, err)
	}
}

func (s *Server) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":      s.engine.Runs(limit),
		"scheduler": s.engine.SchedulerStats(),
	})
}

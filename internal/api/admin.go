package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tutu-network/loyalty/internal/domain"
)

// ─── Admin API ──────────────────────────────────────────────────────────────
// Every admin body carries "confirm": true; without it the action is
// cancelled and nothing changes.
//
// PUT    /v1/accounts/{id}/tier
// DELETE /v1/accounts/{id}/tier
// PUT    /v1/accounts/{id}/discount-override
// DELETE /v1/accounts/{id}/discount-override
// POST   /v1/accounts/{id}/points/adjust
// POST   /v1/referrals/{id}/reject

type setTierBody struct {
	TierKey string `json:"tier_key"`
	confirmation
}

func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	var body setTierBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.admin.SetTier(r.Context(), body.confirmer(r), domain.SetTierRequest{
		AccountID: chi.URLParam(r, "id"),
		TierKey:   body.TierKey,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleClearTier(w http.ResponseWriter, r *http.Request) {
	var body confirmation
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.admin.ClearTier(r.Context(), body.confirmer(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type setOverrideBody struct {
	DiscountPct decimal.Decimal  `json:"discount_pct"`
	SpendLimit  *decimal.Decimal `json:"spend_limit,omitempty"`
	confirmation
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var body setOverrideBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.admin.SetOverride(r.Context(), body.confirmer(r), domain.SetOverrideRequest{
		AccountID:   chi.URLParam(r, "id"),
		DiscountPct: body.DiscountPct,
		SpendLimit:  body.SpendLimit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	var body confirmation
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.admin.ClearOverride(r.Context(), body.confirmer(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type adjustBody struct {
	Delta int64  `json:"delta"`
	Note  string `json:"note"`
	confirmation
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var body adjustBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.admin.AdjustPoints(r.Context(), body.confirmer(r), domain.AdjustPointsRequest{
		AccountID: chi.URLParam(r, "id"),
		Delta:     body.Delta,
		Note:      body.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type rejectBody struct {
	Reason string `json:"reason"`
	confirmation
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	red, err := s.admin.RejectReferral(r.Context(), body.confirmer(r), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, red)
}

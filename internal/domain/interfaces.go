package domain

import "context"

// ─── Admin Confirmation ─────────────────────────────────────────────────────
// Destructive admin actions go through a Confirmer instead of any UI prompt.
// The CLI asks on the terminal; the HTTP API requires an explicit flag.

// Action describes an admin action awaiting acknowledgement.
type Action struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id,omitempty"`
	Target    string `json:"target,omitempty"`
	Detail    string `json:"detail"`
}

// Outcome is the acknowledgement returned by a Confirmer.
type Outcome struct {
	Confirmed bool   `json:"confirmed"`
	By        string `json:"by,omitempty"`
}

// Confirmer acknowledges an action or returns ErrCancelled.
type Confirmer interface {
	Confirm(ctx context.Context, action Action) (Outcome, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, action Action) (Outcome, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, action Action) (Outcome, error) {
	return f(ctx, action)
}

// AutoConfirm acknowledges every action on behalf of by.
func AutoConfirm(by string) Confirmer {
	return ConfirmFunc(func(context.Context, Action) (Outcome, error) {
		return Outcome{Confirmed: true, By: by}, nil
	})
}

// DenyAll cancels every action.
func DenyAll() Confirmer {
	return ConfirmFunc(func(context.Context, Action) (Outcome, error) {
		return Outcome{}, ErrCancelled
	})
}

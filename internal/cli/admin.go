package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tutu-network/loyalty/internal/app/admin"
	"github.com/tutu-network/loyalty/internal/domain"
)

// ─── Terminal confirmation ──────────────────────────────────────────────────

// promptConfirmer asks on the terminal before an admin action runs.
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
	by  string
}

func newPromptConfirmer(cmd *cobra.Command, yes bool) *promptConfirmer {
	by := os.Getenv("USER")
	if by == "" {
		by = "unknown"
	}
	return &promptConfirmer{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.ErrOrStderr(),
		yes: yes,
		by:  "cli:" + by,
	}
}

// Confirm implements domain.Confirmer.
func (p *promptConfirmer) Confirm(_ context.Context, a domain.Action) (domain.Outcome, error) {
	fmt.Fprintf(p.out, "%s: %s\n", a.Name, a.Detail)
	if p.yes {
		return domain.Outcome{Confirmed: true, By: p.by}, nil
	}
	fmt.Fprint(p.out, "Proceed? [y/N]: ")
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return domain.Outcome{}, fmt.Errorf("%w: no answer", domain.ErrCancelled)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return domain.Outcome{Confirmed: true, By: p.by}, nil
	default:
		return domain.Outcome{}, domain.ErrCancelled
	}
}

// ─── admin ──────────────────────────────────────────────────────────────────

func newAdminCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative overrides (asks for confirmation)",
		Long: `Administrative actions on accounts and referrals. Every action prints
what it will change and asks for confirmation; --yes answers for you.`,
	}
	cmd.PersistentFlags().BoolVarP(&o.yes, "yes", "y", false, "Confirm without prompting")

	setTier := &cobra.Command{
		Use:   "set-tier ACCOUNT_ID TIER_KEY",
		Short: "Pin an account to a tier; tier resolution will not overwrite it",
		Args:  cobra.ExactArgs(2),
	}
	setTier.RunE = func(cmd *cobra.Command, args []string) error {
		return o.runAdmin(cmd, func(svc *admin.Service, c domain.Confirmer) (any, error) {
			return svc.SetTier(cmd.Context(), c, domain.SetTierRequest{AccountID: args[0], TierKey: args[1]})
		})
	}

	clearTier := &cobra.Command{
		Use:   "clear-tier ACCOUNT_ID",
		Short: "Remove a tier pin and restore the computed tier",
		Args:  cobra.ExactArgs(1),
	}
	clearTier.RunE = func(cmd *cobra.Command, args []string) error {
		return o.runAdmin(cmd, func(svc *admin.Service, c domain.Confirmer) (any, error) {
			return svc.ClearTier(cmd.Context(), c, args[0])
		})
	}

	var spendLimit string
	setOverride := &cobra.Command{
		Use:   "set-override ACCOUNT_ID PERCENT",
		Short: "Set a negotiated discount that replaces the tier discount",
		Args:  cobra.ExactArgs(2),
	}
	setOverride.Flags().StringVar(&spendLimit, "spend-limit", "", "Trailing spend above which the override stops applying")
	setOverride.RunE = func(cmd *cobra.Command, args []string) error {
		pct, err := decimal.NewFromString(args[1])
		if err != nil {
			return domain.Validationf("percent %q is not a number", args[1])
		}
		req := domain.SetOverrideRequest{AccountID: args[0], DiscountPct: pct}
		if spendLimit != "" {
			limit, err := decimal.NewFromString(spendLimit)
			if err != nil {
				return domain.Validationf("spend limit %q is not a number", spendLimit)
			}
			req.SpendLimit = &limit
		}
		return o.runAdmin(cmd, func(svc *admin.Service, c domain.Confirmer) (any, error) {
			return svc.SetOverride(cmd.Context(), c, req)
		})
	}

	clearOverride := &cobra.Command{
		Use:   "clear-override ACCOUNT_ID",
		Short: "Remove a negotiated discount",
		Args:  cobra.ExactArgs(1),
	}
	clearOverride.RunE = func(cmd *cobra.Command, args []string) error {
		return o.runAdmin(cmd, func(svc *admin.Service, c domain.Confirmer) (any, error) {
			return svc.ClearOverride(cmd.Context(), c, args[0])
		})
	}

	var reason string
	reject := &cobra.Command{
		Use:   "reject-referral REDEMPTION_ID",
		Short: "Reject a pending referral redemption",
		Args:  cobra.ExactArgs(1),
	}
	reject.Flags().StringVar(&reason, "reason", "", "Why the redemption is rejected")
	reject.RunE = func(cmd *cobra.Command, args []string) error {
		return o.runAdmin(cmd, func(svc *admin.Service, c domain.Confirmer) (any, error) {
			return svc.RejectReferral(cmd.Context(), c, args[0], reason)
		})
	}

	var (
		delta int64
		note  string
	)
	adjust := &cobra.Command{
		Use:   "adjust ACCOUNT_ID",
		Short: "Correct a points balance (debits ask for confirmation)",
		Args:  cobra.ExactArgs(1),
	}
	adjust.Flags().Int64Var(&delta, "delta", 0, "Points to add (negative to remove)")
	adjust.Flags().StringVar(&note, "note", "", "Reason recorded on the ledger entry")
	adjust.RunE = func(cmd *cobra.Command, args []string) error {
		return o.runAdmin(cmd, func(svc *admin.Service, c domain.Confirmer) (any, error) {
			return svc.AdjustPoints(cmd.Context(), c, domain.AdjustPointsRequest{AccountID: args[0], Delta: delta, Note: note})
		})
	}

	cmd.AddCommand(setTier, clearTier, setOverride, clearOverride, reject, adjust)
	return cmd
}

// runAdmin opens the engine and hands the admin service and a terminal
// confirmer to fn, then prints what fn returned.
func (o *options) runAdmin(cmd *cobra.Command, fn func(svc *admin.Service, c domain.Confirmer) (any, error)) error {
	return o.withEngine(cmd, func(rt *runtime) error {
		res, err := fn(admin.New(rt.engine, rt.log), newPromptConfirmer(cmd, o.yes))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

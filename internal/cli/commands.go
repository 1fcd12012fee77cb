package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/loyalty/internal/daemon"
	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
)

// ─── accounts ───────────────────────────────────────────────────────────────

func newAccountsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and register accounts",
	}

	var (
		kind     string
		inactive bool
	)
	upsert := &cobra.Command{
		Use:   "upsert ACCOUNT_ID",
		Short: "Create or update an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				active := !inactive
				acc, err := rt.engine.UpsertAccount(cmd.Context(), domain.UpsertAccountRequest{
					AccountID: args[0],
					Kind:      domain.AccountKind(kind),
					CreatedAt: time.Now(),
					Active:    &active,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acc)
			})
		},
	}
	upsert.Flags().StringVar(&kind, "kind", string(domain.AccountB2B), "Account kind: b2b or b2c")
	upsert.Flags().BoolVar(&inactive, "inactive", false, "Mark the account inactive")

	get := &cobra.Command{
		Use:   "get ACCOUNT_ID",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				acc, err := rt.engine.GetAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), acc)
			})
		},
	}

	cmd.AddCommand(upsert, get)
	return cmd
}

// ─── discount ───────────────────────────────────────────────────────────────

func newDiscountCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "discount ACCOUNT_ID",
		Short: "Show the discount an account gets on a new order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				q, err := rt.engine.ResolveDiscount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s%% (%s, tier %s)\n", q.AccountID, q.DiscountPct, q.Source, q.TierKey)
				return nil
			})
		},
	}
}

// ─── points ─────────────────────────────────────────────────────────────────

func newPointsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Inspect and spend loyalty points",
	}

	balance := &cobra.Command{
		Use:   "balance ACCOUNT_ID",
		Short: "Show the points balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				bal, err := rt.engine.GetBalance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d points\n", args[0], bal)
				return nil
			})
		},
	}

	var limit int
	entries := &cobra.Command{
		Use:   "entries ACCOUNT_ID",
		Short: "List ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				list, err := rt.engine.Entries(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CREATED\tDELTA\tREASON\tKEY")
				for _, e := range list {
					key := "-"
					if e.IdempotencyKey != nil {
						key = *e.IdempotencyKey
					}
					fmt.Fprintf(tw, "%s\t%+d\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Delta, e.Reason, key)
				}
				return tw.Flush()
			})
		},
	}
	entries.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")

	redeem := &cobra.Command{
		Use:   "redeem ACCOUNT_ID REWARD_ID",
		Short: "Spend points on a reward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				entry, err := rt.engine.RedeemReward(cmd.Context(), domain.RedeemRewardRequest{AccountID: args[0], RewardID: args[1]})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entry)
			})
		},
	}

	cmd.AddCommand(balance, entries, redeem)
	return cmd
}

// ─── referral ───────────────────────────────────────────────────────────────

func newReferralCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "referral",
		Short: "Manage referral codes",
	}

	code := &cobra.Command{
		Use:   "code ACCOUNT_ID",
		Short: "Show the account's referral code, creating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				c, err := rt.engine.GenerateReferralCode(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), c.Code)
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list ACCOUNT_ID",
		Short: "List redemptions of the account's code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				reds, err := rt.engine.Redemptions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tREFERRED\tSTATUS\tCREATED")
				for _, r := range reds {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.ReferredAccountID, r.Status, r.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(code, list)
	return cmd
}

// ─── tiers ──────────────────────────────────────────────────────────────────

func newTiersCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "Inspect the tier catalog and the latest ranking",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tier definitions with their effective discount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				tiers, err := rt.engine.ListTiers(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tRULE\tTHRESHOLD\tDISCOUNT\tEFFECTIVE")
				for _, t := range tiers {
					threshold := "-"
					if t.Rule == domain.RulePercentile {
						threshold = "top " + t.ThresholdPct.String() + "%"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\t%s%%\n", t.Key, t.Rule, threshold, t.DiscountPct, t.EffectiveDiscountPct)
				}
				return tw.Flush()
			})
		},
	}

	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the latest tier assignment of every ranked account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				rows, err := rt.engine.GetTierSnapshot(cmd.Context())
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tier snapshot yet. Run: loyaltyd jobs spend && loyaltyd jobs tiers")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ACCOUNT\tTIER\tRANK %")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.AccountID, r.TierKey, r.RankPct.StringFixed(2))
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(list, snapshot)
	return cmd
}

// ─── jobs ───────────────────────────────────────────────────────────────────

func newJobsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run batch jobs now",
		Long: `Run a batch job once in this process. Jobs take the same database lease
as the daemon, so a job already running elsewhere is reported, not repeated.`,
	}

	spend := &cobra.Command{
		Use:   "spend",
		Short: "Aggregate trailing spend into a new snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				run, err := rt.engine.RunSpendAggregation(cmd.Context())
				printRun(cmd, run)
				return err
			})
		},
	}

	tiers := &cobra.Command{
		Use:   "tiers",
		Short: "Rank accounts from the latest spend snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withEngine(cmd, func(rt *runtime) error {
				run, err := rt.engine.RunTierResolution(cmd.Context())
				printRun(cmd, run)
				return err
			})
		},
	}

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs recorded by the running daemon",
		Long: `Run history is kept in the daemon's memory, so this asks the daemon at
the configured api.host:api.port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := daemon.Load(o.configPath)
			if err != nil {
				return err
			}
			runs, err := fetchRuns(cmd, cfg.Addr(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tJOB\tTRIGGER\tSTATUS\tDURATION\tVERSION\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.StartedAt.Format(time.RFC3339), r.Job, r.Trigger, r.Status,
					r.Duration.Round(time.Millisecond), r.Version, r.Error)
			}
			return tw.Flush()
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")

	cmd.AddCommand(spend, tiers, history)
	return cmd
}

func fetchRuns(cmd *cobra.Command, addr string, limit int) ([]observability.Run, error) {
	url := "http://" + addr + "/v1/jobs/runs?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reach loyaltyd at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loyaltyd at %s returned %s", addr, resp.Status)
	}
	var body struct {
		Runs []observability.Run `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode run history: %w", err)
	}
	return body.Runs, nil
}

func printRun(cmd *cobra.Command, run observability.Run) {
	if run.ID == "" {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s", run.Job, run.Status, run.Duration.Round(time.Millisecond))
	if run.Version > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (snapshot v%d)", run.Version)
	}
	fmt.Fprintln(cmd.OutOrStdout())
}

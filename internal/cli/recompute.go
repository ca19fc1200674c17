package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moodmnky/dojo/internal/store"
)

// RecomputeOptions holds flags for the recompute command.
type RecomputeOptions struct {
	*RootOptions
	Database string
	RulesDir string
	Profile  string
	Repair   bool
}

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecomputeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Audit derived XP state against the ledger",
		Long: `Re-derive XP totals from the event ledger and compare them to the
stored per-profile state. The ledger is authoritative; any difference is
drift.

Without --repair this is a read-only audit and exits 1 if drift is found.
With --repair drifted rows are rewritten to the ledger-derived values.

Example:
  dojo recompute --db ./dojo.db
  dojo recompute --db ./dojo.db --profile p1 --repair`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.RulesDir, "rules", "", "path to CUE rules directory (defaults apply if unset)")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "audit a single profile")
	cmd.Flags().BoolVar(&opts.Repair, "repair", false, "rewrite drifted state from the ledger")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// recomputeReport is the JSON shape of the recompute command output.
// Results carries drifted profiles only.
type recomputeReport struct {
	Checked  int            `json:"checked"`
	Drifted  int            `json:"drifted"`
	Repaired int            `json:"repaired"`
	Results  []driftedEntry `json:"results,omitempty"`
}

type driftedEntry struct {
	ProfileID     string `json:"profile_id"`
	StoredTotal   int64  `json:"stored_total"`
	LedgerTotal   int64  `json:"ledger_total"`
	StoredLevel   int    `json:"stored_level"`
	ExpectedLevel int    `json:"expected_level"`
	Repaired      bool   `json:"repaired"`
}

func runRecompute(opts *RecomputeOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	snap, err := loadSnapshot(opts.RulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	now := timeNow()
	var results []store.RecomputeResult
	if opts.Profile != "" {
		res, err := st.RecomputeProfile(ctx, opts.Profile, snap.Level, opts.Repair, now)
		if err != nil {
			return WrapExitError(ExitCommandError, "recompute failed", err)
		}
		results = []store.RecomputeResult{res}
	} else {
		results, err = st.RecomputeAll(ctx, snap.Level, opts.Repair, now)
		if err != nil {
			return WrapExitError(ExitCommandError, "recompute failed", err)
		}
	}

	report := recomputeReport{Checked: len(results)}
	for _, res := range results {
		if res.Drifted {
			report.Drifted++
			report.Results = append(report.Results, driftedEntry{
				ProfileID:     res.ProfileID,
				StoredTotal:   res.StoredTotal,
				LedgerTotal:   res.LedgerTotal,
				StoredLevel:   res.StoredLevel,
				ExpectedLevel: res.ExpectedLevel,
				Repaired:      res.Repaired,
			})
		}
		if res.Repaired {
			report.Repaired++
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		if report.Drifted == 0 {
			fmt.Fprintf(formatter.Writer, "✓ %d profile(s) checked, no drift\n", report.Checked)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %d profile(s) checked, %d drifted, %d repaired\n",
				report.Checked, report.Drifted, report.Repaired)
			for _, res := range report.Results {
				fmt.Fprintf(formatter.Writer, "  %s: stored %d (level %d), ledger %d (level %d)\n",
					res.ProfileID, res.StoredTotal, res.StoredLevel, res.LedgerTotal, res.ExpectedLevel)
			}
		}
	}

	// Unrepaired drift is a failure so cron jobs and CI notice.
	if report.Drifted > report.Repaired {
		return NewExitError(ExitFailure, fmt.Sprintf("%d profile(s) drifted", report.Drifted))
	}
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moodmnky/dojo/internal/config"
	"github.com/moodmnky/dojo/internal/ledger"
	"github.com/moodmnky/dojo/internal/rules"
	"github.com/moodmnky/dojo/internal/store"
)

// EventOptions holds flags for the event command.
type EventOptions struct {
	*RootOptions
	Database string
	RulesDir string
	Score    int
	Subtotal int64
}

// NewEventCommand creates the event command.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "event <profile> <source> <ref>",
		Short: "Record one XP event directly against the database",
		Long: `Record one XP event without going through the HTTP API.

Useful for backfills and local testing. The same idempotency applies:
replaying a (profile, source, ref) triple reports duplicate and credits
nothing.

Example:
  dojo event --db ./dojo.db p1 manga_read ch-12
  dojo event --db ./dojo.db p1 quiz_pass quiz-3 --score 85
  dojo event --db ./dojo.db p1 purchase order-1001 --subtotal-cents 4200`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvent(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.RulesDir, "rules", "", "path to CUE rules directory (defaults apply if unset)")
	cmd.Flags().IntVar(&opts.Score, "score", 0, "quiz score (quiz_pass events)")
	cmd.Flags().Int64Var(&opts.Subtotal, "subtotal-cents", 0, "order subtotal in cents (purchase events)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEvent(opts *EventOptions, args []string, cmd *cobra.Command) error {
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

	svc := ledger.New(st, snap, nil, nil)
	res, err := svc.RecordEvent(cmd.Context(), args[0], rules.Event{
		Source:        rules.Source(args[1]),
		SourceRef:     args[2],
		Score:         opts.Score,
		SubtotalCents: opts.Subtotal,
	})
	if err != nil {
		if ledger.IsInputError(err) {
			_ = formatter.Error("E001", err.Error(), nil)
			return NewExitError(ExitFailure, err.Error())
		}
		return WrapExitError(ExitCommandError, "failed to record event", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	if res.Accepted {
		fmt.Fprintf(formatter.Writer, "✓ Credited %d XP to %s (total %d, level %d, %s)\n",
			res.XPDelta, args[0], res.XPTotal, res.Level, res.Tier)
	} else {
		fmt.Fprintf(formatter.Writer, "- Not credited (%s); %s stays at %d XP, level %d\n",
			res.Reason, args[0], res.XPTotal, res.Level)
	}
	return nil
}

// loadSnapshot returns the rule snapshot for a command: built-in defaults
// when no directory is given.
func loadSnapshot(rulesDir string) (rules.Snapshot, error) {
	if rulesDir == "" {
		return rules.Defaults(), nil
	}
	loadResult, loadErrors := config.LoadRules(rulesDir, config.LoadModeFailFast)
	if len(loadErrors) > 0 {
		return rules.Snapshot{}, loadErrors[0]
	}
	return loadResult.Rules, nil
}

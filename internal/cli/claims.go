package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moodmnky/dojo/internal/reward"
	"github.com/moodmnky/dojo/internal/store"
)

// ClaimsOptions holds flags for the claims subcommands.
type ClaimsOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// NewClaimsCommand creates the claims command group.
func NewClaimsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Operate on reward claims",
	}

	cmd.AddCommand(newClaimsRetryCommand(rootOpts))
	cmd.AddCommand(newClaimsRevokeCommand(rootOpts))

	return cmd
}

func newClaimsRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClaimsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry pending discount-code claims",
		Long: `Sweep claims stuck in pending (their discount code generation failed)
and try to finish them. The serve command runs this sweep on a timer; the
CLI form exists for one-off runs and cron.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaimsRetry(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "max pending claims to sweep")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runClaimsRetry(opts *ClaimsOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	issuer := reward.NewIssuer(st, nil, nil, nil)
	issued, err := issuer.RetryPending(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "retry sweep failed", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]int{"issued": issued})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d pending claim(s) issued\n", issued)
	return nil
}

func newClaimsRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClaimsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revoke <claim-id>",
		Short: "Administratively revoke a claim",
		Long: `Revoke a claim by ID. Revoked claims free their uniqueness slot, so
the profile may claim the reward again.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaimsRevoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runClaimsRevoke(opts *ClaimsOptions, claimID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	issuer := reward.NewIssuer(st, nil, nil, nil)
	ok, err := issuer.Revoke(cmd.Context(), claimID)
	if err != nil {
		return WrapExitError(ExitCommandError, "revoke failed", err)
	}
	if !ok {
		_ = formatter.Error("E001", fmt.Sprintf("no revocable claim %q", claimID), nil)
		return NewExitError(ExitFailure, "claim not found or already revoked")
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]bool{"revoked": true})
	}
	fmt.Fprintf(formatter.Writer, "✓ Claim %s revoked\n", claimID)
	return nil
}

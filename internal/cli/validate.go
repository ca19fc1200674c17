package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moodmnky/dojo/internal/config"
	"github.com/moodmnky/dojo/internal/reward"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in the rules config.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate XP rules and reward catalog config",
		Long: `Validate the CUE rules directory without starting the service.

Checks syntax, block structure, and snapshot invariants (ascending level
thresholds, valid sources, well-formed reward payloads). Collects every
error instead of stopping at the first one.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := config.LoadRules(rulesDir, config.LoadModeCollectAll)

	// Directory-level failures (missing dir, no files) are command errors.
	if loadResult == nil {
		var loadErr *config.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Error())
		}
		_ = formatter.Error(config.ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, rulesDir)

	var issues []ValidationIssue
	for _, err := range loadErrors {
		var loadErr *config.LoadError
		if errors.As(err, &loadErr) {
			issues = append(issues, ValidationIssue{Code: loadErr.Code, Message: loadErr.Message})
		} else {
			issues = append(issues, ValidationIssue{Code: config.ErrCodeGeneric, Message: err.Error()})
		}
	}

	// Reward payloads get the same shape checks the catalog sync applies.
	for _, rec := range loadResult.Rewards {
		if err := validateRewardPayload(rec.Type, rec.Payload, rec.ID); err != nil {
			issues = append(issues, ValidationIssue{Code: config.ErrCodeBadReward, Message: err.Error()})
		}
	}

	result := ValidationResult{
		Valid:  len(issues) == 0,
		Files:  loadResult.FileCount,
		Errors: issues,
	}

	if !result.Valid {
		if formatter.Format == "json" {
			if err := formatter.Error(issues[0].Code, issues[0].Message, result); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Validation failed")
			fmt.Fprintln(formatter.Writer)
			for _, issue := range issues {
				fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Code, issue.Message)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Rules valid (%d file(s), %d reward(s))\n",
		loadResult.FileCount, len(loadResult.Rewards))
	return nil
}

func validateRewardPayload(typ, payload, id string) error {
	if _, err := reward.ParsePayload(typ, payload); err != nil {
		return fmt.Errorf("reward %q: %w", id, err)
	}
	return nil
}

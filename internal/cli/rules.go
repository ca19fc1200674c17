package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moodmnky/dojo/internal/config"
	"github.com/moodmnky/dojo/internal/rules"
	"github.com/moodmnky/dojo/internal/store"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules [rules-dir]",
		Short: "Show the effective XP rules and reward catalog",
		Long: `Show the effective rule snapshot: per-source awards, purchase bands,
level thresholds, tiers, and the reward catalog.

With no argument, shows the built-in defaults. With a rules directory, shows
what the service would run with, after defaults fill the gaps.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(rootOpts, args, cmd)
		},
	}

	return cmd
}

// rulesReport is the JSON shape of the rules command output.
type rulesReport struct {
	Sources         []sourceReport `json:"sources"`
	PurchaseBands   []bandReport   `json:"purchase_bands"`
	LevelThresholds []int64        `json:"level_thresholds"`
	Tiers           []tierReport   `json:"tiers"`
	Rewards         []rewardReport `json:"rewards,omitempty"`
}

type sourceReport struct {
	Source        string `json:"source"`
	XP            int64  `json:"xp"`
	CooldownDays  int    `json:"cooldown_days,omitempty"`
	PassThreshold int    `json:"pass_threshold,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`
}

type bandReport struct {
	MinSubtotalCents int64 `json:"min_subtotal_cents"`
	XP               int64 `json:"xp"`
}

type tierReport struct {
	MinLevel int    `json:"min_level"`
	Label    string `json:"label"`
}

type rewardReport struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	MinLevel int    `json:"min_level"`
	Active   bool   `json:"active"`
}

func runRules(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	snap := rules.Defaults()
	var rewards []store.RewardRecord
	if len(args) == 1 {
		loadResult, loadErrors := config.LoadRules(args[0], config.LoadModeFailFast)
		if len(loadErrors) > 0 {
			_ = formatter.Error(config.ErrCodeGeneric, loadErrors[0].Error(), nil)
			return NewExitError(ExitCommandError, loadErrors[0].Error())
		}
		snap = loadResult.Rules
		rewards = loadResult.Rewards
	}

	report := buildRulesReport(snap, rewards)
	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	fmt.Fprint(formatter.Writer, formatRulesText(report))
	return nil
}

// buildRulesReport flattens a snapshot into stable, sorted output. Effective
// values come through rules.Rule so default fallbacks show what actually
// applies.
func buildRulesReport(snap rules.Snapshot, rewards []store.RewardRecord) rulesReport {
	report := rulesReport{
		LevelThresholds: snap.LevelThresholds,
	}
	if report.LevelThresholds == nil {
		report.LevelThresholds = rules.Defaults().LevelThresholds
	}

	for _, src := range rules.Sources {
		if src == rules.SourceAdminAdjust || src == rules.SourcePurchase {
			continue
		}
		rule, ok := snap.Rule(src)
		if !ok {
			continue
		}
		report.Sources = append(report.Sources, sourceReport{
			Source:        string(src),
			XP:            rule.XPReward,
			CooldownDays:  rule.CooldownDays,
			PassThreshold: rule.PassThreshold,
			Disabled:      rule.Disabled,
		})
	}

	bands := snap.PurchaseBands
	if len(bands) == 0 {
		bands = rules.Defaults().PurchaseBands
	}
	for _, band := range bands {
		report.PurchaseBands = append(report.PurchaseBands, bandReport{
			MinSubtotalCents: band.MinSubtotalCents,
			XP:               band.XP,
		})
	}

	tiers := snap.Tiers
	if len(tiers) == 0 {
		tiers = rules.Defaults().Tiers
	}
	for _, tier := range tiers {
		report.Tiers = append(report.Tiers, tierReport{MinLevel: tier.MinLevel, Label: tier.Label})
	}

	sort.Slice(rewards, func(i, j int) bool { return rewards[i].ID < rewards[j].ID })
	for _, rec := range rewards {
		report.Rewards = append(report.Rewards, rewardReport{
			ID:       rec.ID,
			Type:     rec.Type,
			Title:    rec.Title,
			MinLevel: rec.MinLevel,
			Active:   rec.Active,
		})
	}
	return report
}

func formatRulesText(report rulesReport) string {
	var b strings.Builder

	b.WriteString("Sources:\n")
	for _, src := range report.Sources {
		fmt.Fprintf(&b, "  %-14s %4d XP", src.Source, src.XP)
		if src.CooldownDays > 0 {
			fmt.Fprintf(&b, "  (once per %dd per ref)", src.CooldownDays)
		}
		if src.PassThreshold > 0 {
			fmt.Fprintf(&b, "  (score >= %d)", src.PassThreshold)
		}
		if src.Disabled {
			b.WriteString("  [disabled]")
		}
		b.WriteString("\n")
	}

	b.WriteString("Purchase bands:\n")
	for _, band := range report.PurchaseBands {
		fmt.Fprintf(&b, "  >= %6d cents  %4d XP\n", band.MinSubtotalCents, band.XP)
	}

	b.WriteString("Level thresholds:\n  ")
	for i, threshold := range report.LevelThresholds {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "L%d: %d", i+1, threshold)
	}
	b.WriteString("\n")

	b.WriteString("Tiers:\n")
	for _, tier := range report.Tiers {
		fmt.Fprintf(&b, "  level %2d+  %s\n", tier.MinLevel, tier.Label)
	}

	if len(report.Rewards) > 0 {
		b.WriteString("Rewards:\n")
		for _, rec := range report.Rewards {
			status := "active"
			if !rec.Active {
				status = "inactive"
			}
			fmt.Fprintf(&b, "  %-12s %-14s level %d+  %s  (%s)\n",
				rec.ID, rec.Type, rec.MinLevel, rec.Title, status)
		}
	}

	return b.String()
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/govdecisions/backend/internal/qa"
)

func init() {
	qaCmd := &cobra.Command{
		Use:   "qa",
		Short: "Audit stored decisions",
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Integrity report over all stored decisions",
		Run:   runQAReport,
	}

	dedupeCmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Find duplicate decision keys",
		Long: "Groups rows sharing a decision key and reports which copies would\n" +
			"be removed. With --execute the redundant rows are deleted, keeping\n" +
			"the earliest stored copy of each key.",
		Run: runQADedupe,
	}
	dedupeCmd.Flags().Bool("execute", false, "Delete redundant rows instead of only reporting them")

	spotcheckCmd := &cobra.Command{
		Use:   "spotcheck",
		Short: "Score a sample of summaries against their source text",
		Run:   runQASpotcheck,
	}
	spotcheckCmd.Flags().IntP("sample", "n", 10, "Sample size")

	qaCmd.AddCommand(reportCmd, dedupeCmd, spotcheckCmd)
	RootCmd.AddCommand(qaCmd)
}

func runQAReport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	checker := qa.NewChecker(store, nil)
	report, err := checker.IntegrityReport(cmd.Context())
	if err != nil {
		exitErr("qa report", err)
	}
	printJSON(report)
}

func runQADedupe(cmd *cobra.Command, args []string) {
	execute, _ := cmd.Flags().GetBool("execute")

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	checker := qa.NewChecker(store, nil)
	report, err := checker.Dedupe(cmd.Context(), execute)
	if err != nil {
		exitErr("qa dedupe", err)
	}
	printJSON(report)
}

func runQASpotcheck(cmd *cobra.Command, args []string) {
	sample, _ := cmd.Flags().GetInt("sample")

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	checker := qa.NewChecker(store, newEnrichClient(cfg))
	report, err := checker.SpotCheck(cmd.Context(), sample)
	if err != nil {
		exitErr("qa spotcheck", err)
	}
	printJSON(report)
}

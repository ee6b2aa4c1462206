package cli

import (
	"github.com/spf13/cobra"

	"github.com/govdecisions/backend/internal/migration"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Data migrations",
	}

	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "Re-validate stored tags against the vocabulary",
		Long: "Walks stored decisions partition by partition, re-validates their\n" +
			"tags and rewrites rows that change. Dry-run by default; progress is\n" +
			"checkpointed, so an interrupted run resumes where it stopped.",
		Run: runMigrateTags,
	}

	tagsCmd.Flags().Bool("execute", false, "Apply changes instead of only reporting them")
	tagsCmd.Flags().StringSlice("year", nil, "Restrict to decision years (repeatable)")
	tagsCmd.Flags().String("prefix", "", "Restrict to keys with this prefix, e.g. 37_")
	tagsCmd.Flags().Int("page-size", 0, "Records per checkpointed page")

	migrateCmd.AddCommand(tagsCmd)
	RootCmd.AddCommand(migrateCmd)
}

func runMigrateTags(cmd *cobra.Command, args []string) {
	execute, _ := cmd.Flags().GetBool("execute")
	years, _ := cmd.Flags().GetStringSlice("year")
	prefix, _ := cmd.Flags().GetString("prefix")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	validator := buildValidator(cfg, newEnrichClient(cfg))
	cpStore, cleanup := checkpointStore(cfg)
	defer cleanup()

	engine := migration.NewEngine(store, validator, cpStore)
	report, err := engine.Run(cmd.Context(), migration.Options{
		DryRun:    !execute,
		Years:     years,
		KeyPrefix: prefix,
		PageSize:  pageSize,
	})
	if report != nil {
		printJSON(report)
	}
	if err != nil {
		exitErr("migrate tags", err)
	}
}

package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Sync run history",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sync runs",
		Run:   runRunsList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max runs")

	runsCmd.AddCommand(listCmd)
	RootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	runs, err := store.ListSyncRuns(limit)
	if err != nil {
		exitErr("list runs", err)
	}

	views := make([]map[string]interface{}, 0, len(runs))
	for i := range runs {
		views = append(views, runView(&runs[i]))
	}
	printJSON(views)
}

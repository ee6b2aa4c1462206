// Package cli implements the govdec operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govdecisions/backend/internal/checkpoint"
	"github.com/govdecisions/backend/internal/enrich"
	"github.com/govdecisions/backend/internal/storage/sqlite"
	"github.com/govdecisions/backend/internal/tagging"
	"github.com/govdecisions/backend/pkg/config"
	"github.com/govdecisions/backend/pkg/logger"

	cacheredis "github.com/govdecisions/backend/internal/cache/redis"
)

var logLevel string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "govdec",
	Short: "Operator tooling for the government decisions store",
	Long: "Batch verbs for the decisions pipeline: run syncs, migrate legacy\n" +
		"tags, audit stored records. Long-running surfaces live in the API\n" +
		"server; govdec is for operators and cron.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Command output goes to stdout, logs stay on stderr.
		return logger.Init(logLevel, "console", "stderr")
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func openStore(cfg *config.Config) *sqlite.Client {
	client, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		exitErr("open store", err)
	}
	if err := client.InitSchema(); err != nil {
		client.Close()
		exitErr("init schema", err)
	}
	return client
}

func newEnrichClient(cfg *config.Config) *enrich.Client {
	return enrich.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)
}

func buildValidator(cfg *config.Config, enrichClient *enrich.Client) *tagging.Validator {
	vocab, err := tagging.LoadVocabulary(cfg.Vocab.PolicyAreasPath, cfg.Vocab.GovernmentBodiesPath)
	if err != nil {
		exitErr("load vocabulary", err)
	}
	return tagging.NewValidator(vocab, enrichClient)
}

// checkpointStore honors the configured backend the same way the API server
// does. The returned cleanup closes the redis connection when one was opened.
func checkpointStore(cfg *config.Config) (checkpoint.Store, func()) {
	if cfg.Checkpoint.Backend == "redis" && cfg.Redis.Enabled {
		cache, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			exitErr("connect redis", err)
		}
		return checkpoint.NewRedisStore(cache, cfg.Checkpoint.Key), func() { cache.Close() }
	}
	return checkpoint.NewFileStore(cfg.Checkpoint.Path), func() {}
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

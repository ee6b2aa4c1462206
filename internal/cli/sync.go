package cli

import (
	"time"

	"github.com/spf13/cobra"

	cacheredis "github.com/govdecisions/backend/internal/cache/redis"
	"github.com/govdecisions/backend/internal/scraper"
	"github.com/govdecisions/backend/internal/storage/models"
	syncsvc "github.com/govdecisions/backend/internal/sync"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against gov.il",
		Long: "Scrapes the decisions catalog down to the stored baseline, enriches\n" +
			"new records and persists them. Exits non-zero when the run fails;\n" +
			"partial counters are still printed.",
		Run: runSync,
	}

	RootCmd.AddCommand(cmd)
}

func runSync(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	store := openStore(cfg)
	defer store.Close()

	enrichClient := newEnrichClient(cfg)
	validator := buildValidator(cfg, enrichClient)

	scraperClient := scraper.NewClient(scraper.Config{
		BaseURL:      cfg.Scraper.BaseURL,
		UserAgent:    cfg.Scraper.UserAgent,
		Timeout:      time.Duration(cfg.Scraper.TimeoutSec) * time.Second,
		RequestDelay: time.Duration(cfg.Scraper.RequestDelayMs) * time.Millisecond,
		MaxPages:     cfg.Scraper.MaxPages,
		Government:   cfg.Scraper.Government,
	})

	persisterCfg := syncsvc.DefaultPersisterConfig()
	if cfg.Sync.BatchSize > 0 {
		persisterCfg.BatchSize = cfg.Sync.BatchSize
	}
	if cfg.Sync.InsertRetries > 0 {
		persisterCfg.InsertRetries = cfg.Sync.InsertRetries
	}
	if cfg.Sync.RecordRetries > 0 {
		persisterCfg.RecordRetries = cfg.Sync.RecordRetries
	}
	if cfg.Sync.RetryDelayMs > 0 {
		persisterCfg.RetryDelay = time.Duration(cfg.Sync.RetryDelayMs) * time.Millisecond
	}

	var cache syncsvc.EnrichmentCache
	if cfg.Redis.Enabled {
		redisCache, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			exitErr("connect redis", err)
		}
		defer redisCache.Close()
		cache = redisCache
	}

	service := syncsvc.NewService(
		scraperClient,
		enrichClient,
		store,
		cache,
		validator,
		persisterCfg,
		time.Duration(cfg.Redis.CacheTTLSec)*time.Second,
	)

	run, err := service.RunSync(cmd.Context(), "cli")
	if run != nil {
		printJSON(runView(run))
	}
	if err != nil {
		exitErr("sync", err)
	}
}

func runView(run *models.SyncRun) map[string]interface{} {
	view := map[string]interface{}{
		"id":         run.ID,
		"trigger":    run.Trigger,
		"status":     run.Status,
		"scraped":    run.Scraped,
		"inserted":   run.Inserted,
		"duplicates": run.Duplicates,
		"invalid":    run.Invalid,
		"errors":     run.Errors,
		"started_at": run.StartedAt,
	}
	if run.FinishedAt != nil {
		view["finished_at"] = *run.FinishedAt
	}
	return view
}

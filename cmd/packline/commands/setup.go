package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/cache"
	"github.com/coordtech/packline/pkg/config"
	"github.com/coordtech/packline/pkg/engine"
	"github.com/coordtech/packline/pkg/feeds"
	"github.com/coordtech/packline/pkg/orchestrator"
	"github.com/coordtech/packline/pkg/telemetry"
)

// runtime bundles everything a command needs after configuration is loaded.
type runtime struct {
	cfg *config.Config
	tel *telemetry.Telemetry
}

func (r *runtime) logger() zerolog.Logger {
	return r.tel.Logger.Zerolog()
}

// setup loads the configuration and initializes telemetry. Verbose and
// format flags override the file settings.
func setup() (*runtime, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	telCfg := telemetry.DefaultConfig()
	if cfg.Logging.Level != "" {
		telCfg.Logging.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		telCfg.Logging.Format = cfg.Logging.Format
	}
	if verbose {
		telCfg.Logging.Level = "debug"
	}

	tel, err := telemetry.New(telCfg)
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, tel: tel}, nil
}

// openCache opens the local package cache from the configured directory.
func (r *runtime) openCache(ctx context.Context) (*cache.Cache, error) {
	return cache.Open(ctx, r.cfg.CacheDir, r.logger())
}

// buildRegistry registers the local cache and every configured custom feed.
// The tenant feed joins later, per run.
func (r *runtime) buildRegistry(c *cache.Cache) (*feeds.Registry, error) {
	registry := feeds.NewRegistry(r.logger())

	if err := registry.Register(feeds.NewLocalFeed("local-cache", c, r.cfg.CacheDir)); err != nil {
		return nil, err
	}
	for _, fc := range r.cfg.Feeds {
		src, err := fc.Resolve()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(feeds.NewCustomFeed(fc.ID, src.URL, src.Credential)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// tenantClient builds an orchestrator client for the named tenant, with its
// secret read from the environment.
func (r *runtime) tenantClient(name string) (*orchestrator.Client, error) {
	tc, err := r.cfg.Tenant(name)
	if err != nil {
		return nil, err
	}
	tenant, err := tc.Resolve()
	if err != nil {
		return nil, err
	}
	return orchestrator.NewClient(tenant, r.logger()), nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// summarizeRun maps a unit status count to a process exit error. Runs with
// failed units exit non-zero even though the report itself is complete.
func summarizeRun(failed int) error {
	if failed > 0 {
		return fmt.Errorf("%d unit(s) failed; see report for details", failed)
	}
	return nil
}

// recordPublishOutcomes feeds per-unit results into the metrics collector.
func recordPublishOutcomes(tel *telemetry.Telemetry, report *engine.PublishReport) {
	for _, o := range report.Outcomes {
		tel.Metrics.RecordUnit("publish", string(o.Status), o.Duration)
	}
}

func recordMigrationOutcomes(tel *telemetry.Telemetry, report *engine.MigrationReport) {
	for _, o := range report.Outcomes {
		tel.Metrics.RecordUnit("migrate", string(o.Status), o.Duration)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dirstack/adsync/internal/cache"
	"github.com/dirstack/adsync/internal/config"
	"github.com/dirstack/adsync/internal/directory"
	"github.com/dirstack/adsync/internal/query"
	"github.com/dirstack/adsync/internal/store"
	"github.com/dirstack/adsync/internal/sync"
)

var (
	workersFlag int
	blobDirFlag string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one synchronization pass",
	Long: `Run enumerates all directory users and reconciles each linked local
identity: group memberships are imported per the configured group
mappings and mapped profile attributes are refreshed.`,
	RunE: runPass,
}

func init() {
	runCmd.Flags().IntVar(&workersFlag, "workers", 0,
		"number of concurrent reconciliation workers (overrides the config file)")
	runCmd.Flags().StringVar(&blobDirFlag, "blob-dir", "blobs",
		"directory the blob store writes profile photos under")
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}

func runPass(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if workersFlag > 0 {
		cfg.Sync.Workers = workersFlag
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := directory.NewGateway(&cfg.Directory, directory.WithLogger(log))
	if err != nil {
		return err
	}
	defer gw.Close()

	baseDN, err := gw.DefaultBaseDN(ctx)
	if err != nil {
		return err
	}

	form, err := query.ParseAccountForm(cfg.Query.AccountForm)
	if err != nil {
		return err
	}
	queryCfg := query.Config{
		BaseDN:         baseDN,
		UserLocations:  cfg.Query.UserLocations,
		GroupLocations: cfg.Query.GroupLocations,
		NodeLocations:  cfg.Query.NodeLocations,
		AccountForm:    form,
	}

	provider := cache.NewMemory(cfg.Cache.TTL)
	queries, err := query.NewService(gw, queryCfg,
		query.WithCache(provider),
		query.WithServiceLogger(log))
	if err != nil {
		return err
	}

	mappings, err := attributeMappings(cfg)
	if err != nil {
		return err
	}

	stores := store.NewMemoryStore()
	blobs := store.NewFSBlobStore(blobDirFlag)
	mapper := sync.NewMapper(mappings, blobs, log)

	reconcilerOpts := []sync.ReconcilerOption{
		sync.WithReconcilerLogger(log),
		sync.WithExpiryPolicy(sync.ExpiryPolicy{
			Attribute: cfg.Sync.ExpiryAttribute,
			Mask:      cfg.Sync.ExpiryMask,
		}),
	}
	if cfg.Sync.DefaultGroup != "" {
		reconcilerOpts = append(reconcilerOpts, sync.WithDefaultGroup(cfg.Sync.DefaultGroup))
	}

	// Each worker owns its own connection: the enumeration's paged
	// cursor is connection-scoped and must not share a connection with
	// the workers' searches.
	factory := func(context.Context) (*sync.Worker, error) {
		workerGW, err := directory.NewGateway(&cfg.Directory, directory.WithLogger(log))
		if err != nil {
			return nil, err
		}
		workerQueries, err := query.NewService(workerGW, queryCfg,
			query.WithCache(provider),
			query.WithServiceLogger(log))
		if err != nil {
			workerGW.Close()
			return nil, err
		}
		return &sync.Worker{
			Reconciler: sync.NewReconciler(workerGW, workerQueries, stores, stores, reconcilerOpts...),
			Mapper:     mapper,
			Closer:     workerGW,
		}, nil
	}

	runner := sync.NewRunner(queries, stores, factory, cfg.Sync.Workers, log)
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "users=%d synced=%d skipped=%d failed=%d\n",
		report.Users, report.Synced, report.Skipped, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d identities failed to reconcile", report.Failed)
	}
	return nil
}

func attributeMappings(cfg *config.Config) ([]sync.AttributeMapping, error) {
	mappings := make([]sync.AttributeMapping, 0, len(cfg.Sync.AttributeMappings))
	for _, m := range cfg.Sync.AttributeMappings {
		kind, err := sync.ParseMappingKind(m.Kind)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, sync.AttributeMapping{
			Attr:  strings.ToLower(m.Attr),
			Field: m.Field,
			Kind:  kind,
		})
	}
	return mappings, nil
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/config"
	"github.com/ropable/prs/pkg/database"
	"github.com/ropable/prs/pkg/handlers"
	"github.com/ropable/prs/pkg/logging"
	"github.com/ropable/prs/pkg/repositories"
	"github.com/ropable/prs/pkg/services"
	"github.com/ropable/prs/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

// app bundles everything the subcommands need.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	referral repositories.ReferralRepository
	location repositories.LocationRepository
	task     repositories.TaskRepository
	record   repositories.RecordRepository
	cond     repositories.ConditionRepository
	source   repositories.SourceItemRepository
	lookup   repositories.LookupRepository
	store    *storage.MinioStore
	indexer  services.Indexer
	notifier services.Notifier
	harvest  services.Harvester
	workflow services.WorkflowService
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := storage.NewMinioStore(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		referral: repositories.NewReferralRepository(db),
		location: repositories.NewLocationRepository(db),
		task:     repositories.NewTaskRepository(db),
		record:   repositories.NewRecordRepository(db),
		cond:     repositories.NewConditionRepository(db),
		source:   repositories.NewSourceItemRepository(db),
		lookup:   repositories.NewLookupRepository(db),
		store:    store,
	}

	a.indexer = services.NewTypesenseIndexer(&cfg.Typesense, logger)
	a.notifier = services.NewSMTPNotifier(cfg.SMTP, cfg.Harvest.SiteURL, logger)
	geocoder := services.NewSLIPGeocoder(&cfg.SLIP, logger)
	spatial := services.NewSpatialService(a.lookup, a.location, logger)
	resolver := services.NewReferralResolver(a.referral, a.lookup, spatial, geocoder, cfg.Harvest, logger)
	a.harvest = services.NewHarvester(
		db, a.source, a.referral, a.location, a.task, a.record, a.lookup,
		resolver, spatial, store, a.notifier, a.indexer, cfg.Harvest, logger)
	a.workflow = services.NewWorkflowService(
		db, a.task, a.referral, a.cond, a.record, a.lookup, a.notifier, a.indexer, cfg.Harvest, logger)
	return a, nil
}

func (a *app) close() {
	a.db.Close()
	_ = a.logger.Sync()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the PRS HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			mux := http.NewServeMux()
			handlers.NewHealthHandler(a.cfg, a.logger).RegisterRoutes(mux)
			handlers.NewReferralsHandler(a.referral, a.location, a.record, a.cond, a.task, a.logger).RegisterRoutes(mux)
			handlers.NewTasksHandler(a.task, a.lookup, a.workflow, a.logger).RegisterRoutes(mux)

			addr := a.cfg.BindAddr + ":" + a.cfg.Port
			a.logger.Info("starting prs",
				zap.String("addr", addr), zap.String("version", a.cfg.Version))
			return http.ListenAndServe(addr, mux)
		},
	}
}

func harvestCmd() *cobra.Command {
	var (
		emailReport bool
		purgeEmail  bool
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Process unprocessed harvested referral emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			actions, err := a.harvest.HarvestUnprocessed(ctx, purgeEmail)
			if err != nil {
				return err
			}
			a.logger.Info("harvest run finished", zap.Int("actions", len(actions)))

			if emailReport && len(actions) > 0 {
				if err := a.harvest.EmailReport(ctx, actions); err != nil {
					a.logger.Warn("harvest report email failed", zap.Error(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&emailReport, "email-report", false, "email the run's action report to the power user group")
	cmd.Flags().BoolVar(&purgeEmail, "purge-email", false, "mark processed source emails as purgeable")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "prs",
		Short:         "Planning Referral System service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), harvestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

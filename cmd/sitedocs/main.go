// sitedocs serves a drive-style filesystem over an S3 bucket plus a
// collaborative document-editing gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sitedocs/sitedocs/internal/config"
	"github.com/sitedocs/sitedocs/internal/drive"
	"github.com/sitedocs/sitedocs/internal/editor"
	"github.com/sitedocs/sitedocs/internal/objstore"
	"github.com/sitedocs/sitedocs/internal/server"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sitedocs",
		Short: "Drive-style document storage over an S3 bucket",
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "sitedocs.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the drive HTTP server",
		RunE: func(*cobra.Command, []string) error {
			return runServe()
		},
	}
	rootCmd.AddCommand(serveCmd)

	var olderThan time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge-archive",
		Short: "Delete archived items past their retention age",
		RunE: func(*cobra.Command, []string) error {
			return runPurge(olderThan)
		},
	}
	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 0,
		"override the configured retention age (e.g. 720h)")
	rootCmd.AddCommand(purgeCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("sitedocs %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// buildComponents loads config and wires the store, drive and gateway stack.
func buildComponents(ctx context.Context) (*config.Config, *drive.Manager, *editor.Gateway, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := objstore.NewS3Store(ctx, objstore.S3Config{
		Endpoint:    cfg.S3.Endpoint,
		Region:      cfg.S3.Region,
		Bucket:      cfg.S3.Bucket,
		AccessKey:   cfg.S3.AccessKey,
		SecretKey:   cfg.S3.SecretKey,
		PathStyle:   cfg.S3.PathStyle,
		MaxAttempts: cfg.S3.MaxAttempts,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect object store: %w", err)
	}

	// The gateway needs the manager for save bookkeeping and the manager
	// needs the gateway for session invalidation, so one side is wired late.
	mgr := drive.NewManager(store, drive.ManagerConfig{ListingTTL: cfg.ListingTTL()})
	gateway := editor.NewGateway(store, mgr, editor.Config{
		EngineBaseURL:    cfg.Editor.BaseURL,
		PublicBaseURL:    cfg.PublicBaseURL,
		SigningSecret:    cfg.Editor.SigningSecret,
		EnforceSignature: cfg.Editor.EnforceSignature,
		TokenTTL:         cfg.TokenTTL(),
		DocKeyTTL:        cfg.DocKeyTTL(),
	})
	mgr.SetSessionInvalidator(gateway)
	return cfg, mgr, gateway, nil
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, mgr, gateway, err := buildComponents(ctx)
	if err != nil {
		return err
	}

	objstore.InitStoreMetrics(nil)
	metrics := server.InitAPIMetrics(nil)
	srv := server.NewServer(cfg, mgr, gateway, metrics)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go runPurgeLoop(ctx, mgr.Archiver(), metrics, cfg.Retention(), cfg.PurgeInterval())

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Str("bucket", cfg.S3.Bucket).Msg("starting drive server")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

// runPurgeLoop removes expired archive items on a fixed cadence.
func runPurgeLoop(ctx context.Context, archiver *drive.Archiver, metrics *server.APIMetrics, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := archiver.PurgeOlderThan(ctx, retention)
			if err != nil {
				log.Warn().Err(err).Msg("archive purge failed")
				continue
			}
			if purged > 0 && metrics != nil {
				metrics.ArchivePurgedTotal.Add(float64(purged))
			}
		}
	}
}

func runPurge(olderThan time.Duration) error {
	ctx := context.Background()
	cfg, mgr, _, err := buildComponents(ctx)
	if err != nil {
		return err
	}
	retention := cfg.Retention()
	if olderThan > 0 {
		retention = olderThan
	}

	purged, err := mgr.Archiver().PurgeOlderThan(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d archived objects older than %s\n", purged, retention)
	return nil
}

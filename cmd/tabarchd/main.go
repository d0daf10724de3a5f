// tabarchd is the continuous table archiver daemon.
//
// It subscribes to a table feed, appends each update to a rotating archive
// file, and migrates finished files to their timestamp-named destinations.
// SIGHUP or SIGUSR1 forces rotation to a new file; SIGINT exits gracefully
// after a final rotation and migration.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/tabarch/internal/archive"
	"github.com/xtxerr/tabarch/internal/config"
	"github.com/xtxerr/tabarch/internal/feed"
	"github.com/xtxerr/tabarch/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	scratch := flag.String("scratch", "", "scratch file path (overrides config)")
	outfile := flag.String("outfile", "", "final path template (overrides config)")
	check := flag.Bool("check", false, "exit after validating configuration")
	verbose := flag.Bool("v", false, "debug logging")
	quiet := flag.Bool("q", false, "warnings only")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// CLI overrides
	if *scratch != "" {
		cfg.Archive.Scratch = *scratch
	}
	if *outfile != "" {
		cfg.Archive.Outfile = *outfile
	}

	level := logLevel(cfg.Log.Level)
	if *verbose {
		level = slog.LevelDebug
	}
	if *quiet {
		level = slog.LevelWarn
	}
	logging.Init(level, cfg.Log.JSON)
	log := logging.With("component", "main", "version", Version)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *check {
		fmt.Println("configuration ok")
		return
	}

	log.Info("tabarchd starting",
		"table", cfg.Feed.Table, "scratch", cfg.Archive.Scratch)

	// =========================================================================
	// Create Writer and Subscription
	// =========================================================================

	writer, err := archive.NewTableWriter(archive.Options{
		Scratch:     cfg.Archive.Scratch,
		Template:    cfg.Archive.Outfile,
		Group:       cfg.Archive.Group,
		SizeLimit:   cfg.Archive.SizeLimit.Bytes(),
		Period:      cfg.Archive.Period.Duration(),
		Compression: cfg.Archive.Compression,
	}, logging.Component("writer"))
	if err != nil {
		log.Error("create writer", "error", err)
		os.Exit(1)
	}

	log.Info("creating subscription", "url", cfg.Feed.URL, "table", cfg.Feed.Table)
	client := feed.NewClient(cfg.Feed.URL, cfg.Feed.Table, writer, logging.Component("feed"))

	// =========================================================================
	// Signal Handling
	// =========================================================================

	// SIGHUP and SIGUSR1 both mean "force rotation now", so external tools
	// like logrotate can start a new file:
	//   killall -s SIGUSR1 tabarchd
	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGHUP, syscall.SIGUSR1)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Start(ctx)

	// =========================================================================
	// Control Loop
	// =========================================================================

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Poll at a quarter of the age threshold even without a signal.
		ticker := time.NewTicker(cfg.Archive.Period.Duration() / 4)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-wake:
				log.Info("wake signal received, forcing rotation")
				if err := writer.Evaluate(true); err != nil {
					log.Error("forced rotation failed", "error", err)
				}
			case <-ticker.C:
				if err := writer.Evaluate(false); err != nil {
					log.Error("rotation evaluation failed", "error", err)
				}
			}
		}
	})

	log.Info("running")
	if err := g.Wait(); err != nil {
		log.Error("control loop failed", "error", err)
	}

	// =========================================================================
	// Graceful Shutdown
	// =========================================================================

	log.Info("shutting down")

	// Stop delivery first, then drain: final forced rotation and an
	// unconditional wait for the last migration.
	if err := client.Close(); err != nil {
		log.Error("close subscription", "error", err)
	}
	if err := writer.Close(); err != nil {
		log.Error("final rotation failed", "error", err)
	}

	stats := writer.Stats()
	log.Info("done",
		"updates", stats.UpdatesReceived,
		"rows", stats.RowsAppended,
		"files", stats.FilesRotated,
		"migrations_failed", stats.MigrationsFailed)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

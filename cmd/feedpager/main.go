package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/feedpager/internal/config"
	"reddot-watch/feedpager/internal/database"
	"reddot-watch/feedpager/internal/importsources"
	"reddot-watch/feedpager/internal/ingest"
	"reddot-watch/feedpager/internal/server"
)

const usage = `Usage: feedpager [command] [options]
Commands: import, ingest, server, browse

For command-specific options, use: feedpager [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func logLevelFlag(fs *flag.FlagSet) *string {
	return fs.String("log-level", config.GetEnvString("FEEDPAGER_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FEEDPAGER_LOG_LEVEL)")
}

func dbFlag(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.DBPath, "db", config.GetEnvString("FEEDPAGER_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FEEDPAGER_DB_PATH)")
}

func main() {
	cfg := config.DefaultConfig()

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCmd.StringVar(&cfg.SourcesCSVPath, "csv", config.GetEnvString("FEEDPAGER_CSV_PATH", config.DefaultSourcesCSVPath),
		"Path to the sources CSV file (env: FEEDPAGER_CSV_PATH)")
	dbFlag(importCmd, cfg)
	importLogLevel := logLevelFlag(importCmd)

	ingestCmd := flag.NewFlagSet("ingest", flag.ExitOnError)
	dbFlag(ingestCmd, cfg)
	ingestLogLevel := logLevelFlag(ingestCmd)
	var intervalMinutes int
	ingestCmd.IntVar(&intervalMinutes, "interval", config.GetEnvInt("FEEDPAGER_INTERVAL", config.DefaultInterval),
		"Interval in minutes between ingest runs, 0 for one-shot mode (env: FEEDPAGER_INTERVAL)")
	ingestCmd.IntVar(&cfg.WorkerCount, "workers", config.GetEnvInt("FEEDPAGER_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of worker goroutines, 0 for CPU count (env: FEEDPAGER_WORKER_COUNT)")
	ingestCmd.IntVar(&cfg.RetentionDays, "retention", config.GetEnvInt("FEEDPAGER_RETENTION_DAYS", config.DefaultRetentionDays),
		"Number of days to retain posts (env: FEEDPAGER_RETENTION_DAYS)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	dbFlag(serverCmd, cfg)
	serverCmd.StringVar(&cfg.ServerHost, "host", config.GetEnvString("FEEDPAGER_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: FEEDPAGER_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("FEEDPAGER_PORT", config.DefaultServerPort),
		"Port to listen on (env: FEEDPAGER_PORT)")
	serverLogLevel := logLevelFlag(serverCmd)

	browseCmd := flag.NewFlagSet("browse", flag.ExitOnError)
	browseCmd.StringVar(&cfg.APIBaseURL, "api", config.GetEnvString("FEEDPAGER_API_URL", config.DefaultAPIBaseURL),
		"Base URL of the posts API (env: FEEDPAGER_API_URL)")
	var envName string
	browseCmd.StringVar(&envName, "env", config.GetEnvString("FEEDPAGER_ENV", config.DefaultEnvironment),
		"production or development, sets the page size (env: FEEDPAGER_ENV)")
	browseCmd.IntVar(&cfg.PageSize, "page-size", config.GetEnvInt("FEEDPAGER_PAGE_SIZE", 0),
		"Page-full threshold, 0 to derive it from -env (env: FEEDPAGER_PAGE_SIZE)")
	browseCmd.DurationVar(&cfg.CacheTime, "cache-time", config.GetEnvDuration("FEEDPAGER_CACHE_TIME", config.DefaultCacheTime, time.Second),
		"How long GET responses are cached, 0 to disable (env: FEEDPAGER_CACHE_TIME)")
	browseCmd.StringVar(&cfg.CacheDBPath, "cache-db", config.GetEnvString("FEEDPAGER_CACHE_DB_PATH", ""),
		"SQLite file for the response cache, empty for in-memory (env: FEEDPAGER_CACHE_DB_PATH)")
	browseCmd.Float64Var(&cfg.ViewRate, "view-rate", config.GetEnvFloat("FEEDPAGER_VIEW_RATE", config.DefaultViewRate),
		"Maximum mark-viewed requests per second, 0 for unlimited (env: FEEDPAGER_VIEW_RATE)")
	browseLogLevel := logLevelFlag(browseCmd)

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "import":
		importCmd.Parse(os.Args[2:])
		setLogLevel(cfg, *importLogLevel)
		if err = runImport(cfg); err != nil {
			log.Error().Err(err).Msg("Import failed")
		}

	case "ingest":
		ingestCmd.Parse(os.Args[2:])
		setLogLevel(cfg, *ingestLogLevel)
		cfg.Interval = time.Duration(intervalMinutes) * time.Minute
		if err = runIngest(cfg); err != nil {
			log.Error().Err(err).Msg("Ingest failed")
		}

	case "server":
		serverCmd.Parse(os.Args[2:])
		setLogLevel(cfg, *serverLogLevel)
		if err = runServer(cfg); err != nil {
			log.Error().Err(err).Msg("Server failed")
		}

	case "browse":
		browseCmd.Parse(os.Args[2:])
		setLogLevel(cfg, *browseLogLevel)
		cfg.Env = config.ParseEnvironment(envName)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err = runBrowse(ctx, cfg, os.Stdin, os.Stdout)
		stop()
		if err != nil {
			log.Error().Err(err).Msg("Browse failed")
		}

	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	if err != nil {
		os.Exit(1)
	}
}

func setLogLevel(cfg *config.Config, level string) {
	if l, err := zerolog.ParseLevel(level); err == nil {
		cfg.LogLevel = l
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
}

// runImport imports sources from a CSV file into a fresh database.
// It prompts for confirmation before deleting an existing database.
func runImport(cfg *config.Config) error {
	if _, err := os.Stat(cfg.DBPath); err == nil {
		fmt.Printf("Database %s already exists. All data will be lost as updates are not currently supported.\n", cfg.DBPath)
		fmt.Print("Delete and recreate? (y/N): ")

		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(answer) != "y" {
			return errors.New("operation canceled by user")
		}

		if err := database.DeleteDB(cfg.DBPath); err != nil {
			return fmt.Errorf("failed to delete existing database: %w", err)
		}
		log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	res, err := importsources.NewImporter(db).Import(context.Background(), cfg.SourcesCSVPath)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d sources successfully\n", res.Imported)
	if len(res.Errors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// runIngest runs the ingest pipeline once, or every cfg.Interval until a shutdown signal.
func runIngest(cfg *config.Config) error {
	if cfg.Interval <= 0 {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().Int64("interval_minutes", int64(cfg.Interval.Minutes())).Msg("Running in periodic mode")
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := ingest.NewPipeline(db, ingest.NewRSSFetcher(ingest.DefaultFetcherConfig()), cfg.WorkerCount)
	if err != nil {
		return fmt.Errorf("failed to initialize ingest pipeline: %w", err)
	}

	if err := runIngestCycle(ctx, pipeline, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Ingest cycle canceled by shutdown signal")
			return nil
		}
		return err
	}
	if cfg.Interval <= 0 {
		log.Info().Msg("One-shot ingest completed, exiting")
		return nil
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	log.Info().Time("next_run", time.Now().Add(cfg.Interval)).Msg("Waiting for next ingest cycle")

	for {
		select {
		case <-ticker.C:
			if err := runIngestCycle(ctx, pipeline, cfg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error().Err(err).Msg("Ingest cycle failed")
			}
			log.Info().Time("next_run", time.Now().Add(cfg.Interval)).Msg("Waiting for next ingest cycle")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic ingest")
			return nil
		}
	}
}

func runIngestCycle(ctx context.Context, pipeline *ingest.Pipeline, cfg *config.Config) error {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	start := time.Now()
	err := pipeline.Run(runCtx)
	log.Info().Dur("duration", time.Since(start)).Msg("Ingest cycle finished")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ingest error: %w", err)
	}

	purgeCtx, purgeCancel := context.WithTimeout(ctx, 5*time.Minute)
	defer purgeCancel()
	if _, err := pipeline.PurgeOldPosts(purgeCtx, cfg.RetentionDays); err != nil {
		log.Error().Err(err).Msg("Failed to purge old posts")
	}
	return nil
}

// runServer starts the development posts backend.
func runServer(cfg *config.Config) error {
	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	return server.RunServer(db, cfg.ListenAddr(), log.Logger, cfg.APIKey)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/runtime"
	"github.com/ternarybob/conductor/internal/scheduler"
	"github.com/ternarybob/conductor/internal/services/events"
	badgerstore "github.com/ternarybob/conductor/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Conductor version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("conductor.toml"); err == nil {
			configFiles = append(configFiles, "conductor.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.PrintBanner(config, logger)

	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open job store")
		os.Exit(1)
	}
	defer db.Close()

	store := badgerstore.NewJobStore(db, logger)
	eventService := events.NewService(logger)
	registry := runtime.NewRegistry(logger)

	service := scheduler.NewService(config, store, eventService, registry, logger)

	ctx := context.Background()
	if err := service.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler service")
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	common.PrintShutdownBanner(logger)

	service.Stop()
	eventService.Close()
	common.Stop()
}

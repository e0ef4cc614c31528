package badger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/conductor/internal/common"
)

// BadgerDB holds the embedded store every durable job lives in. The write
// path is many small upserts, one per status edge, so the store is tuned for
// durability over throughput.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadgerDB opens the job store at the configured path
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		resetDatabase(config.Path, logger)
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // arbor owns logging

	// A status edge counts as taken only once it is durable: fsync every
	// upsert rather than batching through the OS cache
	options.SyncWrites = true

	// Jobs are rewritten on every transition and only the latest state is
	// ever read back
	options.NumVersionsToKeep = 1

	// JSON encoding: job records carry interface-typed arguments and the
	// continuation tree, which gob cannot round-trip without registration
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Bool("sync_writes", true).Msg("Job store opened")

	return &BadgerDB{
		store:  store,
		logger: logger,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

// resetDatabase deletes an existing store for clean test and development runs
func resetDatabase(path string, logger arbor.ILogger) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	logger.Debug().Str("path", path).Msg("Deleting existing database (reset_on_startup=true)")
	if err := os.RemoveAll(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to delete database directory")
	}
}

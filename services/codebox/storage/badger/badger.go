// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the embedded key-value database that backs the
// codebox file index and feature graph.
//
// The package owns lifecycle only: opening, schema stamping, value-log GC
// and transaction helpers. Key layout belongs to the store package.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// SchemaVersion is written under schemaKey on first open.
const SchemaVersion = 1

var schemaKey = []byte("meta/schema_version")

// ErrSchemaMismatch is returned when an existing database was written by an
// incompatible schema version.
var ErrSchemaMismatch = errors.New("badger: schema version mismatch")

// Config holds configuration for the index database.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs each commit.
	SyncWrites bool

	// Logger receives badger's internal warnings and errors. Nil silences them.
	Logger *slog.Logger

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a value log rewrite.
	GCDiscardRatio float64

	// MemTableSize is badger's memtable size in bytes. A single transaction
	// may hold about 15% of it. Zero keeps badger's default of 64 MiB.
	MemTableSize int64
}

// DefaultMemTableSize fits one scan pass of roughly 65k records in a
// single transaction.
const DefaultMemTableSize = 128 << 20

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
		MemTableSize:   DefaultMemTableSize,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger. Info and debug output is
// dropped; badger is chatty at those levels.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *badgerLogger) Infof(string, ...interface{}) {}

func (l *badgerLogger) Debugf(string, ...interface{}) {}

// DB is an opened index database.
type DB struct {
	*badger.DB
	gc       *GCRunner
	path     string
	inMemory bool
}

// Open opens (creating if needed) the index database.
//
// Description:
//
//	Creates the database directory, opens badger, stamps or verifies the
//	schema version and starts value log GC when GCInterval is positive.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is set.
//
// Outputs:
//
//	*DB - The opened database. Caller must Close it.
//	error - Non-nil if the path is invalid, badger cannot open, or the
//	        stored schema version differs from SchemaVersion.
//
// Thread Safety: The returned *DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.MemTableSize > 0 {
		opts = opts.WithMemTableSize(cfg.MemTableSize)
		// badger refuses to open when values may exceed one batch.
		if limit := cfg.MemTableSize * 15 / 100; opts.ValueThreshold > limit {
			opts = opts.WithValueThreshold(limit)
		}
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	db := &DB{DB: raw, path: cfg.Path, inMemory: cfg.InMemory}

	if err := db.ensureSchema(); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		db.gc = newGCRunner(raw, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		db.gc.start()
	}
	return db, nil
}

// OpenInMemory opens an empty in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

func (d *DB) ensureSchema() error {
	want := []byte(strconv.Itoa(SchemaVersion))
	return d.DB.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(schemaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(schemaKey, want)
		}
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		return item.Value(func(got []byte) error {
			if !bytes.Equal(got, want) {
				return fmt.Errorf("%w: stored %s, want %s", ErrSchemaMismatch, got, want)
			}
			return nil
		})
	})
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.stop()
		d.gc = nil
	}
	return d.DB.Close()
}

// Path returns the database directory, or "" for in-memory databases.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// WithTxn runs fn inside a read-write transaction and commits when fn
// returns nil. Nothing is written when fn or the commit fails.
//
// A write set larger than one batch fails with badger.ErrTxnTooBig, which
// fn's error chain carries unchanged. WriteChunked spreads such a set over
// several commits.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WriteChunked calls op for i in [0, n) and commits as often as badger
// needs to stay under its batch limit.
//
// Description:
//
//	When op fails with badger.ErrTxnTooBig the transaction so far is
//	committed and op is retried for the same i in a fresh transaction, so
//	op must be idempotent. The writes are NOT atomic as a whole; callers
//	that need all-or-nothing stage the chunks and publish them with a
//	final single-key commit.
//
// Outputs:
//
//	error - The first op or commit failure. Chunks committed before it stay
//	        written.
func (d *DB) WriteChunked(ctx context.Context, n int, op func(txn *badger.Txn, i int) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer func() { txn.Discard() }()

	for i := 0; i < n; i++ {
		err := op(txn, i)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("context cancelled: %w", err)
			}
			if err := txn.Commit(); err != nil {
				return fmt.Errorf("commit chunk: %w", err)
			}
			txn = d.DB.NewTransaction(true)
			err = op(txn, i)
		}
		if err != nil {
			return err
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit chunk: %w", err)
	}
	return nil
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// ScanPrefix calls fn for every key under prefix in key order. Iteration
// stops at the first error returned by fn.
func ScanPrefix(txn *badger.Txn, prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ScanKeys calls fn for every key under prefix without loading values.
func ScanKeys(txn *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item().KeyCopy(nil)); err != nil {
			return err
		}
	}
	return nil
}

// GCRunner periodically triggers value log garbage collection.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *GCRunner {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *GCRunner) start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.collect()
			}
		}
	}()
}

func (r *GCRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *GCRunner) collect() {
	// Rewrite as many files as qualify; ErrNoRewrite ends the round.
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
		return
	}
}

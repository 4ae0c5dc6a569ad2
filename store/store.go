// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package store persists chunks, the scan checkpoint and settings in badger.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"go.uber.org/zap"
)

// SchemaVersion is the version of the key layout written by this package.
const SchemaVersion = 1

// Errors returned by Store.
var (
	ErrSchemaVersion = errors.New("unsupported schema version")
	ErrNotFound      = errors.New("not found")
)

// Key layout:
//
//	meta/schema         uint32 schema version
//	meta/next_chunk_id  uint64 next chunk id
//	chunk/<id>          encoded chunk, id as big-endian uint64 so that keys sort by id
//	checkpoint          JSON encoded Checkpoint
//	setting/<key>       raw setting value
var (
	keySchema      = []byte("meta/schema")
	keyNextChunkID = []byte("meta/next_chunk_id")
	keyCheckpoint  = []byte("checkpoint")

	prefixChunk   = []byte("chunk/")
	prefixSetting = []byte("setting/")
)

// Store is the persistent chunk database.
//
// Each command owns the Store exclusively for its duration.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Options defines settings for Store.
type Options struct {
	Logger *zap.Logger

	InMemory   bool
	SyncWrites bool
}

// OptionFunc allows setting Store options.
type OptionFunc func(*Options) error

func defaultOptions() Options {
	return Options{
		Logger:     zap.NewNop(),
		SyncWrites: true,
	}
}

// WithLogger sets logger for Store, badger diagnostics are routed to it as well.
func WithLogger(logger *zap.Logger) OptionFunc {
	return func(opt *Options) error {
		opt.Logger = logger

		return nil
	}
}

// WithInMemory keeps the whole database in memory, nothing is written to disk.
func WithInMemory() OptionFunc {
	return func(opt *Options) error {
		opt.InMemory = true

		return nil
	}
}

// WithSyncWrites controls whether every commit is synced to disk.
func WithSyncWrites(sync bool) OptionFunc {
	return func(opt *Options) error {
		opt.SyncWrites = sync

		return nil
	}
}

// Open opens (creating if needed) the database in directory path.
//
// The schema is initialized (or verified) before Open returns.
func Open(path string, opts ...OptionFunc) (*Store, error) {
	opt := defaultOptions()

	for _, o := range opts {
		if err := o(&opt); err != nil {
			return nil, err
		}
	}

	if path == "" && !opt.InMemory {
		return nil, errors.New("database path should be set")
	}

	bopts := badger.DefaultOptions(path)

	if opt.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}

	// the database holds thousands of small records at most
	bopts = bopts.
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(64 << 20).
		WithCompression(options.None).
		WithBlockCacheSize(0).
		WithSyncWrites(opt.SyncWrites).
		WithLogger(badgerLogger{opt.Logger.Sugar()}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: opt.Logger,
	}

	if err = s.initSchema(); err != nil {
		db.Close() //nolint:errcheck

		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// Update runs fn in a read-write transaction, which is committed if fn returns nil.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn, writable: true})
	})
}

func (s *Store) initSchema() error {
	return s.Update(func(tx *Tx) error {
		item, err := tx.txn.Get(keySchema)

		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			s.logger.Debug("initializing database schema", zap.Int("version", SchemaVersion))

			return tx.txn.Set(keySchema, binary.BigEndian.AppendUint32(nil, SchemaVersion))
		case err != nil:
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		if len(value) != 4 {
			return fmt.Errorf("%w: malformed version record", ErrSchemaVersion)
		}

		if version := binary.BigEndian.Uint32(value); version != SchemaVersion {
			return fmt.Errorf("%w: database has version %d, supported %d", ErrSchemaVersion, version, SchemaVersion)
		}

		return nil
	})
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// Package badgerstore implements store.Store on top of BadgerDB, an embedded
// key-value database. It is the default backend: results survive restarts
// without running a database server.
//
// Records are stored as JSON under two key spaces:
//
//	batch/<batch id>
//	experiment/<batch id>/<experiment id>
//
// so the experiments of one batch are a single prefix scan.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/store"
)

const (
	batchPrefix      = "batch/"
	experimentPrefix = "experiment/"
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool
	// SyncWrites flushes every commit to disk.
	SyncWrites bool
	// Logger receives BadgerDB's internal messages. Nil disables them.
	Logger *slog.Logger
}

// Store is a BadgerDB implementation of store.Store.
type Store struct {
	db *badger.DB
}

var _ store.Store = (*Store)(nil)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the database described by cfg, creating its directory if needed.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

func batchKey(id string) []byte {
	return []byte(batchPrefix + id)
}

func experimentKey(batchID, id string) []byte {
	return []byte(experimentPrefix + batchID + "/" + id)
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// scan decodes every value under prefix with decode.
func (s *Store) scan(prefix []byte, decode func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error { return decode(key, val) }); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

func (s *Store) SaveBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = store.NewID()
	}
	if err := s.put(batchKey(b.ID), b); err != nil {
		return fmt.Errorf("failed to save batch %q: %w", b.Name, err)
	}
	return nil
}

func (s *Store) batches(f store.BatchFilter) ([]*model.Batch, [][]byte, error) {
	match, err := f.Compile()
	if err != nil {
		return nil, nil, err
	}

	prefix := []byte(batchPrefix)
	if f.ID != "" {
		prefix = batchKey(f.ID)
	}

	var out []*model.Batch
	var keys [][]byte
	err = s.scan(prefix, func(key, val []byte) error {
		var b model.Batch
		if err := json.Unmarshal(val, &b); err != nil {
			return fmt.Errorf("corrupt batch record %s: %w", key, err)
		}
		if match(&b) {
			out = append(out, &b)
			keys = append(keys, key)
		}
		return nil
	})
	return out, keys, err
}

func (s *Store) Batches(ctx context.Context, f store.BatchFilter) ([]*model.Batch, error) {
	out, _, err := s.batches(f)
	if err != nil {
		return nil, err
	}
	return store.SortBatches(out, f.Limit), nil
}

func (s *Store) RemoveBatches(ctx context.Context, f store.BatchFilter) (int, error) {
	_, keys, err := s.batches(f)
	if err != nil {
		return 0, err
	}
	return len(keys), s.deleteKeys(keys)
}

func (s *Store) SaveExperiment(ctx context.Context, e *model.Experiment) error {
	if e.ID == "" {
		e.ID = store.NewID()
	}
	if err := s.put(experimentKey(e.BatchID, e.ID), e); err != nil {
		return fmt.Errorf("failed to save experiment: %w", err)
	}
	return nil
}

func (s *Store) experiments(f store.ExperimentFilter) ([]*model.Experiment, [][]byte, error) {
	prefix := []byte(experimentPrefix)
	if f.BatchID != "" {
		prefix = []byte(experimentPrefix + f.BatchID + "/")
	}

	var out []*model.Experiment
	var keys [][]byte
	err := s.scan(prefix, func(key, val []byte) error {
		var e model.Experiment
		if err := json.Unmarshal(val, &e); err != nil {
			return fmt.Errorf("corrupt experiment record %s: %w", key, err)
		}
		if f.Match(&e) {
			out = append(out, &e)
			keys = append(keys, key)
		}
		return nil
	})
	return out, keys, err
}

func (s *Store) Experiments(ctx context.Context, f store.ExperimentFilter) ([]*model.Experiment, error) {
	out, _, err := s.experiments(f)
	if err != nil {
		return nil, err
	}
	return store.SortExperiments(out), nil
}

func (s *Store) RemoveExperiments(ctx context.Context, f store.ExperimentFilter) (int, error) {
	_, keys, err := s.experiments(f)
	if err != nil {
		return 0, err
	}
	return len(keys), s.deleteKeys(keys)
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

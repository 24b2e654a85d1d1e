package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"sfwriter/internal/frame"
	"sfwriter/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Options configures Open.
type Options struct {
	BusyTimeout time.Duration
	Overwrite   bool
	Logger      *slog.Logger
}

// Container is a Sink backed by a single SQLite file.
type Container struct {
	mu       sync.Mutex
	db       *sql.DB
	path     string
	lock     *flock.Flock
	datasets map[string]Dataset
	insert   *sql.Stmt
	logger   *slog.Logger
}

// LockPath returns the lock file guarding path.
func LockPath(path string) string {
	return path + ".lock"
}

// Open creates the container at path. The caller must Close it.
func Open(ctx context.Context, path string, opts Options) (*Container, error) {
	logger := logging.NewComponentLogger(opts.Logger, "storage")

	lock := flock.New(LockPath(path))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire output lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	c, err := openLocked(ctx, path, opts, lock, logger)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	logger.Info("container opened", logging.String("path", path))
	return c, nil
}

func openLocked(ctx context.Context, path string, opts Options, lock *flock.Flock, logger *slog.Logger) (*Container, error) {
	if _, err := os.Stat(path); err == nil {
		if !opts.Overwrite {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		for _, stale := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(stale); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("remove existing output: %w", err)
			}
		}
		logger.Info("existing output replaced", logging.String("path", path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat output: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	insert, err := db.PrepareContext(ctx,
		"INSERT OR REPLACE INTO frames (dataset, frame_index, payload) VALUES (?, ?, ?)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare frame insert: %w", err)
	}

	return &Container{
		db:       db,
		path:     path,
		lock:     lock,
		datasets: make(map[string]Dataset),
		insert:   insert,
		logger:   logger,
	}, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Path is the output file.
func (c *Container) Path() string { return c.path }

// IsOpen reports whether the container still accepts writes.
func (c *Container) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}

// WriteData stores data as element index of ds. The first write to a dataset
// fixes its layout; later writes must match it.
func (c *Container) WriteData(ctx context.Context, ds Dataset, index uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrClosed
	}
	if err := c.ensureDataset(ctx, ds); err != nil {
		return err
	}
	if index > 1<<63-1 {
		return fmt.Errorf("dataset %s: frame index %d exceeds storage range", ds.Name, index)
	}
	if _, err := c.insert.ExecContext(ctx, ds.Name, int64(index), data); err != nil {
		return fmt.Errorf("insert %s[%d]: %w", ds.Name, index, err)
	}
	return nil
}

func (c *Container) ensureDataset(ctx context.Context, ds Dataset) error {
	if existing, ok := c.datasets[ds.Name]; ok {
		if !existing.sameLayout(ds) {
			return fmt.Errorf("%w: %s is %v %s/%s, got %v %s/%s", ErrShapeMismatch, ds.Name,
				existing.Shape, existing.DType, existing.Endianness, ds.Shape, ds.DType, ds.Endianness)
		}
		return nil
	}
	size, ok := ds.DType.Size()
	if !ok {
		return fmt.Errorf("dataset %s: %w: %q", ds.Name, frame.ErrUnknownDType, ds.DType)
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO datasets (name, dtype, endianness, shape, element_size, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		ds.Name,
		string(ds.DType),
		ds.Endianness,
		encodeShape(ds.Shape),
		size,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", ds.Name, err)
	}
	c.datasets[ds.Name] = Dataset{
		Name:       ds.Name,
		Shape:      append([]uint64(nil), ds.Shape...),
		DType:      ds.DType,
		Endianness: ds.Endianness,
	}
	c.logger.Debug("dataset created",
		logging.String("dataset", ds.Name),
		logging.String("dtype", string(ds.DType)),
		logging.String("shape", encodeShape(ds.Shape)),
	)
	return nil
}

// WriteAttribute stores a typed attribute at path/name, replacing any previous value.
func (c *Container) WriteAttribute(ctx context.Context, path, name string, value any) error {
	dtype, text, err := encodeAttribute(value)
	if err != nil {
		return fmt.Errorf("attribute %s/%s: %w", path, name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrClosed
	}
	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO attributes (path, name, dtype, value) VALUES (?, ?, ?, ?)",
		path, name, dtype, text)
	if err != nil {
		return fmt.Errorf("write attribute %s/%s: %w", path, name, err)
	}
	return nil
}

// Close flushes and closes the file and releases the output lock. It is safe
// to call more than once.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	var errs []error
	if err := c.insert.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close statement: %w", err))
	}
	if _, err := c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		errs = append(errs, fmt.Errorf("checkpoint: %w", err))
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sqlite db: %w", err))
	}
	c.db = nil
	if err := os.Remove(LockPath(c.path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("failed to remove lock file", logging.Error(err))
	}
	if err := c.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release output lock: %w", err))
	}
	c.logger.Info("container closed", logging.String("path", c.path))
	return errors.Join(errs...)
}

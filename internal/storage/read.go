package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"sfwriter/internal/frame"
)

// Reader opens a closed container for inspection.
type Reader struct {
	db *sql.DB
}

// OpenReader opens an existing container for queries.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Dataset returns the fixed layout of name.
func (r *Reader) Dataset(ctx context.Context, name string) (Dataset, error) {
	var dtype, endianness, shape string
	err := r.db.QueryRowContext(ctx,
		"SELECT dtype, endianness, shape FROM datasets WHERE name = ?", name,
	).Scan(&dtype, &endianness, &shape)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("dataset %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset %s: %w", name, err)
	}
	dims, err := decodeShape(shape)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Name: name, Shape: dims, DType: frame.DType(dtype), Endianness: endianness}, nil
}

// Datasets lists dataset names in sorted order.
func (r *Reader) Datasets(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM datasets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ReadFrame returns element index of dataset.
func (r *Reader) ReadFrame(ctx context.Context, dataset string, index uint64) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT payload FROM frames WHERE dataset = ? AND frame_index = ?", dataset, int64(index),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s[%d]: %w", dataset, index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s[%d]: %w", dataset, index, err)
	}
	return payload, nil
}

// FrameIndices lists the stored indices of dataset in ascending order.
func (r *Reader) FrameIndices(ctx context.Context, dataset string) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT frame_index FROM frames WHERE dataset = ? ORDER BY frame_index", dataset)
	if err != nil {
		return nil, fmt.Errorf("list frames of %s: %w", dataset, err)
	}
	defer rows.Close()
	var indices []uint64
	for rows.Next() {
		var index int64
		if err := rows.Scan(&index); err != nil {
			return nil, fmt.Errorf("scan frame index: %w", err)
		}
		indices = append(indices, uint64(index))
	}
	return indices, rows.Err()
}

// Attribute returns the typed value stored at path/name.
func (r *Reader) Attribute(ctx context.Context, path, name string) (any, error) {
	var dtype, text string
	err := r.db.QueryRowContext(ctx,
		"SELECT dtype, value FROM attributes WHERE path = ? AND name = ?", path, name,
	).Scan(&dtype, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attribute %s/%s: %w", path, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read attribute %s/%s: %w", path, name, err)
	}
	return decodeAttribute(dtype, text)
}

// AttributeCount is the number of stored attributes.
func (r *Reader) AttributeCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM attributes").Scan(&count); err != nil {
		return 0, fmt.Errorf("count attributes: %w", err)
	}
	return count, nil
}

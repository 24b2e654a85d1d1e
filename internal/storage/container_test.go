package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sfwriter/internal/frame"
	"sfwriter/internal/storage"
)

func openContainer(t *testing.T, path string) *storage.Container {
	t.Helper()
	c, err := storage.Open(context.Background(), path, storage.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func openReader(t *testing.T, path string) *storage.Reader {
	t.Helper()
	r, err := storage.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func scalar(name string, dtype frame.DType) storage.Dataset {
	return storage.Dataset{Name: name, Shape: []uint64{1}, DType: dtype, Endianness: frame.LittleEndian}
}

func TestHeaderScalarRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.h5")
	c := openContainer(t, path)

	pulse, _ := frame.EncodeScalar(frame.Uint64, "42")
	index, _ := frame.EncodeScalar(frame.Uint64, "7")
	if err := c.WriteData(ctx, scalar("pulse_id", frame.Uint64), 7, pulse); err != nil {
		t.Fatalf("write pulse_id: %v", err)
	}
	if err := c.WriteData(ctx, scalar("frame", frame.Uint64), 7, index); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := openReader(t, path)
	got, err := r.ReadFrame(ctx, "pulse_id", 7)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if diff := cmp.Diff([]byte{42, 0, 0, 0, 0, 0, 0, 0}, got); diff != "" {
		t.Fatalf("pulse_id bytes (-want +got):\n%s", diff)
	}
	got, err = r.ReadFrame(ctx, "frame", 7)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if v, ok := frame.DecodeUint64(got); !ok || v != 7 {
		t.Fatalf("frame value %v (ok=%v), want 7", v, ok)
	}
	ds, err := r.Dataset(ctx, "pulse_id")
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if diff := cmp.Diff(scalar("pulse_id", frame.Uint64), ds); diff != "" {
		t.Fatalf("dataset layout (-want +got):\n%s", diff)
	}
}

func TestFirstWriteFixesLayout(t *testing.T) {
	ctx := context.Background()
	c := openContainer(t, filepath.Join(t.TempDir(), "run.h5"))
	raw := storage.Dataset{Name: "data/raw", Shape: []uint64{2, 2}, DType: frame.Uint16, Endianness: frame.LittleEndian}
	if err := c.WriteData(ctx, raw, 1, make([]byte, 8)); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	other := raw
	other.Shape = []uint64{4, 1}
	if err := c.WriteData(ctx, other, 2, make([]byte, 8)); !errors.Is(err, storage.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	other = raw
	other.DType = frame.Int16
	if err := c.WriteData(ctx, other, 2, make([]byte, 8)); !errors.Is(err, storage.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for dtype change, got %v", err)
	}
}

func TestFrameIndicesAndOverwrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.h5")
	c := openContainer(t, path)
	ds := scalar("daq_rec", frame.Int64)
	for _, idx := range []uint64{3, 1, 2, 2} {
		v, _ := frame.EncodeScalar(frame.Int64, "-1")
		if err := c.WriteData(ctx, ds, idx, v); err != nil {
			t.Fatalf("WriteData(%d): %v", idx, err)
		}
	}
	_ = c.Close()

	r := openReader(t, path)
	indices, err := r.FrameIndices(ctx, "daq_rec")
	if err != nil {
		t.Fatalf("FrameIndices: %v", err)
	}
	if diff := cmp.Diff([]uint64{1, 2, 3}, indices); diff != "" {
		t.Fatalf("indices (-want +got):\n%s", diff)
	}
	if _, err := r.ReadFrame(ctx, "daq_rec", 9); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttributesKeepTheirType(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.h5")
	c := openContainer(t, path)
	values := map[string]any{
		"user":      "e12345",
		"n_modules": uint64(32),
		"offset":    int64(-4),
		"exposure":  0.5,
		"enabled":   true,
	}
	for name, v := range values {
		if err := c.WriteAttribute(ctx, "/general", name, v); err != nil {
			t.Fatalf("WriteAttribute(%s): %v", name, err)
		}
	}
	if err := c.WriteAttribute(ctx, "/general", "bad", []int{1}); err == nil {
		t.Fatal("expected error for unsupported attribute type")
	}
	_ = c.Close()

	r := openReader(t, path)
	got := make(map[string]any, len(values))
	for name := range values {
		v, err := r.Attribute(ctx, "/general", name)
		if err != nil {
			t.Fatalf("Attribute(%s): %v", name, err)
		}
		got[name] = v
	}
	if diff := cmp.Diff(values, got); diff != "" {
		t.Fatalf("attributes (-want +got):\n%s", diff)
	}
}

func TestSecondWriterIsLockedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.h5")
	openContainer(t, path)
	if _, err := storage.Open(context.Background(), path, storage.Options{Overwrite: true}); !errors.Is(err, storage.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestExistingOutputRequiresOverwrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.h5")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed output: %v", err)
	}
	if _, err := storage.Open(ctx, path, storage.Options{}); !errors.Is(err, storage.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	c, err := storage.Open(ctx, path, storage.Options{Overwrite: true})
	if err != nil {
		t.Fatalf("Open with overwrite: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWritesAfterCloseFail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.h5")
	c := openContainer(t, path)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.IsOpen() {
		t.Fatal("container reports open after Close")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.WriteData(ctx, scalar("x", frame.Uint8), 1, []byte{1}); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := c.WriteAttribute(ctx, "/", "x", "y"); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed for attribute, got %v", err)
	}
	if _, err := os.Stat(storage.LockPath(path)); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed on close, stat err=%v", err)
	}
}

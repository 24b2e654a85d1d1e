package testsupport

import (
	"context"
	"sort"
	"sync"

	"sfwriter/internal/storage"
)

// MemorySink is an in-memory storage.Sink that records every write.
type MemorySink struct {
	mu         sync.Mutex
	open       bool
	closes     int
	datasets   map[string]storage.Dataset
	data       map[string]map[uint64][]byte
	attributes map[string]any

	// AttributeErr, when set, is returned by every WriteAttribute call.
	AttributeErr error
	// BeforeWrite, when set, runs before each WriteData call outside the lock.
	BeforeWrite func(dataset string, index uint64)
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		open:       true,
		datasets:   make(map[string]storage.Dataset),
		data:       make(map[string]map[uint64][]byte),
		attributes: make(map[string]any),
	}
}

func (s *MemorySink) WriteData(_ context.Context, ds storage.Dataset, index uint64, data []byte) error {
	if hook := s.BeforeWrite; hook != nil {
		hook(ds.Name, index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return storage.ErrClosed
	}
	if _, ok := s.datasets[ds.Name]; !ok {
		s.datasets[ds.Name] = ds
		s.data[ds.Name] = make(map[uint64][]byte)
	}
	s.data[ds.Name][index] = append([]byte(nil), data...)
	return nil
}

func (s *MemorySink) WriteAttribute(_ context.Context, path, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return storage.ErrClosed
	}
	if s.AttributeErr != nil {
		return s.AttributeErr
	}
	s.attributes[path+"@"+name] = value
	return nil
}

func (s *MemorySink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closes++
	return nil
}

// Closes counts Close calls.
func (s *MemorySink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Indices returns the sorted frame indices written to dataset.
func (s *MemorySink) Indices(dataset string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.data[dataset]))
	for index := range s.data[dataset] {
		out = append(out, index)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Data returns a copy of one written element.
func (s *MemorySink) Data(dataset string, index uint64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[dataset][index]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}

// Dataset returns the layout recorded by the first write to name.
func (s *MemorySink) Dataset(name string) (storage.Dataset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[name]
	return ds, ok
}

// Attributes returns a copy of the written attributes keyed "path@name".
func (s *MemorySink) Attributes() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.attributes))
	for key, value := range s.attributes {
		out[key] = value
	}
	return out
}

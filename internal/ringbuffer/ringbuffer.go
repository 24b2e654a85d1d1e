// Package ringbuffer hands detector frames from the ingest goroutine to the
// storage goroutine through a fixed set of reusable slots.
//
// A slot moves Free -> Writing -> Filled -> Claimed -> Free and has exactly one
// owner at a time. The producer acquires and commits; the consumer claims and
// releases. When no slot is free the oldest filled slot is evicted and
// counted, so ingest never waits on storage.
package ringbuffer

import (
	"errors"
	"fmt"
	"sync"

	"sfwriter/internal/frame"
)

var (
	// ErrWouldBlock is returned by Acquire when every slot is owned by a producer or consumer.
	ErrWouldBlock = errors.New("ring buffer has no free or evictable slot")
	// ErrFrameTooLarge is returned by Commit when the payload exceeds the slot size.
	ErrFrameTooLarge = errors.New("frame exceeds slot size")
	// ErrStaleHandle is returned when a handle no longer owns its slot.
	ErrStaleHandle = errors.New("stale ring buffer handle")
)

type slotState uint8

const (
	stateFree slotState = iota
	stateWriting
	stateFilled
	stateClaimed
)

func (s slotState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateWriting:
		return "writing"
	case stateFilled:
		return "filled"
	case stateClaimed:
		return "claimed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type slot struct {
	state slotState
	gen   uint64
	buf   []byte
	size  int
	meta  frame.Metadata
}

// Stats is a point-in-time view of the buffer.
type Stats struct {
	Capacity  int
	Filled    int
	Free      int
	Committed uint64
	Dropped   uint64
}

// Buffer is a bounded single-producer single-consumer frame queue.
type Buffer struct {
	mu        sync.Mutex
	slots     []slot
	slotBytes int

	free []int

	// filled is a circular FIFO of committed, unclaimed slot indices.
	filled    []int
	head      int
	count     int
	committed uint64
	dropped   uint64
	readyCh   chan struct{}
}

// New allocates a buffer of n slots holding at most slotBytes each. Slot
// memory is grown on first use and reused afterwards.
func New(n, slotBytes int) (*Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("ring buffer: slot count must be positive, got %d", n)
	}
	if slotBytes <= 0 {
		return nil, fmt.Errorf("ring buffer: slot size must be positive, got %d", slotBytes)
	}
	b := &Buffer{
		slots:     make([]slot, n),
		slotBytes: slotBytes,
		free:      make([]int, 0, n),
		filled:    make([]int, n),
		readyCh:   make(chan struct{}, 1),
	}
	for i := n - 1; i >= 0; i-- {
		b.free = append(b.free, i)
	}
	return b, nil
}

// Acquire reserves a slot for the producer. When no slot is free the oldest
// filled slot is evicted; the returned handle reports it through Evicted.
func (b *Buffer) Acquire() (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := &Handle{buf: b}
	switch {
	case len(b.free) > 0:
		h.index = b.free[len(b.free)-1]
		b.free = b.free[:len(b.free)-1]
	case b.count > 0:
		h.index = b.popFilled()
		h.evicted = true
		h.evictedIndex = b.slots[h.index].meta.Index
		b.dropped++
	default:
		return nil, ErrWouldBlock
	}

	s := &b.slots[h.index]
	s.state = stateWriting
	s.gen++
	s.size = 0
	s.meta = frame.Metadata{}
	h.gen = s.gen
	return h, nil
}

// Commit copies data into the handle's slot and publishes it to the consumer.
// On ErrFrameTooLarge the slot is returned to the free list.
func (b *Buffer) Commit(h *Handle, meta frame.Metadata, data []byte) error {
	b.mu.Lock()
	s, err := b.owned(h, stateWriting)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if len(data) > b.slotBytes {
		b.freeSlot(h.index)
		b.mu.Unlock()
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(data), b.slotBytes)
	}
	if cap(s.buf) < len(data) {
		s.buf = make([]byte, len(data), b.slotBytes)
	}
	dst := s.buf[:len(data)]
	b.mu.Unlock()

	copy(dst, data)

	b.mu.Lock()
	s.size = len(data)
	s.meta = meta.Clone()
	s.state = stateFilled
	b.filled[(b.head+b.count)%len(b.filled)] = h.index
	b.count++
	b.committed++
	h.gen = 0
	b.mu.Unlock()

	select {
	case b.readyCh <- struct{}{}:
	default:
	}
	return nil
}

// TryClaim hands the oldest committed frame to the consumer.
func (b *Buffer) TryClaim() (*Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil, false
	}
	idx := b.popFilled()
	s := &b.slots[idx]
	s.state = stateClaimed
	return &Handle{buf: b, index: idx, gen: s.gen, meta: s.meta}, true
}

// Release returns a claimed slot to the free list. It must be called exactly
// once per claim.
func (b *Buffer) Release(h *Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.owned(h, stateClaimed); err != nil {
		return err
	}
	b.freeSlot(h.index)
	return nil
}

// Ready is signalled after a commit. It never blocks the producer; a wake-up
// may be coalesced with earlier ones.
func (b *Buffer) Ready() <-chan struct{} {
	return b.readyCh
}

// IsEmpty reports whether no committed frame awaits the consumer.
func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count == 0
}

// Len is the number of committed, unclaimed frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer) Cap() int { return len(b.slots) }

// SlotBytes is the largest payload a slot accepts.
func (b *Buffer) SlotBytes() int { return b.slotBytes }

// Dropped counts frames evicted before the consumer claimed them.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Capacity:  len(b.slots),
		Filled:    b.count,
		Free:      len(b.free),
		Committed: b.committed,
		Dropped:   b.dropped,
	}
}

func (b *Buffer) popFilled() int {
	idx := b.filled[b.head]
	b.head = (b.head + 1) % len(b.filled)
	b.count--
	return idx
}

func (b *Buffer) freeSlot(idx int) {
	s := &b.slots[idx]
	s.state = stateFree
	s.gen++
	s.size = 0
	b.free = append(b.free, idx)
}

func (b *Buffer) owned(h *Handle, want slotState) (*slot, error) {
	if h == nil || h.buf != b || h.index < 0 || h.index >= len(b.slots) {
		return nil, ErrStaleHandle
	}
	s := &b.slots[h.index]
	if s.state != want || s.gen != h.gen || h.gen == 0 {
		return nil, fmt.Errorf("%w: slot %d is %s", ErrStaleHandle, h.index, s.state)
	}
	return s, nil
}

package ringbuffer

import "sfwriter/internal/frame"

// Handle is an ownership token for one slot. Producer handles are returned by
// Acquire and spent by Commit; consumer handles are returned by TryClaim and
// spent by Release.
type Handle struct {
	buf   *Buffer
	index int
	gen   uint64
	meta  frame.Metadata

	evicted      bool
	evictedIndex uint64
}

// Evicted reports the frame index that Acquire discarded to make room, if any.
func (h *Handle) Evicted() (uint64, bool) {
	return h.evictedIndex, h.evicted
}

// Metadata returns the committed metadata of a claimed frame.
func (h *Handle) Metadata() frame.Metadata { return h.meta }

// Data returns the payload of a claimed frame. The slice aliases slot memory
// and is valid until Release; after Release it returns nil.
func (h *Handle) Data() []byte {
	b := h.buf
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.owned(h, stateClaimed)
	if err != nil {
		return nil
	}
	return s.buf[:s.size]
}

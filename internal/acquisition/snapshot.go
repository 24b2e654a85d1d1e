package acquisition

import "time"

// Snapshot is a consistent copy of the controller's counters and state.
type Snapshot struct {
	RunID             string
	State             State
	Running           bool
	Killed            bool
	StopReason        string
	OutputPath        string
	TargetFrames      uint64
	ReceivedFrames    uint64
	WrittenFrames     uint64
	DroppedFrames     uint64
	LastReceivedFrame uint64
	LastWrittenFrame  uint64
	MissingParameters []string
	StartedAt         time.Time
	StoppedAt         time.Time
}

// Snapshot captures the current state under a single lock.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RunID:             c.runID,
		State:             c.state,
		Running:           c.state == StateRunning,
		Killed:            c.killed,
		StopReason:        c.reason,
		OutputPath:        c.outputPath,
		TargetFrames:      c.target,
		ReceivedFrames:    c.received,
		WrittenFrames:     c.written,
		DroppedFrames:     c.dropped,
		LastReceivedFrame: c.lastReceived,
		LastWrittenFrame:  c.lastWritten,
		MissingParameters: c.missingLocked(),
		StartedAt:         c.startedAt,
		StoppedAt:         c.stoppedAt,
	}
}

// Elapsed is the wall time since Start, frozen once a stop was requested.
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if !s.StoppedAt.IsZero() {
		end = s.StoppedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

package api

import (
	"time"

	"sfwriter/internal/acquisition"
	"sfwriter/internal/ringbuffer"
)

// FromSnapshot converts a controller snapshot into a Status payload.
func FromSnapshot(snap acquisition.Snapshot, now time.Time) Status {
	missing := snap.MissingParameters
	if missing == nil {
		missing = []string{}
	}
	return Status{
		RunID:             snap.RunID,
		State:             snap.State.String(),
		Running:           snap.Running,
		Killed:            snap.Killed,
		StopReason:        snap.StopReason,
		OutputPath:        snap.OutputPath,
		StartedAt:         formatTime(snap.StartedAt),
		StoppedAt:         formatTime(snap.StoppedAt),
		ElapsedSeconds:    snap.Elapsed(now).Seconds(),
		MissingParameters: missing,
	}
}

// StatisticsFrom combines controller counters with ring occupancy.
func StatisticsFrom(snap acquisition.Snapshot, ring ringbuffer.Stats, slotBytes int, now time.Time) Statistics {
	stats := Statistics{
		ExpectedFrames:    snap.TargetFrames,
		ReceivedFrames:    snap.ReceivedFrames,
		WrittenFrames:     snap.WrittenFrames,
		DroppedFrames:     snap.DroppedFrames,
		LastReceivedFrame: snap.LastReceivedFrame,
		LastWrittenFrame:  snap.LastWrittenFrame,
		Ring: RingStats{
			Capacity:  ring.Capacity,
			Filled:    ring.Filled,
			Free:      ring.Free,
			SlotBytes: slotBytes,
			Committed: ring.Committed,
			Evicted:   ring.Dropped,
		},
	}
	if elapsed := snap.Elapsed(now).Seconds(); elapsed > 0 {
		stats.FramesPerSecond = float64(snap.WrittenFrames) / elapsed
	}
	return stats
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

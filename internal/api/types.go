package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Status describes the lifecycle of the current acquisition.
type Status struct {
	RunID             string   `json:"runId"`
	State             string   `json:"state"`
	Running           bool     `json:"running"`
	Killed            bool     `json:"killed"`
	StopReason        string   `json:"stopReason,omitempty"`
	OutputPath        string   `json:"outputPath"`
	StartedAt         string   `json:"startedAt,omitempty"`
	StoppedAt         string   `json:"stoppedAt,omitempty"`
	ElapsedSeconds    float64  `json:"elapsedSeconds"`
	MissingParameters []string `json:"missingParameters"`
}

// RingStats mirrors the ring buffer occupancy.
type RingStats struct {
	Capacity  int    `json:"capacity"`
	Filled    int    `json:"filled"`
	Free      int    `json:"free"`
	SlotBytes int    `json:"slotBytes"`
	Committed uint64 `json:"committed"`
	Evicted   uint64 `json:"evicted"`
}

// Statistics reports frame counters for the current acquisition.
type Statistics struct {
	ExpectedFrames    uint64    `json:"expectedFrames"`
	ReceivedFrames    uint64    `json:"receivedFrames"`
	WrittenFrames     uint64    `json:"writtenFrames"`
	DroppedFrames     uint64    `json:"droppedFrames"`
	LastReceivedFrame uint64    `json:"lastReceivedFrame"`
	LastWrittenFrame  uint64    `json:"lastWrittenFrame"`
	FramesPerSecond   float64   `json:"framesPerSecond"`
	Ring              RingStats `json:"ring"`
}

// Parameters lists the declared format parameters, their values, and which are still missing.
type Parameters struct {
	Values  map[string]any    `json:"values"`
	Types   map[string]string `json:"types"`
	Missing []string          `json:"missing"`
}

// ActionResponse acknowledges a stop or kill request.
type ActionResponse struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx control-plane reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

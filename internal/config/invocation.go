package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// KeepUserID leaves the process credentials unchanged.
const KeepUserID = -1

// Invocation carries the six positional arguments of one acquisition run.
type Invocation struct {
	// Address is the stream endpoint to connect to, e.g. tcp://127.0.0.1:40000.
	Address    string
	OutputPath string
	// FrameCount is the number of frames to acquire; 0 runs until stopped.
	FrameCount uint64
	Port       int
	UserID     int
	// NotifyAddress is the upstream pulse-id endpoint; empty disables notifications.
	NotifyAddress string
}

// UsageArgs documents the positional arguments in order.
const UsageArgs = `  connection_address  Address to connect to the stream (PULL). Example: tcp://127.0.0.1:40000
  output_file         Name of the output file.
  n_frames            Number of images to acquire. 0 for infinity (until /stop is called).
  rest_port           Port to start the REST API on.
  user_id             uid under which to run the writer. -1 to leave it as it is.
  bsread_address      HTTP address of the upstream pulse-id REST API.`

// ParseInvocation converts the positional arguments into an Invocation.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) != 6 {
		return Invocation{}, fmt.Errorf("expected 6 arguments, got %d", len(args))
	}
	inv := Invocation{
		Address:       strings.TrimSpace(args[0]),
		OutputPath:    strings.TrimSpace(args[1]),
		NotifyAddress: strings.TrimSpace(args[5]),
	}

	frames, err := strconv.ParseUint(strings.TrimSpace(args[2]), 10, 64)
	if err != nil {
		return Invocation{}, fmt.Errorf("n_frames: %w", err)
	}
	inv.FrameCount = frames

	port, err := strconv.Atoi(strings.TrimSpace(args[3]))
	if err != nil {
		return Invocation{}, fmt.Errorf("rest_port: %w", err)
	}
	inv.Port = port

	uid, err := strconv.Atoi(strings.TrimSpace(args[4]))
	if err != nil {
		return Invocation{}, fmt.Errorf("user_id: %w", err)
	}
	inv.UserID = uid

	if err := inv.Validate(); err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

// Validate checks ranges that parsing alone does not enforce.
func (inv Invocation) Validate() error {
	if inv.Address == "" {
		return errors.New("connection_address must be set")
	}
	if inv.OutputPath == "" {
		return errors.New("output_file must be set")
	}
	if strings.HasSuffix(inv.OutputPath, "/") {
		return fmt.Errorf("output_file %q names a directory", inv.OutputPath)
	}
	if inv.Port < 0 || inv.Port > 65535 {
		return fmt.Errorf("rest_port %d out of range", inv.Port)
	}
	if inv.UserID < KeepUserID {
		return fmt.Errorf("user_id %d must be -1 or a valid uid", inv.UserID)
	}
	return nil
}

// DropsPrivileges reports whether the run switches to another uid.
func (inv Invocation) DropsPrivileges() bool {
	return inv.UserID != KeepUserID
}

package writerrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"sfwriter/internal/config"
	"sfwriter/internal/testsupport"
	"sfwriter/internal/writerrun"
)

func invocation(t *testing.T, frames uint64) config.Invocation {
	t.Helper()
	return config.Invocation{
		Address:    "tcp://127.0.0.1:40000",
		OutputPath: testsupport.OutputPath(t),
		FrameCount: frames,
		UserID:     config.KeepUserID,
	}
}

func runAsync(cfg *config.Config, inv config.Invocation, opts writerrun.Options) <-chan error {
	done := make(chan error, 1)
	go func() { done <- writerrun.Run(context.Background(), cfg, inv, opts) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
		return nil
	}
}

func TestRunWritesTargetFrames(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(0, 10), frames.Pulse(1, 11))
	inv := invocation(t, 2)

	err := waitRun(t, runAsync(cfg, inv, writerrun.Options{
		Adapter: adapter,
		Signals: make(chan os.Signal),
	}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	r := testsupport.MustOpenReader(t, inv.OutputPath)
	indices, err := r.FrameIndices(context.Background(), cfg.Storage.RawDataset)
	if err != nil {
		t.Fatalf("FrameIndices: %v", err)
	}
	if len(indices) != 2 {
		t.Fatalf("expected 2 frames, got %v", indices)
	}
	if _, err := os.Stat(cfg.Logging.OutputPaths[0]); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestFirstSignalStopsAcquisition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(0, 10))
	signals := make(chan os.Signal, 1)

	done := runAsync(cfg, invocation(t, 0), writerrun.Options{Adapter: adapter, Signals: signals})
	deadline := time.Now().Add(5 * time.Second)
	for adapter.Delivered() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	signals <- syscall.SIGTERM

	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !adapter.Closed() {
		t.Fatal("expected adapter to be closed")
	}
}

func TestSecondSignalKillsParameterWait(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRequiredParameter("detector_name"))
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout())
	signals := make(chan os.Signal, 2)

	done := runAsync(cfg, invocation(t, 0), writerrun.Options{Adapter: adapter, Signals: signals})
	signals <- syscall.SIGINT
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("run returned before parameters or kill: %v", err)
	default:
	}
	signals <- syscall.SIGINT

	waitRun(t, done)
}

func TestSignalDuringStartupStopsOnceWriterExists(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout())
	inv := invocation(t, 0)
	registered := 0
	notify := func(c chan<- os.Signal, sig ...os.Signal) {
		registered++
		if len(sig) == 0 {
			t.Error("expected stop signals to be registered")
		}
		c <- syscall.SIGTERM
	}

	err := waitRun(t, runAsync(cfg, inv, writerrun.Options{Adapter: adapter, Notify: notify}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if registered != 1 {
		t.Fatalf("expected one signal registration, got %d", registered)
	}
	if !adapter.Closed() {
		t.Fatal("expected adapter to be closed")
	}
	if _, err := os.Stat(inv.OutputPath); err != nil {
		t.Fatalf("expected finalized output: %v", err)
	}
}

func TestRunFailsPreflightBeforeOpening(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	inv := invocation(t, 1)
	inv.OutputPath = filepath.Join(blocker, "run.sqlite")

	err := writerrun.Run(context.Background(), cfg, inv, writerrun.Options{Signals: make(chan os.Signal)})
	if !errors.Is(err, writerrun.ErrPreflight) {
		t.Fatalf("expected ErrPreflight, got %v", err)
	}
}

func TestRunRejectsInvalidInvocation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	inv := invocation(t, 1)
	inv.Port = 70000
	if err := writerrun.Run(context.Background(), cfg, inv, writerrun.Options{}); err == nil {
		t.Fatal("expected invalid port error")
	}
}

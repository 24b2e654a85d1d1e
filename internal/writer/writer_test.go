package writer_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sfwriter/internal/acquisition"
	"sfwriter/internal/config"
	"sfwriter/internal/control"
	"sfwriter/internal/frame"
	"sfwriter/internal/ingress"
	"sfwriter/internal/logging"
	"sfwriter/internal/notify"
	"sfwriter/internal/storage"
	"sfwriter/internal/testsupport"
	"sfwriter/internal/writer"
)

type recordingNotifier struct {
	mu     sync.Mutex
	starts []uint64
	ends   []uint64
}

func (n *recordingNotifier) NotifyStart(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.starts = append(n.starts, id)
}

func (n *recordingNotifier) NotifyEnd(_ context.Context, id uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ends = append(n.ends, id)
	return nil
}

func (n *recordingNotifier) calls() ([]uint64, []uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint64(nil), n.starts...), append([]uint64(nil), n.ends...)
}

func invocation(t *testing.T, frames uint64) config.Invocation {
	t.Helper()
	return config.Invocation{
		Address:    "tcp://127.0.0.1:40000",
		OutputPath: testsupport.OutputPath(t),
		FrameCount: frames,
		Port:       0,
		UserID:     config.KeepUserID,
	}
}

func newWriter(t *testing.T, opts writer.Options) *writer.Writer {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	w, err := writer.New(context.Background(), opts)
	if err != nil {
		t.Fatalf("writer.New: %v", err)
	}
	return w
}

func runAsync(ctx context.Context, w *writer.Writer) <-chan error {
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunStopsAtTargetAndDrains(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(),
		frames.Pulse(1, 1001), frames.Pulse(2, 1002), frames.Pulse(3, 1003),
		frames.Pulse(4, 1004), frames.Pulse(5, 1005),
	)
	sink := testsupport.NewMemorySink()
	notifier := &recordingNotifier{}

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 3),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   notifier,
	})
	waitRun(t, runAsync(context.Background(), w))

	if got := adapter.Delivered(); got != 3 {
		t.Fatalf("ingest must stop exactly at the target; received %d frames", got)
	}
	if diff := cmp.Diff([]uint64{1, 2, 3}, sink.Indices(cfg.Storage.RawDataset)); diff != "" {
		t.Fatalf("raw indices (-want +got):\n%s", diff)
	}
	snap := w.Controller().Snapshot()
	if snap.State != acquisition.StateTerminated {
		t.Fatalf("expected terminated, got %s", snap.State)
	}
	if snap.ReceivedFrames != 3 || snap.WrittenFrames != 3 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	if !adapter.Closed() || sink.IsOpen() {
		t.Fatal("adapter and sink must be closed")
	}
	if got := sink.Attributes()["/@format"]; got != "test" {
		t.Fatalf("expected format attribute, got %v", got)
	}
	starts, ends := notifier.calls()
	if diff := cmp.Diff([]uint64{1001}, starts); diff != "" {
		t.Fatalf("start notifications (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{1003}, ends); diff != "" {
		t.Fatalf("end notifications (-want +got):\n%s", diff)
	}
}

func TestHeaderFieldsWrittenAsLittleEndianScalars(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(),
		frames.Frame(7, map[string]string{"pulse_id": "42", "frame": "7", "daq_rec": "-3"}),
	)
	sink := testsupport.NewMemorySink()
	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 1),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
	})
	waitRun(t, runAsync(context.Background(), w))

	raw, ok := sink.Data("pulse_id", 7)
	if !ok {
		t.Fatal("pulse_id not written")
	}
	if got := binary.LittleEndian.Uint64(raw); got != 42 {
		t.Fatalf("pulse_id = %d, want 42", got)
	}
	ds, _ := sink.Dataset("pulse_id")
	want := storage.Dataset{Name: "pulse_id", Shape: []uint64{1}, DType: frame.Uint64, Endianness: frame.LittleEndian}
	if diff := cmp.Diff(want, ds); diff != "" {
		t.Fatalf("pulse_id layout (-want +got):\n%s", diff)
	}
	daq, _ := sink.Data("daq_rec", 7)
	if got := int64(binary.LittleEndian.Uint64(daq)); got != -3 {
		t.Fatalf("daq_rec = %d, want -3", got)
	}
	if _, ok := sink.Data("is_good_frame", 7); ok {
		t.Fatal("missing header field must be skipped")
	}
	if diff := cmp.Diff([]uint64{7}, sink.Indices(cfg.Storage.RawDataset)); diff != "" {
		t.Fatalf("raw data must survive a missing header field (-want +got):\n%s", diff)
	}
}

func TestUnusableHeaderValueKeepsImage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	decoder, err := ingress.NewDecoder(cfg.Header.Fields)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	f, err := decoder.Decode([][]byte{
		[]byte(`{"frame": 7, "shape": [4, 4], "type": "uint8", "pulse_id": 42, "daq_rec": 1.5}`),
		payload,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), f)
	sink := testsupport.NewMemorySink()
	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 1),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
	})
	waitRun(t, runAsync(context.Background(), w))

	data, ok := sink.Data(cfg.Storage.RawDataset, 7)
	if !ok {
		t.Fatal("image must be written when one header value is unusable")
	}
	if diff := cmp.Diff(payload, data); diff != "" {
		t.Fatalf("image payload (-want +got):\n%s", diff)
	}
	if _, ok := sink.Data("daq_rec", 7); ok {
		t.Fatal("unusable daq_rec must be skipped")
	}
	if _, ok := sink.Data("pulse_id", 7); !ok {
		t.Fatal("valid pulse_id must still be written")
	}
	if snap := w.Controller().Snapshot(); snap.WrittenFrames != 1 || snap.DroppedFrames != 0 {
		t.Fatalf("unexpected counters %+v", snap)
	}
}

func TestSlowStorageEvictsOldestFrames(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRing(2, 1024))
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(1, 1))

	release := make(chan struct{})
	var once sync.Once
	sink := testsupport.NewMemorySink()
	sink.BeforeWrite = func(dataset string, index uint64) {
		if dataset == cfg.Storage.RawDataset && index == 1 {
			once.Do(func() { <-release })
		}
	}

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 5),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
	})
	done := runAsync(context.Background(), w)

	waitFor(t, "storage to claim frame 1", func() bool {
		return adapter.Delivered() == 1 && w.Controller().Snapshot().ReceivedFrames == 1
	})
	// Give storage time to claim frame 1 before filling the remaining slot.
	time.Sleep(20 * time.Millisecond)
	adapter.Push(frames.Pulse(2, 2), frames.Pulse(3, 3), frames.Pulse(4, 4), frames.Pulse(5, 5))
	waitFor(t, "all frames received", func() bool {
		return w.Controller().Snapshot().ReceivedFrames == 5
	})
	close(release)
	waitRun(t, done)

	if diff := cmp.Diff([]uint64{1, 5}, sink.Indices(cfg.Storage.RawDataset)); diff != "" {
		t.Fatalf("written indices (-want +got):\n%s", diff)
	}
	snap := w.Controller().Snapshot()
	if snap.DroppedFrames != 3 || snap.WrittenFrames != 2 || snap.ReceivedFrames != 5 {
		t.Fatalf("unexpected counters %+v", snap)
	}
}

func TestKillBeforeParametersSkipsFormat(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRequiredParameter("detector_name"))
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(1, 10), frames.Pulse(2, 11))
	sink := testsupport.NewMemorySink()

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 2),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
	})
	done := runAsync(context.Background(), w)

	waitFor(t, "parameters pending", func() bool {
		return w.Controller().State() == acquisition.StateParametersPending
	})
	w.Controller().Kill()
	waitRun(t, done)

	if len(sink.Attributes()) != 0 {
		t.Fatalf("format must not be written after kill, got %v", sink.Attributes())
	}
	if sink.Closes() != 1 {
		t.Fatalf("expected one close, got %d", sink.Closes())
	}
	if diff := cmp.Diff([]uint64{1, 2}, sink.Indices(cfg.Storage.RawDataset)); diff != "" {
		t.Fatalf("image data must be kept (-want +got):\n%s", diff)
	}
	snap := w.Controller().Snapshot()
	if !snap.Killed || snap.State != acquisition.StateTerminated {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
}

func TestParametersSubmittedOverControlPlane(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRequiredParameter("detector_name"))
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(1, 10))
	sink := testsupport.NewMemorySink()

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 0),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
	})
	done := runAsync(context.Background(), w)

	client := control.NewClient(w.ControlAddr())
	ctx := context.Background()
	waitFor(t, "first frame written", func() bool {
		return w.Controller().Snapshot().WrittenFrames == 1
	})
	if _, err := client.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "parameters pending", func() bool {
		return w.Controller().State() == acquisition.StateParametersPending
	})
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if diff := cmp.Diff([]string{"detector_name"}, status.MissingParameters); diff != "" {
		t.Fatalf("missing parameters (-want +got):\n%s", diff)
	}
	if _, err := client.SetParameters(ctx, map[string]any{"detector_name": "JF07T32V01"}); err != nil {
		t.Fatalf("SetParameters: %v", err)
	}
	waitRun(t, done)

	want := map[string]any{"/@format": "test", "/general@detector_name": "JF07T32V01"}
	if diff := cmp.Diff(want, sink.Attributes()); diff != "" {
		t.Fatalf("attributes (-want +got):\n%s", diff)
	}
	if w.Controller().Snapshot().Killed {
		t.Fatal("run must finish without kill")
	}
}

func TestFormatWriteFailureKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(1, 10))
	sink := testsupport.NewMemorySink()
	sink.AttributeErr = errors.New("disk full")

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 1),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
	})
	waitRun(t, runAsync(context.Background(), w))

	if sink.IsOpen() {
		t.Fatal("sink must be closed even when the format write fails")
	}
	if diff := cmp.Diff([]uint64{1}, sink.Indices(cfg.Storage.RawDataset)); diff != "" {
		t.Fatalf("raw indices (-want +got):\n%s", diff)
	}
}

func TestOversizedFrameDropped(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRing(4, 32))
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(),
		frames.Pulse(1, 10), frames.Oversized(2, 64), frames.Pulse(3, 12),
	)
	sink := testsupport.NewMemorySink()
	reg := prometheus.NewRegistry()

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 3),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
		Registry:   reg,
	})
	waitRun(t, runAsync(context.Background(), w))

	if diff := cmp.Diff([]uint64{1, 3}, sink.Indices(cfg.Storage.RawDataset)); diff != "" {
		t.Fatalf("raw indices (-want +got):\n%s", diff)
	}
	snap := w.Controller().Snapshot()
	if snap.ReceivedFrames != 3 || snap.DroppedFrames != 1 || snap.WrittenFrames != 2 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	dropped, err := testutil.GatherAndCount(reg, "sfwriter_frames_dropped_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("expected one dropped-frame series, got %d", dropped)
	}
}

func TestWrittenNeverExceedsReceived(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRing(4, 1024))
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout())
	for i := uint64(1); i <= 200; i++ {
		adapter.Push(frames.Pulse(i, 5000+i))
	}
	sink := testsupport.NewMemorySink()
	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 200),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
	})
	done := runAsync(context.Background(), w)

	finished := false
	for !finished {
		snap := w.Controller().Snapshot()
		if snap.WrittenFrames > snap.ReceivedFrames {
			t.Fatalf("written %d exceeds received %d", snap.WrittenFrames, snap.ReceivedFrames)
		}
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			finished = true
		default:
		}
	}
	snap := w.Controller().Snapshot()
	if snap.WrittenFrames+snap.DroppedFrames != snap.ReceivedFrames {
		t.Fatalf("every received frame is written or dropped: %+v", snap)
	}
}

func TestNotificationsReachUpstream(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]uint64
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		data, _ := io.ReadAll(r.Body)
		var body map[string]uint64
		_ = json.Unmarshal(data, &body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
	}))
	defer upstream.Close()

	cfg := testsupport.NewConfig(t)
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(),
		frames.Pulse(1, 100), frames.Pulse(2, 150), frames.Pulse(3, 200), frames.Pulse(4, 250),
	)
	inv := invocation(t, 4)
	inv.NotifyAddress = upstream.URL
	notifier := notify.New(notify.Options{Address: upstream.URL, Timeout: 5 * time.Second, Logger: logging.NewNop()})

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: inv,
		Adapter:    adapter,
		Sink:       testsupport.NewMemorySink(),
		Notifier:   notifier,
	})
	waitRun(t, runAsync(context.Background(), w))

	mu.Lock()
	gotEnd := append([]map[string]uint64(nil), bodies...)
	mu.Unlock()
	var sawEnd bool
	for _, body := range gotEnd {
		if id, ok := body["stop_pulse_id"]; ok && id == 250 {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatalf("end notification must be delivered before Run returns, got %v", gotEnd)
	}

	notifier.(*notify.HTTP).Wait()
	mu.Lock()
	defer mu.Unlock()
	counts := map[string]int{}
	for _, body := range bodies {
		for key, value := range body {
			counts[key]++
			if key == "start_pulse_id" && value != 100 {
				t.Fatalf("start pulse id = %d, want 100", value)
			}
		}
	}
	if diff := cmp.Diff(map[string]int{"start_pulse_id": 1, "stop_pulse_id": 1}, counts); diff != "" {
		t.Fatalf("notification counts (-want +got):\n%s", diff)
	}
}

func TestContainerEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(1, 42), frames.Pulse(2, 43))
	inv := invocation(t, 2)

	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: inv,
		Adapter:    adapter,
		Notifier:   &recordingNotifier{},
	})
	waitRun(t, runAsync(context.Background(), w))

	r := testsupport.MustOpenReader(t, inv.OutputPath)
	ctx := context.Background()
	indices, err := r.FrameIndices(ctx, cfg.Storage.RawDataset)
	if err != nil {
		t.Fatalf("FrameIndices: %v", err)
	}
	if diff := cmp.Diff([]uint64{1, 2}, indices); diff != "" {
		t.Fatalf("indices (-want +got):\n%s", diff)
	}
	raw, err := r.ReadFrame(ctx, "pulse_id", 1)
	if err != nil {
		t.Fatalf("ReadFrame pulse_id: %v", err)
	}
	if got := binary.LittleEndian.Uint64(raw); got != 42 {
		t.Fatalf("pulse_id = %d, want 42", got)
	}
	attr, err := r.Attribute(ctx, "/", "format")
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if attr != "test" {
		t.Fatalf("format attribute = %v", attr)
	}
}

func TestExistingOutputRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	inv := invocation(t, 1)
	testsupport.WritePlaceholder(t, inv.OutputPath)

	_, err := writer.New(context.Background(), writer.Options{
		Config:     cfg,
		Invocation: inv,
		Adapter:    testsupport.NewScriptedAdapter(cfg.ReceiveTimeout()),
		Logger:     logging.NewNop(),
	})
	if !errors.Is(err, storage.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestWatchdogForcesExit(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithShutdown(1, 1))
	frames := testsupport.NewFrameBuilder(t, cfg)
	adapter := testsupport.NewScriptedAdapter(cfg.ReceiveTimeout(), frames.Pulse(1, 1))

	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })
	sink := testsupport.NewMemorySink()
	sink.BeforeWrite = func(string, uint64) { <-stuck }

	exitCode := make(chan int, 1)
	w := newWriter(t, writer.Options{
		Config:     cfg,
		Invocation: invocation(t, 0),
		Adapter:    adapter,
		Sink:       sink,
		Notifier:   &recordingNotifier{},
		Exit:       func(code int) { exitCode <- code },
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, w)

	waitFor(t, "frame received", func() bool {
		return w.Controller().Snapshot().ReceivedFrames == 1
	})
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, writer.ErrForcedExit) {
			t.Fatalf("expected ErrForcedExit, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	if code := <-exitCode; code != writer.ExitForced {
		t.Fatalf("exit code = %d, want %d", code, writer.ExitForced)
	}
	if !w.Controller().IsKilled() {
		t.Fatal("watchdog must kill before forcing exit")
	}
}

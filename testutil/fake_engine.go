package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/tiroq/recordcore/internal/engine"
)

// ErrFakeEngine is a generic failure for configuring FakeEngine errors.
var ErrFakeEngine = errors.New("fake engine failure")

// FakeEngine is an in-memory engine.Engine. Commands are recorded instead of
// executed and push events are delivered by the Emit* helpers.
type FakeEngine struct {
	mu       sync.Mutex
	listener engine.Listener
	calls    []string
	starts   []engine.StartCommand
	closed   bool

	// Query answers.
	State       string
	OutputPath  string
	Codecs      []engine.Codec
	Resolutions []engine.Resolution
	Bitrate     int

	// Errors returned by the matching calls.
	StartErr error
	StopErr  error
	QueryErr error
}

// NewFakeEngine returns an idle engine reporting H264 and H265.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		State: "idle",
		Codecs: []engine.Codec{
			{MimeType: "video/avc", DisplayName: "AVC"},
			{MimeType: "video/hevc", DisplayName: "HEVC"},
		},
		Resolutions: []engine.Resolution{{Width: 1920, Height: 1080}, {Width: 1280, Height: 720}},
	}
}

// Factory returns an engine.Factory that always hands out f.
func (f *FakeEngine) Factory() engine.Factory {
	return func(ctx context.Context) (engine.Engine, error) {
		return f, nil
	}
}

func (f *FakeEngine) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *FakeEngine) StartRecording(ctx context.Context, cmd engine.StartCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartRecording")
	if f.StartErr != nil {
		return f.StartErr
	}
	f.starts = append(f.starts, cmd)
	return nil
}

func (f *FakeEngine) StopRecording(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopRecording")
	return f.StopErr
}

func (f *FakeEngine) StopService(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopService")
	return nil
}

func (f *FakeEngine) GetRecordingState(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetRecordingState")
	if f.QueryErr != nil {
		return "", f.QueryErr
	}
	return f.State, nil
}

func (f *FakeEngine) GetOutputFilePath(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetOutputFilePath")
	if f.QueryErr != nil {
		return "", f.QueryErr
	}
	return f.OutputPath, nil
}

func (f *FakeEngine) GetAvailableCodecs(ctx context.Context) ([]engine.Codec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetAvailableCodecs")
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return append([]engine.Codec(nil), f.Codecs...), nil
}

func (f *FakeEngine) GetOptimalResolutions(ctx context.Context) ([]engine.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetOptimalResolutions")
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return append([]engine.Resolution(nil), f.Resolutions...), nil
}

func (f *FakeEngine) GetRecommendedBitrate(ctx context.Context, width, height, frameRate int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetRecommendedBitrate")
	if f.QueryErr != nil {
		return 0, f.QueryErr
	}
	return f.Bitrate, nil
}

func (f *FakeEngine) SetListener(l engine.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Close")
	f.closed = true
	return nil
}

// Set changes query answers under the engine's lock.
func (f *FakeEngine) Set(fn func(f *FakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Calls returns every method call in order.
func (f *FakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts calls to method.
func (f *FakeEngine) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Starts returns every successfully issued start command.
func (f *FakeEngine) Starts() []engine.StartCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.StartCommand(nil), f.starts...)
}

// Closed reports whether Close was called.
func (f *FakeEngine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// HasListener reports whether a listener is attached.
func (f *FakeEngine) HasListener() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener != nil
}

func (f *FakeEngine) currentListener() engine.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

// EmitState pushes OnStateChanged from a separate goroutine, the way a
// native engine thread would, and returns once the listener call returned.
func (f *FakeEngine) EmitState(state string) {
	f.emit(func(l engine.Listener) { l.OnStateChanged(state) })
}

// EmitComplete pushes OnComplete from a separate goroutine.
func (f *FakeEngine) EmitComplete(path string) {
	f.emit(func(l engine.Listener) { l.OnComplete(path) })
}

// EmitError pushes OnError from a separate goroutine.
func (f *FakeEngine) EmitError(message string) {
	f.emit(func(l engine.Listener) { l.OnError(message) })
}

func (f *FakeEngine) emit(deliver func(engine.Listener)) {
	l := f.currentListener()
	if l == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		deliver(l)
	}()
	<-done
}

// FrameRateEngine is a FakeEngine that also reports frame rates.
type FrameRateEngine struct {
	*FakeEngine
	FrameRates []int
}

func (f *FrameRateEngine) GetSupportedFrameRates(ctx context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetSupportedFrameRates")
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return append([]int(nil), f.FrameRates...), nil
}

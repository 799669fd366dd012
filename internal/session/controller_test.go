package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/recordcore/internal/capability"
	"github.com/tiroq/recordcore/internal/engine"
	"github.com/tiroq/recordcore/internal/lifecycle"
	"github.com/tiroq/recordcore/internal/recording"
	"github.com/tiroq/recordcore/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	fake  *testutil.FakeEngine
	mgr   *lifecycle.Manager
	ctl   *Controller
	clock *fakeClock

	mu        sync.Mutex
	states    []recording.State
	completes []string
	errs      []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := testutil.NewFakeEngine()
	return newHarnessWith(t, fake, fake.Factory())
}

// newHarnessWith builds a harness whose manager hands out what factory
// returns; fake is the engine the test scripts and inspects.
func newHarnessWith(t *testing.T, fake *testutil.FakeEngine, factory engine.Factory) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		fake:  fake,
		clock: &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
	}
	h.mgr = lifecycle.NewManager(factory)
	n := 0
	h.ctl = NewController(h.mgr, nil, Options{
		Now: h.clock.Now,
		NewSessionID: func() string {
			n++
			return fmt.Sprintf("session-%d", n)
		},
	})
	t.Cleanup(h.ctl.Close)

	h.ctl.OnStateChanged(func(s recording.State) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	})
	h.ctl.OnComplete(func(p string) {
		h.mu.Lock()
		h.completes = append(h.completes, p)
		h.mu.Unlock()
	})
	h.ctl.OnError(func(m string) {
		h.mu.Lock()
		h.errs = append(h.errs, m)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) acquire() {
	h.t.Helper()
	testutil.AssertNoError(h.t, h.mgr.Acquire(context.Background()), "acquire")
}

func (h *harness) observed() ([]recording.State, []string, []string) {
	h.ctl.Flush()
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recording.State(nil), h.states...),
		append([]string(nil), h.completes...),
		append([]string(nil), h.errs...)
}

func (h *harness) waitFor(want recording.State) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	testutil.AssertNoError(h.t, h.ctl.WaitForState(ctx, want), "wait for "+want.String())
}

// toRecording starts a session and lets the engine report recording.
func (h *harness) toRecording() {
	h.t.Helper()
	testutil.AssertTrue(h.t, h.ctl.StartDefault(), "start")
	h.fake.EmitState("preparing")
	h.fake.EmitState("recording")
	h.waitFor(recording.StateRecording)
}

func TestLifecycleScenario(t *testing.T) {
	h := newHarness(t)
	h.acquire()
	testutil.AssertTrue(t, h.ctl.IsSupported(), "supported with handle")

	testutil.AssertTrue(t, h.ctl.StartRecording(capability.Performance()), "start with Performance")
	testutil.AssertEqual(t, recording.StatePreparing, h.ctl.GetStatus().State, "state after start")

	starts := h.fake.Starts()
	testutil.AssertEqual(t, 1, len(starts), "start commands")
	want := engine.StartCommand{
		Bitrate:       2_000_000,
		FrameRate:     30,
		Codec:         "video/avc",
		Width:         1280,
		Height:        720,
		MaxDurationMs: -1,
		WriteWhileRec: true,
	}
	testutil.AssertEqual(t, want, starts[0], "start command")

	h.fake.EmitState("preparing")
	h.fake.EmitState("recording")
	h.waitFor(recording.StateRecording)

	testutil.AssertTrue(t, h.ctl.StopRecording(), "stop")
	testutil.AssertEqual(t, recording.StateStopping, h.ctl.GetStatus().State, "state after stop")

	h.fake.EmitState("stopping")
	h.fake.EmitState("idle")
	h.fake.EmitComplete("/out/clip.mp4")
	h.ctl.Flush()

	st := h.ctl.GetStatus()
	testutil.AssertEqual(t, recording.StateIdle, st.State, "final state")
	testutil.AssertEqual(t, "/out/clip.mp4", st.OutputFilePath, "output path")
	testutil.AssertEqual(t, "", st.ErrorMessage, "error message")

	states, completes, errs := h.observed()
	wantStates := []recording.State{
		recording.StatePreparing, recording.StateRecording, recording.StateStopping, recording.StateIdle,
	}
	testutil.AssertEqual(t, len(wantStates), len(states), "observed transitions")
	for i := range wantStates {
		testutil.AssertEqual(t, wantStates[i], states[i], "transition order")
	}
	testutil.AssertEqual(t, 1, len(completes), "completion notices")
	testutil.AssertEqual(t, 0, len(errs), "error notices")
}

func TestDoubleStartIsRejected(t *testing.T) {
	h := newHarness(t)
	h.acquire()

	testutil.AssertTrue(t, h.ctl.StartDefault(), "first start")
	testutil.AssertFalse(t, h.ctl.StartDefault(), "second start while preparing")
	testutil.AssertEqual(t, recording.StatePreparing, h.ctl.GetStatus().State, "state after second start")

	h.fake.EmitState("recording")
	h.waitFor(recording.StateRecording)
	err := h.ctl.Start(capability.Default())
	testutil.AssertTrue(t, errors.Is(err, recording.ErrInvalidTransition), "second start while recording")
	testutil.AssertEqual(t, recording.StateRecording, h.ctl.GetStatus().State, "state unchanged")

	testutil.AssertEqual(t, 1, h.fake.CallCount("StartRecording"), "engine start commands")
	_, _, errs := h.observed()
	testutil.AssertEqual(t, 2, len(errs), "rejections reported")
}

func TestStopOutsideRecordingIsRejected(t *testing.T) {
	h := newHarness(t)
	h.acquire()

	testutil.AssertFalse(t, h.ctl.StopRecording(), "stop while idle")
	testutil.AssertEqual(t, recording.StateIdle, h.ctl.GetStatus().State, "state after idle stop")

	testutil.AssertTrue(t, h.ctl.StartDefault(), "start")
	err := h.ctl.Stop()
	testutil.AssertTrue(t, errors.Is(err, recording.ErrInvalidTransition), "cancel while preparing")
	testutil.AssertEqual(t, recording.StatePreparing, h.ctl.GetStatus().State, "state after cancel attempt")

	testutil.AssertEqual(t, 0, h.fake.CallCount("StopRecording"), "engine stop commands")
	states, _, _ := h.observed()
	testutil.AssertEqual(t, 1, len(states), "only the start transition")
}

func TestInvalidConfigNeverReachesEngine(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*recording.RecordingConfig)
	}{
		{"zero bitrate", func(c *recording.RecordingConfig) { c.VideoBitrate = 0 }},
		{"negative bitrate", func(c *recording.RecordingConfig) { c.VideoBitrate = -1 }},
		{"zero frame rate", func(c *recording.RecordingConfig) { c.VideoFrameRate = 0 }},
		{"negative width", func(c *recording.RecordingConfig) { c.VideoWidth = -1280 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.acquire()
			cfg := capability.HighQuality()
			tt.mutate(&cfg)

			err := h.ctl.Start(cfg)
			testutil.AssertTrue(t, errors.Is(err, recording.ErrInvalidConfig), "invalid config error")
			testutil.AssertEqual(t, 0, h.fake.CallCount("StartRecording"), "engine start commands")
			testutil.AssertEqual(t, recording.StateIdle, h.ctl.GetStatus().State, "state")

			_, _, errs := h.observed()
			testutil.AssertEqual(t, 1, len(errs), "error notices")
			testutil.AssertStringContains(t, errs[0], "invalid recording config", "error notice text")
		})
	}
}

func TestCommandsWithoutEngineFailLocally(t *testing.T) {
	h := newHarness(t)

	testutil.AssertFalse(t, h.ctl.IsSupported(), "supported without handle")
	err := h.ctl.Start(capability.Default())
	testutil.AssertTrue(t, errors.Is(err, recording.ErrNoEngine), "start without engine")
	testutil.AssertTrue(t, errors.Is(h.ctl.Stop(), recording.ErrNoEngine), "stop without engine")
	testutil.AssertTrue(t, errors.Is(h.ctl.UpdateStatus(context.Background()), recording.ErrNoEngine), "poll without engine")
	testutil.AssertEqual(t, 0, len(h.fake.Calls()), "engine calls")
}

func TestDispatchFailureMovesToErrorAndRecovers(t *testing.T) {
	h := newHarness(t)
	h.acquire()
	h.fake.Set(func(f *testutil.FakeEngine) { f.StartErr = testutil.ErrFakeEngine })

	err := h.ctl.Start(capability.Default())
	testutil.AssertTrue(t, errors.Is(err, recording.ErrDispatch), "wraps ErrDispatch")
	testutil.AssertTrue(t, errors.Is(err, testutil.ErrFakeEngine), "wraps cause")

	st := h.ctl.GetStatus()
	testutil.AssertEqual(t, recording.StateError, st.State, "state after dispatch failure")
	testutil.AssertStringContains(t, st.ErrorMessage, "command dispatch failed", "error message")
	testutil.AssertFalse(t, h.ctl.StartDefault(), "start from Error")

	testutil.AssertTrue(t, h.ctl.Reset(), "reset")
	testutil.AssertEqual(t, recording.StateIdle, h.ctl.GetStatus().State, "state after reset")
	testutil.AssertEqual(t, "", h.ctl.GetStatus().ErrorMessage, "error cleared")

	h.fake.Set(func(f *testutil.FakeEngine) { f.StartErr = nil })
	testutil.AssertTrue(t, h.ctl.StartDefault(), "start after reset")
	testutil.AssertEqual(t, recording.StatePreparing, h.ctl.GetStatus().State, "state after restart")
}

func TestStopDispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.acquire()
	h.toRecording()
	h.fake.Set(func(f *testutil.FakeEngine) { f.StopErr = testutil.ErrFakeEngine })

	testutil.AssertFalse(t, h.ctl.StopRecording(), "stop with failing transport")
	testutil.AssertEqual(t, recording.StateError, h.ctl.GetStatus().State, "state")
	_, _, errs := h.observed()
	testutil.AssertEqual(t, 1, len(errs), "error notices")
}

func TestResetOnlyFromError(t *testing.T) {
	h := newHarness(t)
	h.acquire()

	testutil.AssertTrue(t, h.ctl.Reset(), "reset while idle")
	h.toRecording()
	testutil.AssertFalse(t, h.ctl.Reset(), "reset while recording")
	testutil.AssertEqual(t, recording.StateRecording, h.ctl.GetStatus().State, "state")
}

func TestReleaseDuringRecording(t *testing.T) {
	h := newHarness(t)
	h.acquire()
	h.toRecording()

	testutil.AssertNoError(t, h.mgr.Release(context.Background()), "release")

	calls := h.fake.Calls()
	stopAt, closeAt := -1, -1
	for i, c := range calls {
		switch c {
		case "StopRecording":
			stopAt = i
		case "Close":
			closeAt = i
		}
	}
	testutil.AssertTrue(t, stopAt >= 0, "forced stop issued")
	testutil.AssertTrue(t, stopAt < closeAt, "stop before close")
	testutil.AssertFalse(t, h.fake.HasListener(), "listener detached")
	testutil.AssertFalse(t, h.ctl.IsSupported(), "supported after release")
	testutil.AssertEqual(t, recording.StateIdle, h.ctl.GetStatus().State, "state after release")

	// Nothing from the old handle reaches the controller any more.
	h.fake.EmitComplete("/out/late.mp4")
	testutil.AssertEqual(t, "", h.ctl.GetStatus().OutputFilePath, "late completion")
	testutil.AssertFalse(t, h.ctl.StartDefault(), "start after release")
}

func TestReacquireStartsClean(t *testing.T) {
	var made []*testutil.FakeEngine
	mgr := lifecycle.NewManager(func(ctx context.Context) (engine.Engine, error) {
		f := testutil.NewFakeEngine()
		made = append(made, f)
		return f, nil
	})
	ctl := NewController(mgr, nil, Options{})
	defer ctl.Close()
	ctx := context.Background()

	testutil.AssertNoError(t, mgr.Acquire(ctx), "acquire")
	testutil.AssertTrue(t, ctl.StartDefault(), "start on first handle")
	made[0].EmitState("recording")
	ctl.Flush()
	testutil.AssertNoError(t, mgr.Release(ctx), "release")

	testutil.AssertNoError(t, mgr.Acquire(ctx), "re-acquire")
	st := ctl.GetStatus()
	testutil.AssertEqual(t, recording.StateIdle, st.State, "state on new handle")
	testutil.AssertEqual(t, "", st.SessionID, "session carried over")

	testutil.AssertTrue(t, ctl.StartDefault(), "start on second handle")
	made[1].EmitState("recording")
	ctl.Flush()
	testutil.AssertEqual(t, recording.StateRecording, ctl.GetStatus().State, "recording on second handle")
}

func TestReacquireDropsPreviousDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.acquire()
	h.toRecording()
	h.clock.Advance(30 * time.Second)
	testutil.AssertTrue(t, h.ctl.StopRecording(), "stop")
	h.fake.EmitComplete("/out/first.mp4")
	h.ctl.Flush()
	testutil.AssertEqual(t, int64(30), h.ctl.GetStatus().LastDurationSeconds, "duration on first handle")

	testutil.AssertNoError(t, h.mgr.Release(ctx), "release")
	testutil.AssertEqual(t, int64(30), h.ctl.GetStatus().LastDurationSeconds, "kept until the next handle")

	h.acquire()
	st := h.ctl.GetStatus()
	testutil.AssertEqual(t, recording.StateIdle, st.State, "state on new handle")
	testutil.AssertEqual(t, int64(0), st.LastDurationSeconds, "duration from previous handle")
	testutil.AssertEqual(t, "", st.OutputFilePath, "output from previous handle")
}

func TestCommandsAgainstSwappedHandleAreRejected(t *testing.T) {
	fake := testutil.NewFakeEngine()
	mgr := lifecycle.NewManager(fake.Factory())
	stale := NewController(mgr, nil, Options{})
	defer stale.Close()
	// The second controller becomes the guard, so only it sees the handle.
	current := NewController(mgr, nil, Options{})
	defer current.Close()
	testutil.AssertNoError(t, mgr.Acquire(context.Background()), "acquire")

	tests := []struct {
		name string
		run  func() error
	}{
		{"start", func() error { return stale.Start(capability.Default()) }},
		{"stop", stale.Stop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			testutil.AssertTrue(t, errors.Is(err, recording.ErrNoEngine), "rejected as no engine")
			testutil.AssertErrorContains(t, err, "engine handle changed", "reason")
		})
	}
	testutil.AssertEqual(t, 0, len(fake.Starts()), "start commands issued")
	testutil.AssertEqual(t, 0, fake.CallCount("StopRecording"), "stop commands issued")
}

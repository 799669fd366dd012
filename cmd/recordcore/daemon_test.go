package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tiroq/recordcore/internal/config"
	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/engine"
	"github.com/tiroq/recordcore/internal/fileutil"
	"github.com/tiroq/recordcore/internal/ipc"
	"github.com/tiroq/recordcore/internal/recording"
	"github.com/tiroq/recordcore/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.LogPath = filepath.Join(cfg.Paths.StateDir, "diag.log")
	cfg.Recording.PollIntervalSeconds = 1
	return &cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, factory engine.Factory) *daemon {
	t.Helper()
	d := newDaemon(cfg, factory, diaglog.NewNoOp())
	t.Cleanup(d.ctl.Close)
	return d
}

func readStatus(t *testing.T, d *daemon) *ipc.StatusSnapshot {
	t.Helper()
	status, err := ipc.ReadStatus(d.cfg.Paths.StateDir)
	testutil.AssertNoError(t, err, "read status")
	return status
}

func nextCompletion(t *testing.T, d *daemon) completion {
	t.Helper()
	select {
	case c := <-d.completions:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no completion queued")
		return completion{}
	}
}

func TestTickAcquiresAndPublishes(t *testing.T) {
	fake := testutil.NewFakeEngine()
	d := newTestDaemon(t, testConfig(t), fake.Factory())

	d.tick(context.Background())

	testutil.AssertTrue(t, d.mgr.Held(), "engine acquired")
	testutil.AssertEqual(t, 1, fake.CallCount("GetRecordingState"), "polled once")

	status := readStatus(t, d)
	testutil.AssertTrue(t, status.EngineConnected, "engine connected")
	testutil.AssertEqual(t, recording.StateIdle, status.Recording.State, "idle")
	testutil.AssertEqual(t, os.Getpid(), status.PID, "pid")

	caps, err := ipc.ReadCapabilities(d.cfg.Paths.StateDir)
	testutil.AssertNoError(t, err, "read capabilities")
	testutil.AssertEqual(t, 2, len(caps.Codecs), "codecs from engine")
	testutil.AssertEqual(t, recording.CodecH264, caps.Codecs[0].ID, "first codec")
	testutil.AssertEqual(t, 2, len(caps.Resolutions), "resolutions from engine")
}

// versionedEngine reports a connection and an engine version.
type versionedEngine struct {
	*testutil.FakeEngine
	version string
}

func (v *versionedEngine) IsConnected() bool     { return true }
func (v *versionedEngine) EngineVersion() string { return v.version }

func TestTickChecksEngineVersion(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		wantOut  string
		wantWarn bool
	}{
		{name: "compatible", version: "1.4.2", wantOut: "Engine 1.4 is compatible"},
		{name: "too old", version: "0.9.1", wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture := testutil.NewLogCapture(outLog, errLog)
			defer capture.Stop()

			eng := &versionedEngine{FakeEngine: testutil.NewFakeEngine(), version: tt.version}
			d := newTestDaemon(t, testConfig(t), func(ctx context.Context) (engine.Engine, error) {
				return eng, nil
			})
			d.tick(context.Background())

			if tt.wantOut != "" {
				testutil.AssertTrue(t, capture.Contains(tt.wantOut), "compatibility logged")
			}
			testutil.AssertEqual(t, tt.wantWarn, capture.Contains("requires update to 1.0+"), "version warning")
			testutil.AssertEqual(t, tt.wantWarn, capture.Contains("Update the recording engine"), "fix logged")

			caps, err := ipc.ReadCapabilities(d.cfg.Paths.StateDir)
			testutil.AssertNoError(t, err, "read capabilities")
			testutil.AssertEqual(t, tt.version, caps.EngineVersion, "version published")
			testutil.AssertEqual(t, tt.version, readStatus(t, d).EngineVersion, "version in status")
		})
	}
}

func TestRepeatedAcquireFailureLoggedOnce(t *testing.T) {
	capture := testutil.NewLogCapture(outLog, errLog)
	defer capture.Stop()

	factory := func(ctx context.Context) (engine.Engine, error) {
		return nil, testutil.ErrFakeEngine
	}
	d := newTestDaemon(t, testConfig(t), factory)
	for i := 0; i < 3; i++ {
		d.tick(context.Background())
	}
	testutil.AssertEqual(t, 1, capture.Count(testutil.ErrFakeEngine.Error()), "failure logged once")
}

func TestTickWithoutEngineKeepsRetrying(t *testing.T) {
	attempts := 0
	factory := func(ctx context.Context) (engine.Engine, error) {
		attempts++
		return nil, testutil.ErrFakeEngine
	}
	d := newTestDaemon(t, testConfig(t), factory)

	d.tick(context.Background())
	d.tick(context.Background())

	testutil.AssertEqual(t, 2, attempts, "acquire retried every tick")
	testutil.AssertFalse(t, d.mgr.Held(), "no handle")
	status := readStatus(t, d)
	testutil.AssertFalse(t, status.EngineConnected, "engine not connected")
	testutil.AssertEqual(t, recording.StateIdle, status.Recording.State, "idle")
}

func TestStartCommandUsesPreset(t *testing.T) {
	fake := testutil.NewFakeEngine()
	cfg := testConfig(t)
	cfg.Recording.OutputDirectory = "/captures"
	d := newTestDaemon(t, cfg, fake.Factory())

	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdStart, Arg: "Performance"})

	starts := fake.Starts()
	testutil.AssertEqual(t, 1, len(starts), "one start issued")
	testutil.AssertEqual(t, 2_000_000, starts[0].Bitrate, "performance bitrate")
	testutil.AssertEqual(t, 1280, starts[0].Width, "performance width")
	testutil.AssertEqual(t, "/captures", starts[0].OutputDirectory, "configured output directory")

	status := readStatus(t, d)
	testutil.AssertEqual(t, recording.StatePreparing, status.Recording.State, "preparing")
	testutil.AssertEqual(t, "performance", status.Preset, "preset recorded")
	testutil.AssertEqual(t, "start Performance", status.LastAction, "last action")
	testutil.AssertEqual(t, "", status.LastError, "no error")
}

func TestStartCommandDefaultsToConfiguredPreset(t *testing.T) {
	fake := testutil.NewFakeEngine()
	cfg := testConfig(t)
	cfg.Recording.Preset = "vr_qhd"
	d := newTestDaemon(t, cfg, fake.Factory())

	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdStart})

	starts := fake.Starts()
	testutil.AssertEqual(t, 1, len(starts), "one start issued")
	testutil.AssertEqual(t, 90, starts[0].FrameRate, "vr_qhd frame rate")
	testutil.AssertEqual(t, "vr_qhd", readStatus(t, d).Preset, "preset")
}

func TestCommandFailuresAreReported(t *testing.T) {
	tests := []struct {
		name    string
		req     ipc.Request
		wantErr string
	}{
		{"unknown preset", ipc.Request{Command: ipc.CmdStart, Arg: "cinema"}, `unknown preset "cinema"`},
		{"stop while idle", ipc.Request{Command: ipc.CmdStop}, "cannot stop while idle"},
		{"unknown command", ipc.Request{Command: "toggle"}, `unknown command "toggle"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeEngine()
			d := newTestDaemon(t, testConfig(t), fake.Factory())
			d.tick(context.Background())

			d.handleCommand(context.Background(), tt.req)

			testutil.AssertEqual(t, 0, len(fake.Starts()), "nothing started")
			status := readStatus(t, d)
			testutil.AssertStringContains(t, status.LastError, tt.wantErr, "last error")
			testutil.AssertEqual(t, recording.StateIdle, status.Recording.State, "still idle")
		})
	}
}

func TestStartRejectedByEngineThenReset(t *testing.T) {
	fake := testutil.NewFakeEngine()
	fake.StartErr = testutil.ErrFakeEngine
	d := newTestDaemon(t, testConfig(t), fake.Factory())

	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdStart})
	d.ctl.Flush()

	status := d.snapshot()
	testutil.AssertEqual(t, recording.StateError, status.Recording.State, "dispatch failure is an error")
	testutil.AssertStringContains(t, status.LastError, "dispatch failed", "last error")

	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdReset})
	testutil.AssertEqual(t, recording.StateIdle, readStatus(t, d).Recording.State, "reset to idle")
}

func TestResetRejectedWhileActive(t *testing.T) {
	fake := testutil.NewFakeEngine()
	d := newTestDaemon(t, testConfig(t), fake.Factory())

	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdStart})
	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdReset})

	status := readStatus(t, d)
	testutil.AssertEqual(t, recording.StatePreparing, status.Recording.State, "still preparing")
	testutil.AssertStringContains(t, status.LastError, "reset rejected", "last error")
}

// recordSession drives the fake engine through a full session and returns
// the queued completion.
func recordSession(t *testing.T, d *daemon, fake *testutil.FakeEngine, output string) completion {
	t.Helper()
	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdStart})
	fake.EmitState("recording")
	d.ctl.Flush()
	testutil.AssertEqual(t, recording.StateRecording, d.ctl.GetStatus().State, "recording")

	d.handleCommand(context.Background(), ipc.Request{Command: ipc.CmdStop})
	fake.EmitComplete(output)
	d.ctl.Flush()
	testutil.AssertEqual(t, recording.StateIdle, d.ctl.GetStatus().State, "idle after completion")
	return nextCompletion(t, d)
}

func TestCompletionWritesMetadata(t *testing.T) {
	fake := testutil.NewFakeEngine()
	d := newTestDaemon(t, testConfig(t), fake.Factory())

	output := filepath.Join(t.TempDir(), "capture-1.mp4")
	testutil.AssertNoError(t, os.WriteFile(output, []byte("mp4"), 0644), "seed output")

	c := recordSession(t, d, fake, output)
	testutil.AssertEqual(t, output, c.status.OutputFilePath, "completion path")
	testutil.AssertEqual(t, "default", c.preset, "completion preset")

	d.processCompletion(c)

	meta, err := fileutil.ReadMetadata(output)
	testutil.AssertNoError(t, err, "read metadata")
	testutil.AssertEqual(t, c.status.SessionID, meta.SessionID, "session id")
	testutil.AssertEqual(t, "default", meta.Preset, "preset")
	testutil.AssertEqual(t, output, meta.OutputFile, "output file")
	testutil.AssertEqual(t, "video/avc", meta.Video.Codec, "codec")
	testutil.AssertEqual(t, Version, meta.Version, "version")

	d.writeStatus()
	testutil.AssertEqual(t, output, readStatus(t, d).LastOutput, "last output")
}

func TestCompletionRenamesOutput(t *testing.T) {
	fake := testutil.NewFakeEngine()
	cfg := testConfig(t)
	cfg.Recording.RenameOutputs = true
	d := newTestDaemon(t, cfg, fake.Factory())
	d.now = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.Local) }

	dir := t.TempDir()
	output := filepath.Join(dir, "capture-1.mp4")
	testutil.AssertNoError(t, os.WriteFile(output, []byte("mp4"), 0644), "seed output")

	d.processCompletion(recordSession(t, d, fake, output))

	want := filepath.Join(dir, "2026-10-15_0930_default.mp4")
	_, err := os.Stat(want)
	testutil.AssertNoError(t, err, "renamed output exists")
	_, err = os.Stat(output)
	testutil.AssertTrue(t, os.IsNotExist(err), "engine path moved")

	_, err = fileutil.ReadMetadata(want)
	testutil.AssertNoError(t, err, "metadata beside renamed output")
	testutil.AssertEqual(t, want, d.snapshot().LastOutput, "last output is renamed path")
}

func TestCompletionOnRemotePathOnlyWarns(t *testing.T) {
	fake := testutil.NewFakeEngine()
	d := newTestDaemon(t, testConfig(t), fake.Factory())

	output := filepath.Join(t.TempDir(), "missing", "capture-1.mp4")
	d.processCompletion(recordSession(t, d, fake, output))

	testutil.AssertEqual(t, output, d.snapshot().LastOutput, "last output kept")
}

// sendUntil rewrites req until cond holds; the watcher only sees commands
// written after it started.
func sendUntil(t *testing.T, d *daemon, req ipc.Request, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("command %q was not handled", req)
		}
		testutil.AssertNoError(t, ipc.WriteCommand(d.cfg.Paths.StateDir, req), "write command")
		time.Sleep(300 * time.Millisecond)
	}
}

func isClosed(ch <-chan struct{}) func() bool {
	return func() bool {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
}

func TestRunQuitsOnCommand(t *testing.T) {
	fake := testutil.NewFakeEngine()
	d := newTestDaemon(t, testConfig(t), fake.Factory())

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.run(context.Background())
	}()

	testutil.WaitForCondition(t, func() bool { return fake.HasListener() }, 3*time.Second, "engine acquired")
	sendUntil(t, d, ipc.Request{Command: ipc.CmdQuit}, isClosed(done))

	testutil.AssertFalse(t, d.mgr.Held(), "engine released")
	testutil.AssertTrue(t, fake.Closed(), "engine closed")
	testutil.AssertEqual(t, "quit", readStatus(t, d).LastAction, "last action")
}

func TestRunStopsActiveSessionOnCancel(t *testing.T) {
	fake := testutil.NewFakeEngine()
	d := newTestDaemon(t, testConfig(t), fake.Factory())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.run(ctx)
	}()

	testutil.WaitForCondition(t, func() bool { return fake.HasListener() }, 3*time.Second, "engine acquired")
	sendUntil(t, d, ipc.Request{Command: ipc.CmdStart}, func() bool { return len(fake.Starts()) == 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	testutil.AssertEqual(t, 1, fake.CallCount("StopRecording"), "forced stop on release")
	testutil.AssertFalse(t, readStatus(t, d).EngineConnected, "released in final status")
}

func TestRotateLogIfNeeded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recordcore.out.log")

	testutil.AssertNoError(t, rotateLogIfNeeded(path, 10), "missing log")

	testutil.AssertNoError(t, os.WriteFile(path, []byte("short"), 0644), "seed small")
	testutil.AssertNoError(t, rotateLogIfNeeded(path, 10), "small log")
	_, err := os.Stat(path + ".old")
	testutil.AssertTrue(t, os.IsNotExist(err), "small log not rotated")

	testutil.AssertNoError(t, os.WriteFile(path, []byte("much longer than ten"), 0644), "seed large")
	testutil.AssertNoError(t, rotateLogIfNeeded(path, 10), "large log")
	data, err := os.ReadFile(path + ".old")
	testutil.AssertNoError(t, err, "rotated log")
	testutil.AssertEqual(t, "much longer than ten", string(data), "rotated content")
}

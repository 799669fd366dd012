package ipc

import (
	"os"
	"testing"
	"time"

	"github.com/tiroq/recordcore/internal/recording"
	"github.com/tiroq/recordcore/testutil"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		line    string
		want    Request
		wantErr bool
	}{
		{"", Request{}, false},
		{"  \n", Request{}, false},
		{"start", Request{Command: CmdStart}, false},
		{"START vr_4k\n", Request{Command: CmdStart, Arg: "vr_4k"}, false},
		{"stop", Request{Command: CmdStop}, false},
		{"reset", Request{Command: CmdReset}, false},
		{"quit", Request{Command: CmdQuit}, false},
		{"start a b", Request{}, true},
		{"stop now", Request{}, true},
		{"toggle", Request{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseRequest(tt.line)
			if tt.wantErr {
				testutil.AssertError(t, err, "parse error")
				return
			}
			testutil.AssertNoError(t, err, "parse")
			testutil.AssertEqual(t, tt.want, got, "request")
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	dir := t.TempDir()

	req, err := ReadCommand(dir)
	testutil.AssertNoError(t, err, "read without file")
	testutil.AssertEqual(t, Request{}, req, "no pending command")

	testutil.AssertNoError(t, WriteCommand(dir, Request{Command: CmdStart, Arg: "performance"}), "write")
	req, err = ReadCommand(dir)
	testutil.AssertNoError(t, err, "read")
	testutil.AssertEqual(t, Request{Command: CmdStart, Arg: "performance"}, req, "round trip")

	// Consumed: a second read sees nothing.
	req, err = ReadCommand(dir)
	testutil.AssertNoError(t, err, "second read")
	testutil.AssertEqual(t, Command(""), req.Command, "command consumed")
}

func TestReadCommandClearsMalformed(t *testing.T) {
	dir := t.TempDir()
	testutil.AssertNoError(t, os.WriteFile(CommandPath(dir), []byte("dance\n"), 0644), "seed")

	_, err := ReadCommand(dir)
	testutil.AssertErrorContains(t, err, "unknown command", "malformed command")

	data, err := os.ReadFile(CommandPath(dir))
	testutil.AssertNoError(t, err, "command file kept")
	testutil.AssertEqual(t, 0, len(data), "command file cleared")
}

func TestStatusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	in := &StatusSnapshot{
		Recording: recording.RecordingStatus{
			State:                    recording.StateRecording,
			RecordingDurationSeconds: 42,
			SessionID:                "s-1",
		},
		Preset:          "default",
		EngineConnected: true,
		EngineURL:       "ws://127.0.0.1:4466/engine",
		LastAction:      "start default",
		PID:             1234,
		Timestamp:       now,
	}
	testutil.AssertNoError(t, WriteStatus(dir, in), "write status")

	raw, err := os.ReadFile(StatusPath(dir))
	testutil.AssertNoError(t, err, "read raw")
	testutil.AssertJSONValid(t, string(raw), "status json")
	testutil.AssertStringContains(t, string(raw), `"state": "recording"`, "state by name")

	out, err := ReadStatus(dir)
	testutil.AssertNoError(t, err, "read status")
	testutil.AssertEqual(t, recording.StateRecording, out.Recording.State, "state")
	testutil.AssertEqual(t, int64(42), out.Recording.RecordingDurationSeconds, "duration")
	testutil.AssertEqual(t, "s-1", out.Recording.SessionID, "session id")
	testutil.AssertTrue(t, out.EngineConnected, "engine connected")
	testutil.AssertTrue(t, out.Timestamp.Equal(now), "timestamp")

	testutil.AssertFalse(t, out.Stale(now.Add(5*time.Second), 30*time.Second), "fresh snapshot")
	testutil.AssertTrue(t, out.Stale(now.Add(time.Minute), 30*time.Second), "old snapshot")
}

func TestReadStatusMissing(t *testing.T) {
	_, err := ReadStatus(t.TempDir())
	testutil.AssertTrue(t, os.IsNotExist(err), "missing status")
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := &Capabilities{
		EngineVersion: "1.4.0",
		Codecs:        []recording.CodecDescriptor{recording.MustCodec(recording.CodecH265)},
		Resolutions:   []recording.ResolutionPreset{{Width: 1920, Height: 1080, DisplayName: "FHD (1920x1080)"}},
		FrameRates:    []recording.FrameRatePreset{recording.NewFrameRatePreset(72)},
		Timestamp:     time.Now().UTC(),
	}
	testutil.AssertNoError(t, WriteCapabilities(dir, in), "write capabilities")

	out, err := ReadCapabilities(dir)
	testutil.AssertNoError(t, err, "read capabilities")
	testutil.AssertEqual(t, "1.4.0", out.EngineVersion, "engine version")
	testutil.AssertEqual(t, recording.CodecH265, out.Codecs[0].ID, "codec")
	testutil.AssertEqual(t, 1080, out.Resolutions[0].Height, "resolution")
	testutil.AssertEqual(t, "72 fps", out.FrameRates[0].DisplayName, "frame rate")
}

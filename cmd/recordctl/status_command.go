package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/recordcore/internal/ipc"
	"github.com/tiroq/recordcore/internal/recording"
	"github.com/tiroq/recordcore/internal/validation"
)

// staleAfter marks a snapshot the daemon has not refreshed for several polls.
const staleAfter = 30 * time.Second

type statusReport struct {
	Running  bool                `json:"running"`
	PID      int                 `json:"pid,omitempty"`
	Stale    bool                `json:"stale"`
	Snapshot *ipc.StatusSnapshot `json:"snapshot,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, engine and session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := loadStatus(ctx, time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			colorize := shouldColorize(cmd.OutOrStdout())
			out := cmd.OutOrStdout()
			for _, line := range renderSectionHeader("recordcore", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, line := range statusLines(report, colorize) {
				fmt.Fprintln(out, line)
			}
			if problem := statusProblem(report); problem != "" {
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Suggested fixes", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, line := range validation.SuggestedFixes(problem) {
					fmt.Fprintln(out, statusIndent+line)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func loadStatus(ctx *commandContext, now time.Time) (*statusReport, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	report := &statusReport{}

	pid, err := ctx.daemonPID()
	switch {
	case err == nil:
		report.Running = true
		report.PID = pid
	case !errors.Is(err, errDaemonNotRunning):
		return nil, err
	}

	snap, err := ipc.ReadStatus(cfg.Paths.StateDir)
	switch {
	case err == nil:
		report.Snapshot = snap
		report.Stale = snap.Stale(now, staleAfter)
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read status: %w", err)
	}
	return report, nil
}

func statusLines(r *statusReport, colorize bool) []string {
	var lines []string
	add := func(label string, kind statusKind, msg string) {
		lines = append(lines, renderStatusLine(label, kind, msg, colorize))
	}

	if !r.Running {
		add("Daemon", statusError, "Not running")
	} else if r.PID > 0 {
		add("Daemon", statusOK, fmt.Sprintf("Running (PID %d)", r.PID))
	} else {
		add("Daemon", statusOK, "Running")
	}

	s := r.Snapshot
	if s == nil {
		add("Session", statusInfo, "No status published yet")
		return lines
	}
	if r.Stale {
		add("Snapshot", statusWarn, "Stale since "+s.Timestamp.Local().Format(time.DateTime))
	}

	if s.EngineConnected {
		msg := "Connected to " + s.EngineURL
		if s.EngineVersion != "" {
			msg += " (engine " + s.EngineVersion + ")"
		}
		add("Engine", statusOK, msg)
	} else {
		add("Engine", statusWarn, "Disconnected from "+s.EngineURL)
	}

	kind, msg := sessionLine(s.Recording)
	add("Session", kind, msg)
	if s.Preset != "" {
		add("Preset", statusInfo, s.Preset)
	}
	if s.Recording.LastDurationSeconds > 0 {
		add("Last length", statusInfo, formatDuration(s.Recording.LastDurationSeconds))
	}
	if s.LastOutput != "" {
		add("Last output", statusInfo, s.LastOutput)
	} else if s.Recording.HasOutput() {
		add("Last output", statusInfo, s.Recording.OutputFilePath)
	}
	if s.LastError != "" && s.Recording.State != recording.StateError {
		add("Last error", statusWarn, s.LastError)
	}
	return lines
}

// statusProblem returns the failure worth troubleshooting, if any.
func statusProblem(r *statusReport) string {
	s := r.Snapshot
	switch {
	case !r.Running || s == nil:
		return ""
	case s.Recording.State == recording.StateError:
		return s.Recording.ErrorMessage
	case !s.EngineConnected:
		return recording.ErrNoEngine.Error()
	default:
		return ""
	}
}

func sessionLine(st recording.RecordingStatus) (statusKind, string) {
	switch st.State {
	case recording.StateRecording:
		return statusOK, "Recording " + formatDuration(st.RecordingDurationSeconds)
	case recording.StateStopping:
		return statusInfo, "Stopping " + formatDuration(st.RecordingDurationSeconds)
	case recording.StatePreparing:
		return statusInfo, "Preparing"
	case recording.StateError:
		msg := "Error"
		if st.ErrorMessage != "" {
			msg += ": " + st.ErrorMessage
		}
		return statusError, msg + " (run 'recordctl reset')"
	default:
		return statusInfo, "Idle"
	}
}

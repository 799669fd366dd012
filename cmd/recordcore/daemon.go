package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/recordcore/internal/capability"
	"github.com/tiroq/recordcore/internal/config"
	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/engine"
	"github.com/tiroq/recordcore/internal/fileutil"
	"github.com/tiroq/recordcore/internal/ipc"
	"github.com/tiroq/recordcore/internal/lifecycle"
	"github.com/tiroq/recordcore/internal/recording"
	"github.com/tiroq/recordcore/internal/session"
	"github.com/tiroq/recordcore/internal/validation"
)

// engineInfo is implemented by transports that know their connection state.
type engineInfo interface {
	IsConnected() bool
	EngineVersion() string
}

// completion is a reconciled output captured on the controller goroutine and
// processed on the daemon loop.
type completion struct {
	status recording.RecordingStatus
	cfg    recording.RecordingConfig
	preset string
	at     time.Time
}

type daemon struct {
	cfg      *config.Config
	mgr      *lifecycle.Manager
	resolver *capability.Resolver
	ctl      *session.Controller
	diag     *diaglog.Logger
	now      func() time.Time

	completions chan completion

	mu          sync.Mutex
	preset      string
	lastAction  string
	lastError   string
	lastOutput  string
	acquireFail string

	quit     chan struct{}
	quitOnce sync.Once
}

func newDaemon(cfg *config.Config, factory engine.Factory, diag *diaglog.Logger) *daemon {
	mgr := lifecycle.NewManager(factory)
	mgr.SetLogger(diag)
	resolver := capability.NewResolver(mgr)
	resolver.SetLogger(diag)

	d := &daemon{
		cfg:         cfg,
		mgr:         mgr,
		resolver:    resolver,
		diag:        diag,
		now:         time.Now,
		completions: make(chan completion, 16),
		quit:        make(chan struct{}),
	}
	d.ctl = session.NewController(mgr, resolver, session.Options{Logger: diag})

	// Observers run on the controller goroutine: snapshot reads and d.mu
	// only, never controller commands.
	d.ctl.OnStateChanged(func(s recording.State) {
		outLog.Printf("[EVENT] Session state: %s", s)
	})
	d.ctl.OnError(func(msg string) {
		errLog.Printf("[EVENT] %s", msg)
		d.mu.Lock()
		d.lastError = msg
		d.mu.Unlock()
	})
	d.ctl.OnComplete(func(path string) {
		outLog.Printf("[EVENT] Recording complete: %s", path)
		c := completion{status: d.ctl.GetStatus(), cfg: d.ctl.Config(), preset: d.currentPreset(), at: d.now()}
		select {
		case d.completions <- c:
		default:
			errLog.Printf("Completion queue full, skipping post-processing of %s", path)
		}
	})
	return d
}

func (d *daemon) currentPreset() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.preset
}

// ensureEngine acquires the engine if no handle is held. Repeated identical
// failures are logged once.
func (d *daemon) ensureEngine(ctx context.Context) bool {
	if d.mgr.Held() {
		return true
	}
	if err := d.mgr.Acquire(ctx); err != nil {
		d.mu.Lock()
		repeated := d.acquireFail == err.Error()
		d.acquireFail = err.Error()
		d.mu.Unlock()
		if !repeated {
			errLog.Printf("[ENGINE] %v (retrying every %s)", err, d.cfg.PollInterval())
		}
		return false
	}

	d.mu.Lock()
	d.acquireFail = ""
	d.mu.Unlock()
	outLog.Printf("[ENGINE] Connected to %s", d.cfg.Engine.URL)
	d.checkEngine()
	d.writeCapabilities(ctx)
	return true
}

// checkEngine logs whether the engine version is one the core can drive.
func (d *daemon) checkEngine() {
	_, version := d.engineState()
	health := validation.ValidateEngineVersion(version)
	if health.OK {
		outLog.Printf("[ENGINE] %s", health.Message)
		return
	}
	errLog.Printf("[ENGINE] WARNING: %s", health.Message)
	for _, issue := range health.Issues {
		errLog.Printf("  - %s", issue)
	}
	for _, fix := range health.Fixes {
		errLog.Printf("  fix: %s", fix)
	}
	errLog.Println("Continuing anyway, but recording may not work properly.")
}

func (d *daemon) engineState() (connected bool, version string) {
	h, _ := d.mgr.Handle()
	if h == nil {
		return false, ""
	}
	if info, ok := h.(engineInfo); ok {
		return info.IsConnected(), info.EngineVersion()
	}
	return true, ""
}

func (d *daemon) writeCapabilities(ctx context.Context) {
	_, version := d.engineState()
	caps := &ipc.Capabilities{
		EngineVersion: version,
		Codecs:        d.ctl.GetAvailableCodecs(ctx),
		Resolutions:   d.ctl.GetOptimalResolutions(ctx),
		FrameRates:    d.ctl.GetAvailableFrameRates(ctx),
		Timestamp:     d.now(),
	}
	if err := ipc.WriteCapabilities(d.cfg.Paths.StateDir, caps); err != nil {
		errLog.Printf("Failed to write capabilities: %v", err)
	}
}

// tick is one poll period: reacquire if needed, reconcile the engine state
// and publish the status snapshot.
func (d *daemon) tick(ctx context.Context) {
	if d.ensureEngine(ctx) {
		pollCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout())
		err := d.ctl.UpdateStatus(pollCtx)
		cancel()
		if err != nil {
			errLog.Printf("Status poll failed: %v", err)
		}
	}
	d.writeStatus()
}

// handleCommand executes one operator command.
func (d *daemon) handleCommand(ctx context.Context, req ipc.Request) {
	outLog.Printf("Received command: %s", req)
	d.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentDaemon,
		Event:     diaglog.EventDaemonCommand,
		Payload:   map[string]interface{}{"command": req.String()},
	})

	var err error
	switch req.Command {
	case ipc.CmdStart:
		err = d.start(ctx, req.Arg)
	case ipc.CmdStop:
		err = d.ctl.Stop()
	case ipc.CmdReset:
		if !d.ctl.Reset() {
			err = errors.New("reset rejected while a session is active")
		}
	case ipc.CmdQuit:
		outLog.Println("Quit command received - shutting down")
		d.requestQuit()
	default:
		err = fmt.Errorf("unknown command %q", req.Command)
	}

	d.mu.Lock()
	d.lastAction = req.String()
	if err != nil {
		d.lastError = err.Error()
	}
	d.mu.Unlock()
	if err != nil {
		errLog.Printf("Command %q failed: %v", req, err)
	}
	d.writeStatus()
}

func (d *daemon) start(ctx context.Context, presetName string) error {
	if presetName == "" {
		presetName = d.cfg.Recording.Preset
	}
	rc, ok := capability.PresetByName(presetName)
	if !ok {
		return fmt.Errorf("unknown preset %q (known: %s)", presetName, strings.Join(capability.PresetNames(), ", "))
	}
	if d.cfg.Recording.OutputDirectory != "" {
		rc.OutputDirectory = d.cfg.Recording.OutputDirectory
	}
	d.ensureEngine(ctx)

	// The preset must be visible before the completion observer can fire.
	d.mu.Lock()
	prev := d.preset
	d.preset = strings.ToLower(presetName)
	d.mu.Unlock()

	if err := d.ctl.Start(rc); err != nil {
		if !errors.Is(err, recording.ErrDispatch) {
			d.mu.Lock()
			d.preset = prev
			d.mu.Unlock()
		}
		return err
	}
	return nil
}

// processCompletion renames the output and writes its sidecar, as
// configured.
func (d *daemon) processCompletion(c completion) {
	path := c.status.OutputFilePath
	if d.cfg.Recording.RenameOutputs {
		startedAt := c.at.Add(-time.Duration(c.status.LastDurationSeconds) * time.Second)
		renamed, err := fileutil.RenameRecording(path, fileutil.RecordingBasename(startedAt, c.preset))
		if err != nil {
			errLog.Printf("Failed to rename %s: %v", path, err)
		} else if renamed != path {
			outLog.Printf("Renamed recording: %s -> %s", path, renamed)
			path = renamed
		}
	}

	if d.cfg.Recording.WriteMetadata {
		meta := fileutil.NewMetadata(c.status, c.cfg, c.at)
		meta.Version = Version
		meta.Preset = c.preset
		meta.OutputFile = path
		_, meta.EngineVersion = d.engineState()
		// The engine may write to a directory this host cannot see.
		if err := fileutil.WriteMetadata(path, meta); err != nil {
			errLog.Printf("Failed to write metadata for %s: %v", path, err)
		}
	}

	d.mu.Lock()
	d.lastOutput = path
	d.mu.Unlock()
	d.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentDaemon,
		Event:     diaglog.EventOutputProcessed,
		SessionID: c.status.SessionID,
		Payload: map[string]interface{}{
			"engine_path":      c.status.OutputFilePath,
			"output_path":      path,
			"duration_seconds": c.status.LastDurationSeconds,
		},
	})
}

func (d *daemon) snapshot() *ipc.StatusSnapshot {
	connected, version := d.engineState()
	d.mu.Lock()
	defer d.mu.Unlock()
	return &ipc.StatusSnapshot{
		Recording:       d.ctl.GetStatus(),
		Preset:          d.preset,
		EngineConnected: connected,
		EngineURL:       d.cfg.Engine.URL,
		EngineVersion:   version,
		LastAction:      d.lastAction,
		LastError:       d.lastError,
		LastOutput:      d.lastOutput,
		PID:             os.Getpid(),
		Timestamp:       d.now(),
	}
}

func (d *daemon) writeStatus() {
	if err := ipc.WriteStatus(d.cfg.Paths.StateDir, d.snapshot()); err != nil {
		errLog.Printf("Failed to write status: %v", err)
	}
}

func (d *daemon) requestQuit() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// run polls, handles commands and completions until ctx ends or a quit
// command arrives, then releases the engine.
func (d *daemon) run(ctx context.Context) {
	d.tick(ctx)

	stopWatch := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchCommands(d.cfg.Paths.StateDir, func(req ipc.Request) { d.handleCommand(ctx, req) }, stopWatch)
	}()
	defer func() {
		close(stopWatch)
		wg.Wait()
	}()

	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick(ctx)
		case c := <-d.completions:
			d.processCompletion(c)
			d.writeStatus()
		case <-d.quit:
			d.shutdown()
			return
		case <-ctx.Done():
			d.shutdown()
			return
		}
	}
}

// shutdown releases the engine, forcing a stop if a session is active.
func (d *daemon) shutdown() {
	if d.ctl.GetStatus().State.Active() {
		outLog.Println("[SHUTDOWN] Recording is active - stopping before shutdown...")
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout())
	defer cancel()
	if err := d.mgr.Release(ctx); err != nil {
		errLog.Printf("[SHUTDOWN] Engine release reported: %v", err)
	}
	d.ctl.Close()
	d.writeStatus()
	outLog.Println("[SHUTDOWN] Engine released")
}

// Command recordcore is the recording daemon. It holds the engine
// connection, runs the session controller and takes commands from recordctl
// through the state directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/recordcore/internal/config"
	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/enginews"
	"github.com/tiroq/recordcore/internal/pidfile"
)

const (
	appName   = "recordcore"
	logPrefix = "[recordcore]"

	// maxLogSize triggers rotation of the out and err logs at startup.
	maxLogSize = 10 * 1024 * 1024
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog = log.New(os.Stdout, logPrefix+" ", log.LstdFlags)
	errLog = log.New(os.Stderr, logPrefix+" ERROR: ", log.LstdFlags)
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		foreground bool
		exportDiag bool
	)

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Screen recording session daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, exists, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if exportDiag {
				return runExportDiag(cmd.OutOrStdout(), cfg.Paths.LogPath)
			}
			return runDaemon(cmd.Context(), cfg, exists, foreground)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path (default ~/.config/recordcore/config.toml)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Log to the terminal instead of the state directory")
	cmd.Flags().BoolVar(&exportDiag, "export-diag", false, "Write a diagnostic bundle to the current directory and exit")
	return cmd
}

func runExportDiag(out io.Writer, logPath string) error {
	diaglog.Version = Version
	path, n, err := diaglog.Export(logPath, ".")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w (hint: run with %s=true to enable logging)", err, diaglog.DebugEnvVar)
		}
		return err
	}
	fmt.Fprintf(out, "Wrote: %s (%d lines)\n", path, n)
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config, configExists bool, foreground bool) (err error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if !foreground {
		if err := initLogging(cfg.Paths.StateDir); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			errLog.Printf("PANIC: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	outLog.Println("===========================================")
	outLog.Println("Starting recordcore v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Printf("Timestamp: %s", time.Now().Format(time.RFC3339))
	outLog.Println("===========================================")
	if !configExists {
		outLog.Println("[STARTUP] No config file found, using defaults")
	}

	pidFilePath := pidfile.Path(cfg.Paths.StateDir, appName)
	pf, err := pidfile.New(pidFilePath)
	if err != nil {
		if errors.Is(err, pidfile.ErrAlreadyRunning) {
			errLog.Printf("Another instance of %s is already running: %v", appName, err)
		}
		return err
	}
	defer func() {
		outLog.Println("Cleaning up before exit...")
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()
	outLog.Printf("PID file created: %s (PID %d)", pidFilePath, os.Getpid())

	diagLogger, diagErr := diaglog.New(cfg.Paths.LogPath)
	if diagErr != nil {
		errLog.Printf("[STARTUP] WARNING: could not open diagnostic log at %s: %v (continuing)", cfg.Paths.LogPath, diagErr)
		diagLogger = diaglog.NewNoOp()
	}
	defer func() { _ = diagLogger.Close() }()
	diaglog.Version = Version

	delay, maxDelay := cfg.ReconnectDelays()
	factory := enginews.Factory(enginews.Options{
		URL:               cfg.Engine.URL,
		Password:          cfg.Engine.Password,
		RequestTimeout:    cfg.RequestTimeout(),
		Reconnect:         true,
		ReconnectDelay:    delay,
		MaxReconnectDelay: maxDelay,
	}, diagLogger)

	d := newDaemon(cfg, factory, diagLogger)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outLog.Printf("[STARTUP] Engine %s, preset %s, polling every %s", cfg.Engine.URL, cfg.Recording.Preset, cfg.PollInterval())
	outLog.Println("[RUNNING] recordcore is running")
	d.run(ctx)
	outLog.Println("[SHUTDOWN] recordcore stopped")
	return nil
}

// initLogging sends outLog and errLog to rotated files in dir.
func initLogging(dir string) error {
	outLogPath := filepath.Join(dir, appName+".out.log")
	errLogPath := filepath.Join(dir, appName+".err.log")

	if err := rotateLogIfNeeded(outLogPath, maxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateLogIfNeeded(errLogPath, maxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		_ = outFile.Close()
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)
	return nil
}

// rotateLogIfNeeded moves logPath to logPath.old once it reaches maxSize.
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}

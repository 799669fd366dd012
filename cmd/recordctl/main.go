// Command recordctl controls a running recordcore daemon and inspects its
// state.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tiroq/recordcore/internal/config"
	"github.com/tiroq/recordcore/internal/pidfile"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

const daemonName = "recordcore"

var errDaemonNotRunning = errors.New("recordcore is not running")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// daemonPID returns the daemon's PID, or errDaemonNotRunning.
func (c *commandContext) daemonPID() (int, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return 0, err
	}
	pid, running, err := pidfile.Running(pidfile.Path(cfg.Paths.StateDir, daemonName))
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, errDaemonNotRunning
	}
	return pid, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "recordctl",
		Short:         "Control the recordcore recording daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	for _, cmd := range newControlCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newCapabilitiesCommand(ctx))
	rootCmd.AddCommand(newPresetsCommand())
	rootCmd.AddCommand(newBitrateCommand())
	rootCmd.AddCommand(newExportDiagCommand(ctx))
	return rootCmd
}

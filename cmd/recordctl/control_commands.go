package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiroq/recordcore/internal/capability"
	"github.com/tiroq/recordcore/internal/ipc"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start [preset]",
		Short: "Start a recording session",
		Long:  "Start a recording session with the named preset, or the configured default.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.Request{Command: ipc.CmdStart}
			if len(args) == 1 {
				if _, ok := capability.PresetByName(args[0]); !ok {
					return fmt.Errorf("unknown preset %q (known: %s)", args[0], strings.Join(capability.PresetNames(), ", "))
				}
				req.Arg = args[0]
			}
			return sendCommand(cmd, ctx, req, "Start requested")
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the current recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, ctx, ipc.Request{Command: ipc.CmdStop}, "Stop requested")
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear an error session back to idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, ctx, ipc.Request{Command: ipc.CmdReset}, "Reset requested")
		},
	}

	quitCmd := &cobra.Command{
		Use:   "quit",
		Short: "Stop any recording, release the engine and exit the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, ctx, ipc.Request{Command: ipc.CmdQuit}, "Shutdown requested")
		},
	}

	return []*cobra.Command{startCmd, stopCmd, resetCmd, quitCmd}
}

// sendCommand hands req to the daemon. The outcome shows up in status.
func sendCommand(cmd *cobra.Command, ctx *commandContext, req ipc.Request, done string) error {
	pid, err := ctx.daemonPID()
	if err != nil {
		return err
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if err := ipc.WriteCommand(cfg.Paths.StateDir, req); err != nil {
		return fmt.Errorf("send %s: %w", req.Command, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (recordcore PID %d)\n", done, pid)
	return nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/recordcore/internal/capability"
	"github.com/tiroq/recordcore/internal/diaglog"
	"github.com/tiroq/recordcore/internal/ipc"
	"github.com/tiroq/recordcore/internal/recording"
)

func newCapabilitiesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "List codecs, resolutions and frame rates the engine reported",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			caps, fromEngine, err := loadCapabilities(cfg.Paths.StateDir)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, caps)
			}

			out := cmd.OutOrStdout()
			if fromEngine {
				fmt.Fprintf(out, "Reported by engine %s at %s\n\n", valueOr(caps.EngineVersion, "(unknown version)"),
					caps.Timestamp.Local().Format(time.DateTime))
			} else {
				fmt.Fprintln(out, "The daemon has not reached the engine yet; showing fallback capabilities.")
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, codecTable(caps.Codecs))
			fmt.Fprintln(out, resolutionTable(caps.Resolutions))
			fmt.Fprintln(out, frameRateTable(caps.FrameRates))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// loadCapabilities reads what the daemon published, or the fallback sets when
// nothing was published yet.
func loadCapabilities(stateDir string) (*ipc.Capabilities, bool, error) {
	caps, err := ipc.ReadCapabilities(stateDir)
	if err == nil {
		return caps, true, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("read capabilities: %w", err)
	}
	return &ipc.Capabilities{
		Codecs:      capability.FallbackCodecs(),
		Resolutions: capability.FallbackResolutions(),
		FrameRates:  capability.FallbackFrameRates(),
	}, false, nil
}

func codecTable(codecs []recording.CodecDescriptor) string {
	rows := make([][]string, 0, len(codecs))
	for _, c := range codecs {
		rows = append(rows, []string{string(c.ID), c.DisplayName, c.MimeType})
	}
	return renderTable([]string{"Codec", "Name", "MIME type"}, rows, nil)
}

func resolutionTable(resolutions []recording.ResolutionPreset) string {
	rows := make([][]string, 0, len(resolutions))
	for _, r := range resolutions {
		rows = append(rows, []string{r.DisplayName, strconv.Itoa(r.Width), strconv.Itoa(r.Height)})
	}
	return renderTable([]string{"Resolution", "Width", "Height"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}

func frameRateTable(rates []recording.FrameRatePreset) string {
	rows := make([][]string, 0, len(rates))
	for _, r := range rates {
		rows = append(rows, []string{r.DisplayName})
	}
	return renderTable([]string{"Frame rate"}, rows, nil)
}

func newPresetsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the built-in recording presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := capability.PresetNames()
			if asJSON {
				all := make(map[string]recording.RecordingConfig, len(names))
				for _, name := range names {
					all[name], _ = capability.PresetByName(name)
				}
				return writeJSON(cmd, all)
			}
			fmt.Fprintln(cmd.OutOrStdout(), presetTable(names))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func presetTable(names []string) string {
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		cfg, _ := capability.PresetByName(name)
		codec := cfg.VideoFormat
		if desc, ok := recording.CodecByMime(cfg.VideoFormat); ok {
			codec = string(desc.ID)
		}
		size := "engine default"
		if cfg.VideoWidth > 0 && cfg.VideoHeight > 0 {
			size = fmt.Sprintf("%dx%d", cfg.VideoWidth, cfg.VideoHeight)
		}
		rows = append(rows, []string{name, codec, size, strconv.Itoa(cfg.VideoFrameRate), formatBitrate(cfg.VideoBitrate)})
	}
	return renderTable(
		[]string{"Preset", "Codec", "Resolution", "FPS", "Bitrate"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func newBitrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bitrate WIDTHxHEIGHT FPS",
		Short: "Print the recommended bitrate for a resolution and frame rate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			width, height, err := parseResolution(args[0])
			if err != nil {
				return err
			}
			fps, err := strconv.Atoi(args[1])
			if err != nil || fps <= 0 {
				return fmt.Errorf("invalid frame rate %q", args[1])
			}
			bps := capability.RecommendedBitrate(width, height, fps)
			fmt.Fprintf(cmd.OutOrStdout(), "%d (%s)\n", bps, formatBitrate(bps))
			return nil
		},
	}
}

// parseResolution accepts "1920x1080".
func parseResolution(raw string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q, want WIDTHxHEIGHT", raw)
	}
	width, errW := strconv.Atoi(w)
	height, errH := strconv.Atoi(h)
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q, want WIDTHxHEIGHT", raw)
	}
	return width, height, nil
}

func newExportDiagCommand(ctx *commandContext) *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "export-diag",
		Short: "Bundle the diagnostic log for a bug report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			diaglog.Version = Version
			path, n, err := diaglog.Export(cfg.Paths.LogPath, dest)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("%w (hint: run recordcore with %s=true to enable logging)", err, diaglog.DebugEnvVar)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s (%d lines)\n", path, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "output", "o", ".", "Directory for the bundle")
	return cmd
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

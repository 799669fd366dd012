package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// DiagBundle is the first line written to the export file (valid NDJSON).
type DiagBundle struct {
	ExportedAt string   `json:"exported_at"`
	Version    string   `json:"recordcore_version"`
	GoVersion  string   `json:"go_version"`
	OS         string   `json:"os"`
	Arch       string   `json:"arch"`
	LogFiles   []string `json:"log_files"`
	EntryCount int      `json:"entry_count"`
}

// Export collects the rotated backup (if any) and the live log at logPath,
// oldest first, prepends a DiagBundle metadata line and writes the result to
// dest/recordcore-diag-<ts>.ndjson. Returns the written file path and the
// number of log lines included.
func Export(logPath, dest string) (path string, lines int, err error) {
	if _, err := os.Stat(logPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}

	sources := []string{logPath}
	if _, err := os.Stat(logPath + ".1"); err == nil {
		sources = []string{logPath + ".1", logPath}
	}

	var rawLines [][]byte
	for _, src := range sources {
		ls, err := readLines(src)
		if err != nil {
			return "", 0, err
		}
		rawLines = append(rawLines, ls...)
	}

	tstamp := time.Now().UTC().Format("20060102T150405")
	outPath := filepath.Join(dest, "recordcore-diag-"+tstamp+".ndjson")

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()

	bundle := DiagBundle{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFiles:   sources,
		EntryCount: len(rawLines),
	}
	header, merr := json.Marshal(bundle)
	if merr != nil {
		return "", 0, merr
	}

	w := bufio.NewWriter(out)
	if _, err := w.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}
	for _, line := range rawLines {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}

	return outPath, len(rawLines), nil
}

// readLines buffers every line of path. Each generation is capped at
// DefaultMaxSize so holding them in memory is fine.
func readLines(path string) ([][]byte, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("log file unreadable: %w", err)
	}
	defer func() { _ = src.Close() }()

	var out [][]byte
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), DefaultMaxSize)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("log file unreadable: %w", err)
	}
	return out, nil
}

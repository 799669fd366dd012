package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tiroq/recordcore/testutil"
)

// writeTrace writes n poll_tick entries to path and returns their lines.
func writeTrace(t *testing.T, path string, n int, tag string) []string {
	t.Helper()
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"ts":"2026-10-15T09:00:%02dZ","component":"reconciler","event":"poll_tick","reason":"%s-%d"}`, i%60, tag, i)
	}
	data := strings.Join(lines, "\n") + "\n"
	testutil.AssertNoError(t, os.WriteFile(path, []byte(data), 0644), "seed trace")
	return lines
}

func readBundle(t *testing.T, path string) (DiagBundle, []string) {
	t.Helper()
	f, err := os.Open(path)
	testutil.AssertNoError(t, err, "open bundle")
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	testutil.AssertTrue(t, scanner.Scan(), "bundle header present")
	var header DiagBundle
	testutil.AssertNoError(t, json.Unmarshal(scanner.Bytes(), &header), "decode header")

	var body []string
	for scanner.Scan() {
		body = append(body, scanner.Text())
	}
	return header, body
}

func TestExport(t *testing.T) {
	tests := []struct {
		name       string
		live       int
		backup     int
		wantFiles  int
		wantFirstT string
	}{
		{name: "live only", live: 4, wantFiles: 1, wantFirstT: "live-0"},
		{name: "backup first", live: 2, backup: 3, wantFiles: 2, wantFirstT: "old-0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "recordcore.ndjson")
			var want []string
			if tt.backup > 0 {
				want = append(want, writeTrace(t, src+".1", tt.backup, "old")...)
			}
			want = append(want, writeTrace(t, src, tt.live, "live")...)

			Version = "test-build"
			defer func() { Version = "dev" }()

			out, n, err := Export(src, t.TempDir())
			testutil.AssertNoError(t, err, "Export")
			testutil.AssertEqual(t, len(want), n, "line count")
			testutil.AssertStringContains(t, filepath.Base(out), "recordcore-diag-", "bundle name")

			header, body := readBundle(t, out)
			testutil.AssertEqual(t, len(want), header.EntryCount, "entry_count")
			testutil.AssertEqual(t, "test-build", header.Version, "version")
			testutil.AssertEqual(t, tt.wantFiles, len(header.LogFiles), "log_files")
			testutil.AssertEqual(t, src, header.LogFiles[len(header.LogFiles)-1], "live log last")
			testutil.AssertNotEqual(t, "", header.GoVersion, "go_version")
			testutil.AssertNotEqual(t, "", header.OS, "os")

			testutil.AssertEqual(t, len(want), len(body), "body lines")
			for i := range want {
				testutil.AssertEqual(t, want[i], body[i], "line preserved")
			}
			testutil.AssertStringContains(t, body[0], tt.wantFirstT, "oldest first")
		})
	}
}

func TestExportMissingLog(t *testing.T) {
	_, _, err := Export(filepath.Join(t.TempDir(), "absent.ndjson"), t.TempDir())
	testutil.AssertError(t, err, "missing log")
	testutil.AssertTrue(t, errors.Is(err, os.ErrNotExist), "wraps os.ErrNotExist")
	testutil.AssertErrorContains(t, err, "log file not found", "message")
}

func TestExportUnwritableDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "recordcore.ndjson")
	writeTrace(t, src, 1, "live")

	_, _, err := Export(src, filepath.Join(dir, "missing", "dir"))
	testutil.AssertErrorContains(t, err, "could not be created", "destination error")
}

func TestExportLargeTrace(t *testing.T) {
	src := filepath.Join(t.TempDir(), "large.ndjson")
	writeTrace(t, src, 10000, "bulk")

	_, n, err := Export(src, t.TempDir())
	testutil.AssertNoError(t, err, "Export")
	testutil.AssertEqual(t, 10000, n, "all lines exported")
}

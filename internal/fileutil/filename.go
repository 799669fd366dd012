package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeForFilename sanitizes a string for safe use in filenames
func SanitizeForFilename(input string) string {
	// Illegal chars: / \ : * ? " < > |
	sanitized := illegalChars.ReplaceAllString(input, "_")
	sanitized = whitespace.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = strings.TrimRight(sanitized[:50], "-")
	}
	if sanitized == "" {
		return "Recording"
	}
	return sanitized
}

// RecordingBasename formats YYYY-MM-DD_HHMM_<label>.
func RecordingBasename(startedAt time.Time, label string) string {
	return startedAt.Format("2006-01-02_1504") + "_" + SanitizeForFilename(label)
}

// RenameRecording renames an engine output file to newBasename, keeping its
// directory and extension. A taken name gets a _2.._99 suffix. A missing
// source is returned unchanged.
func RenameRecording(enginePath, newBasename string) (string, error) {
	if enginePath == "" {
		return "", nil
	}
	if _, err := os.Stat(enginePath); os.IsNotExist(err) {
		return enginePath, nil
	}

	dir := filepath.Dir(enginePath)
	ext := filepath.Ext(enginePath)
	newPath := filepath.Join(dir, newBasename+ext)
	if enginePath == newPath {
		return enginePath, nil
	}

	if _, err := os.Stat(newPath); err == nil {
		found := false
		for i := 2; i < 100; i++ {
			tryPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", newBasename, i, ext))
			if _, err := os.Stat(tryPath); os.IsNotExist(err) {
				newPath = tryPath
				found = true
				break
			}
		}
		if !found {
			return enginePath, fmt.Errorf("no free name for %s in %s", newBasename, dir)
		}
	}

	if err := os.Rename(enginePath, newPath); err != nil {
		return enginePath, err
	}
	return newPath, nil
}

// Package validation checks the connected engine and turns failures into
// operator-facing fixes.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MinEngineMajor is the oldest engine protocol generation the core speaks.
const MinEngineMajor = 1

// ValidationResult contains the result of an engine compatibility check
type ValidationResult struct {
	OK      bool
	Message string
	Issues  []string
	Fixes   []string
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// ValidateEngineVersion checks a version string like "1.4.0" or
// "2.0.0-rc1". An engine that does not report a version passes with a
// warning message.
func ValidateEngineVersion(versionString string) *ValidationResult {
	result := &ValidationResult{OK: true}

	if strings.TrimSpace(versionString) == "" {
		result.Message = "Engine did not report a version"
		return result
	}

	matches := versionPattern.FindStringSubmatch(versionString)
	if len(matches) < 4 {
		result.OK = false
		result.Message = fmt.Sprintf("Could not parse engine version: %s", versionString)
		result.Issues = append(result.Issues, "Invalid version format")
		result.Fixes = append(result.Fixes, "Update the recording engine to a release build")
		return result
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	if major < MinEngineMajor {
		result.OK = false
		result.Issues = append(result.Issues, fmt.Sprintf("Engine %d.%d is too old (requires %d.0+)", major, minor, MinEngineMajor))
		result.Fixes = append(result.Fixes, fmt.Sprintf("Update the recording engine to %d.0 or later", MinEngineMajor))
		result.Message = fmt.Sprintf("Engine %d.%d requires update to %d.0+", major, minor, MinEngineMajor)
		return result
	}

	result.Message = fmt.Sprintf("Engine %d.%d is compatible (requires %d.0+)", major, minor, MinEngineMajor)
	return result
}

// SuggestedFixes returns troubleshooting steps for an error message reported
// by the core or the engine. Unknown messages get a generic pointer to the
// logs.
func SuggestedFixes(errorMsg string) []string {
	msg := strings.ToLower(errorMsg)
	switch {
	case strings.Contains(msg, "requires a password"), strings.Contains(msg, "handshake failed"):
		return []string{
			"The engine refused the connection handshake",
			"  1. Check engine.password in the recordcore config",
			"  2. Make sure no other client holds the engine session",
		}
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "connection lost"),
		strings.Contains(msg, "handle unavailable"), strings.Contains(msg, "connection refused"):
		return []string{
			"Cannot reach the recording engine",
			"  1. Check the engine service is running",
			"  2. Check engine.url in the recordcore config",
			"  3. recordcore reconnects on its own once the engine is back",
		}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return []string{
			"The engine did not answer in time",
			"  1. The engine may be busy or frozen; restart it",
			"  2. Raise engine.request_timeout_seconds if the host is slow",
		}
	case strings.Contains(msg, "does not support"):
		return []string{
			"The engine does not implement this request",
			"  Update the recording engine; recordcore falls back to defaults meanwhile",
		}
	case strings.Contains(msg, "invalid state transition"):
		return []string{
			"The command does not apply to the current session state",
			"  Run 'recordctl status' and retry once the session settles",
		}
	default:
		return []string{
			fmt.Sprintf("Error: %s", errorMsg),
			"  Run 'recordctl export-diag' with RECORDCORE_DEBUG_RECORDING=true for details",
		}
	}
}

// Package debug provides env-gated diagnostic logging and the append-only
// coordination audit log.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("WEFT_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

// Enabled reports whether debug output is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output).
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode
}

// Logf writes to stderr when debug output is active.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled.
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// LogEvent writes an audit line to .weft/events.log.
// Format: TIMESTAMP|EVENT_CODE|CELL_ID|AGENT_ID|DETAILS
func LogEvent(eventCode, cellID, details string) {
	projectRoot, err := findProjectRoot()
	if err != nil {
		// Silent fail if not in a project.
		return
	}

	logPath := filepath.Join(projectRoot, ".weft", "events.log")

	if cellID == "" {
		cellID = "none"
	}
	agentID := os.Getenv("WEFT_AGENT_ID")
	if agentID == "" {
		agentID = os.Getenv("USER")
		if agentID == "" {
			agentID = "unknown"
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n", timestamp, eventCode, cellID, agentID, details)

	logMutex.Lock()
	defer logMutex.Unlock()

	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304 - path derived from project root
	if err != nil {
		// Silent fail - don't interrupt operations if logging fails.
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		weftDir := filepath.Join(dir, ".weft")
		if info, err := os.Stat(weftDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a weft project")
		}
		dir = parent
	}
}

// Package ipc is the file-based channel between recordctl and the daemon: a
// one-shot command file and a status snapshot, both in the state directory.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Command represents operator commands sent to the daemon
type Command string

const (
	CmdStart Command = "start" // start a session, optional preset argument
	CmdStop  Command = "stop"
	CmdReset Command = "reset" // clear an Error session
	CmdQuit  Command = "quit"  // release the engine and exit
)

// CommandFile is the name of the command file inside the state directory.
const CommandFile = "cmd.txt"

// Request is one parsed command line.
type Request struct {
	Command Command
	Arg     string // preset name for start
}

func (r Request) String() string {
	if r.Arg == "" {
		return string(r.Command)
	}
	return string(r.Command) + " " + r.Arg
}

// CommandPath returns the command file path inside stateDir.
func CommandPath(stateDir string) string {
	return filepath.Join(stateDir, CommandFile)
}

// ParseRequest parses "start [preset]", "stop", "reset" or "quit".
func ParseRequest(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, nil
	}
	req := Request{Command: Command(strings.ToLower(fields[0]))}
	switch req.Command {
	case CmdStart:
		if len(fields) > 2 {
			return Request{}, fmt.Errorf("start takes at most one preset, got %q", line)
		}
		if len(fields) == 2 {
			req.Arg = fields[1]
		}
	case CmdStop, CmdReset, CmdQuit:
		if len(fields) > 1 {
			return Request{}, fmt.Errorf("%s takes no arguments, got %q", req.Command, line)
		}
	default:
		return Request{}, fmt.Errorf("unknown command %q", fields[0])
	}
	return req, nil
}

// WriteCommand writes req to the command file in stateDir.
func WriteCommand(stateDir string, req Request) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(CommandPath(stateDir), []byte(req.String()+"\n"), 0644)
}

// ReadCommand reads and clears the command file in stateDir.
// Returns a zero Request if no command is pending. A malformed command is
// cleared too and reported as an error.
func ReadCommand(stateDir string) (Request, error) {
	cmdPath := CommandPath(stateDir)

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Request{}, nil
		}
		return Request{}, err
	}
	if len(data) == 0 {
		return Request{}, nil
	}

	// Clear the file immediately to prevent re-execution
	if err := os.WriteFile(cmdPath, []byte(""), 0644); err != nil {
		return Request{}, err
	}

	return ParseRequest(string(data))
}

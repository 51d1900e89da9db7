package runner

import "time"

// Result holds the outcome of a single command execution.
type Result struct {
	RunID     string        `json:"run_id"`              // unique identifier for this run
	Command   string        `json:"command"`             // command string as given
	Shell     bool          `json:"shell,omitempty"`     // true if run through the shell
	Stdout    string        `json:"stdout"`              // captured stdout, empty if redirected
	Stderr    string        `json:"stderr"`              // captured stderr, empty if redirected
	ExitCode  int           `json:"exit_code"`           // process exit code, or 127 if not found
	NotFound  bool          `json:"not_found,omitempty"` // executable could not be located; nothing was started
	Truncated bool          `json:"truncated,omitempty"` // true if captured output exceeded the size cap
	Duration  time.Duration `json:"duration"`
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

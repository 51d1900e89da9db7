//go:build unix

package runner

import (
	"os"
	"syscall"
)

// exitCode returns the process exit status, or the negated signal number
// if the process was terminated by a signal.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

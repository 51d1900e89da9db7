//go:build !unix

package runner

import "os"

func exitCode(state *os.ProcessState) int {
	return state.ExitCode()
}

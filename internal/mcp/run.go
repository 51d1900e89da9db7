package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/cmdrun/internal/history"
	"github.com/deixis/cmdrun/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type runParams struct {
	Command    string `json:"command" jsonschema:"the command line to run, e.g. ls -la /tmp"`
	Shell      bool   `json:"shell,omitempty" jsonschema:"run the command through the shell to enable pipes, &&, globbing and redirection. Default: false."`
	StdoutFile string `json:"stdout_file,omitempty" jsonschema:"write stdout to this file (created or truncated) instead of returning it"`
	StderrFile string `json:"stderr_file,omitempty" jsonschema:"write stderr to this file (created or truncated) instead of returning it"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Command) == "" {
		return errorResult("command is required")
	}

	r := h.runnerFor(req.Session)

	stdout, closeStdout, err := openOutput(r.Dir, params.StdoutFile)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to open stdout_file: %v", err))
	}
	defer closeStdout()
	stderr, closeStderr, err := openOutput(r.Dir, params.StderrFile)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to open stderr_file: %v", err))
	}
	defer closeStderr()

	start := time.Now()
	res, err := r.Run(ctx, runner.Request{
		Command: params.Command,
		Shell:   params.Shell,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("run failed: %v", err))
	}

	// Save results for cmd_inspect.
	if err := h.store.Save(history.NewRecord(res, start, r.Dir)); err != nil {
		h.log.Warn("saving run", "run_id", res.RunID, "error", err)
	}

	return textResult(formatRun(res, params))
}

// openOutput creates path, relative to dir, for a redirected stream. An
// empty path captures.
func openOutput(dir, path string) (runner.Output, func(), error) {
	if path == "" {
		return runner.Capture, func() {}, nil
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return runner.Capture, nil, err
	}
	return runner.RedirectTo(f), func() { _ = f.Close() }, nil
}

func formatRun(res *runner.Result, params runParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", res.RunID)
	fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
	if res.NotFound {
		fmt.Fprintln(&b, "Status: not found (no process was started)")
	}
	if res.Truncated {
		fmt.Fprintln(&b, "Output: truncated")
	}
	fmt.Fprintln(&b)

	writeStream(&b, "Stdout", res.Stdout, params.StdoutFile)
	writeStream(&b, "Stderr", res.Stderr, params.StderrFile)

	return b.String()
}

func writeStream(b *strings.Builder, name, text, file string) {
	switch {
	case file != "":
		fmt.Fprintf(b, "%s: written to %s\n", name, file)
	case text == "":
		fmt.Fprintf(b, "%s: (empty)\n", name)
	default:
		fmt.Fprintf(b, "%s:\n", name)
		fmt.Fprint(b, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprintln(b)
		}
	}
}

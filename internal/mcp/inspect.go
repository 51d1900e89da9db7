package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/cmdrun/internal/history"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID  string `json:"run_id" jsonschema:"the run ID from a cmd_run result"`
	Stream string `json:"stream,omitempty" jsonschema:"stdout or stderr to return only that stream's text. Default: the whole result."`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	rec, err := h.store.Load(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	if params.Stream != "" {
		text, ok := rec.Stream(params.Stream)
		if !ok {
			return errorResult(fmt.Sprintf("unknown stream %q: want stdout or stderr", params.Stream))
		}
		return textResult(text)
	}

	return textResult(formatRecord(rec))
}

func formatRecord(rec *history.Record) string {
	var b strings.Builder

	mode := "direct"
	if rec.Shell {
		mode = "shell"
	}
	fmt.Fprintf(&b, "Run: %s\n", rec.RunID)
	fmt.Fprintf(&b, "Command: %s (%s)\n", rec.Command, mode)
	if rec.Dir != "" {
		fmt.Fprintf(&b, "Dir: %s\n", rec.Dir)
	}
	fmt.Fprintf(&b, "Started: %s\n", rec.Start.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "Duration: %s\n", rec.Duration)
	fmt.Fprintf(&b, "Exit code: %d\n", rec.ExitCode)
	fmt.Fprintln(&b)

	writeStream(&b, "Stdout", rec.Stdout, "")
	writeStream(&b, "Stderr", rec.Stderr, "")

	return b.String()
}

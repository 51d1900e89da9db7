package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/cmdrun/internal/history"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type historyParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs to list. Default: 10."`
}

// recentLister is implemented by stores that can enumerate recent runs.
type recentLister interface {
	Recent(n int) []*history.Record
}

func (h *handler) historyHandler(ctx context.Context, req *mcp.CallToolRequest, params historyParams) (*mcp.CallToolResult, any, error) {
	lister, ok := h.store.(recentLister)
	if !ok {
		return errorResult("run history is not available")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	recs := lister.Recent(limit)
	if len(recs) == 0 {
		return textResult("No runs yet.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Runs (%d):\n", len(recs))
	for _, rec := range recs {
		fmt.Fprintf(&b, "  %s  exit=%-3d %s\n", rec.RunID, rec.ExitCode, rec.Command)
	}
	return textResult(b.String())
}

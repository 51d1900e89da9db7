// Package mcp provides the cmdrun MCP server, exposing command execution
// and run history as tools.
package mcp

import (
	"context"
	_ "embed"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/deixis/cmdrun"
	"github.com/deixis/cmdrun/internal/config"
	"github.com/deixis/cmdrun/internal/history"
	"github.com/deixis/cmdrun/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	base  *runner.Runner
	store history.Store
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[*mcp.ServerSession]*runner.Runner // per-session settings from client roots
}

// NewServer creates an MCP server with all cmdrun tools registered.
// Commands run with a copy of r, adjusted per session to the client's
// root directory; their results are saved to store. r is not modified.
func NewServer(r *runner.Runner, store history.Store) *mcp.Server {
	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &handler{
		base:     r,
		store:    store,
		log:      log,
		sessions: make(map[*mcp.ServerSession]*runner.Runner),
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateDirFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "cmdrun", Version: cmdrun.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "cmd_run",
		Description: `Run a command and return its stdout, stderr and exit code.

By default the command line is split into words with POSIX quoting rules and the
executable is started directly; set shell=true to pass it to the shell instead
(pipes, &&, globbing, redirection). A missing executable is reported as exit
code 127, not as an error. Results are stored for later retrieval via cmd_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cmd_inspect",
		Description: "Retrieve a stored result from a previous cmd_run by run_id, optionally a single stream.",
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cmd_history",
		Description: "List recent cmd_run results in this session, most recent first.",
	}, h.historyHandler)

	return s
}

// runnerFor returns the runner for session: the one configured from its
// roots, or the server's base runner.
func (h *handler) runnerFor(session *mcp.ServerSession) *runner.Runner {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.sessions[session]; ok {
		return r
	}
	return h.base
}

// updateDirFromRoots queries the client for MCP roots and, if a file root
// is returned, runs the session's subsequent commands there with that
// directory's configuration. Other sessions are unaffected.
func (h *handler) updateDirFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	dir := u.Path

	loaded, err := config.Load(dir)
	if err != nil {
		return
	}

	r := *h.base
	r.Dir = dir
	r.Shell = loaded.Config.ShellPath()
	r.Timeout = loaded.Config.Timeout()
	r.MaxOutput = loaded.Config.MaxOutputBytes()
	r.Env = loaded.Config.Env

	h.mu.Lock()
	h.sessions[session] = &r
	h.mu.Unlock()
	h.log.Debug("session root", "dir", dir, "config", loaded.Path)

	go func() {
		_ = session.Wait()
		h.mu.Lock()
		delete(h.sessions, session)
		h.mu.Unlock()
	}()
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

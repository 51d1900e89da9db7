package mcp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deixis/cmdrun/internal/history"
	"github.com/deixis/cmdrun/internal/runner"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// setup creates a cmdrun MCP server + client over in-memory transports.
// Commands run in a fresh temp directory.
func setup(t *testing.T) (*mcp.ClientSession, string) {
	t.Helper()
	dir := t.TempDir()
	store := history.NewLRUStore(5, history.NewDiskStore(t.TempDir()))
	server := NewServer(&runner.Runner{Dir: dir}, store)
	return connect(t, server), dir
}

// connect opens a client session to server. Each root directory is
// advertised to the server as a file:// root.
func connect(t *testing.T, server *mcp.Server, roots ...string) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	for _, root := range roots {
		client.AddRoots(&mcp.Root{URI: "file://" + root})
	}
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// runID extracts the ID from the "Run: <id>" line.
func runID(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if id, ok := strings.CutPrefix(line, "Run: "); ok {
			return id
		}
	}
	t.Fatalf("no Run ID found in output:\n%s", text)
	return ""
}

// tempDir returns a fresh temp directory with symlinks resolved, as pwd
// reports it.
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

// --- cmd_run ---

func TestCmdRun_Echo(t *testing.T) {
	cs, _ := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{"command": "echo foo"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Exit code: 0") {
		t.Errorf("expected Exit code: 0, got:\n%s", text)
	}
	if !strings.Contains(text, "Stdout:\nfoo\n") {
		t.Errorf("expected captured stdout, got:\n%s", text)
	}
	if !strings.Contains(text, "Stderr: (empty)") {
		t.Errorf("expected empty stderr, got:\n%s", text)
	}
}

func TestCmdRun_Shell(t *testing.T) {
	cs, _ := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{
		"command": "echo foo && echo bar",
		"shell":   true,
	})
	text := resultText(res)
	if !strings.Contains(text, "foo\nbar\n") {
		t.Errorf("expected both lines, got:\n%s", text)
	}
}

func TestCmdRun_NotFound(t *testing.T) {
	cs, _ := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{"command": "nonexistent-binary-xyz-123"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("missing executable should not be a tool error: %s", text)
	}
	if !strings.Contains(text, "Exit code: 127") {
		t.Errorf("expected Exit code: 127, got:\n%s", text)
	}
	if !strings.Contains(text, "Command 'nonexistent-binary-xyz-123' not found") {
		t.Errorf("expected not-found diagnostic, got:\n%s", text)
	}
}

func TestCmdRun_NonZeroExit(t *testing.T) {
	cs, _ := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{"command": "exit 3", "shell": true})
	if res.IsError {
		t.Fatalf("non-zero exit should not be a tool error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "Exit code: 3") {
		t.Errorf("expected Exit code: 3, got:\n%s", resultText(res))
	}
}

func TestCmdRun_StdoutFile(t *testing.T) {
	cs, dir := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{
		"command":     "echo foo",
		"stdout_file": "out.txt",
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Stdout: written to out.txt") {
		t.Errorf("expected redirect notice, got:\n%s", text)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "foo\n" {
		t.Errorf("out.txt = %q, want %q", data, "foo\n")
	}
}

func TestCmdRun_BadStdoutFile(t *testing.T) {
	cs, dir := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{
		"command":     "echo foo",
		"stdout_file": filepath.Join(dir, "missing", "out.txt"),
	})
	if !res.IsError {
		t.Error("expected IsError for unwritable stdout_file")
	}
}

func TestCmdRun_EmptyCommand(t *testing.T) {
	cs, _ := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{"command": "  "})
	if !res.IsError {
		t.Error("expected IsError for empty command")
	}
}

func TestCmdRun_UnterminatedQuote(t *testing.T) {
	cs, _ := setup(t)
	res := callTool(t, cs, "cmd_run", map[string]any{"command": `echo "foo`})
	if !res.IsError {
		t.Error("expected IsError for unterminated quote")
	}
}

func TestCmdRun_MissingCommand(t *testing.T) {
	cs, _ := setup(t)
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "cmd_run",
		Arguments: map[string]any{"shell": true},
	})
	if err == nil {
		t.Error("expected error for missing command")
	}
}

// --- cmd_inspect ---

func TestCmdInspect_AfterRun(t *testing.T) {
	cs, _ := setup(t)
	runRes := callTool(t, cs, "cmd_run", map[string]any{"command": "echo out; echo err >&2", "shell": true})
	id := runID(t, resultText(runRes))

	res := callTool(t, cs, "cmd_inspect", map[string]any{"run_id": id})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "Command: echo out; echo err >&2 (shell)") {
		t.Errorf("expected command line, got:\n%s", text)
	}
	if !strings.Contains(text, "Stderr:\nerr\n") {
		t.Errorf("expected stderr, got:\n%s", text)
	}

	res = callTool(t, cs, "cmd_inspect", map[string]any{"run_id": id, "stream": "stdout"})
	if got := resultText(res); got != "out\n" {
		t.Errorf("stdout stream = %q, want %q", got, "out\n")
	}
}

func TestCmdInspect_UnknownStream(t *testing.T) {
	cs, _ := setup(t)
	id := runID(t, resultText(callTool(t, cs, "cmd_run", map[string]any{"command": "true"})))

	res := callTool(t, cs, "cmd_inspect", map[string]any{"run_id": id, "stream": "stdin"})
	if !res.IsError {
		t.Error("expected IsError for unknown stream")
	}
}

func TestCmdInspect_InvalidRunID(t *testing.T) {
	cs, _ := setup(t)
	res := callTool(t, cs, "cmd_inspect", map[string]any{"run_id": "nonexistent-id"})
	if !res.IsError {
		t.Error("expected IsError for invalid run_id")
	}
}

func TestCmdInspect_MissingRunID(t *testing.T) {
	cs, _ := setup(t)
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "cmd_inspect",
		Arguments: map[string]any{"stream": "stdout"},
	})
	if err == nil {
		t.Error("expected error for missing run_id")
	}
}

// --- cmd_history ---

func TestCmdHistory(t *testing.T) {
	cs, _ := setup(t)

	res := callTool(t, cs, "cmd_history", nil)
	if !strings.Contains(resultText(res), "No runs yet.") {
		t.Errorf("expected empty history, got:\n%s", resultText(res))
	}

	callTool(t, cs, "cmd_run", map[string]any{"command": "echo first"})
	callTool(t, cs, "cmd_run", map[string]any{"command": "echo second"})

	text := resultText(callTool(t, cs, "cmd_history", map[string]any{"limit": 1}))
	if !strings.Contains(text, "Runs (1):") || !strings.Contains(text, "echo second") {
		t.Errorf("expected latest run only, got:\n%s", text)
	}
	if strings.Contains(text, "echo first") {
		t.Errorf("limit not applied, got:\n%s", text)
	}
}

// --- roots ---

// waitForOutput runs command until its output contains want; roots are
// applied asynchronously after initialization.
func waitForOutput(t *testing.T, cs *mcp.ClientSession, command, want string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		text := resultText(callTool(t, cs, "cmd_run", map[string]any{"command": command, "shell": true}))
		if strings.Contains(text, want) {
			return text
		}
		if time.Now().After(deadline) {
			t.Fatalf("output of %q never contained %q; last:\n%s", command, want, text)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRoots_AppliesDirAndConfig(t *testing.T) {
	base := tempDir(t)
	root := tempDir(t)
	if err := os.WriteFile(filepath.Join(root, ".cmdrun"), []byte("env:\n  - CMDRUN_ROOT_VALUE=from-root\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	server := NewServer(&runner.Runner{Dir: base}, history.NewLRUStore(5, nil))
	cs := connect(t, server, root)

	text := waitForOutput(t, cs, "pwd; echo $CMDRUN_ROOT_VALUE", "from-root")
	if !strings.Contains(text, root+"\n") {
		t.Errorf("expected command to run in root %s, got:\n%s", root, text)
	}
}

func TestRoots_PerSession(t *testing.T) {
	base := tempDir(t)
	root := tempDir(t)
	r := &runner.Runner{Dir: base}
	server := NewServer(r, history.NewLRUStore(5, nil))

	plain := connect(t, server)
	rooted := connect(t, server, root)

	waitForOutput(t, rooted, "pwd", root+"\n")

	text := resultText(callTool(t, plain, "cmd_run", map[string]any{"command": "pwd"}))
	if !strings.Contains(text, base+"\n") {
		t.Errorf("session without roots should keep %s, got:\n%s", base, text)
	}
	if r.Dir != base {
		t.Errorf("base runner Dir = %q, want unchanged %q", r.Dir, base)
	}
}

// failingStore rejects every save.
type failingStore struct{ history.Store }

func (failingStore) Save(*history.Record) error { return errors.New("disk full") }

func TestCmdRun_SaveFailureLogged(t *testing.T) {
	var logs bytes.Buffer
	r := &runner.Runner{Dir: t.TempDir(), Logger: slog.New(slog.NewTextHandler(&logs, nil))}
	server := NewServer(r, failingStore{history.NewLRUStore(1, nil)})
	cs := connect(t, server)

	res := callTool(t, cs, "cmd_run", map[string]any{"command": "echo foo"})
	if res.IsError {
		t.Fatalf("save failure should not fail the run: %s", resultText(res))
	}
	if !strings.Contains(logs.String(), "saving run") || !strings.Contains(logs.String(), "disk full") {
		t.Errorf("expected save failure to be logged, got:\n%s", logs.String())
	}
}

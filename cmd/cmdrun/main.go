// Command cmdrun runs external commands and reports their output and exit code.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/deixis/cmdrun"
	"github.com/deixis/cmdrun/internal/config"
	"github.com/deixis/cmdrun/internal/history"
	"github.com/deixis/cmdrun/internal/logger"
	cmdmcp "github.com/deixis/cmdrun/internal/mcp"
	"github.com/deixis/cmdrun/internal/runner"
	"github.com/fatih/color"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("cmdrun: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		var code int
		code, err = runMain(args)
		if err == nil && code != 0 {
			os.Exit(code)
		}
	case "show":
		err = showMain(args)
	case "history":
		err = historyMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(cmdrun.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "cmdrun: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: cmdrun <command> [flags] [args]

Commands:
  run         Run a command and exit with its exit code
  show        Show a stored run by ID
  history     List stored runs
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "cmdrun <command> -h" for command-specific flags.`)
}

// --- run ---

func runMain(args []string) (int, error) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	shellFlag := fs.Bool("shell", false, "run the command through the shell")
	stdoutFlag := fs.String("stdout", "", "write stdout to `file` instead of capturing it")
	stderrFlag := fs.String("stderr", "", "write stderr to `file` instead of capturing it")
	jsonFlag := fs.Bool("json", false, "output the result as JSON")
	verboseFlag := fs.Bool("v", false, "print the run ID and exit code to stderr")
	timeoutFlag := fs.Duration("timeout", 0, "override configured timeout (e.g. 30s)")
	_ = fs.Parse(args)

	command := commandLine(fs.Args())
	if command == "" {
		return 0, fmt.Errorf("run: no command given")
	}

	e, err := newEnv(*timeoutFlag)
	if err != nil {
		return 0, err
	}
	defer e.close()

	stdout, closeStdout, err := createOutput(*stdoutFlag)
	if err != nil {
		return 0, err
	}
	defer closeStdout()
	stderr, closeStderr, err := createOutput(*stderrFlag)
	if err != nil {
		return 0, err
	}
	defer closeStderr()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	res, err := e.runner.Run(ctx, runner.Request{
		Command: command,
		Shell:   *shellFlag,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err != nil {
		return 0, err
	}

	if err := e.store.Save(history.NewRecord(res, start, e.runner.Dir)); err != nil {
		e.log.Warn("saving run", "run_id", res.RunID, "error", err)
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return 0, err
		}
	} else {
		fmt.Fprint(os.Stdout, res.Stdout)
		fmt.Fprint(os.Stderr, res.Stderr)
	}

	if *verboseFlag {
		fmt.Fprintf(os.Stderr, "run %s exit %d (%s)\n", res.RunID, res.ExitCode, res.Duration.Round(time.Millisecond))
	}

	return processExitCode(res.ExitCode), nil
}

// commandLine turns the remaining arguments into a command string. A
// single argument is taken verbatim so that `cmdrun run -shell "a && b"`
// works; several arguments are re-quoted so their boundaries survive.
func commandLine(args []string) string {
	switch len(args) {
	case 0:
		return ""
	case 1:
		return args[0]
	default:
		return runner.Join(args...)
	}
}

// processExitCode maps a signal-terminated run (negative code) to the
// shell convention of 128+signal.
func processExitCode(code int) int {
	if code < 0 {
		return 128 - code
	}
	return code
}

func createOutput(path string) (runner.Output, func(), error) {
	if path == "" {
		return runner.Capture, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return runner.Capture, nil, fmt.Errorf("opening output: %w", err)
	}
	return runner.RedirectTo(f), func() { _ = f.Close() }, nil
}

// --- show ---

func showMain(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output the record as JSON")
	streamFlag := fs.String("stream", "", "print only `stdout` or `stderr`")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("show: expected one run ID")
	}

	e, err := newEnv(0)
	if err != nil {
		return err
	}
	defer e.close()

	rec, err := e.store.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	switch {
	case *streamFlag != "":
		text, ok := rec.Stream(*streamFlag)
		if !ok {
			return fmt.Errorf("show: unknown stream %q", *streamFlag)
		}
		fmt.Print(text)
	case *jsonFlag:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	default:
		fmt.Print(formatRecordCLI(rec))
	}
	return nil
}

func formatRecordCLI(rec *history.Record) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	status := color.New(color.FgGreen, color.Bold).Sprint("ok")
	switch {
	case rec.NotFound:
		status = color.New(color.FgYellow, color.Bold).Sprint("not found")
	case rec.ExitCode != 0:
		status = color.New(color.FgRed, color.Bold).Sprintf("exit %d", rec.ExitCode)
	}

	w("%s  %s\n", status, rec.Command)
	w("  run       %s\n", rec.RunID)
	w("  started   %s\n", rec.Start.Format(time.RFC3339))
	w("  duration  %s\n", rec.Duration.Round(time.Millisecond))
	if rec.Shell {
		w("  mode      shell\n")
	}
	if rec.Truncated {
		w("  output    truncated\n")
	}
	if rec.Stdout != "" {
		w("\n%s\n", color.New(color.Faint).Sprint("stdout:"))
		w("%s", rec.Stdout)
	}
	if rec.Stderr != "" {
		w("\n%s\n", color.New(color.Faint).Sprint("stderr:"))
		w("%s", rec.Stderr)
	}
	return string(b)
}

// --- history ---

func historyMain(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limitFlag := fs.Int("n", 10, "number of runs to list (0 for all)")
	_ = fs.Parse(args)

	e, err := newEnv(0)
	if err != nil {
		return err
	}
	defer e.close()

	recs, err := e.disk.List(*limitFlag)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		code := fmt.Sprintf("%3d", rec.ExitCode)
		if rec.ExitCode != 0 {
			code = color.RedString(code)
		}
		fmt.Printf("%s  %s  %s  %s\n", rec.RunID, rec.Start.Format(time.DateTime), code, rec.Command)
	}
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(cmdmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return serve(ctx, *httpAddr)
}

func serve(ctx context.Context, httpAddr string) error {
	e, err := newEnv(0)
	if err != nil {
		return err
	}
	defer e.close()

	server := cmdmcp.NewServer(e.runner, e.store)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

// env holds the dependencies shared by all subcommands.
type env struct {
	runner   *runner.Runner
	disk     *history.DiskStore
	store    *history.LRUStore
	log      *slog.Logger
	closeLog func() error
}

func newEnv(timeoutOverride time.Duration) (*env, error) {
	workdir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}

	loaded, err := config.Load(workdir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	lg, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if loaded.Path != "" {
		lg.Debug("loaded config", "path", loaded.Path)
	}

	timeout := cfg.Timeout()
	if timeoutOverride > 0 {
		timeout = timeoutOverride
	}

	r := &runner.Runner{
		Shell:     cfg.ShellPath(),
		Dir:       workdir,
		Env:       cfg.Env,
		Timeout:   timeout,
		MaxOutput: cfg.MaxOutputBytes(),
		Logger:    lg,
	}

	disk := history.NewDiskStore(cfg.HistoryDir())
	return &env{
		runner:   r,
		disk:     disk,
		store:    history.NewLRUStore(cfg.HistorySize(), disk),
		log:      lg,
		closeLog: closeLog,
	}, nil
}

func (e *env) close() {
	_ = e.closeLog()
}

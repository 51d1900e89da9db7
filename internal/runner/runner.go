// Package runner executes external commands, either directly or through
// a shell, and reports their captured output and exit status.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultShell interprets commands in shell mode when Runner.Shell is empty.
	DefaultShell = "/bin/sh"

	// NotFoundExitCode is reported when the executable cannot be located.
	NotFoundExitCode = 127

	// waitDelay bounds how long Wait keeps copying output after the child
	// has exited or been killed while descendants still hold its pipes.
	waitDelay = time.Second
)

// ErrEmptyCommand is returned when the command string contains no words.
var ErrEmptyCommand = errors.New("empty command")

// Runner executes commands. The zero value is ready to use: it runs in
// the current directory with the inherited environment, no timeout and
// no output cap. A Runner is safe for concurrent use.
type Runner struct {
	Shell     string        // shell for Request.Shell; defaults to DefaultShell
	Dir       string        // working directory; empty means the current one
	Env       []string      // extra KEY=VALUE entries appended to os.Environ()
	Timeout   time.Duration // zero means wait for the process indefinitely
	MaxOutput int           // per-stream capture cap in bytes; zero means unlimited
	Logger    *slog.Logger  // nil discards logs
}

// Run executes req with a zero Runner.
func Run(ctx context.Context, req Request) (*Result, error) {
	var r Runner
	return r.Run(ctx, req)
}

// Run executes req and blocks until the process exits.
//
// If the executable cannot be located, no process is started and Run
// returns a Result with ExitCode 127, an empty Stdout and a Stderr naming
// the missing command; the error is nil. Any other failure to start the
// process is returned as an error. A non-zero exit status is not an error.
//
// When ctx is done or the timeout expires, the child and every process in
// its group are killed and Run returns an error wrapping ctx.Err(). Output
// written by descendants that outlive the child is collected for at most
// one second after it exits.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	argv, err := r.argv(req)
	if err != nil {
		return nil, err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	res := &Result{
		RunID:   uuid.New().String(),
		Command: req.Command,
		Shell:   req.Shell,
	}
	log := r.logger().With("run_id", res.RunID)

	if r.Dir != "" {
		if _, err := os.Stat(r.Dir); err != nil {
			return nil, fmt.Errorf("starting %s: %w", argv[0], err)
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	outw := r.sink(req.Stdout, &stdout)
	errw := r.sink(req.Stderr, &stderr)
	cmd.Stdout = outw
	cmd.Stderr = errw

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if argv[0] == "" || isNotFound(err) {
			log.Info("command not found", "name", argv[0])
			res.Stderr = fmt.Sprintf("Command '%s' not found", argv[0])
			res.ExitCode = NotFoundExitCode
			res.NotFound = true
			return res, nil
		}
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	log.Debug("command started", "name", argv[0], "shell", req.Shell, "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	res.Duration = time.Since(start)

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("running %s: %w", argv[0], ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			// The process ran but copying a redirected stream failed.
			return nil, fmt.Errorf("running %s: %w", argv[0], waitErr)
		}
	}

	res.ExitCode = exitCode(cmd.ProcessState)
	res.Stdout = decode(stdout.Bytes())
	res.Stderr = decode(stderr.Bytes())
	res.Truncated = truncated(outw) || truncated(errw)
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		log.Warn("output pipes still open after exit", "name", argv[0], "wait_delay", waitDelay)
	}

	log.Debug("command finished", "exit_code", res.ExitCode, "duration", res.Duration, "truncated", res.Truncated)
	return res, nil
}

// argv builds the argument vector: the split command in direct mode, or
// the shell invocation wrapping the raw string in shell mode.
func (r *Runner) argv(req Request) ([]string, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, ErrEmptyCommand
	}
	if req.Shell {
		shell := r.Shell
		if shell == "" {
			shell = DefaultShell
		}
		return []string{shell, "-c", req.Command}, nil
	}
	return Split(req.Command)
}

func (r *Runner) sink(o Output, buf *bytes.Buffer) io.Writer {
	if o.Redirected() {
		return o.Writer()
	}
	if r.MaxOutput > 0 {
		return &limitWriter{buf: buf, limit: r.MaxOutput}
	}
	return buf
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// isNotFound reports whether a start error means the executable does not
// exist, as opposed to existing but being unusable.
func isNotFound(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && pathErr.Op == "chdir" {
		// Missing working directory, not a missing executable.
		return false
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// decode returns b as text, replacing invalid UTF-8 sequences.
func decode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func truncated(w io.Writer) bool {
	lw, ok := w.(*limitWriter)
	return ok && lw.truncated
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = len(p) > 0 || w.truncated
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

package runner

import "io"

// Output selects what happens to one of the child's output streams.
// The zero value captures the stream in memory.
type Output struct {
	w io.Writer
}

// Capture buffers the stream in memory and returns it in the Result.
var Capture = Output{}

// RedirectTo sends the stream to w instead of capturing it. When w is an
// *os.File the child writes to the descriptor directly. The caller owns w
// and must keep it open until Run returns.
func RedirectTo(w io.Writer) Output {
	return Output{w: w}
}

// Redirected reports whether the stream goes to a caller-supplied writer.
func (o Output) Redirected() bool {
	return o.w != nil
}

// Writer returns the redirect target, or nil for Capture.
func (o Output) Writer() io.Writer {
	return o.w
}

// Request describes one command invocation.
type Request struct {
	Command string // command line as typed in a shell
	Shell   bool   // hand Command verbatim to the shell instead of splitting it
	Stdout  Output
	Stderr  Output
}

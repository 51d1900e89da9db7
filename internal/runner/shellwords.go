package runner

import (
	"fmt"

	"github.com/kballard/go-shellquote"
)

// Split tokenizes command using POSIX shell word-splitting rules:
// whitespace separates words, single and double quotes group them, and
// backslash escapes the next character. No expansion is performed.
// A quoted empty first word is kept; running it reports a missing command.
func Split(command string) ([]string, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing command %q: %w", command, err)
	}
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}
	return words, nil
}

// Join quotes args so that Split(Join(args...)) returns args.
func Join(args ...string) string {
	return shellquote.Join(args...)
}

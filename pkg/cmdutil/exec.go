package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// waitDelay bounds how long Run waits for output pipes after the command is
// killed. Test runners often leave child processes holding them open.
const waitDelay = 5 * time.Second

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout is the maximum execution time. Zero means no limit.
	Timeout time.Duration

	// Env contains environment variables for the command, each "KEY=value".
	// Nil inherits the current environment.
	Env []string

	// CombinedOutput interleaves stdout and stderr into Result.Output.
	CombinedOutput bool

	// OutputLimit keeps only the last OutputLimit bytes of each captured
	// stream. Zero keeps everything.
	OutputLimit int
}

// Result contains the result of a command execution.
type Result struct {
	// Stdout and Stderr are set when CombinedOutput is false.
	Stdout []byte
	Stderr []byte

	// Output is set when CombinedOutput is true.
	Output []byte

	// Truncated reports whether OutputLimit dropped the start of a stream.
	Truncated bool

	// ExitCode is the exit code of the command, or -1 if it did not exit.
	ExitCode int

	Duration time.Duration
}

// Exited reports whether the command ran to completion, whatever its exit
// code. It is false when the command could not start or was killed.
func (r *Result) Exited() bool {
	return r != nil && r.ExitCode >= 0
}

// Run executes cmdParts[0] with the remaining parts as arguments. A command
// that exits non-zero returns both its result and an error. A result is
// returned for every command that was attempted.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	if len(cmdParts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.WaitDelay = waitDelay

	stdout := &tailBuffer{limit: opts.OutputLimit}
	stderr := stdout
	cmd.Stdout = stdout
	if !opts.CombinedOutput {
		stderr = &tailBuffer{limit: opts.OutputLimit}
	}
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		ExitCode:  -1,
		Duration:  time.Since(start),
		Truncated: stdout.dropped || stderr.dropped,
	}
	if opts.CombinedOutput {
		result.Output = stdout.Bytes()
	} else {
		result.Stdout = stdout.Bytes()
		result.Stderr = stderr.Bytes()
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return result, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return result, fmt.Errorf("command timed out after %s: %w", opts.Timeout, ctx.Err())
	default:
		return result, fmt.Errorf("command failed: %w", err)
	}
}

// tailBuffer is an io.Writer that keeps at most limit trailing bytes.
type tailBuffer struct {
	buf     []byte
	limit   int
	dropped bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if b.limit > 0 && len(b.buf) > b.limit {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.limit:]...)
		b.dropped = true
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	return b.buf
}

// ParseCommandString parses a shell-quoted command string into parts.
//
// Example:
//
//	"go test -run \"TestA|TestB\" ./..." -> ["go", "test", "-run", "TestA|TestB", "./..."]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["go", "test", "-run", "Test A"] -> "go test -run 'Test A'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput replaces every occurrence of a secret in output.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, "***REDACTED***")
		}
	}
	return []byte(sanitized)
}

// TailLines returns at most the last n lines of output, without a trailing
// newline.
func TailLines(output []byte, n int) string {
	text := strings.TrimRight(string(output), "\n")
	if n <= 0 || text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

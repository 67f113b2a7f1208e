package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/matsim-org/matsim-episim-libs/internal/monitoring"
)

var logf = monitoring.Component("simulator")

// ErrSimulatorFailed is returned when the simulator exits unsuccessfully.
// Output files of a failed run are never parsed.
var ErrSimulatorFailed = errors.New("simulator failed")

// ExitError describes a failed simulator invocation.
type ExitError struct {
	Command  string
	ExitCode int
	// Output is the end of the combined output.
	Output []byte
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("simulator failed with exit code %d: %s", e.ExitCode, e.Command)
}

// Unwrap lets errors.Is match both ErrSimulatorFailed and the underlying
// process error.
func (e *ExitError) Unwrap() []error {
	return []error{ErrSimulatorFailed, e.Err}
}

// Runner invokes simulator command lines synchronously.
type Runner struct {
	Builder Builder
	// Dir is the working directory. The simulator writes its output below it.
	Dir string
	// Timeout bounds a single invocation. Zero waits indefinitely.
	Timeout time.Duration
	// DryRun logs the command instead of running it.
	DryRun bool
	// Log, when set, receives the simulator output of every invocation as
	// it is produced, each preceded by a line naming the command.
	Log io.Writer
}

// NewRunner creates a Runner executing real processes in dir.
func NewRunner(dir string, timeout time.Duration) *Runner {
	return &Runner{Builder: NewRealBuilder(), Dir: dir, Timeout: timeout}
}

// Run executes command via the shell and waits for it to exit. A non-zero
// exit yields an *ExitError wrapping ErrSimulatorFailed; an expired timeout
// or cancelled ctx yields an error wrapping the context error.
func (r *Runner) Run(ctx context.Context, command string) ([]byte, error) {
	if r.DryRun {
		logf("[DRY-RUN] would execute: %s", command)
		return nil, nil
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	logf("running: %s", command)
	start := time.Now()
	cmd := r.Builder.BuildShellCommand(command)
	if r.Dir != "" {
		cmd.SetDir(r.Dir)
	}
	if r.Log != nil {
		if _, err := fmt.Fprintf(r.Log, "== %s %s\n", start.Format(time.RFC3339), command); err != nil {
			return nil, fmt.Errorf("failed to write simulator log: %w", err)
		}
		cmd.SetOutput(r.Log)
	}
	out, err := cmd.Run(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("simulator interrupted after %s: %w", time.Since(start).Round(time.Second), ctxErr)
	}
	if err != nil {
		code := -1
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			code = coder.ExitCode()
		}
		return out, &ExitError{Command: command, ExitCode: code, Output: out, Err: err}
	}
	logf("finished in %s", time.Since(start).Round(time.Millisecond))
	return out, nil
}

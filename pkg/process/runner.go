// Package process runs external executables and captures their output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

// ErrNotFound is returned (wrapped in a LaunchError) when the executable
// cannot be located.
var ErrNotFound = errors.New("executable not found")

// WaitDelay bounds how long Run waits for output pipes to close after the
// process group was killed on cancellation.
const WaitDelay = time.Second

// Result holds the outcome of a finished process.
type Result struct {
	// Path is the resolved executable path.
	Path string `json:"path"`

	// Args are the arguments passed to the executable, excluding argv[0].
	Args []string `json:"args,omitempty"`

	// ExitCode is the process exit status. -1 if the process was killed by a signal.
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`

	// Duration is the wall time from start to exit.
	Duration time.Duration `json:"duration"`
}

// Passed reports whether the process exited with status 0.
func (r *Result) Passed() bool {
	return r.ExitCode == 0
}

// String renders the command line for messages.
func (r *Result) String() string {
	return strings.Join(append([]string{r.Path}, r.Args...), " ")
}

// LaunchError reports that an executable could not be found or started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Runner spawns child processes. The zero value runs in the current
// directory with the parent environment.
type Runner struct {
	// Dir is the working directory of spawned processes.
	Dir string

	// Env is the environment of spawned processes. Nil inherits the parent's.
	Env []string
}

// Run starts name with args, waits for it to exit and returns the captured
// output. A non-zero exit status is not an error; it is reported in
// Result.ExitCode. No deadline is applied beyond the one carried by ctx;
// when it expires every process started by the child is killed too.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, &LaunchError{Path: name, Err: err}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = WaitDelay
	// Cancellation kills the whole process group, not just the direct child.
	killProcessGroup(cmd)

	slog.Debug("starting process", "path", path, "args", args, "dir", r.Dir)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}
	waitErr := cmd.Wait()

	res := &Result{
		Path:     path,
		Args:     args,
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	slog.Debug("process exited", "path", path, "code", res.ExitCode, "dur", res.Duration)

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", res, ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait %s: %w", res, waitErr)
		}
	}
	return res, nil
}

// ParseCommand splits a configured command line such as "dotnet build" into
// its executable and leading arguments using shell quoting rules.
func ParseCommand(line string) ([]string, error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("parse command %q: empty command", line)
	}
	return parts, nil
}

package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

var ErrTimeout = errors.New("command timed out")

// Runner executes a single external command. Implementations must honour ctx.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec is the production Runner. Every call is bounded by Timeout.
type Exec struct {
	Timeout time.Duration
}

func (e Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return Run(ctx, timeout, name, args...)
}

func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Env = []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin", "LANG=C", "LC_ALL=C"}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if cctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	return res, err
}

// Lines returns the non-empty stderr lines followed by the non-empty stdout lines.
func (r Result) Lines() []string {
	out := []string{}
	for _, b := range [][]byte{r.Stderr, r.Stdout} {
		for _, l := range strings.Split(string(b), "\n") {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
	}
	return out
}

// CommandError describes a subprocess that failed, timed out, or wrote to stderr.
type CommandError struct {
	Name  string
	Args  []string
	Code  int
	Lines []string
	Err   error
}

func (e *CommandError) Error() string {
	var msg string
	switch {
	case errors.Is(e.Err, ErrTimeout):
		msg = e.Command() + ": " + ErrTimeout.Error()
	case e.Err != nil && e.Code == -1:
		msg = fmt.Sprintf("%s: %v", e.Command(), e.Err)
	default:
		msg = fmt.Sprintf("%s: exit %d", e.Command(), e.Code)
	}
	if len(e.Lines) > 0 {
		msg += ": " + strings.Join(e.Lines, "; ")
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Command renders the argv as a single line for logs and error pages.
func (e *CommandError) Command() string {
	return strings.TrimSpace(e.Name + " " + strings.Join(e.Args, " "))
}

// Check turns the outcome of Run into nil or a *CommandError. A command succeeds
// only when it ran, exited 0 and left stderr empty.
func Check(name string, args []string, res Result, err error) error {
	if err == nil && res.Code == 0 && len(bytes.TrimSpace(res.Stderr)) == 0 {
		return nil
	}
	ce := &CommandError{Name: name, Args: append([]string(nil), args...), Code: res.Code, Lines: res.Lines(), Err: err}
	if ce.Code == 0 && err != nil {
		ce.Code = -1
	}
	return ce
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// processWaitDelay bounds how long Wait blocks on stdio after the process
// has been killed by its context.
const processWaitDelay = 5 * time.Second

// maxStderrBytes caps the stderr kept in memory per process.
const maxStderrBytes = 64 << 10

// ProcessError describes an external process that did not exit cleanly.
type ProcessError struct {
	Name     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// runProcess runs name with args until it exits or ctx is done. A non-zero
// exit is reported through RunResult, not as an error; the error is set only
// when the process could not be started or was killed.
func runProcess(ctx context.Context, name string, args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	stderr := &headBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr
	cmd.WaitDelay = processWaitDelay

	err := cmd.Run()
	res := RunResult{Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

// headBuffer keeps the first limit bytes written to it and discards the rest.
type headBuffer struct {
	buf   []byte
	limit int
}

func (b *headBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *headBuffer) String() string { return string(b.buf) }

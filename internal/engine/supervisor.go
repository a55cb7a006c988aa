package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pdfbaba/pdfbaba/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWaitDelay = 5 * time.Second
	// stderr kept in error details
	maxDetail = 4096
)

// Supervisor runs one engine process per call. It holds no per-run state and
// may be shared by concurrent pipelines.
type Supervisor struct {
	Timeout   time.Duration // 0 means no bound besides the caller's context
	MaxOutput int           // per stream, excess output is discarded
	Env       []string      // appended to the current environment
	WaitDelay time.Duration
}

func NewSupervisor(timeout time.Duration, maxOutput int, env []string) *Supervisor {
	return &Supervisor{
		Timeout:   timeout,
		MaxOutput: maxOutput,
		Env:       append([]string(nil), env...),
		WaitDelay: DefaultWaitDelay,
	}
}

// Run starts the invocation, drains stdout and stderr and waits for the
// process to exit. A non-nil error is always a *model.Error; the returned
// ProcessResult is filled in as far as the run got.
func (s *Supervisor) Run(ctx context.Context, inv model.EngineInvocation) (model.ProcessResult, error) {
	runCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	} else {
		slog.WarnContext(ctx, "engine has no timeout", "path", inv.Executable)
	}

	cmd := exec.CommandContext(runCtx, inv.Executable, inv.Args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, inv.Env...)
	cmd.WaitDelay = s.WaitDelay
	setProcessGroup(cmd)

	var res model.ProcessResult
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return res, model.NewError(model.ErrSpawnFailed, "stdout pipe").Wrap(err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return res, model.NewError(model.ErrSpawnFailed, "stderr pipe").Wrap(err)
	}

	res.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		res.Stopped = time.Now().UTC()
		res.ExitCode = -1
		return res, model.NewError(model.ErrSpawnFailed, "starting %s", inv.Executable).Wrap(err)
	}
	slog.DebugContext(ctx, "engine started", "pid", cmd.Process.Pid, "path", inv.Executable, "args", inv.Args)

	stdout := newLimitedBuffer(s.MaxOutput)
	stderr := newLimitedBuffer(s.MaxOutput)
	var g errgroup.Group
	g.Go(func() error { return drain(stdout, stdoutPipe) })
	g.Go(func() error { return drain(stderr, stderrPipe) })
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	res.Stopped = time.Now().UTC()
	res.ExitCode = cmd.ProcessState.ExitCode()
	res.Stdout, res.StdoutTruncated = stdout.Bytes(), stdout.Truncated()
	res.Stderr, res.StderrTruncated = stderr.Bytes(), stderr.Truncated()

	slog.DebugContext(ctx, "engine finished",
		"exit_code", res.ExitCode,
		"duration", res.Stopped.Sub(res.Started),
		"stdout_bytes", len(res.Stdout),
		"stderr_bytes", len(res.Stderr),
	)
	if res.StdoutTruncated || res.StderrTruncated {
		slog.WarnContext(ctx, "engine output truncated",
			"stdout", res.StdoutTruncated,
			"stderr", res.StderrTruncated,
			"limit", s.MaxOutput,
		)
	}
	if drainErr != nil {
		slog.WarnContext(ctx, "draining engine output", "error", drainErr)
	}

	return res, s.classify(ctx, runCtx, res, waitErr)
}

func (s *Supervisor) classify(ctx, runCtx context.Context, res model.ProcessResult, waitErr error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return model.NewError(model.ErrCanceled, "engine run canceled").Wrap(context.Cause(ctx))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return model.NewError(model.ErrTimeout, "engine did not finish within %s", s.Timeout).
			WithDetail(detail(res.Stderr))
	case res.ExitCode != 0:
		return model.NewError(model.ErrNonZeroExit, "engine exited with status %d", res.ExitCode).
			WithDetail(detail(res.Stderr))
	case waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay):
		return model.NewError(model.ErrNonZeroExit, "waiting for engine").Wrap(waitErr)
	}
	return nil
}

func drain(dst io.Writer, src io.Reader) error {
	if _, err := io.Copy(dst, src); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

func detail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > maxDetail {
		s = s[len(s)-maxDetail:]
	}
	return s
}

// limitedBuffer keeps the first limit bytes written to it and discards the
// rest. Writes never fail so the producer is always drained.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	if limit <= 0 {
		limit = model.DefaultMaxOutput
	}
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte   { return b.buf.Bytes() }
func (b *limitedBuffer) Truncated() bool { return b.truncated }

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pdfbaba/pdfbaba/internal/artifact"
	"github.com/pdfbaba/pdfbaba/internal/log"
	"github.com/pdfbaba/pdfbaba/internal/model"
)

var ErrNotServing = errors.New("job has no artifact to serve")

// Job is a request that passed the pipeline. It owns the artifact until it
// is served, detached or closed.
type Job struct {
	ID        string
	Operation model.Operation
	Result    model.EngineResult
	Artifact  *model.Artifact // nil for read-only operations

	machine *machine
	files   *TransientFileSet
	once    sync.Once
}

func (j *Job) State() State { return j.machine.State() }

func (j *Job) ctx(ctx context.Context) context.Context {
	return log.RequestAttrs(ctx, j.ID, j.Operation.String())
}

// Serve writes the artifact to w and removes it afterwards, also when the
// copy fails. name overrides the suggested filename, which is returned.
func (j *Job) Serve(ctx context.Context, w io.Writer, name string) (string, error) {
	ctx = j.ctx(ctx)
	if j.Artifact == nil || j.State() != Serving {
		return "", ErrNotServing
	}
	display, err := "", ErrNotServing
	j.once.Do(func() {
		display, err = j.serve(ctx, w, name)
	})
	return display, err
}

func (j *Job) serve(ctx context.Context, w io.Writer, name string) (string, error) {
	defer j.files.Cleanup(ctx)

	rc, display, err := artifact.Open(*j.Artifact, name)
	if err != nil {
		j.machine.fail(ctx)
		return "", err
	}
	defer func() {
		_ = rc.Close()
	}()

	n, err := io.Copy(w, rc)
	if err != nil {
		j.machine.fail(ctx)
		return display, fmt.Errorf("streaming artifact after %d bytes: %w", n, err)
	}
	if err := j.machine.to(ctx, Cleaned); err != nil {
		return display, err
	}
	slog.InfoContext(ctx, "artifact served", "name", display, "bytes", n)
	return display, nil
}

// Detach hands the artifact over to a deferred download and ends the job.
// The returned artifact expires after retention.
func (j *Job) Detach(ctx context.Context, retention time.Duration) (model.Artifact, error) {
	ctx = j.ctx(ctx)
	if j.Artifact == nil || j.State() != Serving {
		return model.Artifact{}, ErrNotServing
	}
	var a model.Artifact
	err := ErrNotServing
	j.once.Do(func() {
		a = *j.Artifact
		a.ExpiresAt = a.CreatedAt.Add(retention)
		j.files.Release(a.Path)
		err = j.machine.to(ctx, Cleaned)
	})
	return a, err
}

// Close removes whatever the job still owns. It is a no-op after Serve or
// Detach.
func (j *Job) Close(ctx context.Context) {
	ctx = j.ctx(ctx)
	j.once.Do(func() {
		j.files.Cleanup(ctx)
		if !j.State().IsTerminal() {
			_ = j.machine.to(ctx, Cleaned)
		}
	})
}

// Outcome is the client facing summary of a successful job.
func (j *Job) Outcome(downloadURL string) model.Outcome {
	out := model.Outcome{
		Success:     true,
		RequestID:   j.ID,
		Operation:   j.Operation.String(),
		Stats:       j.Result.Stats,
		DownloadURL: downloadURL,
	}
	if j.Artifact != nil {
		out.Filename = j.Artifact.Name
		out.Size = j.Artifact.Size
	}
	return out
}

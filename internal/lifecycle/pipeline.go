// Package lifecycle drives one request through validation, engine run,
// result parsing and artifact materialization, and guarantees the removal
// of everything the request created.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pdfbaba/pdfbaba/internal/artifact"
	"github.com/pdfbaba/pdfbaba/internal/engine"
	"github.com/pdfbaba/pdfbaba/internal/log"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/protocol"
	"github.com/pdfbaba/pdfbaba/internal/request"
)

// Request is one inbound request. Inputs are already persisted, normally
// under WorkDir(ID).
type Request struct {
	ID        string
	Operation string
	Inputs    []model.InputFile
	Options   []byte
}

// Pipeline runs requests. It is immutable after construction and safe for
// concurrent use; each Run owns its own state.
type Pipeline struct {
	command      []string
	supervisor   *engine.Supervisor
	workspace    string
	materializer *artifact.Materializer
	onTransition TransitionFunc
}

type Option func(*Pipeline)

// WithTransitionHook registers fn to observe state changes.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(p *Pipeline) {
		p.onTransition = fn
	}
}

func New(command []string, supervisor *engine.Supervisor, workspace string, opts ...Option) *Pipeline {
	p := &Pipeline{
		command:      append([]string(nil), command...),
		supervisor:   supervisor,
		workspace:    workspace,
		materializer: artifact.NewMaterializer(filepath.Join(workspace, "artifacts")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromConfig builds a Pipeline with the engine settings of cfg.
func FromConfig(cfg model.Config, opts ...Option) (*Pipeline, error) {
	timeout, err := cfg.EngineTimeout()
	if err != nil {
		return nil, fmt.Errorf("engine.timeout: %w", err)
	}
	sup := engine.NewSupervisor(timeout, cfg.EngineMaxOutput(), cfg.Engine.Env)
	return New(cfg.Engine.Command, sup, cfg.WorkspaceDir(), opts...), nil
}

// NewID returns a fresh request id. UUIDv7 ids sort by creation time.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating request id: %w", err)
	}
	return id.String(), nil
}

// WorkDir is the scratch directory of request id.
func (p *Pipeline) WorkDir(id string) string {
	return filepath.Join(p.workspace, "work", id)
}

// ArtifactDir holds finalized artifacts.
func (p *Pipeline) ArtifactDir() string {
	return p.materializer.Dir
}

func (p *Pipeline) Command() []string {
	return append([]string(nil), p.command...)
}

func (p *Pipeline) Supervisor() *engine.Supervisor {
	return p.supervisor
}

// Run executes req. On success the returned Job is in state Serving for
// file producing operations and Cleaned for read-only ones; inputs and the
// work directory are already gone. On failure every transient path of the
// request has been removed and the error is a *model.Error where possible.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Job, error) {
	if req.ID == "" {
		id, err := NewID()
		if err != nil {
			return nil, err
		}
		req.ID = id
	}
	ctx = log.RequestAttrs(ctx, req.ID, req.Operation)

	files := NewTransientFileSet()
	for _, in := range req.Inputs {
		files.Add(in.Path)
	}
	workDir := p.WorkDir(req.ID)
	files.Add(workDir)

	job := &Job{
		ID:      req.ID,
		machine: newMachine(req.ID, p.onTransition),
		files:   files,
	}
	fail := func(err error) (*Job, error) {
		if job.machine.fail(ctx) {
			slog.ErrorContext(ctx, "request failed", "error", err)
		}
		files.Cleanup(ctx)
		return nil, err
	}

	start := time.Now()
	slog.InfoContext(ctx, "request started", "inputs", len(req.Inputs))

	d, err := request.Validate(req.Operation, req.Inputs, req.Options)
	if err != nil {
		return fail(err)
	}
	job.Operation = d.Operation()
	for _, w := range d.Warnings() {
		slog.WarnContext(ctx, "options ignored", "error", w)
	}

	if err := job.machine.to(ctx, Invoking); err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fail(fmt.Errorf("creating work directory: %w", err))
	}
	var out string
	if name := d.Operation().OutputName(); name != "" {
		out = filepath.Join(workDir, name)
	}
	inv, err := engine.Build(d, p.command, out)
	if err != nil {
		return fail(err)
	}

	if err := job.machine.to(ctx, Supervising); err != nil {
		return fail(err)
	}
	proc, err := p.supervisor.Run(ctx, inv)
	if len(proc.Stderr) > 0 {
		slog.DebugContext(ctx, "engine stderr", "stderr", string(proc.Stderr))
	}
	if err != nil {
		return fail(err)
	}

	if err := job.machine.to(ctx, Parsing); err != nil {
		return fail(err)
	}
	res, err := protocol.Parse(proc.Stdout, inv)
	if err != nil {
		return fail(err)
	}
	job.Result = res

	if !d.Operation().ProducesFiles() {
		files.Cleanup(ctx)
		if err := job.machine.to(ctx, Cleaned); err != nil {
			return fail(err)
		}
		slog.InfoContext(ctx, "request finished", "duration", time.Since(start))
		return job, nil
	}

	if err := job.machine.to(ctx, Materializing); err != nil {
		return fail(err)
	}
	a, err := p.materializer.Materialize(ctx, req.ID, d, res)
	if err != nil {
		return fail(err)
	}
	// inputs and scratch space go now, the artifact lives until served
	files.Cleanup(ctx)
	files.Add(a.Path)
	job.Artifact = &a

	if err := job.machine.to(ctx, Serving); err != nil {
		return fail(err)
	}
	slog.InfoContext(ctx, "request finished",
		"duration", time.Since(start),
		"artifact", a.Name,
		"size", a.Size,
	)
	return job, nil
}

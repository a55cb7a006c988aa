package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/pdfbaba/pdfbaba/internal/artifact"
	"github.com/pdfbaba/pdfbaba/internal/model"
	"github.com/pdfbaba/pdfbaba/internal/store"
)

// Sweeper removes artifacts whose deferred download window has passed.
type Sweeper struct {
	registry  store.Registry
	scheduler gocron.Scheduler
	now       func() time.Time
}

// NewSweeper schedules Sweep according to expr, a 5 field cron expression
// or a descriptor such as "@every 1m". Run starts the schedule.
func NewSweeper(ctx context.Context, registry store.Registry, expr string) (*Sweeper, error) {
	s := &Sweeper{
		registry: registry,
		now:      time.Now,
	}
	scheduler, err := newScheduler(ctx, expr, func() {
		if _, err := s.Sweep(ctx); err != nil {
			slog.ErrorContext(ctx, "sweeping expired artifacts has failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler
	return s, nil
}

// WithClock replaces the time source. This method exists for unit testing only.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run executes the schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a sweeper")
	s.scheduler.Start()
	<-ctx.Done()
	if err := s.scheduler.Shutdown(); err != nil {
		slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		return err
	}
	return nil
}

// Sweep removes every artifact expired by now and returns how many records
// were taken. Files already gone are not an error.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.registry.TakeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("taking expired artifacts: %w", err)
	}
	var errs []error
	for _, a := range expired {
		if err := artifact.Remove(a); err != nil {
			errs = append(errs, fmt.Errorf("removing artifact %s: %w", a.ID, err))
			continue
		}
		slog.DebugContext(ctx, "expired artifact removed", "artifact_id", a.ID, "expired_at", a.ExpiresAt)
	}
	if len(expired) > 0 {
		slog.InfoContext(ctx, "expired artifacts swept", "count", len(expired))
	}
	return len(expired), errors.Join(errs...)
}

func newScheduler(ctx context.Context, expr string, task func()) (gocron.Scheduler, error) {
	interval, err := model.ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing retention.sweep: %w", err)
	}
	job := gocron.CronJob(expr, false)
	slog.DebugContext(ctx, "successfully parsed", "cron", expr, "interval", interval.String())

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}

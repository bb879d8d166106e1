package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/observability"
)

type Job func(ctx context.Context) error

// Runner запускает фоновые задачи до отмены ctx. Паника задачи не роняет процесс.
type Runner struct {
	ctx  context.Context
	cron *cron.Cron
	log  *zap.Logger
}

func New(ctx context.Context, log *zap.Logger, loc *time.Location) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	r := &Runner{ctx: ctx, cron: cron.New(cron.WithLocation(loc)), log: log}
	r.cron.Start()
	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
	return r
}

func (r *Runner) Every(interval time.Duration, name string, fn Job) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.C:
				r.run(name, fn)
			}
		}
	}()
}

// Cron ставит задачу по cron-выражению (5 полей или @hourly/@daily).
func (r *Runner) Cron(spec, name string, fn Job) error {
	if _, err := r.cron.AddFunc(spec, func() { r.run(name, fn) }); err != nil {
		return fmt.Errorf("job %s: schedule %q: %w", name, spec, err)
	}
	r.log.Info("job scheduled", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

func (r *Runner) run(name string, fn Job) {
	if r.ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic in job %s: %v", name, rec)
			}
		}()
		return fn(r.ctx)
	}()
	jobRuns.WithLabelValues(name).Inc()
	jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		jobErrors.WithLabelValues(name).Inc()
		observability.CaptureErr(err)
		r.log.Error("job failed", zap.String("job", name), zap.Error(err))
	}
}

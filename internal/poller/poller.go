// Package poller runs the periodic "check all servers" job on a cron schedule.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"clashdash/internal/shared/logger"
)

// Job is the work run on every tick.
type Job func(ctx context.Context)

// Poller 按 cron 表达式周期执行 Job。上一轮尚未结束时本轮会被跳过。
type Poller struct {
	schedule string
	job      Job
	cron     *cron.Cron
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// New creates a poller. Accepted schedules are standard 5-field cron
// expressions and descriptors such as "@every 30s" or "@hourly".
func New(schedule string, job Job) *Poller {
	log := logger.WithComponent("poller")
	cl := cronLogger{log: log}
	return &Poller{
		schedule: schedule,
		job:      job,
		log:      log,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
}

// Start schedules the job. An empty schedule disables polling and is not an error.
// The poller stops when ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.schedule == "" {
		p.log.Info().Msg("Poll schedule not configured, polling disabled.")
		return nil
	}
	if p.running {
		return nil
	}
	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return fmt.Errorf("invalid poll schedule %q: %w", p.schedule, err)
	}
	if _, err := p.cron.AddFunc(p.schedule, func() { p.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule polling: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.log.Info().Str("schedule", p.schedule).Msg("Poller started.")

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

func (p *Poller) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	p.job(ctx)
	p.log.Debug().Dur("elapsed", time.Since(start)).Msg("Scheduled check finished.")
}

// Stop stops the schedule and waits for a running job to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	p.log.Info().Msg("Poller stopped.")
}

// IsRunning reports whether the schedule is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NextRun returns the next scheduled tick, or nil when not running.
func (p *Poller) NextRun() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	entries := p.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

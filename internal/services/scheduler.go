package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRolloverSchedule fires at midnight (seconds field first).
const DefaultRolloverSchedule = "0 0 0 * * *"

// ParseSchedule validates a six-field cron expression or descriptor.
func ParseSchedule(spec string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler runs the rollover sweep on a cron schedule in the configured
// time zone, so dashboards left open across midnight see fresh counters.
type Scheduler struct {
	cron     *cron.Cron
	rollover *RolloverService
	timeout  time.Duration
}

func NewScheduler(rollover *RolloverService, loc *time.Location, timeout time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		rollover: rollover,
		timeout:  timeout,
	}
}

// ScheduleRollover registers the sweep under spec.
func (s *Scheduler) ScheduleRollover(spec string) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, s.runRollover)
}

func (s *Scheduler) runRollover() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.rollover.Sweep(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduled rollover failed", "error", err, "rolled", n)
		return
	}
	slog.InfoContext(ctx, "Scheduled rollover completed", "rolled", n)
}

// Next returns when the job with id fires next.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

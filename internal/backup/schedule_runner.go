package backup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleInitiator is recorded for backups started by the schedule
const ScheduleInitiator = "schedule"

// Runner is the backup operation the schedule triggers
type Runner interface {
	BackupWorld(ctx context.Context, initiator string) error
}

// ScheduleRunner triggers backups on a cron schedule. It implements
// suture.Service.
type ScheduleRunner struct {
	schedule cron.Schedule
	spec     string
	runner   Runner
	now      func() time.Time
}

// ParseSchedule parses a cron expression with optional seconds and descriptors
// such as @daily
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// NewScheduleRunner creates a runner for spec
func NewScheduleRunner(spec string, runner Runner) (*ScheduleRunner, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return &ScheduleRunner{
		schedule: schedule,
		spec:     spec,
		runner:   runner,
		now:      time.Now,
	}, nil
}

func (sr *ScheduleRunner) String() string {
	return "backup-schedule"
}

// Next returns the next trigger time after from
func (sr *ScheduleRunner) Next(from time.Time) time.Time {
	return sr.schedule.Next(from)
}

// Serve sleeps until each scheduled time and runs a backup. Runs are
// sequential, so a slow backup delays rather than overlaps the next one.
func (sr *ScheduleRunner) Serve(ctx context.Context) error {
	log.Printf("[BackupSchedule] Scheduled backups enabled (%s)", sr.spec)

	for {
		now := sr.now()
		next := sr.schedule.Next(now)
		if next.IsZero() {
			log.Printf("[BackupSchedule] Schedule %q has no future runs", sr.spec)
			<-ctx.Done()
			return ctx.Err()
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("[BackupSchedule] Stopping schedule runner")
			return ctx.Err()
		case <-timer.C:
		}

		log.Printf("[BackupSchedule] Running scheduled backup")
		if err := sr.runner.BackupWorld(ctx, ScheduleInitiator); err != nil {
			log.Printf("[BackupSchedule] Scheduled backup failed: %v", err)
		}
	}
}

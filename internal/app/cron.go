package app

import (
	"context"
	"fmt"
	"time"

	"github.com/drfeelgood/core/internal/modules/reference"
	pkgcron "github.com/drfeelgood/core/internal/pkg/cron"
)

const (
	jobReferenceCheck = "reference_check"
	jobDueReminders   = "due_reminders"
	jobBackup         = "backup_logs"
)

// registerCronJobs registers the background jobs enabled by configuration.
func registerCronJobs(sched *pkgcron.Scheduler, a *App) {
	cronLogger := a.logger.Named("CronService")

	if interval := a.cfg.Reference.CheckInterval; interval > 0 {
		sched.Register(pkgcron.Job{
			Name:        jobReferenceCheck,
			Description: "Refresh the DSM/ICD update notice",
			Interval:    interval,
			Fn: func(ctx context.Context) error {
				res := a.checker.Check(ctx, reference.KindICD)
				if !res.NoticeWritten {
					return fmt.Errorf("notice %s not written", a.checker.NoticePath())
				}
				return nil
			},
		})
	}

	if a.bark.Enabled() && a.cfg.Bark.ReminderInterval > 0 {
		notifier := newDueNotifier(a.reminders, a.bark, cronLogger)
		sched.Register(pkgcron.Job{
			Name:        jobDueReminders,
			Description: "Push pending reminders that are due, once per day each",
			Interval:    a.cfg.Bark.ReminderInterval,
			Fn: func(ctx context.Context) error {
				loc, err := a.cfg.Location()
				if err != nil {
					return err
				}
				return notifier.run(ctx, time.Now().In(loc))
			},
		})
	}

	if a.backup != nil && a.cfg.S3.Interval > 0 {
		sched.Register(pkgcron.Job{
			Name:        jobBackup,
			Description: "Snapshot the logs to object storage",
			Interval:    a.cfg.S3.Interval,
			Fn:          a.backup.Run,
		})
	}
}

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ResetTokenCleaner drops reset tickets that expired before now.
type ResetTokenCleaner interface {
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	cleaner ResetTokenCleaner
	log     logrus.FieldLogger
	now     func() time.Time
	timeout time.Duration
}

func NewScheduler(cleaner ResetTokenCleaner, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log}))),
		cleaner: cleaner,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 30 * time.Second,
	}
}

// ScheduleResetSweep registers the sweep with a cron spec such as "@every 15m".
func (s *Scheduler) ScheduleResetSweep(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { _, _ = s.SweepResetTokens(context.Background()) }); err != nil {
		return fmt.Errorf("schedule reset sweep %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) SweepResetTokens(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.cleaner.ClearExpiredResetTokens(ctx, s.now())
	if err != nil {
		s.log.WithError(err).Error("reset ticket sweep failed")
		return 0, err
	}
	if n > 0 {
		s.log.WithField("cleared", n).Info("expired reset tickets cleared")
	}
	return n, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

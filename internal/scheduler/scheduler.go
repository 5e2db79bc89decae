package scheduler

import (
	"context"

	"github.com/berfenger/forecast2mqtt/internal/config"
	"github.com/berfenger/forecast2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// JobScheduler drives the three daily jobs: the nightly forecast run, the
// midnight baseline capture and the morning accuracy reconciliation. Each
// job only sends a message to the master actor; all the work happens there.
type JobScheduler struct {
	scheduler quartz.Scheduler
	root      *actor.RootContext
	master    *actor.PID
	cfg       config.ScheduleConfig
	logger    *zap.Logger
}

func NewJobScheduler(cfg config.ScheduleConfig, root *actor.RootContext, master *actor.PID, logger *zap.Logger) *JobScheduler {
	return &JobScheduler{
		scheduler: quartz.NewStdScheduler(),
		root:      root,
		master:    master,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "scheduler")),
	}
}

func (s *JobScheduler) Start(ctx context.Context) error {
	s.scheduler.Start(ctx)

	if err := s.schedule("forecast", s.cfg.ForecastCron, func() {
		s.root.Send(s.master, domain.RunForecastRequest{})
	}); err != nil {
		return err
	}
	if err := s.schedule("baseline", s.cfg.BaselineCron, func() {
		s.root.Send(s.master, domain.CaptureBaselineRequest{})
	}); err != nil {
		return err
	}
	if err := s.schedule("reconcile", s.cfg.ReconcileCron, func() {
		s.root.Send(s.master, domain.ReconcileActualRequest{})
	}); err != nil {
		return err
	}
	return nil
}

// schedule registers one cron job. An empty expression disables the job.
func (s *JobScheduler) schedule(name, cron string, run func()) error {
	if cron == "" {
		s.logger.Info("job disabled", zap.String("job", name))
		return nil
	}
	trigger, err := quartz.NewCronTrigger(cron)
	if err != nil {
		return err
	}
	detail := quartz.NewJobDetail(job.NewFunctionJob(func(_ context.Context) (bool, error) {
		s.logger.Info("job fired", zap.String("job", name))
		run()
		return true, nil
	}), quartz.NewJobKey(name))
	if err := s.scheduler.ScheduleJob(detail, trigger); err != nil {
		return err
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("cron", cron))
	return nil
}

func (s *JobScheduler) Stop() {
	s.scheduler.Stop()
}

package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pacehq/pace/pkg/observability"
)

// Sweeper periodically transitions overdue stages to EXPIRED through the
// normal engine path. The engine itself never polls; the sweeper is the
// out-of-band caller.
type Sweeper struct {
	engine   *Engine
	logger   *observability.Logger
	schedule string
	cron     *cron.Cron
}

// NewSweeper creates a deadline sweeper. An empty schedule disables it.
func NewSweeper(engine *Engine, logger *observability.Logger, schedule string) *Sweeper {
	return &Sweeper{
		engine:   engine,
		logger:   logger,
		schedule: schedule,
	}
}

// Start schedules the sweep. No-op when no schedule is configured.
func (s *Sweeper) Start() error {
	if s.schedule == "" {
		s.logger.Info("deadline sweeper disabled")
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("deadline sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep expires every stage whose effective deadline has passed. Stages that
// race with a reviewer transition come back stale and are skipped.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	stages, err := s.engine.Store().ListOverdueStages(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("deadline sweep failed to list overdue stages")
		return
	}

	expired := 0
	for _, stage := range stages {
		if _, err := s.engine.ExpireStage(ctx, stage.TenantID, stage.StageID); err != nil {
			if errors.Is(err, ErrStaleState) || errors.Is(err, ErrPredecessorNotApproved) {
				continue
			}
			s.logger.WithError(err).WithField("stage_id", stage.StageID).Warn("failed to expire overdue stage")
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("deadline sweep expired overdue stages")
	}
}

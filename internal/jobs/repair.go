package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"pos/internal/logx"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repairer is implemented by services.RateService.
type Repairer interface {
	RepairAll(ctx context.Context) (int64, error)
}

// RepairSweep periodically re-derives the active rate of every pair. On a
// healthy ledger each run is a no-op.
type RepairSweep struct {
	repairer Repairer
	interval time.Duration

	mu    sync.Mutex
	sched gocron.Scheduler
}

func NewRepairSweep(repairer Repairer, interval time.Duration) *RepairSweep {
	return &RepairSweep{repairer: repairer, interval: interval}
}

// Start schedules the sweep and stops it when ctx is cancelled. A
// non-positive interval disables the sweep.
func (s *RepairSweep) Start(ctx context.Context) error {
	if s.interval <= 0 {
		logx.L().Info("repair sweep disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return errors.New("repair sweep already started")
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.run),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return err
	}
	scheduler.Start()
	s.sched = scheduler
	logx.L().Info("repair sweep started", zap.Duration("interval", s.interval))

	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			logx.L().Error("repair sweep shutdown failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *RepairSweep) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched == nil {
		return nil
	}
	err := s.sched.Shutdown()
	s.sched = nil
	return err
}

func (s *RepairSweep) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched != nil
}

func (s *RepairSweep) run(ctx context.Context) {
	logger := logx.L().With(zap.String("run_id", uuid.NewString()))
	changed, err := s.repairer.RepairAll(logx.WithContext(ctx, logger))
	if err != nil {
		logger.Error("repair sweep failed", zap.Error(err))
		return
	}
	if changed > 0 {
		logger.Warn("repair sweep corrected rates", zap.Int64("changed_rows", changed))
	}
}

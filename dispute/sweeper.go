package dispute

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"verifychain/events"
	"verifychain/logger"
	"verifychain/models"
)

const sweeperName = "DisputeSweeper"

// DefaultSweepSchedule runs the sweeper once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically resolves reports whose voting window has elapsed
// and runs housekeeping hooks on the same schedule.
type Sweeper struct {
	engine   *Engine
	sink     events.Sink
	schedule string
	timeout  time.Duration
	cron     *cron.Cron

	mu    sync.Mutex
	hooks []func(now time.Time)
}

// NewSweeper builds a sweeper for engine. schedule uses the cron syntax
// with a leading seconds field, or a descriptor such as "@every 1m".
func NewSweeper(engine *Engine, sink events.Sink, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if sink == nil {
		sink = events.Discard{}
	}
	return &Sweeper{
		engine:   engine,
		sink:     sink,
		schedule: schedule,
		timeout:  30 * time.Second,
		cron:     cron.New(),
	}
}

// AddHook registers fn to run after every sweep.
func (s *Sweeper) AddHook(fn func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Start schedules the sweeper. It returns an error for an invalid schedule.
func (s *Sweeper) Start() error {
	if err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	logger.Logger.Info("Sweeper started", zap.String("name", sweeperName), zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule. A sweep in progress runs to completion.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// RunOnce resolves every due report, emits their resolutions and runs the hooks.
func (s *Sweeper) RunOnce(ctx context.Context) []*models.Resolution {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resolved, err := s.engine.ResolveDue(ctx)
	if err != nil {
		logger.Logger.Error("Could not resolve due reports", zap.String("name", sweeperName), zap.Error(err))
	}
	for _, res := range resolved {
		if err := s.sink.Emit(ctx, events.Resolved{Resolution: res}); err != nil {
			logger.Logger.Error("Could not emit resolution", zap.String("report_id", res.ReportID), zap.Error(err))
		}
	}

	now := s.engine.now()
	s.mu.Lock()
	hooks := append([]func(time.Time){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(now)
	}
	return resolved
}

// Package scheduler wires the periodic batch runs: queue drains,
// reconciliation passes and token sweeps. Each run is short-lived and a
// failure in one never kills the loop.
package scheduler

import (
	"context"
	"time"

	"bitwise74/stream-vault/internal/queue"
	"bitwise74/stream-vault/internal/reconcile"
	"bitwise74/stream-vault/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Scheduler struct {
	cron *cron.Cron
}

// New registers the three cadences from config. Call Start to begin.
func New(db *gorm.DB, q *queue.Queue, r *reconcile.Runner) (*Scheduler, error) {
	c := cron.New()

	batchSize := viper.GetInt("queue.batch_size")
	deadline := viper.GetDuration("queue.drain_deadline")

	_, err := c.AddFunc(viper.GetString("schedule.drain"), guard("queue_drain", func() {
		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		defer cancel()

		res, err := q.Drain(ctx, batchSize)
		if err != nil {
			zap.L().Error("Queue drain failed", zap.Error(err))
			return
		}

		if res.Processed > 0 || res.Failed > 0 {
			zap.L().Info("Queue drained",
				zap.Int("processed", res.Processed),
				zap.Int("failed", res.Failed))
		}
	}))
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(viper.GetString("schedule.reconcile"), guard("reconcile", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		r.Run(ctx)
	}))
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(viper.GetString("schedule.token_sweep"), guard("token_sweep", func() {
		service.TokenSweep(db)
	}))
	if err != nil {
		return nil, err
	}

	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Debug("Scheduler started")
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// guard keeps a panicking run from taking the cron goroutine down with it
func guard(name string, fn func()) func() {
	return func() {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("Scheduled run panicked", zap.String("job", name), zap.Any("panic", rec))
			}
		}()

		fn()
	}
}

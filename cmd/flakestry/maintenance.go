package main

import (
	"context"
	"fmt"
	"time"

	"github.com/flakestry/flakestry/pkg/config"
	"github.com/flakestry/flakestry/pkg/observability"
	"github.com/flakestry/flakestry/pkg/storage/postgres"
	"github.com/robfig/cron/v3"
)

const replicaCheckTimeout = 5 * time.Second

// cronLogger routes scheduler logs through the structured logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

// newScheduler schedules the replica rotation check and pool gauge refreshes. A panic in
// a job is logged and does not stop the scheduler.
func newScheduler(cfg config.MaintenanceConfig, conns *postgres.ConnectionManager, metrics *observability.Metrics, logger *observability.Logger) (*cron.Cron, error) {
	logger = logger.WithField("component", "maintenance")
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(cfg.ReplicaCheckSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), replicaCheckTimeout)
		defer cancel()
		conns.RemoveUnhealthyReplicas(ctx)
		conns.RestoreReplicas(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule replica check: %w", err)
	}

	if _, err := c.AddFunc(cfg.PoolStatsSchedule, func() {
		metrics.UpdateDBStats(conns.Stats().Primary, conns.ReplicaCount())
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule pool stats: %w", err)
	}

	return c, nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// jobTimeout bounds a single run of a background job
const jobTimeout = 30 * time.Second

// replicaPruner drops read replicas that stop answering
type replicaPruner interface {
	RemoveUnhealthyReplicas(ctx context.Context) int
}

// newScheduler registers the background jobs. Jobs with an empty schedule
// or no target are skipped.
func newScheduler(cfg config.JobsConfig, manager *sso.Manager, replicas replicaPruner, logger *logrus.Logger) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(logger)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(logger)), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if cfg.SSOReconnect != "" && manager != nil {
		if _, err := c.AddFunc(cfg.SSOReconnect, func() { reconnectSSO(manager, logger) }); err != nil {
			return nil, fmt.Errorf("failed to schedule sso reconnect: %w", err)
		}
	}

	if cfg.ReplicaHealth != "" && replicas != nil {
		if _, err := c.AddFunc(cfg.ReplicaHealth, func() { pruneReplicas(replicas, logger) }); err != nil {
			return nil, fmt.Errorf("failed to schedule replica health check: %w", err)
		}
	}

	return c, nil
}

// reconnectSSO retries the connection while none exists. A closed manager
// stays closed.
func reconnectSSO(manager *sso.Manager, logger *logrus.Logger) {
	if manager.State() != sso.StateUninitialized {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if manager.GetConnection(ctx) == nil {
		logger.Debug("SSO connection still unavailable")
		return
	}
	logger.Info("SSO connection established by background retry")
}

func pruneReplicas(replicas replicaPruner, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if removed := replicas.RemoveUnhealthyReplicas(ctx); removed > 0 {
		logger.WithField("removed", removed).Warn("Removed unhealthy replicas")
	}
}

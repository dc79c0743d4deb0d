package node

import (
	"context"
	"time"

	"federegistry/pkg/config"

	"go.uber.org/zap"
)

const (
	// TaskRetention is how long finished task results stay readable.
	TaskRetention = time.Hour

	sweepInterval  = time.Minute
	refreshTimeout = time.Minute
)

// maintenanceLoop republishes this node's record before its guest
// credential runs out and sweeps finished tasks.
func (n *Node) maintenanceLoop() {
	defer n.wg.Done()

	interval := time.Duration(n.cfg.RefreshInterval)
	if interval <= 0 {
		interval = config.DefaultRefreshInterval
	}
	refreshTicker := time.NewTicker(interval)
	defer refreshTicker.Stop()

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return

		case <-refreshTicker.C:
			n.refreshRecord()

		case <-sweepTicker.C:
			n.sweep(time.Now())
		}
	}
}

// refreshRecord publishes a fresh record to the current directory.
func (n *Node) refreshRecord() {
	ctx, cancel := context.WithTimeout(n.ctx, refreshTimeout)
	defer cancel()

	if err := n.service.Refresh(ctx); err != nil {
		n.logger.Warn("Failed to refresh published record", zap.Error(err))
		return
	}
	n.logger.Debug("Refreshed published record")
}

// sweep drops expired task results and reports trust and connection state.
func (n *Node) sweep(now time.Time) {
	if pruned := n.tasks.prune(now.Add(-TaskRetention)); pruned > 0 {
		n.logger.Debug("Pruned finished tasks", zap.Int("count", pruned))
	}

	peers := n.trust.Peers()
	n.metrics.TrustedPeers.Set(float64(len(peers)))

	stats := n.pool.GetStatistics()
	n.logger.Debug("Connection pool state",
		zap.Int("trusted_peers", len(peers)),
		zap.Any("connections", stats))
}

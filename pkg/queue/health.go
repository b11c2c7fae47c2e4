package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HealthChecker computes GetQueueHealth from the repository's aggregate
// queries, classifying the queue healthy/degraded/critical against
// configurable thresholds.
type HealthChecker struct {
	repo       Repository
	thresholds HealthThresholds
	window     time.Duration
}

// NewHealthChecker creates a HealthChecker. Its window, fixed at 15 minutes,
// bounds how far back the throughput/failure-rate/average-processing-time
// queries look.
func NewHealthChecker(repo Repository, thresholds HealthThresholds) *HealthChecker {
	return &HealthChecker{repo: repo, thresholds: thresholds, window: 15 * time.Minute}
}

// GetQueueHealth returns the system-wide queue health snapshot.
func (c *HealthChecker) GetQueueHealth(ctx context.Context) (Health, error) {
	counts, err := c.repo.CountByStatus(ctx)
	if err != nil {
		return Health{}, err
	}

	now := time.Now()
	oldest, err := c.repo.OldestPendingAge(ctx, now)
	if err != nil {
		return Health{}, err
	}
	avgProcessing, err := c.repo.AverageProcessingTime(ctx, c.window)
	if err != nil {
		return Health{}, err
	}
	throughput, err := c.repo.RecentThroughput(ctx, c.window)
	if err != nil {
		return Health{}, err
	}
	failureRate, err := c.repo.GlobalFailureRate(ctx, c.window)
	if err != nil {
		return Health{}, err
	}

	depth := counts[StatusPending] + counts[StatusProcessing]

	var alerts []HealthAlert
	status := HealthHealthy

	switch {
	case depth > c.thresholds.QueueDepthCritical:
		status = HealthCritical
		alerts = append(alerts, HealthAlert{Kind: "queue_depth", Message: "queue depth exceeds critical threshold"})
	case depth > c.thresholds.QueueDepthWarn:
		status = HealthDegraded
		alerts = append(alerts, HealthAlert{Kind: "queue_depth", Message: "queue depth exceeds warning threshold"})
	}

	if oldest > c.thresholds.StaleItemAge {
		if status == HealthHealthy {
			status = HealthDegraded
		}
		alerts = append(alerts, HealthAlert{Kind: "stale_items", Message: "oldest pending item exceeds stale item age"})
	}

	return Health{
		Status: status,
		Metrics: HealthMetrics{
			QueueDepth:        depth,
			FailureRate:       failureRate,
			OldestItemAge:     oldest,
			AvgProcessingTime: avgProcessing,
			Throughput:        throughput,
		},
		Alerts: alerts,
	}, nil
}

// OrgStats returns the per-organization queue roll-up.
func (c *HealthChecker) OrgStats(ctx context.Context, organizationID uuid.UUID) (OrgStats, error) {
	return c.repo.OrgStats(ctx, organizationID, c.window)
}

package scheduler

import (
	"context"
	"time"

	"github.com/pulseboard/pulseboard/pkg/models"
)

//go:generate mockgen -destination=mock_scheduler.go -package=scheduler github.com/pulseboard/pulseboard/pkg/scheduler Clock,Ticker,Collector,Store

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Collector is the subset of the orchestrator the scheduler drives.
type Collector interface {
	CollectAll(ctx context.Context) (*models.Snapshot, error)
	IsCurrentlyCollecting() bool
}

// Store is the subset of storage operations housekeeping needs.
type Store interface {
	CleanupOldMetrics(ctx context.Context, daysToKeep int) (int64, error)
	PruneExpiredCacheRows(ctx context.Context) (int64, error)
	Optimize(ctx context.Context) error
	GetStats(ctx context.Context) (*models.DBStats, error)
}

package collector

//go:generate mockgen -destination=mock_collector.go -package=collector github.com/pulseboard/pulseboard/pkg/collector Adapter,SnapshotPublisher

import (
	"context"

	"github.com/pulseboard/pulseboard/pkg/models"
)

// Adapter polls one kind of service and returns its metrics object. Adapters
// must return an error on any failure rather than partial sentinel data, and
// own their own timeouts.
type Adapter interface {
	Collect(ctx context.Context, instance *models.ServiceInstance) (models.MetricPayload, error)
}

// SnapshotPublisher pushes a finished snapshot to an external sink.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot *models.Snapshot) error
}

package events

import (
	"context"

	"github.com/davidleathers/number-provisioning-gateway/internal/metrics"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

// MetricsSink counts provider transitions on the metrics registry. Events
// arrive outside any request, so recording uses a background context.
type MetricsSink struct {
	registry *metrics.Registry
}

var _ dispatch.EventPublisher = (*MetricsSink)(nil)

func NewMetricsSink(registry *metrics.Registry) *MetricsSink {
	return &MetricsSink{registry: registry}
}

func (s *MetricsSink) PublishProviderEvent(event dispatch.ProviderEvent) {
	s.registry.RecordTransition(context.Background(), string(event.Type), event.ProviderID, event.From, event.To)
}

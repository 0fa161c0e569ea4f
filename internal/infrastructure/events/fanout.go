// Package events distributes provider state transitions from the dispatch
// layer to interested sinks: the websocket feed, the metrics registry, and
// anything else wired in at startup.
package events

import (
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

// Fanout delivers each provider event to every sink in registration order.
// A panicking sink is logged and skipped; the feed must survive one bad
// subscriber. Sinks are fixed at construction, so no locking is needed.
type Fanout struct {
	logger *zap.Logger
	sinks  []dispatch.EventPublisher
}

var _ dispatch.EventPublisher = (*Fanout)(nil)

// NewFanout builds a fanout over the given sinks. Nil sinks are dropped so
// callers can pass optional components unconditionally.
func NewFanout(logger *zap.Logger, sinks ...dispatch.EventPublisher) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]dispatch.EventPublisher, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &Fanout{logger: logger, sinks: kept}
}

// PublishProviderEvent forwards the event to every sink. Dispatch calls
// this on a dedicated goroutine per event, so sequential delivery here
// never blocks provider traffic.
func (f *Fanout) PublishProviderEvent(event dispatch.ProviderEvent) {
	for _, sink := range f.sinks {
		f.deliver(sink, event)
	}
}

func (f *Fanout) deliver(sink dispatch.EventPublisher, event dispatch.ProviderEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("event sink panicked",
				zap.Any("panic", r),
				zap.String("event_type", string(event.Type)),
				zap.String("provider_id", event.ProviderID))
		}
	}()
	sink.PublishProviderEvent(event)
}

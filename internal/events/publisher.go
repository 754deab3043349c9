// Package events delivers domain events to downstream sinks.
package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

// Publisher sends domain events. Publish returns an error only for transport failures.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}

// NoopPublisher discards all events
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that silently discards events
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(ctx context.Context, event domain.Event) error { return nil }
func (p *NoopPublisher) Close() error                                          { return nil }

// LoggingPublisher logs events at debug level. Useful for development.
type LoggingPublisher struct{}

// NewLoggingPublisher creates a publisher that logs events
func NewLoggingPublisher() *LoggingPublisher {
	return &LoggingPublisher{}
}

func (p *LoggingPublisher) Publish(ctx context.Context, event domain.Event) error {
	logger.FromContext(ctx).Debug("Event published",
		zap.String("subject", event.Subject()),
		zap.String("type", string(event.Type())),
		zap.Time("timestamp", event.Timestamp()))
	return nil
}

func (p *LoggingPublisher) Close() error { return nil }

// MemoryPublisher records events in order. Used by tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewMemoryPublisher creates an empty recording publisher
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a snapshot of the recorded events
func (p *MemoryPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Types returns the recorded event types in publish order
func (p *MemoryPublisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type()
	}
	return out
}

// Count returns how many events of type t were recorded
func (p *MemoryPublisher) Count(t domain.EventType) int {
	n := 0
	for _, et := range p.Types() {
		if et == t {
			n++
		}
	}
	return n
}

// Reset drops the recorded events
func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// namedPublisher labels a sink for metrics
type namedPublisher struct {
	name string
	Publisher
}

// MultiPublisher fans out events to every sink. A failing sink does not stop
// delivery to the others; all failures are joined into the returned error.
type MultiPublisher struct {
	publishers []namedPublisher
}

// NewMultiPublisher creates an empty fan-out publisher
func NewMultiPublisher() *MultiPublisher {
	return &MultiPublisher{}
}

// Add registers a sink under name
func (p *MultiPublisher) Add(name string, pub Publisher) *MultiPublisher {
	p.publishers = append(p.publishers, namedPublisher{name: name, Publisher: pub})
	return p
}

// Len returns the number of sinks
func (p *MultiPublisher) Len() int {
	return len(p.publishers)
}

func (p *MultiPublisher) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil {
			metrics.EventPublishedTotal.WithLabelValues(pub.name, "error").Inc()
			logger.Warn("Event sink failed",
				zap.String("sink", pub.name),
				zap.String("type", string(event.Type())),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		metrics.EventPublishedTotal.WithLabelValues(pub.name, "success").Inc()
	}
	return errors.Join(errs...)
}

func (p *MultiPublisher) Close() error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

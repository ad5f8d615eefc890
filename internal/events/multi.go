package events

import "context"

// MultiPublisher publishes every event to each of its publishers in order
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, event)
		}
	}
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

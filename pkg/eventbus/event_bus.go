// Package eventbus provides the publish/subscribe transport for
// orchestration lifecycle events.
package eventbus

import (
	"context"

	"github.com/citygrid/sentinel/pkg/events"
)

// Event is anything publishable on the bus.
type Event interface {
	GetType() events.EventType
	Key() string
}

type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventHandler func(ctx context.Context, event any) error

type Subscriber interface {
	Handle(eventType events.EventType, handler EventHandler)
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	Publisher
	Subscriber
	Close() error
}

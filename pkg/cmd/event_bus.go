package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/citygrid/sentinel/pkg/channels/gochannel"
	"github.com/citygrid/sentinel/pkg/channels/kafka"
	"github.com/citygrid/sentinel/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus: "kafka" for the brokered
// transport, anything else gets the in-process channel.
func NewEventBus(provider, brokerList string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), brokerList, "sentinel")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(logger))

		return eventbus.NewWatermillEventBus(pub, sub), nil
	}
}

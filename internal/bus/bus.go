// Package bus provides the event transport between the API layer and the
// async evaluation worker. Community deployments run on in-process Go
// channels; Pro deployments run on NATS.
package bus

import (
	"fmt"

	"github.com/openreturns/kestrel/internal/domain"
)

// New builds the event bus named by cfg.Type.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

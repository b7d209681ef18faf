package tool

import (
	"context"

	"kilo-brain/internal/domain"
)

// PublishToolEvent publishes a domain event on the event bus from a tool.
// If the bus is nil, this is a no-op. The request ID is taken from ctx.
func PublishToolEvent(ctx context.Context, bus domain.EventBus, eventType domain.EventType, payload any) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, domain.NewEvent(ctx, eventType, payload))
}

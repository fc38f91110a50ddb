package providers

import (
	"context"

	"github.com/marketingops/experiments/internal/domain/entities"
)

// EventBus defines the interface for broadcasting experiment lifecycle events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.LifecycleEvent) error

	// Subscribe returns a channel of events that closes when ctx is done
	Subscribe(ctx context.Context, channel string) (<-chan *entities.LifecycleEvent, error)

	// Close closes the event bus and all subscriptions
	Close() error
}

const (
	// EventChannelLifecycle receives every lifecycle event
	EventChannelLifecycle = "experiments:lifecycle"

	// EventChannelOrgPrefix is the prefix for per-organization channels
	EventChannelOrgPrefix = "experiments:org:"
)

// GetOrgChannel returns the channel name for one organization
func GetOrgChannel(orgID string) string {
	return EventChannelOrgPrefix + orgID
}

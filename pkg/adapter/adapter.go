// Package adapter defines the messaging adapter contract (spec.md §6) and
// concrete transports that implement it. Adapters are opaque producers of
// InboundMessage and consumers of OutboundResponse/StatusUpdate; a Channel
// never knows which platform it is talking to.
package adapter

import (
	"context"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// Adapter is the messaging adapter contract every transport implements
// (spec.md §6): name/start/respond/send_status/broadcast/health_check/shutdown.
type Adapter interface {
	// Name is the stable id used as InboundMessage.Source.
	Name() string
	// Start runs until ctx is cancelled, delivering inbound messages on the
	// returned channel. Cold-start connection happens here, not in a
	// constructor, so a failed reconnect doesn't wedge process startup.
	Start(ctx context.Context) (<-chan domain.InboundMessage, error)
	// Respond delivers resp back to whichever platform conversation
	// original came from.
	Respond(ctx context.Context, original domain.InboundMessage, resp domain.OutboundResponse) error
	// SendStatus delivers a StatusUpdate for original's conversation.
	// Default-no-op is a valid implementation (spec.md §6).
	SendStatus(ctx context.Context, original domain.InboundMessage, update domain.StatusUpdate) error
	// Broadcast sends a proactive message to target, whose format is
	// adapter-defined (e.g. a channel id with no triggering InboundMessage).
	Broadcast(ctx context.Context, target string, resp domain.OutboundResponse) error
	HealthCheck(ctx context.Context) error
	// Shutdown drains in-flight work and closes the transport.
	Shutdown(ctx context.Context) error
}

// NopStatusAdapter can be embedded by adapters whose platform has no
// concept of a status update, to satisfy SendStatus with the spec's
// documented default-no-op.
type NopStatusAdapter struct{}

func (NopStatusAdapter) SendStatus(ctx context.Context, original domain.InboundMessage, update domain.StatusUpdate) error {
	return nil
}

// Package pubsub carries group broadcasts between server instances. A frame
// published by one instance is delivered by every instance, the publisher
// included, to its own local members of the group.
package pubsub

import (
	"context"

	"github.com/4xmen/goftegu/pkg/protocol"
)

// Frame is one broadcast: deliver Event to every member of Group except the
// connection with id Except.
type Frame struct {
	Group  string             `json:"group"`
	Except string             `json:"except,omitempty"`
	Event  *protocol.Envelope `json:"event"`
}

type Bus interface {
	Publish(ctx context.Context, f *Frame) error
	// Listen blocks, handing every received frame to deliver, until ctx is
	// cancelled or the subscription fails.
	Listen(ctx context.Context, deliver func(*Frame)) error
	Close() error
}

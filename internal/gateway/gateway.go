// Package gateway defines the boundary to the remote message store.
package gateway

import (
	"context"

	"github.com/Avicted/roomchat/internal/message"
)

// Status is a live channel lifecycle report.
type Status int

const (
	// Subscribed acknowledges the channel; inserts follow.
	Subscribed Status = iota + 1
	ChannelError
	TimedOut
	// Closed reports that the channel went away without being asked to.
	Closed
)

func (s Status) String() string {
	switch s {
	case Subscribed:
		return "subscribed"
	case ChannelError:
		return "channel_error"
	case TimedOut:
		return "timed_out"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives callbacks for one live channel. Callbacks for a channel
// are delivered from a single goroutine, in backend order.
type Handler struct {
	OnInsert func(message.Message)
	OnStatus func(Status, error)
}

// Channel is an open live channel handle.
type Channel interface {
	Name() string
}

// Gateway is the remote store used by the sync engine.
type Gateway interface {
	// FetchRecent returns up to limit of the newest rows, oldest first.
	FetchRecent(ctx context.Context, limit int) ([]message.Message, error)
	// Insert stores msg and returns the row with its ID assigned.
	Insert(ctx context.Context, msg message.Message) (message.Message, error)
	// OpenLiveChannel starts a subscription named name. The ack arrives
	// later through h.OnStatus; a returned error means the attempt failed
	// before any ack.
	OpenLiveChannel(ctx context.Context, name string, h Handler) (Channel, error)
	CloseChannel(ctx context.Context, ch Channel) error
}

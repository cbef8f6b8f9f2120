package ws

import "github.com/Avicted/roomchat/internal/message"

// Frame types sent from server to client on a live channel.
const (
	FrameSubscribed = "subscribed"
	FrameInsert     = "insert"
	FrameError      = "error"
)

// Frame is one JSON text frame on a live channel.
type Frame struct {
	Type    string       `json:"type"`
	Channel string       `json:"channel,omitempty"`
	Record  *message.Row `json:"record,omitempty"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

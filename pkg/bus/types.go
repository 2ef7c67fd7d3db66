package bus

import "github.com/scpdiscord/scpdiscord/pkg/protocol"

// InboundMessage is a frame received from the plugin.
type InboundMessage struct {
	Source   string            `json:"source"` // plugin connection id
	Envelope protocol.Envelope `json:"envelope"`
}

// OutboundMessage is a frame to be written to the plugin.
type OutboundMessage struct {
	Envelope protocol.Envelope `json:"envelope"`
}

// MessageHandler handles inbound frames of one envelope type.
type MessageHandler func(InboundMessage) error

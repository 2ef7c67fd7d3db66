package bus

import "context"

type Publisher interface {
	PublishInbound(InboundMessage)
	PublishOutbound(OutboundMessage) bool
}

type Subscriber interface {
	ConsumeInbound(context.Context) (InboundMessage, bool)
	SubscribeOutbound(context.Context) (OutboundMessage, bool)
}

type Broker interface {
	Publisher
	Subscriber
	RegisterHandler(msgType string, handler MessageHandler)
	GetHandler(msgType string) (MessageHandler, bool)
	Close()
}

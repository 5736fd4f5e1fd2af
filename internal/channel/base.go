// Package channel hosts the chat frontends that feed the message bus.
package channel

import (
	"context"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/bus"
)

// Channel is one chat frontend: it pushes user messages onto the bus and
// delivers assistant replies back out.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Send(msg bus.OutboundMessage) error
	Stop() error
}

// BaseChannel carries the shared identity and sender allow-list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether a sender may talk to the agent. An empty
// allow-list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, allowed := range c.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}

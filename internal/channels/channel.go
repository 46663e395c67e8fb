// Package channels implements the chat transports (console, Slack,
// Kafka) that feed the message bus.
package channels

import (
	"context"

	"github.com/droverhq/drover/internal/bus"
)

// Channel is a chat transport. Inbound text is published to the bus
// tagged with the channel name; outbound replies for the channel are
// delivered through Send.
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start starts the channel listener and registers the outbound
	// subscription.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send delivers one reply to a specific chat.
	Send(chatID, text string) error
}

// BaseChannel provides the bus handle shared by all channels.
type BaseChannel struct {
	Bus *bus.Bus
}

// Publish pushes inbound text onto the bus for this channel.
func (b *BaseChannel) Publish(channel, chatID, sender, text string) bool {
	return b.Bus.PublishInbound(&bus.Inbound{
		Channel: channel,
		ChatID:  chatID,
		Sender:  sender,
		Text:    text,
	})
}

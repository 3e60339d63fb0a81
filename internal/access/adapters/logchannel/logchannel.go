// Package logchannel is a development notification channel that writes messages to the log.
package logchannel

import (
	"context"
	"log/slog"
	"sync"

	id "jitaccess/pkg/domain"
)

// Message is a delivered notification.
type Message struct {
	Address string
	Text    string
}

// Channel logs every message and keeps the most recent ones for inspection.
type Channel struct {
	logger *slog.Logger
	keep   int

	mu   sync.Mutex
	sent []Message
}

// New returns a channel logging at INFO. keep bounds the retained history; 0 keeps none.
func New(logger *slog.Logger, keep int) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{logger: logger, keep: keep}
}

// ResolveAddress uses the principal itself as the address.
func (c *Channel) ResolveAddress(_ context.Context, principal id.Principal) (string, error) {
	return principal.String(), nil
}

func (c *Channel) Send(ctx context.Context, address, message string) error {
	c.logger.InfoContext(ctx, "notification",
		"channel", "log",
		"address", address,
		"message", message,
	)
	if c.keep <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Message{Address: address, Text: message})
	if len(c.sent) > c.keep {
		c.sent = append([]Message(nil), c.sent[len(c.sent)-c.keep:]...)
	}
	return nil
}

// Sent returns a copy of the retained messages, oldest first.
func (c *Channel) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

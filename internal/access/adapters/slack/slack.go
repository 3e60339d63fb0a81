// Package slack delivers access request notifications as Slack direct messages.
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	id "jitaccess/pkg/domain"
)

// Channel implements ports.NotificationChannel on top of the Slack Web API.
type Channel struct {
	api *slack.Client
}

// New creates a Slack channel. opts are passed to slack.New (e.g. slack.OptionAPIURL in tests).
func New(token string, opts ...slack.Option) (*Channel, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("slack token is required")
	}
	return &Channel{api: slack.New(token, opts...)}, nil
}

// ResolveAddress looks the principal up by e-mail. Principals that already
// are Slack ids or #channels are returned unchanged.
func (c *Channel) ResolveAddress(ctx context.Context, principal id.Principal) (string, error) {
	p := principal.String()
	if isSlackAddress(p) {
		return p, nil
	}
	user, err := c.api.GetUserByEmailContext(ctx, p)
	if err != nil {
		return "", fmt.Errorf("lookup slack user %q: %w", p, err)
	}
	return user.ID, nil
}

func (c *Channel) Send(ctx context.Context, address, message string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("slack address is required")
	}
	if _, _, err := c.api.PostMessageContext(ctx, address, slack.MsgOptionText(message, false)); err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	return nil
}

// isSlackAddress reports whether s looks like a channel (C…, #name) or user (U…, W…) id.
func isSlackAddress(s string) bool {
	if strings.HasPrefix(s, "#") {
		return len(s) > 1
	}
	if len(s) < 9 || strings.Contains(s, "@") {
		return false
	}
	switch s[0] {
	case 'C', 'U', 'W', 'G', 'D':
	default:
		return false
	}
	for _, r := range s[1:] {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

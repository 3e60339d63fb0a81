// Package telegram delivers access request notifications through a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	id "jitaccess/pkg/domain"
)

// sender is the subset of *tgbotapi.BotAPI the channel uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Channel implements ports.NotificationChannel. Telegram has no lookup by
// e-mail, so principals are mapped to chat ids through a static directory.
type Channel struct {
	bot       sender
	directory map[id.Principal]int64
}

// New connects to the Bot API with token. endpoint may be empty for the public API.
func New(token, endpoint string, directory map[id.Principal]int64, client *http.Client) (*Channel, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram auth failed: %w", err)
	}
	return NewWithBot(bot, directory), nil
}

func NewWithBot(bot sender, directory map[id.Principal]int64) *Channel {
	dir := make(map[id.Principal]int64, len(directory))
	for k, v := range directory {
		dir[k] = v
	}
	return &Channel{bot: bot, directory: dir}
}

// ResolveAddress returns the chat id of principal. A numeric principal is
// taken as a chat id directly.
func (c *Channel) ResolveAddress(_ context.Context, principal id.Principal) (string, error) {
	if chatID, ok := c.directory[principal]; ok {
		return strconv.FormatInt(chatID, 10), nil
	}
	if _, err := parseInt64(principal.String()); err == nil {
		return principal.String(), nil
	}
	return "", fmt.Errorf("no telegram chat configured for %q", principal)
}

func (c *Channel) Send(ctx context.Context, address, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := parseInt64(address)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// ParseDirectory parses "alice@co=123,bob@co=456" into a principal to chat id map.
func ParseDirectory(raw string) (map[id.Principal]int64, error) {
	out := make(map[id.Principal]int64)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, chat, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("telegram directory entry %q: expected principal=chat_id", entry)
		}
		principal, err := id.ParsePrincipal(name)
		if err != nil {
			return nil, fmt.Errorf("telegram directory entry %q: %w", entry, err)
		}
		chatID, err := parseInt64(strings.TrimSpace(chat))
		if err != nil {
			return nil, fmt.Errorf("telegram directory entry %q: %w", entry, err)
		}
		out[principal] = chatID
	}
	return out, nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"github.com/arc-run/arc/pkg/models"
)

// telegramRateLimit caps outbound notifications to one per second with
// a small burst, matching the bot API's per-chat throughput guidance.
const telegramRateLimit = rate.Limit(1)
const telegramRateBurst = 3

// TelegramChannel delivers notifications as Telegram messages.
// IsExternal reports true, giving it routing priority over the CLI
// channel; IsActive only once a token and chat id are configured.
type TelegramChannel struct {
	token   string
	chatID  int64
	bot     *tgbot.Bot
	limiter *rate.Limiter
}

// NewTelegramChannel builds the channel. token and chatID come from
// config; an empty token or chatID leaves the channel permanently
// inactive rather than erroring, so it can be registered unconditionally.
func NewTelegramChannel(token, chatID string) (*TelegramChannel, error) {
	token = strings.TrimSpace(token)
	chatID = strings.TrimSpace(chatID)
	if token == "" || chatID == "" {
		return &TelegramChannel{}, nil
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid telegram chat_id %q: %w", chatID, err)
	}

	b, err := tgbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}

	return &TelegramChannel{
		token:   token,
		chatID:  id,
		bot:     b,
		limiter: rate.NewLimiter(telegramRateLimit, telegramRateBurst),
	}, nil
}

func (t *TelegramChannel) Name() string     { return "telegram" }
func (t *TelegramChannel) IsExternal() bool { return true }
func (t *TelegramChannel) IsActive() bool   { return t.bot != nil && t.token != "" && t.chatID != 0 }

// Deliver sends the notification as a Markdown-formatted message.
func (t *TelegramChannel) Deliver(ctx context.Context, n models.Notification) (bool, error) {
	if !t.IsActive() {
		return false, nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("notify: telegram rate limit wait: %w", err)
	}
	text := fmt.Sprintf("⏰ *%s*\n\n%s", n.JobName, n.Content)
	_, err := t.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		return false, fmt.Errorf("notify: telegram delivery failed: %w", err)
	}
	return true, nil
}

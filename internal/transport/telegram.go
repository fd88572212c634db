package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"skyalert/internal/model"
)

// TelegramTransport sends via the Bot API. A telegram channel's endpoint is
// its chat id ("-1001234..." for groups/channels).
type TelegramTransport struct {
	bot *tele.Bot
}

func NewTelegramTransport(token string) (*TelegramTransport, error) {
	b, err := tele.NewBot(tele.Settings{
		Token: token,
		// This bot only sends; no update polling.
		Offline: false,
		Client:  nil,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &TelegramTransport{bot: b}, nil
}

func (t *TelegramTransport) Send(ctx context.Context, p model.NotificationPayload) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(p.Endpoint), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram endpoint %q: %w", p.Endpoint, err)
	}

	text := "<b>" + escapeHTML(p.Title) + "</b>\n" + escapeHTML(p.Body)
	if html, ok := p.Rich["html"].(string); ok && html != "" {
		text = html
	}

	// telebot has no context-aware send; bound the call ourselves.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(15 * time.Second):
		return fmt.Errorf("telegram send timed out")
	}
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
)

// Telegram sends the title and body as one text message to the chat mapped
// to the target channel.
type Telegram struct {
	bot            *tele.Bot
	chats          map[string]int64
	scopedAsChatID bool
}

// NewTelegram does not contact the Bot API; the token is checked by the first send.
func NewTelegram(cfg config.TelegramConfig, timeout time.Duration) (*Telegram, error) {
	return newTelegram(cfg, tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
}

func newTelegram(cfg config.TelegramConfig, st tele.Settings) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(st)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chats: cfg.Chats, scopedAsChatID: cfg.ScopedAsChatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) chatFor(target dispatch.Target) (int64, error) {
	if id, ok := t.chats[target.Channel]; ok {
		return id, nil
	}
	if target.Kind == dispatch.TargetScoped && t.scopedAsChatID {
		id, err := strconv.ParseInt(target.EntityID, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("entity id %q is not a chat id", target.EntityID)
		}
		return id, nil
	}
	return 0, fmt.Errorf("no chat mapped for channel %q", target.Channel)
}

func (t *Telegram) Send(ctx context.Context, env dispatch.Envelope) error {
	chatID, err := t.chatFor(env.Target)
	if err != nil {
		return dispatch.NewDeliveryError(t.Name(), dispatch.ReasonUnknownTarget, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text := env.Title + "\n\n" + env.Body
	_, err = t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code != 0 {
		return &dispatch.DeliveryError{Provider: t.Name(), Kind: dispatch.ReasonForStatus(te.Code), Status: te.Code, Err: err}
	}
	return fmt.Errorf("telegram: %w", err)
}

func (t *Telegram) Close(context.Context) error { return nil }

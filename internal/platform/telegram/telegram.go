// Package telegram adapts telebot to platform.Messenger for leagues that run
// their group on Telegram instead of Discord.
//
// Channel ids take the form "<chat id>" or "<chat id>:<thread id>" for forum
// topics.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"leaguebot/internal/platform"
	"leaguebot/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token string
	// Offline skips the getMe handshake; useful for tests and dry runs.
	Offline bool
}

type Adapter struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Poller:  &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{bot: b, log: log.With(logx.Component("telegram"))}, nil
}

type target struct {
	chatID   int64
	threadID int
}

func parseTarget(s string) (target, error) {
	s = strings.TrimSpace(s)
	chat, thread, hasThread := strings.Cut(s, ":")
	// Negative group ids contain no colon, so a single split is enough.
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return target{}, fmt.Errorf("telegram: bad chat id %q", s)
	}
	t := target{chatID: id}
	if hasThread {
		n, err := strconv.Atoi(thread)
		if err != nil {
			return target{}, fmt.Errorf("telegram: bad thread id %q", s)
		}
		t.threadID = n
	}
	return t, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, body string) (string, error) {
	to, err := parseTarget(channelID)
	if err != nil {
		return "", err
	}
	chat := &tele.Chat{ID: to.chatID}

	var first string
	for _, chunk := range platform.SplitText(body, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              to.threadID,
		})
		if err != nil {
			return first, classify(err)
		}
		if first == "" {
			first = strconv.Itoa(msg.ID)
		}
	}
	return first, nil
}

// SendDM sends to the private chat of userID; on Telegram that chat id is
// the user id.
func (a *Adapter) SendDM(ctx context.Context, userID, body string) (string, error) {
	return a.SendMessage(ctx, userID, body)
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	to, err := parseTarget(channelID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram: bad message id %q", messageID)
	}
	_, err = a.bot.Raw("setMessageReaction", map[string]any{
		"chat_id":    to.chatID,
		"message_id": msgID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	})
	return classify(err)
}

func (a *Adapter) Close() error { return nil }

func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &platform.RateLimitError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return &platform.RateLimitError{RetryAfter: time.Duration(floodPtr.RetryAfter) * time.Second, Err: err}
	}
	return err
}

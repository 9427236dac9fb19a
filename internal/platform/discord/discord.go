// Package discord adapts discordgo's REST client to platform.Messenger.
package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"leaguebot/internal/platform"
	"leaguebot/pkg/logx"
)

const messageLimit = 2000

type Config struct {
	Token          string
	RequestTimeout time.Duration
}

type Adapter struct {
	s   *discordgo.Session
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	// Rate limits are surfaced to the delivery layer, which owns retries.
	s.ShouldRetryOnRateLimit = false
	s.MaxRestRetries = 0
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s.Client = &http.Client{Timeout: timeout}

	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{s: s, log: log.With(logx.Component("discord"))}, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, body string) (string, error) {
	var first string
	for _, chunk := range platform.SplitText(body, messageLimit) {
		m, err := a.s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			// A partially delivered body still counts as delivered once the
			// first chunk is out; report the first id with the error.
			return first, classify(err)
		}
		if first == "" {
			first = m.ID
		}
	}
	return first, nil
}

func (a *Adapter) SendDM(ctx context.Context, userID, body string) (string, error) {
	ch, err := a.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return a.SendMessage(ctx, ch.ID, body)
}

func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return classify(a.s.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

func (a *Adapter) Close() error { return nil }

// classify maps discordgo throttling errors onto platform.RateLimitError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		var hint time.Duration
		if rl.RateLimit != nil && rl.RateLimit.TooManyRequests != nil {
			hint = rl.RateLimit.TooManyRequests.RetryAfter
		}
		return &platform.RateLimitError{RetryAfter: hint, Err: err}
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusTooManyRequests {
		return &platform.RateLimitError{RetryAfter: retryAfterHeader(rest.Response.Header), Err: err}
	}
	return err
}

func retryAfterHeader(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v + "s")
	if err != nil || d < 0 {
		return 0
	}
	return d
}

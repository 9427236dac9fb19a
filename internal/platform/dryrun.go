package platform

import (
	"context"
	"strconv"
	"sync/atomic"

	"leaguebot/pkg/logx"
)

// DryRun logs every outbound call instead of contacting a platform.
type DryRun struct {
	log logx.Logger
	seq atomic.Uint64
}

func NewDryRun(log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{log: log.With(logx.Component("platform.dryrun"))}
}

func (d *DryRun) next() string { return "dry-" + strconv.FormatUint(d.seq.Add(1), 10) }

func (d *DryRun) SendMessage(ctx context.Context, channelID, body string) (string, error) {
	id := d.next()
	d.log.Info("send message", logx.String("channel", channelID), logx.String("message_id", id), logx.Int("len", len(body)))
	return id, nil
}

func (d *DryRun) SendDM(ctx context.Context, userID, body string) (string, error) {
	id := d.next()
	d.log.Info("send dm", logx.String("user", userID), logx.String("message_id", id), logx.Int("len", len(body)))
	return id, nil
}

func (d *DryRun) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	d.log.Info("add reaction", logx.String("channel", channelID), logx.String("message_id", messageID), logx.String("emoji", emoji))
	return nil
}

package alerting

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// DiscordNotifier sends events to a Discord channel via the bot REST API.
// No gateway connection is opened; plain message sends do not need one.
type DiscordNotifier struct {
	Token     string
	ChannelID string

	once    sync.Once
	session *discordgo.Session
	initErr error
}

// Notify implements Notifier.
func (d *DiscordNotifier) Notify(ctx context.Context, ev Event) error {
	d.once.Do(func() {
		d.session, d.initErr = discordgo.New("Bot " + d.Token)
	})
	if d.initErr != nil {
		return fmt.Errorf("alerting: discord session: %w", d.initErr)
	}

	_, err := d.session.ChannelMessageSend(d.ChannelID, ev.Message(),
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("alerting: discord send: %w", err)
	}
	return nil
}

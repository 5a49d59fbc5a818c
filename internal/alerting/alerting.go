// Package alerting delivers queue completion and failure notifications.
// Channels are optional and best-effort: a failed notification is logged,
// never propagated into queue state.
package alerting

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dsa110/contimg-ingest/internal/config"
	"github.com/dsa110/contimg-ingest/internal/models"
	"github.com/dsa110/contimg-ingest/internal/queue"
	"gorm.io/gorm"
)

// Event is one queue notification.
type Event struct {
	GroupKey string
	Type     string // models.EventCompleted, models.EventFailed, ...
	Detail   string
	At       time.Time
}

// Message renders the operator-facing text for the event.
func (e Event) Message() string {
	switch e.Type {
	case models.EventCompleted:
		return fmt.Sprintf("group %s converted: %s", e.GroupKey, e.Detail)
	case models.EventFailed:
		return fmt.Sprintf("group %s FAILED permanently: %s", e.GroupKey, e.Detail)
	default:
		return fmt.Sprintf("group %s %s: %s", e.GroupKey, e.Type, e.Detail)
	}
}

// Notifier delivers one event to a channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to several notifiers. Errors are logged per channel
// and never returned; one broken webhook must not silence the others.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			log.Printf("alerting: %v", err)
		}
	}
	return nil
}

// FromConfig assembles the configured notification channels. Returns nil if
// none are configured.
func FromConfig(cfg config.AlertingConfig) Notifier {
	var channels Multi
	if cfg.SlackWebhook != "" {
		channels = append(channels, &SlackNotifier{WebhookURL: cfg.SlackWebhook})
	}
	if cfg.DiscordToken != "" && cfg.DiscordChannel != "" {
		channels = append(channels, &DiscordNotifier{
			Token:     cfg.DiscordToken,
			ChannelID: cfg.DiscordChannel,
		})
	}
	if cfg.Command != "" {
		channels = append(channels, &CommandNotifier{Command: cfg.Command})
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
}

// Dispatcher tails the durable queue event feed and pushes terminal events to
// the notifier. It tracks the last event ID it saw, so restarting the daemon
// does not replay history.
type Dispatcher struct {
	DB       *gorm.DB
	Notifier Notifier
	Interval time.Duration

	lastID uint
}

// Run polls the event feed until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.Notifier == nil {
		return fmt.Errorf("alerting: notifier is required")
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	last, err := queue.LastEventID(d.DB)
	if err != nil {
		return err
	}
	d.lastID = last

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Poll(ctx); err != nil {
				log.Printf("alerting: poll: %v", err)
			}
		}
	}
}

// Poll dispatches any events past the cursor. Exposed for the daemon's tests.
func (d *Dispatcher) Poll(ctx context.Context) error {
	events, err := queue.EventsSince(d.DB, d.lastID, 100)
	if err != nil {
		return err
	}
	for _, ev := range events {
		d.lastID = ev.ID
		switch ev.Type {
		case models.EventCompleted, models.EventFailed:
			d.Notifier.Notify(ctx, Event{
				GroupKey: ev.GroupKey,
				Type:     ev.Type,
				Detail:   ev.Detail,
				At:       ev.CreatedAt,
			})
		}
	}
	return nil
}

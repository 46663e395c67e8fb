package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/droverhq/drover/internal/bus"
	"github.com/droverhq/drover/internal/config"
)

// Slack is a Socket Mode channel: DMs and app mentions become inbound
// messages, replies post back to the same conversation.
type Slack struct {
	BaseChannel
	cfg       config.SlackConfig
	api       *slack.Client
	sock      *socketmode.Client
	botUserID string
}

// NewSlack creates a Slack channel from the given tokens.
func NewSlack(cfg config.SlackConfig, messageBus *bus.Bus) *Slack {
	return &Slack{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
	}
}

func (c *Slack) Name() string { return "slack" }

func (c *Slack) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth failed: %w", err)
	}
	c.botUserID = auth.UserID
	c.sock = socketmode.New(c.api)

	c.Bus.Subscribe(c.Name(), func(msg *bus.Outbound) {
		if err := c.Send(msg.ChatID, msg.Text); err != nil {
			slog.Error("slack: failed to post reply", "chat", msg.ChatID, "error", err)
		}
	})

	go c.eventLoop(ctx)
	go func() {
		if err := c.sock.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("slack: socket mode stopped", "error", err)
		}
	}()
	return nil
}

func (c *Slack) Stop() error { return nil }

func (c *Slack) Send(chatID, text string) error {
	if c.api == nil {
		return fmt.Errorf("slack channel not started")
	}
	_, _, err := c.api.PostMessage(chatID, slack.MsgOptionText(text, false))
	return err
}

func (c *Slack) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sock.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			c.sock.Ack(*evt.Request)
			if apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			switch ev := apiEvent.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				// Only direct messages; group traffic comes in as mentions.
				if ev.BotID != "" || ev.SubType != "" || ev.User == c.botUserID {
					continue
				}
				if ev.ChannelType != "im" {
					continue
				}
				c.Publish(c.Name(), ev.Channel, ev.User, ev.Text)
			case *slackevents.AppMentionEvent:
				if ev.User == c.botUserID {
					continue
				}
				text := c.stripMention(ev.Text)
				if text == "" {
					continue
				}
				c.Publish(c.Name(), ev.Channel, ev.User, text)
			}
		}
	}
}

func (c *Slack) stripMention(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+c.botUserID+">", ""))
}

package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/droverhq/drover/internal/bus"
)

// Console is a stdin/stdout REPL channel for local use.
type Console struct {
	BaseChannel
	In  io.Reader
	Out io.Writer
}

// NewConsole creates a console channel bound to the process stdio.
func NewConsole(messageBus *bus.Bus) *Console {
	return &Console{
		BaseChannel: BaseChannel{Bus: messageBus},
		In:          os.Stdin,
		Out:         os.Stdout,
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Start(ctx context.Context) error {
	c.Bus.Subscribe(c.Name(), func(msg *bus.Outbound) {
		_ = c.Send(msg.ChatID, msg.Text)
	})
	go func() {
		sc := bufio.NewScanner(c.In)
		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if !c.Publish(c.Name(), "console", "operator", line) {
				fmt.Fprintln(c.Out, "(input queue full, try again)")
			}
		}
	}()
	return nil
}

func (c *Console) Stop() error { return nil }

func (c *Console) Send(chatID, text string) error {
	_, err := fmt.Fprintln(c.Out, text)
	return err
}

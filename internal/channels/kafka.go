package channels

import (
	"context"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/droverhq/drover/internal/bus"
	"github.com/droverhq/drover/internal/config"
)

// Kafka consumes work from the inbound topic (value = text, key = chat
// id) and produces replies to the outbound topic keyed the same, so
// pipelines can inject tasks and subscribe to results.
type Kafka struct {
	BaseChannel
	cfg    config.KafkaConfig
	reader *kafka.Reader
	writer *kafka.Writer
}

// NewKafka creates a Kafka channel for the configured topics.
func NewKafka(cfg config.KafkaConfig, messageBus *bus.Bus) *Kafka {
	return &Kafka{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
	}
}

func (c *Kafka) Name() string { return "kafka" }

func (c *Kafka) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	brokers := strings.Split(c.cfg.Brokers, ",")
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    c.cfg.InboundTopic,
		GroupID:  c.cfg.Group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        c.cfg.OutboundTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}

	c.Bus.Subscribe(c.Name(), func(msg *bus.Outbound) {
		if err := c.Send(msg.ChatID, msg.Text); err != nil {
			slog.Error("kafka: failed to produce reply", "chat", msg.ChatID, "error", err)
		}
	})

	go func() {
		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("kafka: read error", "topic", c.cfg.InboundTopic, "error", err)
				continue
			}
			chatID := string(msg.Key)
			if chatID == "" {
				chatID = "kafka"
			}
			c.Publish(c.Name(), chatID, "kafka", string(msg.Value))
		}
	}()
	return nil
}

func (c *Kafka) Stop() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.writer != nil {
		if werr := c.writer.Close(); err == nil {
			err = werr
		}
	}
	return err
}

func (c *Kafka) Send(chatID, text string) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(chatID),
		Value: []byte(text),
	})
}

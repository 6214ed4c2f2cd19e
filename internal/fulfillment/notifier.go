package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"digistore/internal/config"
	"digistore/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// EventOrderConfirmed is the event type of a confirmation message.
const EventOrderConfirmed = "order.confirmed"

// Notifier requests an order confirmation from the notification service.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *model.Order) error
}

// ConfirmationItem is one purchased line in a confirmation message.
type ConfirmationItem struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	VariantTag string `json:"variantTag,omitempty"`
	UnitPrice  string `json:"unitPrice"`
}

// Confirmation is the message handed to the notification service.
type Confirmation struct {
	EventType    string             `json:"eventType"`
	OrderID      string             `json:"orderId"`
	CustomerName string             `json:"customerName"`
	Email        string             `json:"email"`
	Phone        string             `json:"phone"`
	Items        []ConfirmationItem `json:"items"`
	Subtotal     string             `json:"subtotal"`
	Discount     string             `json:"discount,omitempty"`
	Total        string             `json:"total"`
	InvoiceRef   string             `json:"invoiceRef,omitempty"`
	// AccessToken lets a guest open their downloads from the message.
	AccessToken string    `json:"accessToken,omitempty"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// NewConfirmation builds the confirmation message for a settled order.
func NewConfirmation(o *model.Order, at time.Time) Confirmation {
	items := make([]ConfirmationItem, 0, len(o.Items))
	for i, item := range o.Items {
		items = append(items, ConfirmationItem{
			Index:      i,
			Title:      item.Title,
			VariantTag: string(item.VariantTag),
			UnitPrice:  item.UnitPrice.StringFixed(model.CurrencyPrecision),
		})
	}

	c := Confirmation{
		EventType:    EventOrderConfirmed,
		OrderID:      o.ID.String(),
		CustomerName: o.Contact.Name,
		Email:        o.Contact.Email,
		Phone:        o.Contact.Phone,
		Items:        items,
		Subtotal:     o.Subtotal.StringFixed(model.CurrencyPrecision),
		Total:        o.Total.StringFixed(model.CurrencyPrecision),
		InvoiceRef:   o.Payment.InvoiceRef,
		ConfirmedAt:  at.UTC(),
	}
	if o.Discount != nil {
		c.Discount = o.Discount.Amount.StringFixed(model.CurrencyPrecision)
	}
	if o.OwnerUserID == nil {
		c.AccessToken = o.AccessToken
	}
	return c
}

// LogNotifier writes confirmations to the log. It is the fallback when no broker is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("notifier", "log").Logger()}
}

func (n *LogNotifier) SendOrderConfirmation(_ context.Context, o *model.Order) error {
	n.logger.Info().
		Str("order_id", o.ID.String()).
		Str("email", o.Contact.Email).
		Int("item_count", len(o.Items)).
		Msg("order confirmation requested")
	return nil
}

// publisher is the subset of *nats.Conn used to send confirmations.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSNotifier publishes confirmations to a NATS subject.
type NATSNotifier struct {
	conn    publisher
	subject string
	now     func() time.Time
}

// DialNATS connects to NATS and returns a notifier with its connection.
func DialNATS(url, subject string, logger zerolog.Logger) (*NATSNotifier, *nats.Conn, error) {
	log := logger.With().Str("notifier", "nats").Logger()

	nc, err := nats.Connect(url,
		nats.Name("digistore"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return NewNATSNotifier(nc, subject), nc, nil
}

// NewNATSNotifier creates a notifier over an existing connection.
func NewNATSNotifier(conn publisher, subject string) *NATSNotifier {
	return &NATSNotifier{conn: conn, subject: subject, now: time.Now}
}

func (n *NATSNotifier) SendOrderConfirmation(ctx context.Context, o *model.Order) error {
	payload, err := json.Marshal(NewConfirmation(o, n.now()))
	if err != nil {
		return fmt.Errorf("failed to encode confirmation: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("failed to publish confirmation: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush confirmation: %w", err)
	}
	return nil
}

// messageWriter is the subset of *kafka.Writer used to send confirmations.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes confirmations to a Kafka topic keyed by order ID.
type KafkaNotifier struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaNotifier creates a notifier writing to topic on the given brokers.
func NewKafkaNotifier(topic string, brokers ...string) *KafkaNotifier {
	return newKafkaNotifier(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

func newKafkaNotifier(w messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, now: time.Now}
}

func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, o *model.Order) error {
	payload, err := json.Marshal(NewConfirmation(o, n.now()))
	if err != nil {
		return fmt.Errorf("failed to encode confirmation: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(o.ID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderConfirmed)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write confirmation: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NotifierFromConfig builds the configured notifier and a function that releases its connection.
func NotifierFromConfig(cfg config.NotifierConfig, logger zerolog.Logger) (Notifier, func() error, error) {
	switch cfg.Kind {
	case "nats":
		n, nc, err := DialNATS(cfg.NATSURL, cfg.Subject, logger)
		if err != nil {
			return nil, nil, err
		}
		return n, func() error { return nc.Drain() }, nil
	case "kafka":
		n := NewKafkaNotifier(cfg.Topic, cfg.Brokers...)
		return n, n.Close, nil
	case "log", "":
		return NewLogNotifier(logger), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q", cfg.Kind)
	}
}

package bus

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"
)

// TransportMessage is a raw payload received from a channel.
type TransportMessage struct {
	Channel string
	Value   []byte
}

// Transport abstracts the pub/sub layer: at-least-once delivery, no ordering
// across channels.
type Transport interface {
	// Publish sends a payload on a channel. Key selects the partition so
	// same-publisher-same-channel order is preserved.
	Publish(ctx context.Context, channel string, key, value []byte) error
	// Subscribe begins consuming a channel. Safe to call after Start.
	Subscribe(channel string) error
	// Messages returns the stream of consumed payloads.
	Messages() <-chan TransportMessage
	// Close stops all consumption.
	Close() error
}

// KafkaTransport implements Transport using segmentio/kafka-go.
type KafkaTransport struct {
	brokers       []string
	consumerGroup string
	writer        *kafka.Writer
	readers       []*kafka.Reader
	channels      map[string]bool
	messages      chan TransportMessage
	ctx           context.Context
	mu            sync.Mutex
}

// NewKafkaTransport creates a transport for the given brokers.
func NewKafkaTransport(brokers, consumerGroup string) *KafkaTransport {
	brokerList := strings.Split(brokers, ",")
	return &KafkaTransport{
		brokers:       brokerList,
		consumerGroup: consumerGroup,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerList...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		channels: make(map[string]bool),
		messages: make(chan TransportMessage, 256),
	}
}

// Start begins consuming all channels subscribed so far.
func (t *KafkaTransport) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx
	for channel := range t.channels {
		t.startReader(ctx, channel)
	}
}

// Publish writes one record to a Kafka topic.
func (t *KafkaTransport) Publish(ctx context.Context, channel string, key, value []byte) error {
	return t.writer.WriteMessages(ctx, kafka.Message{
		Topic: channel,
		Key:   key,
		Value: value,
	})
}

// Subscribe adds a channel; if Start already ran, consumption begins now.
func (t *KafkaTransport) Subscribe(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channels[channel] {
		return nil
	}
	t.channels[channel] = true
	if t.ctx != nil {
		t.startReader(t.ctx, channel)
	}
	return nil
}

func (t *KafkaTransport) startReader(ctx context.Context, channel string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  t.brokers,
		Topic:    channel,
		GroupID:  t.consumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	t.readers = append(t.readers, reader)

	go func(r *kafka.Reader, ch string) {
		for {
			msg, err := r.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("kafka read error", "channel", ch, "error", err)
				continue
			}
			t.messages <- TransportMessage{Channel: ch, Value: msg.Value}
		}
	}(reader, channel)
}

// Messages returns the consumed payload stream.
func (t *KafkaTransport) Messages() <-chan TransportMessage {
	return t.messages
}

// Close stops the writer and all readers.
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.readers {
		r.Close()
	}
	return t.writer.Close()
}

// ChannelTransport is an in-process Transport for tests and single-process
// deployments.
type ChannelTransport struct {
	mu       sync.Mutex
	channels map[string]bool
	messages chan TransportMessage
	// PublishErr, when set, makes every Publish fail. Tests use it to
	// exercise notify-after-durable-write failure recovery.
	PublishErr error
}

// NewChannelTransport creates an in-process transport.
func NewChannelTransport() *ChannelTransport {
	return &ChannelTransport{
		channels: make(map[string]bool),
		messages: make(chan TransportMessage, 256),
	}
}

// Publish delivers the payload to local subscribers of the channel.
func (t *ChannelTransport) Publish(ctx context.Context, channel string, key, value []byte) error {
	t.mu.Lock()
	errOut := t.PublishErr
	subscribed := t.channels[channel]
	t.mu.Unlock()
	if errOut != nil {
		return errOut
	}
	if !subscribed {
		return nil
	}
	select {
	case t.messages <- TransportMessage{Channel: channel, Value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers interest in a channel.
func (t *ChannelTransport) Subscribe(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[channel] = true
	return nil
}

// Messages returns the consumed payload stream.
func (t *ChannelTransport) Messages() <-chan TransportMessage {
	return t.messages
}

// Close closes the message stream.
func (t *ChannelTransport) Close() error {
	close(t.messages)
	return nil
}

// Send injects a raw payload (for tests simulating redelivery).
func (t *ChannelTransport) Send(msg TransportMessage) {
	t.messages <- msg
}

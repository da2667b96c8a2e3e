package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/synod/synod/internal/store"
)

// Handler consumes a delivered message.
type Handler func(msg *Message)

// Bus couples the durable store and the pub/sub transport. Publish writes
// the durable record first; a notification is sent only after that write
// succeeds, so no notification is ever observable for a message whose
// durable write failed.
type Bus struct {
	store     *store.Store
	transport Transport
	dedup     *seenSet

	mu       sync.RWMutex
	handlers map[string][]Handler

	catchUpLimit int
}

// New creates a bus over the given store and transport.
func New(st *store.Store, tr Transport, dedupWindow, catchUpLimit int) *Bus {
	if catchUpLimit <= 0 {
		catchUpLimit = 500
	}
	return &Bus{
		store:        st,
		transport:    tr,
		dedup:        newSeenSet(dedupWindow),
		handlers:     make(map[string][]Handler),
		catchUpLimit: catchUpLimit,
	}
}

// Publish persists the message, then notifies the destination channel. The
// durable id is assigned by the store and carried in the notification.
// A transport failure after the durable write is logged, not returned: the
// message is recoverable through CatchUp, delayed but never lost.
func (b *Bus) Publish(ctx context.Context, msg *Message) (int64, error) {
	rec := &store.MessageRecord{
		MessageID: msg.ID,
		FromRole:  msg.From,
		ToChannel: msg.To,
		Type:      msg.Type,
		Subject:   msg.Subject,
		Content:   msg.Content,
		Priority:  msg.Metadata.Priority,
		CreatedAt: msg.Metadata.Timestamp,
	}
	durableID, err := b.store.InsertMessage(rec)
	if err != nil {
		return 0, fmt.Errorf("durable write for %s: %w", msg.ID, err)
	}

	for _, channel := range b.destinations(msg) {
		if err := b.notify(ctx, channel, durableID, msg); err != nil {
			slog.Warn("notify failed after durable write; message recoverable via catch-up",
				"message_id", msg.ID, "durable_id", durableID, "channel", channel, "error", err)
		}
	}
	return durableID, nil
}

// destinations returns the channels a message is announced on: its addressed
// channel, plus the leadership channel for escalations raised on role
// channels.
func (b *Bus) destinations(msg *Message) []string {
	channels := []string{msg.To}
	if msg.Type == TypeEscalation && msg.To != Leadership {
		channels = append(channels, Leadership)
	}
	return channels
}

func (b *Bus) notify(ctx context.Context, channel string, durableID int64, msg *Message) error {
	n := Notification{DurableID: durableID, Channel: channel, Message: *msg}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	// Key by publisher so same-publisher-same-channel order is preserved.
	return b.transport.Publish(ctx, channel, []byte(msg.From), payload)
}

// Subscribe registers a handler for a channel.
func (b *Bus) Subscribe(channel string, h Handler) error {
	if err := b.transport.Subscribe(channel); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	b.mu.Lock()
	b.handlers[channel] = append(b.handlers[channel], h)
	b.mu.Unlock()
	return nil
}

// Run consumes transport notifications and dispatches them to handlers,
// deduplicating by durable id. Blocks until the context is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tm, ok := <-b.transport.Messages():
			if !ok {
				return nil
			}
			b.deliver(&tm)
		}
	}
}

func (b *Bus) deliver(tm *TransportMessage) {
	var n Notification
	if err := json.Unmarshal(tm.Value, &n); err != nil {
		slog.Warn("drop undecodable notification", "channel", tm.Channel, "error", err)
		return
	}
	if b.dedup.observe(tm.Channel, n.DurableID) {
		slog.Debug("drop duplicate delivery", "durable_id", n.DurableID, "channel", tm.Channel)
		return
	}
	b.dispatch(tm.Channel, &n.Message)
}

func (b *Bus) dispatch(channel string, msg *Message) {
	b.mu.RLock()
	handlers := b.handlers[channel]
	b.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// CatchUp re-delivers durable messages on a channel newer than the cutoff.
// Used after downtime or a missed notification; the dedup set keeps already
// handled messages from producing a second side effect.
func (b *Bus) CatchUp(ctx context.Context, channel string, cutoff time.Time) (int, error) {
	records, err := b.store.MessagesSince(channel, cutoff, b.catchUpLimit)
	if err != nil {
		return 0, fmt.Errorf("catch-up query %s: %w", channel, err)
	}
	delivered := 0
	for i := range records {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		rec := &records[i]
		if b.dedup.observe(channel, rec.DurableID) {
			continue
		}
		b.dispatch(channel, &Message{
			ID:      rec.MessageID,
			From:    rec.FromRole,
			To:      rec.ToChannel,
			Type:    rec.Type,
			Subject: rec.Subject,
			Content: rec.Content,
			Metadata: Metadata{
				Timestamp: rec.CreatedAt,
				Priority:  rec.Priority,
			},
		})
		delivered++
	}
	if delivered > 0 {
		slog.Info("catch-up complete", "channel", channel, "delivered", delivered)
	}
	return delivered, nil
}

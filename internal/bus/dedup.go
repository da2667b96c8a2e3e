package bus

import (
	"fmt"
	"sync"
)

// seenSet is a bounded recently-seen set with FIFO eviction. At-least-once
// transports can re-deliver, so consumers drop deliveries they have already
// handled. Keys pair the channel with the durable id: one durable message may
// legitimately be announced on several channels (an escalation is mirrored to
// leadership), and each channel's delivery counts separately.
type seenSet struct {
	mu    sync.Mutex
	seen  map[string]bool
	order []string
	limit int
}

func newSeenSet(limit int) *seenSet {
	if limit <= 0 {
		limit = 1024
	}
	return &seenSet{
		seen:  make(map[string]bool, limit),
		limit: limit,
	}
}

// observe records a (channel, durable id) delivery and reports whether it was
// already present.
func (s *seenSet) observe(channel string, id int64) bool {
	key := fmt.Sprintf("%s/%d", channel, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return true
	}
	s.seen[key] = true
	s.order = append(s.order, key)
	if len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, oldest)
	}
	return false
}

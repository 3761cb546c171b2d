package comms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBoard is a thread-safe in-process board with a bounded history.
type MemoryBoard struct {
	node string

	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   int
	history  []*Message
	seen     map[string]struct{}
	seenIDs  []string // insertion order of seen, bounded by maxSeen
	maxSeen  int
	seq      uint64
	maxHist  int
	now      func() time.Time
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewMemoryBoard creates a board that keeps the last maxHist messages.
// node identifies this process when messages are relayed between hosts.
// Message ids are remembered for four times the history length, so late
// relay echoes are dropped after their message left the history.
func NewMemoryBoard(node string, maxHist int) *MemoryBoard {
	if maxHist <= 0 {
		maxHist = 1000
	}
	if node == "" {
		node = uuid.NewString()
	}
	return &MemoryBoard{
		node:    node,
		seen:    make(map[string]struct{}),
		maxHist: maxHist,
		maxSeen: 4 * maxHist,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Node returns the relay identity of this board.
func (b *MemoryBoard) Node() string { return b.node }

// Post stores msg and delivers it to every subscriber.
func (b *MemoryBoard) Post(ctx context.Context, msg *Message) (*Message, error) {
	if msg.Content == "" {
		return nil, fmt.Errorf("post: empty content")
	}
	m := *msg
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Origin == "" {
		m.Origin = b.node
	}
	if m.Type == "" {
		m.Type = TypeChat
	}
	if m.Kind == "" {
		m.Kind = KindHuman
	}
	stored, fresh := b.append(&m)
	if !fresh {
		return stored, nil
	}
	return stored, b.deliver(ctx, stored)
}

// Ingest stores a message accepted by another node. Messages already seen
// are ignored.
func (b *MemoryBoard) Ingest(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		return fmt.Errorf("ingest: message without id")
	}
	m := *msg
	stored, fresh := b.append(&m)
	if !fresh {
		return nil
	}
	return b.deliver(ctx, stored)
}

func (b *MemoryBoard) append(m *Message) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[m.ID]; dup {
		for _, h := range b.history {
			if h.ID == m.ID {
				return h, false
			}
		}
		return m, false
	}
	b.seq++
	m.Seq = b.seq
	if m.Timestamp.IsZero() {
		m.Timestamp = b.now()
	}
	b.seen[m.ID] = struct{}{}
	b.seenIDs = append(b.seenIDs, m.ID)
	if over := len(b.seenIDs) - b.maxSeen; over > 0 {
		for _, id := range b.seenIDs[:over] {
			delete(b.seen, id)
		}
		b.seenIDs = append(b.seenIDs[:0], b.seenIDs[over:]...)
	}
	b.history = append(b.history, m)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
	return m, true
}

// deliver invokes handlers outside the lock.
func (b *MemoryBoard) deliver(ctx context.Context, m *Message) error {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers))
	for _, e := range b.handlers {
		targets = append(targets, e.handler)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("post: %d handler error(s): %v", len(errs), errs[0])
	}
	return nil
}

// Subscribe registers handler for every new message.
func (b *MemoryBoard) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		filtered := b.handlers[:0]
		for _, e := range b.handlers {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		b.handlers = filtered
	}
}

// Since returns messages after cursor, oldest first.
func (b *MemoryBoard) Since(cursor uint64, limit int) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.history), func(i int) bool { return b.history[i].Seq > cursor })
	out := b.history[i:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]*Message(nil), out...)
}

// Recent returns the last limit messages, oldest first.
func (b *MemoryBoard) Recent(limit int) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := b.history
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]*Message(nil), out...)
}

// Cursor returns the sequence of the newest message.
func (b *MemoryBoard) Cursor() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

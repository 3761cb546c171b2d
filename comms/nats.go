package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject board messages are relayed on.
const DefaultSubject = "boardroom.messages"

// NATSRelay mirrors a MemoryBoard across hosts. Messages first accepted
// locally are published; messages from other nodes are ingested.
type NATSRelay struct {
	board   *MemoryBoard
	nc      *nats.Conn
	subject string
	logger  *slog.Logger

	sub   *nats.Subscription
	unsub func()
}

// NewNATSRelay connects to url and starts relaying board messages.
func NewNATSRelay(url, subject string, board *MemoryBoard, logger *slog.Logger) (*NATSRelay, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("boardroom-"+board.Node()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	r := &NATSRelay{board: board, nc: nc, subject: subject, logger: logger}

	r.sub, err = nc.Subscribe(subject, r.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	r.unsub = board.Subscribe(r.forward)
	return r, nil
}

// forward publishes messages that originated on this node.
func (r *NATSRelay) forward(_ context.Context, msg *Message) error {
	if msg.Origin != r.board.Node() {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		return fmt.Errorf("publish message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *NATSRelay) receive(m *nats.Msg) {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		r.logger.Warn("relay: dropping undecodable message", slog.String("err", err.Error()))
		return
	}
	if msg.Origin == r.board.Node() {
		return
	}
	// The local sequence is assigned on ingest.
	msg.Seq = 0
	if err := r.board.Ingest(context.Background(), &msg); err != nil {
		r.logger.Warn("relay: ingest failed", slog.String("id", msg.ID), slog.String("err", err.Error()))
	}
}

// Close stops relaying and drains the connection.
func (r *NATSRelay) Close() error {
	if r.unsub != nil {
		r.unsub()
	}
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	return r.nc.Drain()
}

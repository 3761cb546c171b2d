// Package comms provides the board room: a shared, ordered message stream
// that humans and agents post to, plus mention resolution and cross-host
// relaying.
package comms

import (
	"context"
	"time"
)

// MessageType identifies the kind of board message.
type MessageType string

const (
	TypeChat       MessageType = "chat"        // free-form post
	TypeTaskUpdate MessageType = "task_update" // task status change notification
	TypeAck        MessageType = "ack"         // acknowledgement of a mention
)

// Kind identifies who authored a message.
type Kind string

const (
	KindHuman  Kind = "human"
	KindAgent  Kind = "agent"
	KindSystem Kind = "system"
)

// Message is one post on the board.
type Message struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"` // local, strictly increasing
	Type      MessageType       `json:"type"`
	Kind      Kind              `json:"kind"`
	From      string            `json:"from"` // agent ID or human user name
	Content   string            `json:"content"`
	TaskID    string            `json:"task_id,omitempty"`
	Origin    string            `json:"origin,omitempty"` // node that first accepted the post
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Handler receives posted messages.
type Handler func(ctx context.Context, msg *Message) error

// Board is the board-room stream.
type Board interface {
	// Post appends a message, assigning its ID, sequence and timestamp
	// when unset, and returns the stored copy.
	Post(ctx context.Context, msg *Message) (*Message, error)

	// Since returns up to limit messages with Seq greater than cursor,
	// oldest first.
	Since(cursor uint64, limit int) []*Message

	// Recent returns the last limit messages, oldest first.
	Recent(limit int) []*Message

	// Subscribe registers a handler for every new message.
	// Returns an unsubscribe function.
	Subscribe(handler Handler) (unsubscribe func())
}

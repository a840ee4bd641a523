package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by SendText while the session is down.
var ErrNotConnected = errors.New("transport: not connected")

// ChatKind classifies the conversation an event belongs to. Only direct
// chats reach the campaign engine.
type ChatKind string

const (
	ChatDirect     ChatKind = "direct"
	ChatGroup      ChatKind = "group"
	ChatBroadcast  ChatKind = "broadcast"
	ChatStatus     ChatKind = "status"
	ChatNewsletter ChatKind = "newsletter"
)

// Inbound is one message seen on the session, written by the customer or
// by the operator's own device (FromMe).
type Inbound struct {
	ContactID string // E.164 digits
	FromMe    bool
	Body      string
	Timestamp time.Time
	Chat      ChatKind
	MessageID string
}

// Event carries either an inbound message or a connectivity change.
type Event struct {
	Inbound   *Inbound
	Connected *bool
}

func Connectivity(ok bool) Event { return Event{Connected: &ok} }

type Adapter interface {
	// Start runs until ctx is done or Stop is called, writing events to out.
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, contactID string, text string) error
	Connected() bool
}

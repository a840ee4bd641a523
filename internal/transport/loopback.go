package transport

import (
	"context"
	"sync"
	"time"
)

// Sent is one message handed to a Loopback.
type Sent struct {
	To   string
	Text string
	At   time.Time
}

// Loopback is an in-memory Adapter for tests and offline runs. Sent
// messages are recorded and, with Echo set, come back as FromMe inbound
// events the way a real session reports them.
type Loopback struct {
	Echo bool

	mu        sync.Mutex
	out       chan<- Event
	connected bool
	fail      error
	sent      []Sent
	done      chan struct{}
}

func NewLoopback() *Loopback {
	return &Loopback{connected: true, done: make(chan struct{})}
}

func (l *Loopback) Start(ctx context.Context, out chan<- Event) error {
	l.mu.Lock()
	l.out = out
	ok := l.connected
	l.mu.Unlock()
	l.emit(ctx, Connectivity(ok))
	select {
	case <-ctx.Done():
	case <-l.done:
	}
	return nil
}

func (l *Loopback) Stop(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *Loopback) SendText(ctx context.Context, contactID, text string) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return ErrNotConnected
	}
	if err := l.fail; err != nil {
		l.mu.Unlock()
		return err
	}
	now := time.Now()
	l.sent = append(l.sent, Sent{To: contactID, Text: text, At: now})
	echo := l.Echo
	l.mu.Unlock()

	if echo {
		l.emit(ctx, Event{Inbound: &Inbound{ContactID: contactID, FromMe: true, Body: text, Timestamp: now, Chat: ChatDirect}})
	}
	return nil
}

func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// SetConnected flips the simulated session state and reports it.
func (l *Loopback) SetConnected(ctx context.Context, ok bool) {
	l.mu.Lock()
	changed := l.connected != ok
	l.connected = ok
	l.mu.Unlock()
	if changed {
		l.emit(ctx, Connectivity(ok))
	}
}

// FailWith makes every following SendText return err until called with nil.
func (l *Loopback) FailWith(err error) {
	l.mu.Lock()
	l.fail = err
	l.mu.Unlock()
}

// Deliver injects an inbound message as if it came from the network.
func (l *Loopback) Deliver(ctx context.Context, in Inbound) {
	if in.Chat == "" {
		in.Chat = ChatDirect
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	l.emit(ctx, Event{Inbound: &in})
}

func (l *Loopback) Sent() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Sent(nil), l.sent...)
}

func (l *Loopback) emit(ctx context.Context, ev Event) {
	l.mu.Lock()
	out := l.out
	l.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	case <-l.done:
	}
}

package campaign

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/require"

	"outreach/internal/storage"
	"outreach/internal/transport"
)

// Monday 1 Dec 2025, 10:00 UTC: inside the default 9..22 window.
var t0 = time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type sentMsg struct {
	To, Text string
}

type fakeTx struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
	// onSend runs after a successful send, outside both locks, the way a
	// dashboard call can land while the transport is busy.
	onSend func(to string)
}

func (f *fakeTx) SendText(_ context.Context, to, text string) error {
	f.mu.Lock()
	if f.err != nil {
		err := f.err
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, sentMsg{To: to, Text: text})
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(to)
	}
	return nil
}

func (f *fakeTx) hook(fn func(to string)) {
	f.mu.Lock()
	f.onSend = fn
	f.mu.Unlock()
}

func (f *fakeTx) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTx) messages() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func (f *fakeTx) sentTo(c ContactID) int {
	n := 0
	for _, m := range f.messages() {
		if m.To == string(c) {
			n++
		}
	}
	return n
}

// memStore keeps collections as plain JSON, the way Collections would
// minus the envelope.
type memStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	saves   map[string]int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{docs: map[string][]byte{}, saves: map[string]int{}}
}

func (m *memStore) Load(_ context.Context, name string, dst any) (storage.LoadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.docs[name]
	if !ok {
		data, err := json.Marshal(dst)
		m.docs[name] = data
		return storage.Created, err
	}
	return storage.Loaded, json.Unmarshal(b, dst)
}

func (m *memStore) Save(_ context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[name] = b
	m.saves[name]++
	return nil
}

func (m *memStore) failSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

func (m *memStore) seed(name, doc string) {
	m.mu.Lock()
	m.docs[name] = []byte(doc)
	m.mu.Unlock()
}

type auditLog struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *auditLog) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *auditLog) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	e     *Engine
	clk   *clock
	tx    *fakeTx
	store *memStore
	audit *auditLog
	// onSleep runs inside the jitter sleep, outside the engine lock.
	onSleep func()
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Location = time.UTC
	s.JitterMin, s.JitterMax = time.Second, 2*time.Second
	return s
}

func newHarness(t require.TestingT, tweak ...func(*Settings)) *harness {
	return newHarnessWithStore(t, newMemStore(), tweak...)
}

func newHarnessWithStore(t require.TestingT, store *memStore, tweak ...func(*Settings)) *harness {
	s := testSettings()
	for _, f := range tweak {
		f(&s)
	}
	h := &harness{clk: &clock{t: t0}, tx: &fakeTx{}, store: store, audit: &auditLog{}}
	h.e = New(s, h.store, h.tx,
		WithClock(h.clk.now),
		WithSleep(h.sleep),
		WithRand(func(int64) int64 { return 0 }),
		WithAuditor(h.audit),
	)
	require.NoError(t, h.e.Load(context.Background()))
	h.e.SetConnected(true)
	return h
}

// sleep advances the fake clock instead of waiting.
func (h *harness) sleep(ctx context.Context, d time.Duration) error {
	h.clk.advance(d)
	if h.onSleep != nil {
		h.onSleep()
	}
	return ctx.Err()
}

func (h *harness) inbound(c ContactID, fromMe bool, body string) InboundResult {
	return h.e.HandleInbound(context.Background(), transport.Inbound{
		ContactID: string(c),
		FromMe:    fromMe,
		Body:      body,
		Timestamp: h.clk.now(),
		Chat:      transport.ChatDirect,
	})
}

func (h *harness) customer(c ContactID, body string) InboundResult { return h.inbound(c, false, body) }
func (h *harness) operator(c ContactID, body string) InboundResult { return h.inbound(c, true, body) }

func (h *harness) detect() int { return h.e.DetectTick(context.Background()) }

func (h *harness) send() (SendOutcome, error) { return h.e.SendTick(context.Background()) }

func (h *harness) contact(c ContactID) (Contact, bool) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	ct, ok := h.e.st.contacts[c]
	return ct, ok
}

func (h *harness) agenda(c ContactID) (Agenda, bool) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	a, ok := h.e.st.agendas[c]
	return cloneAgenda(a), ok
}

func (h *harness) queued() []Job {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return h.e.queue.snapshot()
}

func (h *harness) lastChat(c ContactID) ChatMessage {
	ch, err := h.e.ChatHistory(c)
	if err != nil || len(ch.Messages) == 0 {
		return ChatMessage{}
	}
	return ch.Messages[len(ch.Messages)-1]
}

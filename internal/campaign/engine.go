package campaign

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outreach/internal/eventbus"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

// Transport delivers text to a contact.
type Transport interface {
	SendText(ctx context.Context, to string, text string) error
}

// Persister loads and saves named collections.
type Persister interface {
	Load(ctx context.Context, name string, dst any) (storage.LoadResult, error)
	Save(ctx context.Context, name string, v any) error
}

// Auditor records dashboard and operator actions.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithSleep replaces the jitter sleep. It must return early with ctx.Err()
// when ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

func WithBus(bus eventbus.Bus) Option   { return func(e *Engine) { e.bus = bus } }
func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }
func WithAuditor(a Auditor) Option      { return func(e *Engine) { e.audit = a } }
func WithRand(fn func(n int64) int64) Option {
	return func(e *Engine) { e.randN = fn }
}

// Engine is the single writer over the campaign collections. One mutex
// guards the collections, the queue, the due heap, the echo registry and
// the in-flight flag; it is never held across a transport call or the
// jitter sleep.
type Engine struct {
	log   logx.Logger
	bus   eventbus.Bus
	store Persister
	tx    Transport
	audit Auditor
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randN func(n int64) int64

	mu         sync.Mutex
	settings   Settings
	parser     AppointmentParser
	limiter    *rate.Limiter
	st         state
	queue      jobQueue
	due        dueHeap
	echoes     echoRegistry
	sendingNow bool
	inflight   *jobKey
	connected  bool
	loaded     bool
}

func New(settings Settings, store Persister, tx Transport, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		tx:     tx,
		now:    time.Now,
		sleep:  sleepCtx,
		randN:  randInt64N,
		st:     newState(),
		echoes: newEchoRegistry(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "campaign"))
	e.applyLocked(settings)
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Apply swaps the tunables at runtime. Existing due times are kept; new
// offsets apply from the next transition.
func (e *Engine) Apply(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(s)
	e.log.Info("campaign settings applied",
		logx.Int("funnel_steps", len(e.settings.FunnelSteps)),
		logx.Int("window_start", e.settings.WindowStart),
		logx.Int("window_end", e.settings.WindowEnd),
		logx.Bool("automation", e.settings.AutomationEnabled),
		logx.Bool("dry_run", e.settings.DryRun),
	)
}

func (e *Engine) applyLocked(s Settings) {
	s = s.normalize()
	prev := e.settings.MaxSendsPerHour
	e.settings = s
	e.parser = NewAppointmentParser(s.AppointmentKeywords, s.Location, s.DefaultApptHour, s.DefaultApptMinute)
	if e.limiter == nil || prev != s.MaxSendsPerHour {
		e.limiter = newSendLimiter(s.MaxSendsPerHour)
	}
}

func newSendLimiter(perHour int) *rate.Limiter {
	if perHour <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), 1)
}

func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SetConnected records transport connectivity. The sender holds jobs while
// disconnected.
func (e *Engine) SetConnected(ok bool) {
	e.mu.Lock()
	changed := e.connected != ok
	e.connected = ok
	e.mu.Unlock()
	if changed {
		e.log.Info("transport connectivity changed", logx.Bool("connected", ok))
		e.publish(EventConnectivity, "", map[string]any{"connected": ok})
	}
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Load reads every collection, repairs cross-collection invariants and
// rebuilds the due heap. It must run before any other method.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := newState()
	for _, name := range AllCollections {
		res, err := e.store.Load(ctx, name, st.collection(name))
		if err != nil {
			return err
		}
		if res != storage.Loaded {
			e.log.Info("collection initialized", logx.String("collection", name), logx.String("result", res.String()))
		}
	}
	st.ensure()
	e.st = st

	if dirty := e.repairLocked(); len(dirty) > 0 {
		e.log.Warn("repaired inconsistent collections", logx.Strings("collections", dirty))
		if err := e.saveLocked(ctx, dirty...); err != nil {
			return err
		}
	}
	e.rebuildDueLocked()
	e.loaded = true
	e.log.Info("campaign state loaded",
		logx.Int("contacts", len(e.st.contacts)),
		logx.Int("agendas", len(e.st.agendas)),
		logx.Int("scheduled", len(e.st.scheduled)),
		logx.Int("blocked", len(e.st.blocked)),
		logx.Int("paused", len(e.st.paused)),
	)
	return nil
}

// repairLocked enforces what a crash between two saves could break: blocked
// contacts own nothing, paused contacts have no funnel record, a scheduled
// start and an agenda never coexist, and a post-sale contact never steps.
func (e *Engine) repairLocked() []string {
	dirty := map[string]bool{}
	for c := range e.st.blocked {
		if _, ok := e.st.contacts[c]; ok {
			delete(e.st.contacts, c)
			dirty[CollContacts] = true
		}
		if _, ok := e.st.paused[c]; ok {
			delete(e.st.paused, c)
			dirty[CollPaused] = true
		}
		if _, ok := e.st.agendas[c]; ok {
			delete(e.st.agendas, c)
			dirty[CollAgendas] = true
		}
		if _, ok := e.st.scheduled[c]; ok {
			delete(e.st.scheduled, c)
			dirty[CollScheduled] = true
		}
	}
	for c := range e.st.paused {
		if _, ok := e.st.contacts[c]; ok {
			delete(e.st.contacts, c)
			dirty[CollContacts] = true
		}
	}
	for c := range e.st.scheduled {
		if _, ok := e.st.agendas[c]; ok {
			delete(e.st.scheduled, c)
			dirty[CollScheduled] = true
		}
	}
	for c, ct := range e.st.contacts {
		if ct.Stage.Kind == StageStepping && ct.Stage.Step > e.settings.lastStep() {
			ct.Stage = Recurring()
			e.st.contacts[c] = ct
			dirty[CollContacts] = true
		}
	}
	var out []string
	for _, name := range AllCollections {
		if dirty[name] {
			out = append(out, name)
		}
	}
	return out
}

func (e *Engine) rebuildDueLocked() {
	h := make(dueHeap, 0, len(e.st.contacts)+len(e.st.scheduled)+len(e.st.agendas)*3)
	for c, ct := range e.st.contacts {
		if !ct.NextFollowUpAt.IsZero() {
			h = append(h, dueItem{At: ct.NextFollowUpAt, Contact: c, Kind: JobFunnelStep})
		}
	}
	for c, a := range e.st.agendas {
		for _, r := range a.Reminders {
			h = append(h, dueItem{At: r.FireAt, Contact: c, Kind: JobAgendaReminder, Key: r.Key})
		}
	}
	for c, s := range e.st.scheduled {
		h = append(h, dueItem{At: s.FireAt, Contact: c, Kind: JobScheduledStart})
	}
	heapInit(&h)
	e.due = h
}

// saveLocked persists the named collections. A failed save leaves memory
// ahead of disk; the next successful save of that collection catches up.
func (e *Engine) saveLocked(ctx context.Context, names ...string) error {
	var first error
	for _, name := range names {
		if err := e.store.Save(ctx, name, e.st.collection(name)); err != nil {
			e.log.Error("save collection failed", logx.String("collection", name), logx.Err(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// saveQuietly is saveLocked for paths with no caller to report to, such as
// inbound handling. Failures are already logged by saveLocked and the
// in-memory state stays authoritative until the next successful save.
func (e *Engine) saveQuietly(ctx context.Context, names ...string) {
	if err := e.saveLocked(ctx, names...); err != nil {
		e.publish(EventSaveFailed, "", map[string]any{"collections": names, "err": err.Error()})
	}
}

type actorKey struct{}

// WithActor tags ctx with who performs a dashboard action ("api",
// "telegram:42", ...). It ends up in the audit trail.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if s, ok := ctx.Value(actorKey{}).(string); ok && s != "" {
		return s
	}
	return "engine"
}

func (e *Engine) recordAudit(ctx context.Context, action string, c ContactID, detail string, err error) {
	if e.audit == nil {
		return
	}
	entry := storage.AuditEntry{
		At:      e.now(),
		Actor:   actorFrom(ctx),
		Action:  action,
		Contact: string(c),
		Detail:  detail,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if aerr := e.audit.AppendAudit(ctx, entry); aerr != nil {
		e.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

// Package whatsapp is the transport adapter for a paired WhatsApp Web
// session. It reports direct-chat messages (both directions) and
// connectivity, and sends plain text.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	_ "modernc.org/sqlite"

	rtsup "outreach/internal/runtime/supervisor"
	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

type Config struct {
	// SessionDB is the sqlite file holding the device keys.
	SessionDB    string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// QRFile, when set, receives the pairing code as a PNG.
	QRFile string
	// QROut receives the terminal rendering of the pairing code. Defaults
	// to stdout.
	QROut io.Writer
	// Verbose forwards whatsmeow debug logs.
	Verbose bool
}

type Adapter struct {
	cfg Config
	log logx.Logger

	container *sqlstore.Container

	clientMu sync.RWMutex
	client   *whatsmeow.Client

	out       atomic.Value // chan<- transport.Event
	connected atomic.Bool
	dropped   atomic.Uint64
	// kick wakes the session loop after a disconnect or logout.
	kick chan struct{}

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

var _ transport.Adapter = (*Adapter)(nil)

// New opens the session store and prepares a client for the first stored
// device, or a fresh one that will pair on Start.
func New(ctx context.Context, cfg Config, log logx.Logger) (*Adapter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "whatsapp"))
	if strings.TrimSpace(cfg.SessionDB) == "" {
		return nil, errors.New("whatsapp session db path is empty")
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 2 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 2 * time.Minute
	}
	if cfg.QROut == nil {
		cfg.QROut = os.Stdout
	}
	if dir := filepath.Dir(cfg.SessionDB); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("whatsapp session dir: %w", err)
		}
	}

	dsn := "file:" + cfg.SessionDB + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newWALogger(log, "store", cfg.Verbose))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}

	a := &Adapter{cfg: cfg, log: log, container: container, kick: make(chan struct{}, 1)}
	var nilOut chan<- transport.Event
	a.out.Store(nilOut)
	a.setClient(whatsmeow.NewClient(device, newWALogger(log, "client", cfg.Verbose)))
	return a, nil
}

func (a *Adapter) setClient(c *whatsmeow.Client) {
	// Reconnects are driven by the session loop so they share its backoff.
	c.EnableAutoReconnect = false
	c.AddEventHandler(a.handleEvent)
	a.clientMu.Lock()
	a.client = c
	a.clientMu.Unlock()
}

func (a *Adapter) cli() *whatsmeow.Client {
	a.clientMu.RLock()
	defer a.clientMu.RUnlock()
	return a.client
}

// Supervisor exposes the adapter goroutines for health reporting.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Event) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("events.drop_report", func(c context.Context) {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped()
				return
			case <-ticker.C:
				a.reportDropped()
			}
		}
	})
	sup.Go("session", a.session)

	<-sup.Context().Done()
	err := sup.Wait(context.Background())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Adapter) reportDropped() {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("inbound events dropped (consumer too slow)", logx.Int64("count", int64(n)))
	}
}

// session keeps the client connected, pairing first when the device has
// no identity yet.
func (a *Adapter) session(ctx context.Context) error {
	b := rtsup.Backoff{Min: a.cfg.ReconnectMin, Max: a.cfg.ReconnectMax}
	for {
		err := a.connect(ctx)
		if ctx.Err() != nil {
			a.cli().Disconnect()
			return nil
		}
		if err != nil {
			d := b.Next()
			a.log.Warn("whatsapp connect failed", logx.Err(err), logx.Duration("retry_in", d))
			if !wait(ctx, d) {
				return nil
			}
			continue
		}
		b.Reset()

		select {
		case <-ctx.Done():
			a.cli().Disconnect()
			a.setConnected(false)
			return nil
		case <-a.kick:
		}
		if !wait(ctx, b.Next()) {
			return nil
		}
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (a *Adapter) connect(ctx context.Context) error {
	c := a.cli()
	if c.IsConnected() {
		c.Disconnect()
	}
	if c.Store.ID == nil {
		return a.pair(ctx, c)
	}
	return c.Connect()
}

// pair shows QR codes until the phone scans one or the codes run out.
func (a *Adapter) pair(ctx context.Context, c *whatsmeow.Client) error {
	qrCh, err := c.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := c.Connect(); err != nil {
		return err
	}
	a.log.Info("device not paired; waiting for QR scan")
	for item := range qrCh {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if err := a.showQR(item.Code); err != nil {
				a.log.Warn("render qr code failed", logx.Err(err))
			}
		case whatsmeow.QRChannelSuccess.Event:
			a.log.Info("device paired", logx.String("jid", c.Store.ID.String()))
			return nil
		case whatsmeow.QRChannelTimeout.Event:
			c.Disconnect()
			return errors.New("qr pairing timed out")
		case whatsmeow.QRChannelEventError:
			c.Disconnect()
			return fmt.Errorf("qr pairing: %w", item.Error)
		default:
			a.log.Warn("qr pairing event", logx.String("event", item.Event))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("qr channel closed before pairing")
}

func (a *Adapter) signal() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *Adapter) setConnected(ok bool) {
	if a.connected.Swap(ok) == ok {
		return
	}
	a.log.Info("whatsapp connectivity changed", logx.Bool("connected", ok))
	a.emit(transport.Connectivity(ok))
}

func (a *Adapter) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		a.onMessage(v)
	case *events.Connected:
		a.setConnected(true)
	case *events.Disconnected:
		a.setConnected(false)
		a.signal()
	case *events.StreamReplaced:
		a.log.Warn("session opened elsewhere")
		a.setConnected(false)
		a.signal()
	case *events.LoggedOut:
		a.log.Error("whatsapp session logged out; pairing again", logx.String("reason", v.Reason.String()))
		a.setConnected(false)
		a.setClient(whatsmeow.NewClient(a.container.NewDevice(), newWALogger(a.log, "client", a.cfg.Verbose)))
		a.signal()
	}
}

func (a *Adapter) onMessage(m *events.Message) {
	info := m.Info
	kind := chatKind(info.Chat)
	if kind != transport.ChatDirect {
		return
	}
	body := strings.TrimSpace(textOf(m.Message))
	if body == "" {
		return
	}
	peer := info.Chat
	if peer.Server == types.HiddenUserServer {
		pn, err := a.cli().Store.LIDs.GetPNForLID(context.Background(), peer)
		if err != nil || pn.IsEmpty() {
			a.log.Debug("no phone number for lid chat", logx.String("chat", peer.String()), logx.Err(err))
			return
		}
		peer = pn
	}
	id, ok := contactID(peer)
	if !ok {
		return
	}
	a.emit(transport.Event{Inbound: &transport.Inbound{
		ContactID: id,
		FromMe:    info.IsFromMe,
		Body:      body,
		Timestamp: info.Timestamp,
		Chat:      kind,
		MessageID: info.ID,
	}})
}

// emit hands ev to the consumer, waiting briefly before dropping it.
func (a *Adapter) emit(ev transport.Event) {
	out, _ := a.out.Load().(chan<- transport.Event)
	if out == nil {
		return
	}
	select {
	case out <- ev:
		return
	default:
	}
	t := time.NewTimer(5 * time.Second)
	defer t.Stop()
	select {
	case out <- ev:
	case <-t.C:
		a.dropped.Add(1)
	}
}

func (a *Adapter) SendText(ctx context.Context, contactID, text string) error {
	c := a.cli()
	if !a.connected.Load() || !c.IsConnected() {
		return transport.ErrNotConnected
	}
	jid := types.NewJID(contactID, types.DefaultUserServer)
	if _, err := c.SendMessage(ctx, jid, textMessage(text)); err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", contactID, err)
	}
	return nil
}

func (a *Adapter) Connected() bool { return a.connected.Load() }

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Event
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if wasRunning && sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("whatsapp stop timed out", logx.Err(err))
		}
	}
	a.cli().Disconnect()
	a.connected.Store(false)
	return a.container.Close()
}

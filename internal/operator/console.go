package operator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "outreach/internal/runtime/supervisor"
	logx "outreach/pkg/logx"
)

type Config struct {
	Token       string
	Owners      []int64
	AlertChatID int64
	PollTimeout time.Duration
	// Region is the phone region for numbers typed without a country code.
	Region string
}

// Console connects the Router to a Telegram bot. It also implements
// logx.AlertSender.
type Console struct {
	cfg    Config
	log    logx.Logger
	bot    *tele.Bot
	router *Router

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

var _ logx.AlertSender = (*Console)(nil)

func New(cfg Config, eng Engine, log logx.Logger) (*Console, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("operator telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "operator"))
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telegram error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	c := &Console{cfg: cfg, log: log, bot: b, router: NewRouter(eng, cfg.Owners, cfg.Region, log)}
	b.Handle(tele.OnText, c.onText)
	return c, nil
}

// SetOwners applies a reloaded owner list.
func (c *Console) SetOwners(ids []int64) { c.router.SetOwners(ids) }

func (c *Console) onText(tc tele.Context) error {
	m := tc.Message()
	if m == nil || m.Sender == nil {
		return nil
	}
	ctx := context.Background()
	if sup := c.Supervisor(); sup != nil {
		ctx = sup.Context()
	}
	reply, ok := c.router.Handle(ctx, m.Sender.ID, m.Text)
	if !ok || reply == "" {
		return nil
	}
	return tc.Send(reply, &tele.SendOptions{DisableWebPagePreview: true})
}

func (c *Console) Supervisor() *rtsup.Supervisor {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.sup
}

func (c *Console) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.sup = rtsup.New(ctx, rtsup.WithLogger(c.log), rtsup.WithCancelOnError(false))
	sup := c.sup
	c.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		c.bot.Stop()
	})
	// telebot's Start can return on its own in some failure modes.
	sup.GoRestart0("telebot.poll", func(context.Context) {
		c.log.Info("polling started")
		c.bot.Start()
		c.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (c *Console) Stop(ctx context.Context) error {
	c.runMu.Lock()
	sup := c.sup
	c.sup = nil
	was := c.running
	c.running = false
	c.runMu.Unlock()
	if !was || sup == nil {
		return nil
	}
	sup.Cancel()
	// Keep shutdown snappy even if a long poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("operator stop timed out", logx.Err(err))
	}
	return nil
}

// SendAlert delivers a log alert to the alert chat, or to the first owner
// when no alert chat is configured.
func (c *Console) SendAlert(ctx context.Context, text string) error {
	chatID := c.cfg.AlertChatID
	if chatID == 0 {
		owners := c.router.ownersSnapshot()
		if len(owners) == 0 {
			return errors.New("no alert chat configured")
		}
		chatID = owners[0]
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

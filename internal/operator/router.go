// Package operator is the owner's Telegram console over the campaign
// engine, and the destination for log alerts.
package operator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"outreach/internal/campaign"
	"outreach/internal/phone"
	logx "outreach/pkg/logx"
)

// Engine is the part of the campaign engine the console drives.
type Engine interface {
	Status() campaign.Status
	Snapshot() campaign.Snapshot
	Settings() campaign.Settings
	Contact(c campaign.ContactID) (campaign.ContactView, error)
	PauseContact(ctx context.Context, c campaign.ContactID) error
	BlockContact(ctx context.Context, c campaign.ContactID, reason string) error
	MarkAsPostSaleClient(ctx context.Context, c campaign.ContactID) error
	CreateOrReplaceAgenda(ctx context.Context, c campaign.ContactID, appt time.Time, details map[string]string) (campaign.Agenda, error)
	CancelAgenda(ctx context.Context, c campaign.ContactID) error
	CreateScheduledStart(ctx context.Context, c campaign.ContactID, fireAt time.Time, text string) error
	CancelScheduledStart(ctx context.Context, c campaign.ContactID) error
	SendNow(ctx context.Context, c campaign.ContactID, text string) error
	SendConfirmation(ctx context.Context, c campaign.ContactID) error
}

type Request struct {
	FromID  int64
	Command string
	Args    []string
	// Rest is the text after the command and its first argument, spacing
	// kept, for commands that take free text.
	Rest string
}

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []logx.Field{
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("command ok", fields...)
			}
			return reply, err
		}
	}
}

type Command struct {
	Name        string
	Usage       string
	Description string
	Handle      HandlerFunc
}

// Router parses console text and runs owner-only commands.
type Router struct {
	eng    Engine
	log    logx.Logger
	region string

	mu     sync.RWMutex
	owners []int64

	cmds map[string]Command
}

func NewRouter(eng Engine, owners []int64, region string, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{eng: eng, log: log, region: region, owners: slices.Clone(owners)}
	r.cmds = map[string]Command{}
	for _, c := range r.commands() {
		r.cmds[c.Name] = c
	}
	return r
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.owners)
}

func (r *Router) isOwner(id int64) bool {
	return slices.Contains(r.ownersSnapshot(), id)
}

// Handle runs one console message and returns the reply. ok is false when
// the message is not a command or the sender is not an owner; such
// messages get no reply at all.
func (r *Router) Handle(ctx context.Context, fromID int64, text string) (reply string, ok bool) {
	req, isCmd := parseCommand(text)
	if !isCmd {
		return "", false
	}
	if !r.isOwner(fromID) {
		r.log.Warn("command from non-owner ignored", logx.Int64("from_id", fromID), logx.String("cmd", req.Command))
		return "", false
	}
	req.FromID = fromID

	cmd, found := r.cmds[req.Command]
	if !found {
		return "Unknown command. Try /help.", true
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(30*time.Second),
	)
	ctx = campaign.WithActor(ctx, fmt.Sprintf("telegram:%d", fromID))
	out, err := h(ctx, req)
	if err != nil {
		return errorText(err, cmd), true
	}
	return out, true
}

// parseCommand splits "/cmd@bot a b rest..." into its parts.
func parseCommand(text string) (*Request, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return nil, false
	}
	head, tail, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	req := &Request{Command: strings.ToLower(head), Args: strings.Fields(tail)}
	if len(req.Args) > 0 {
		_, rest, _ := strings.Cut(strings.TrimSpace(tail), req.Args[0])
		req.Rest = strings.TrimSpace(rest)
	}
	return req, true
}

var errUsage = errors.New("usage")

func errorText(err error, cmd Command) string {
	switch {
	case errors.Is(err, errUsage):
		return "Usage: " + cmd.Usage
	case errors.Is(err, phone.ErrInvalid):
		return "Invalid phone number."
	case errors.Is(err, campaign.ErrBlocked):
		return "Contact is blocked."
	case errors.Is(err, campaign.ErrNotFound):
		return "Not found."
	case errors.Is(err, campaign.ErrDisconnected):
		return "WhatsApp is disconnected; try again later."
	case errors.Is(err, campaign.ErrInvalidArgument):
		return "Invalid argument: " + err.Error()
	default:
		return "Failed: " + err.Error()
	}
}

func (r *Router) contactArg(req *Request) (campaign.ContactID, error) {
	if len(req.Args) == 0 {
		return "", errUsage
	}
	id, err := phone.Normalize(req.Args[0], r.region)
	if err != nil {
		return "", err
	}
	return campaign.ContactID(id), nil
}

// parseWhen reads "dd/mm/yyyy [hh:mm]" from args in the campaign zone and
// returns how many args it used. The time defaults to the configured
// appointment time.
func parseWhen(args []string, s campaign.Settings) (time.Time, int, error) {
	if len(args) == 0 {
		return time.Time{}, 0, errUsage
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	clock, used := fmt.Sprintf("%02d:%02d", s.DefaultApptHour, s.DefaultApptMinute), 1
	if len(args) > 1 && strings.Contains(args[1], ":") {
		clock, used = args[1], 2
	}
	t, err := time.ParseInLocation("2/1/2006 15:04", args[0]+" "+clock, loc)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("date %q: %w", strings.Join(args[:used], " "), campaign.ErrInvalidArgument)
	}
	return t, used, nil
}

func (r *Router) helpText() string {
	names := make([]string, 0, len(r.cmds))
	for n := range r.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range names {
		c := r.cmds[n]
		fmt.Fprintf(&b, "%s - %s\n", c.Usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

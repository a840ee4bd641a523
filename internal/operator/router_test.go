package operator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"outreach/internal/campaign"
	logx "outreach/pkg/logx"
)

type call struct {
	op      string
	contact campaign.ContactID
	at      time.Time
	text    string
}

type fakeEngine struct {
	calls []call
	err   error
	view  campaign.ContactView
	snap  campaign.Snapshot
}

var brt = time.FixedZone("BRT", -3*3600)

func (f *fakeEngine) record(_ context.Context, op string, c campaign.ContactID, at time.Time, text string) error {
	f.calls = append(f.calls, call{op: op, contact: c, at: at, text: text})
	return f.err
}

func (f *fakeEngine) Status() campaign.Status {
	return campaign.Status{Contacts: 3, Blocked: 1, Connected: true, Automation: true}
}
func (f *fakeEngine) Snapshot() campaign.Snapshot { return f.snap }
func (f *fakeEngine) Settings() campaign.Settings {
	s := campaign.DefaultSettings()
	s.Location = brt
	return s
}
func (f *fakeEngine) Contact(c campaign.ContactID) (campaign.ContactView, error) {
	if f.err != nil {
		return campaign.ContactView{}, f.err
	}
	v := f.view
	v.Contact = c
	return v, nil
}
func (f *fakeEngine) PauseContact(ctx context.Context, c campaign.ContactID) error {
	return f.record(ctx, "pause", c, time.Time{}, "")
}
func (f *fakeEngine) BlockContact(ctx context.Context, c campaign.ContactID, reason string) error {
	return f.record(ctx, "block", c, time.Time{}, reason)
}
func (f *fakeEngine) MarkAsPostSaleClient(ctx context.Context, c campaign.ContactID) error {
	return f.record(ctx, "client", c, time.Time{}, "")
}
func (f *fakeEngine) CreateOrReplaceAgenda(ctx context.Context, c campaign.ContactID, appt time.Time, _ map[string]string) (campaign.Agenda, error) {
	err := f.record(ctx, "agenda", c, appt, "")
	return campaign.Agenda{AppointmentAt: appt, Reminders: make([]campaign.Reminder, 2)}, err
}
func (f *fakeEngine) CancelAgenda(ctx context.Context, c campaign.ContactID) error {
	return f.record(ctx, "unagenda", c, time.Time{}, "")
}
func (f *fakeEngine) CreateScheduledStart(ctx context.Context, c campaign.ContactID, at time.Time, text string) error {
	return f.record(ctx, "program", c, at, text)
}
func (f *fakeEngine) CancelScheduledStart(ctx context.Context, c campaign.ContactID) error {
	return f.record(ctx, "unprogram", c, time.Time{}, "")
}
func (f *fakeEngine) SendNow(ctx context.Context, c campaign.ContactID, text string) error {
	return f.record(ctx, "send", c, time.Time{}, text)
}
func (f *fakeEngine) SendConfirmation(ctx context.Context, c campaign.ContactID) error {
	return f.record(ctx, "confirm", c, time.Time{}, "")
}

const owner = 42

func newTestRouter() (*Router, *fakeEngine) {
	f := &fakeEngine{}
	return NewRouter(f, []int64{owner}, "BR", logx.Nop()), f
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text    string
		cmd     string
		args    int
		rest    string
		wantCmd bool
	}{
		{"/status", "status", 0, "", true},
		{"/Send@outreach_bot 11988887777   Olá,  tudo bem?", "send", 3, "Olá,  tudo bem?", true},
		{"  /block 11988887777 pediu para sair ", "block", 4, "pediu para sair", true},
		{"hello", "", 0, "", false},
		{"/", "", 0, "", false},
	}
	for _, tt := range tests {
		req, ok := parseCommand(tt.text)
		if ok != tt.wantCmd {
			t.Fatalf("parseCommand(%q) ok = %v, want %v", tt.text, ok, tt.wantCmd)
		}
		if !ok {
			continue
		}
		if req.Command != tt.cmd || len(req.Args) != tt.args || req.Rest != tt.rest {
			t.Fatalf("parseCommand(%q) = %+v", tt.text, req)
		}
	}
}

func TestRouterOwnerOnly(t *testing.T) {
	t.Parallel()
	r, f := newTestRouter()
	if reply, ok := r.Handle(context.Background(), 7, "/pause 11988887777"); ok || reply != "" {
		t.Fatalf("Handle(non-owner) = %q, %v", reply, ok)
	}
	if len(f.calls) != 0 {
		t.Fatalf("calls = %v, want none", f.calls)
	}
	if _, ok := r.Handle(context.Background(), owner, "just chatting"); ok {
		t.Fatalf("Handle(plain text) ok = true")
	}

	r.SetOwners([]int64{7})
	if _, ok := r.Handle(context.Background(), 7, "/status"); !ok {
		t.Fatalf("Handle(new owner) ok = false")
	}
	if _, ok := r.Handle(context.Background(), owner, "/status"); ok {
		t.Fatalf("Handle(removed owner) ok = true")
	}
}

func TestRouterCommands(t *testing.T) {
	t.Parallel()
	const c = campaign.ContactID("5511988887777")
	tests := []struct {
		text  string
		op    string
		at    time.Time
		arg   string
		reply string
	}{
		{text: "/pause (11) 98888-7777", op: "pause", reply: "Paused: +55 11 98888-7777"},
		{text: "/block 11988887777 pediu para sair", op: "block", arg: "pediu para sair", reply: "Blocked"},
		{text: "/client +5511988887777", op: "client", reply: "Marked as client"},
		{text: "/agenda 11988887777 20/12/2025 14:30", op: "agenda", at: time.Date(2025, 12, 20, 14, 30, 0, 0, brt), reply: "20/12/2025 14:30, 2 reminders"},
		{text: "/agenda 11988887777 5/1/2026", op: "agenda", at: time.Date(2026, 1, 5, 9, 0, 0, 0, brt), reply: "05/01/2026 09:00"},
		{text: "/unagenda 11988887777", op: "unagenda", reply: "Agenda canceled"},
		{text: "/program 11988887777 02/12/2025 10:00 Bom dia!", op: "program", at: time.Date(2025, 12, 2, 10, 0, 0, 0, brt), arg: "Bom dia!", reply: "scheduled for 02/12/2025 10:00"},
		{text: "/program 11988887777 02/12/2025", op: "program", at: time.Date(2025, 12, 2, 9, 0, 0, 0, brt), reply: "scheduled"},
		{text: "/unprogram 11988887777", op: "unprogram", reply: "canceled"},
		{text: "/send 11988887777 Olá, tudo bem?", op: "send", arg: "Olá, tudo bem?", reply: "Sent to"},
		{text: "/confirm 11988887777", op: "confirm", reply: "Confirmation sent"},
	}
	for _, tt := range tests {
		r, f := newTestRouter()
		reply, ok := r.Handle(context.Background(), owner, tt.text)
		if !ok || !strings.Contains(reply, tt.reply) {
			t.Fatalf("Handle(%q) = %q, %v; want reply containing %q", tt.text, reply, ok, tt.reply)
		}
		if len(f.calls) != 1 {
			t.Fatalf("Handle(%q) calls = %d, want 1", tt.text, len(f.calls))
		}
		got := f.calls[0]
		if got.op != tt.op || got.contact != c || !got.at.Equal(tt.at) || got.text != tt.arg {
			t.Fatalf("Handle(%q) call = %+v", tt.text, got)
		}
	}
}

func TestRouterErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text  string
		err   error
		reply string
	}{
		{"/pause", nil, "Usage: /pause <phone>"},
		{"/pause 123", nil, "Invalid phone number."},
		{"/send 11988887777", nil, "Usage: /send <phone> <text>"},
		{"/agenda 11988887777 31/02/2025", nil, "Invalid argument"},
		{"/agenda 11988887777", nil, "Usage:"},
		{"/pause 11988887777", fmt.Errorf("pause: %w", campaign.ErrBlocked), "Contact is blocked."},
		{"/unagenda 11988887777", fmt.Errorf("x: %w", campaign.ErrNotFound), "Not found."},
		{"/send 11988887777 oi", campaign.ErrDisconnected, "disconnected"},
		{"/nope", nil, "Unknown command"},
	}
	for _, tt := range tests {
		r, f := newTestRouter()
		f.err = tt.err
		reply, ok := r.Handle(context.Background(), owner, tt.text)
		if !ok || !strings.Contains(reply, tt.reply) {
			t.Fatalf("Handle(%q) = %q, %v; want %q", tt.text, reply, ok, tt.reply)
		}
	}
}

func TestRouterReadCommands(t *testing.T) {
	t.Parallel()
	r, f := newTestRouter()
	reply, _ := r.Handle(context.Background(), owner, "/status")
	for _, want := range []string{"WhatsApp: connected", "Automation: on, dry run: off", "Funnel: 3", "blocked: 1"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("/status = %q, missing %q", reply, want)
		}
	}

	reply, _ = r.Handle(context.Background(), owner, "/queue")
	if reply != "Queue is empty." {
		t.Fatalf("/queue = %q", reply)
	}
	f.snap.Queue = []campaign.Job{
		{Contact: "5511988887777", Kind: campaign.JobFunnelStep},
		{Contact: "5511988887777", Kind: campaign.JobAgendaReminder, Key: "agenda1"},
	}
	reply, _ = r.Handle(context.Background(), owner, "/queue")
	if !strings.Contains(reply, "Queue (2)") || !strings.Contains(reply, "agenda_reminder agenda1") {
		t.Fatalf("/queue = %q", reply)
	}

	next := time.Date(2025, 12, 4, 13, 0, 0, 0, time.UTC)
	f.view = campaign.ContactView{
		Funnel: &campaign.Contact{Stage: campaign.Stepping(1), NextFollowUpAt: next},
		Unread: 2,
	}
	reply, _ = r.Handle(context.Background(), owner, "/contact 11988887777")
	for _, want := range []string{"+55 11 98888-7777", "Funnel: stepping(1), next 04/12/2025 10:00", "Unread: 2"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("/contact = %q, missing %q", reply, want)
		}
	}

	reply, _ = r.Handle(context.Background(), owner, "/help")
	if !strings.Contains(reply, "/program <phone>") {
		t.Fatalf("/help = %q", reply)
	}
}

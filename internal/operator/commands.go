package operator

import (
	"context"
	"fmt"
	"strings"

	"outreach/internal/campaign"
	"outreach/internal/phone"
)

const stamp = "02/01/2006 15:04"

func (r *Router) commands() []Command {
	return []Command{
		{Name: "help", Usage: "/help", Description: "list commands", Handle: func(context.Context, *Request) (string, error) {
			return r.helpText(), nil
		}},
		{Name: "status", Usage: "/status", Description: "engine status", Handle: r.cmdStatus},
		{Name: "queue", Usage: "/queue", Description: "queued sends", Handle: r.cmdQueue},
		{Name: "contact", Usage: "/contact <phone>", Description: "everything about a contact", Handle: r.cmdContact},
		{Name: "pause", Usage: "/pause <phone>", Description: "pause automated messages", Handle: r.simple(func(ctx context.Context, c campaign.ContactID, _ *Request) error {
			return r.eng.PauseContact(ctx, c)
		}, "Paused")},
		{Name: "block", Usage: "/block <phone> [reason]", Description: "stop all automated messages for good", Handle: r.simple(func(ctx context.Context, c campaign.ContactID, req *Request) error {
			return r.eng.BlockContact(ctx, c, req.Rest)
		}, "Blocked")},
		{Name: "client", Usage: "/client <phone>", Description: "mark as post-sale client", Handle: r.simple(func(ctx context.Context, c campaign.ContactID, _ *Request) error {
			return r.eng.MarkAsPostSaleClient(ctx, c)
		}, "Marked as client")},
		{Name: "agenda", Usage: "/agenda <phone> <dd/mm/yyyy> [hh:mm]", Description: "book an appointment", Handle: r.cmdAgenda},
		{Name: "unagenda", Usage: "/unagenda <phone>", Description: "cancel the appointment", Handle: r.simple(func(ctx context.Context, c campaign.ContactID, _ *Request) error {
			return r.eng.CancelAgenda(ctx, c)
		}, "Agenda canceled")},
		{Name: "program", Usage: "/program <phone> <dd/mm/yyyy> [hh:mm] [text]", Description: "schedule the first message", Handle: r.cmdProgram},
		{Name: "unprogram", Usage: "/unprogram <phone>", Description: "cancel the scheduled first message", Handle: r.simple(func(ctx context.Context, c campaign.ContactID, _ *Request) error {
			return r.eng.CancelScheduledStart(ctx, c)
		}, "Scheduled start canceled")},
		{Name: "send", Usage: "/send <phone> <text>", Description: "send a message now", Handle: r.cmdSend},
		{Name: "confirm", Usage: "/confirm <phone>", Description: "send the appointment confirmation", Handle: r.simple(func(ctx context.Context, c campaign.ContactID, _ *Request) error {
			return r.eng.SendConfirmation(ctx, c)
		}, "Confirmation sent")},
	}
}

// simple wraps a contact-only action with a fixed success reply.
func (r *Router) simple(fn func(ctx context.Context, c campaign.ContactID, req *Request) error, done string) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		c, err := r.contactArg(req)
		if err != nil {
			return "", err
		}
		if err := fn(ctx, c, req); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %s", done, phone.Display(string(c))), nil
	}
}

func connState(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (r *Router) cmdStatus(context.Context, *Request) (string, error) {
	st := r.eng.Status()
	lines := []string{
		"WhatsApp: " + connState(st.Connected),
		fmt.Sprintf("Automation: %s, dry run: %s", onOff(st.Automation), onOff(st.DryRun)),
		fmt.Sprintf("Funnel: %d, agendas: %d, scheduled: %d", st.Contacts, st.Agendas, st.Scheduled),
		fmt.Sprintf("Paused: %d, blocked: %d", st.Paused, st.Blocked),
		fmt.Sprintf("Queue: %d, sending: %v", st.Queue, st.SendingNow),
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) cmdQueue(context.Context, *Request) (string, error) {
	q := r.eng.Snapshot().Queue
	if len(q) == 0 {
		return "Queue is empty.", nil
	}
	const limit = 20
	var b strings.Builder
	fmt.Fprintf(&b, "Queue (%d):\n", len(q))
	for i, j := range q {
		if i == limit {
			fmt.Fprintf(&b, "... and %d more", len(q)-limit)
			break
		}
		kind := j.Kind.String()
		if j.Key != "" {
			kind += " " + j.Key
		}
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, phone.Display(string(j.Contact)), kind)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) cmdContact(_ context.Context, req *Request) (string, error) {
	c, err := r.contactArg(req)
	if err != nil {
		return "", err
	}
	v, err := r.eng.Contact(c)
	if err != nil {
		return "", err
	}
	loc := r.eng.Settings().Location
	lines := []string{phone.Display(string(c))}
	if v.Blocked != nil {
		lines = append(lines, fmt.Sprintf("Blocked since %s (%s)", v.Blocked.BlockedAt.In(loc).Format(stamp), v.Blocked.Reason))
	}
	if v.Paused != nil {
		lines = append(lines, "Paused at "+v.Paused.PausedAt.In(loc).Format(stamp))
	}
	if f := v.Funnel; f != nil {
		line := "Funnel: " + f.Stage.String()
		if !f.NextFollowUpAt.IsZero() {
			line += ", next " + f.NextFollowUpAt.In(loc).Format(stamp)
		}
		lines = append(lines, line)
	}
	if a := v.Agenda; a != nil {
		lines = append(lines, fmt.Sprintf("Appointment %s, %d reminders left", a.AppointmentAt.In(loc).Format(stamp), len(a.Reminders)))
	}
	if s := v.Scheduled; s != nil {
		lines = append(lines, "First message at "+s.FireAt.In(loc).Format(stamp))
	}
	if len(v.Queued) > 0 {
		lines = append(lines, fmt.Sprintf("Queued jobs: %d", len(v.Queued)))
	}
	if v.Unread > 0 {
		lines = append(lines, fmt.Sprintf("Unread: %d", v.Unread))
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) cmdAgenda(ctx context.Context, req *Request) (string, error) {
	c, err := r.contactArg(req)
	if err != nil {
		return "", err
	}
	s := r.eng.Settings()
	at, _, err := parseWhen(req.Args[1:], s)
	if err != nil {
		return "", err
	}
	a, err := r.eng.CreateOrReplaceAgenda(ctx, c, at, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Appointment for %s at %s, %d reminders.",
		phone.Display(string(c)), a.AppointmentAt.In(s.Location).Format(stamp), len(a.Reminders)), nil
}

func (r *Router) cmdProgram(ctx context.Context, req *Request) (string, error) {
	c, err := r.contactArg(req)
	if err != nil {
		return "", err
	}
	s := r.eng.Settings()
	at, used, err := parseWhen(req.Args[1:], s)
	if err != nil {
		return "", err
	}
	text := strings.Join(req.Args[1+used:], " ")
	if err := r.eng.CreateScheduledStart(ctx, c, at, text); err != nil {
		return "", err
	}
	return fmt.Sprintf("First message to %s scheduled for %s.", phone.Display(string(c)), at.In(s.Location).Format(stamp)), nil
}

func (r *Router) cmdSend(ctx context.Context, req *Request) (string, error) {
	c, err := r.contactArg(req)
	if err != nil {
		return "", err
	}
	if req.Rest == "" {
		return "", errUsage
	}
	if err := r.eng.SendNow(ctx, c, req.Rest); err != nil {
		return "", err
	}
	return "Sent to " + phone.Display(string(c)), nil
}

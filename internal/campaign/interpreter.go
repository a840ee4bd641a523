package campaign

import (
	"context"
	"strings"
	"time"

	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

// InboundResult names what HandleInbound did with a message.
type InboundResult string

const (
	InboundDropped       InboundResult = "dropped" // not a direct chat, replayed history or no contact
	InboundStop          InboundResult = "stop"    // block command
	InboundPause         InboundResult = "pause"   // pause command
	InboundClient        InboundResult = "client"  // post-sale command
	InboundEcho          InboundResult = "echo"    // our own automated message
	InboundAppointment   InboundResult = "appointment"
	InboundBlocked       InboundResult = "blocked"  // contact is blocked; logged only
	InboundPaused        InboundResult = "paused"   // inside the pause window
	InboundDeferred      InboundResult = "deferred" // scheduled start pending
	InboundAgendaOwned   InboundResult = "agenda"   // active agenda owns the contact
	InboundPostSale      InboundResult = "post_sale"
	InboundFunnelStarted InboundResult = "funnel_started"
)

// HandleInbound interprets one transport message. Operator messages
// (FromMe) are checked for commands first, then for self-echoes, then for
// appointment confirmations; whatever is left counts as a manual message.
func (e *Engine) HandleInbound(ctx context.Context, in transport.Inbound) InboundResult {
	c := ContactID(in.ContactID)
	if in.Chat != transport.ChatDirect || c == "" {
		return InboundDropped
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if !in.Timestamp.IsZero() && now.Sub(in.Timestamp) > e.settings.ReplayWindow {
		e.log.Debug("ignoring replayed message", logx.String("contact", string(c)), logx.Time("sent_at", in.Timestamp))
		return InboundDropped
	}
	body := strings.TrimSpace(in.Body)

	var res InboundResult
	if in.FromMe {
		res = e.operatorMessageLocked(ctx, c, body, now)
	} else {
		res = e.customerMessageLocked(ctx, c, body, now)
	}
	e.log.Debug("inbound handled",
		logx.String("contact", string(c)), logx.Bool("from_me", in.FromMe), logx.String("result", string(res)))
	e.publish(EventInbound, c, map[string]any{"from_me": in.FromMe, "result": string(res)})
	return res
}

func containsFold(lower, cmd string) bool {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	return cmd != "" && strings.Contains(lower, cmd)
}

func (e *Engine) operatorMessageLocked(ctx context.Context, c ContactID, body string, now time.Time) InboundResult {
	lower := strings.ToLower(body)
	_, blocked := e.st.blocked[c]

	// Commands win over echo suppression: the operator may type one right
	// after an automated send.
	switch {
	case containsFold(lower, e.settings.StopCommand):
		e.clearEchoFlagLocked(c)
		e.echoes.clear(c)
		if e.blockLocked(c, "MANUAL_STOP", now) {
			e.saveQuietly(ctx, CollBlocked, CollPaused, CollContacts, CollAgendas, CollScheduled)
			e.recordAudit(WithActor(ctx, "whatsapp"), "block", c, "MANUAL_STOP", nil)
		}
		return InboundStop
	case containsFold(lower, e.settings.PauseCommand):
		if blocked {
			return InboundBlocked
		}
		e.clearEchoFlagLocked(c)
		e.echoes.clear(c)
		e.pauseLocked(c, now)
		e.saveQuietly(ctx, CollPaused, CollContacts)
		e.recordAudit(WithActor(ctx, "whatsapp"), "pause", c, "", nil)
		return InboundPause
	case containsFold(lower, e.settings.ClientCommand):
		if blocked {
			return InboundBlocked
		}
		e.clearEchoFlagLocked(c)
		e.echoes.clear(c)
		e.markClientLocked(c, now)
		e.saveQuietly(ctx, CollContacts, CollAgendas, CollScheduled, CollPaused)
		e.recordAudit(WithActor(ctx, "whatsapp"), "client", c, "", nil)
		return InboundClient
	}

	// An exact token match is our own text coming back, even when it looks
	// like an appointment confirmation.
	if e.echoes.consumeExact(c, body, now) {
		if e.clearEchoFlagLocked(c) {
			e.saveQuietly(ctx, CollContacts)
		}
		e.publish(EventEchoSuppressed, c, map[string]any{"match": "token"})
		return InboundEcho
	}

	if !blocked {
		if appt, ok := e.parser.Parse(body); ok {
			e.clearEchoFlagLocked(c)
			a := e.createAgendaLocked(c, appt, nil, now)
			e.appendChatLocked(c, true, body, now, false)
			e.saveQuietly(ctx, CollContacts, CollAgendas, CollScheduled, CollChats)
			e.log.Info("appointment confirmation detected",
				logx.String("contact", string(c)), logx.Time("appointment", appt), logx.Int("reminders", len(a.Reminders)))
			e.recordAudit(WithActor(ctx, "whatsapp"), "agenda", c, appt.Format(time.RFC3339), nil)
			return InboundAppointment
		}
	}

	live := e.echoFlagLiveLocked(c, now)
	flagged := e.clearEchoFlagLocked(c)
	token := e.echoes.consumeAny(c, now)
	if flagged {
		e.saveQuietly(ctx, CollContacts)
	}
	if live || token {
		e.publish(EventEchoSuppressed, c, map[string]any{"match": "flag"})
		return InboundEcho
	}

	dirty := []string{}
	// '#' marks notes and commands that stay out of the chat log.
	if !strings.HasPrefix(body, "#") {
		e.appendChatLocked(c, true, body, now, false)
		dirty = append(dirty, CollChats)
	}
	res := e.operatorLifecycleLocked(c, now, &dirty)
	e.saveQuietly(ctx, dirty...)
	return res
}

func (e *Engine) operatorLifecycleLocked(c ContactID, now time.Time, dirty *[]string) InboundResult {
	if _, ok := e.st.blocked[c]; ok {
		return InboundBlocked
	}
	paused, expired := e.pausedLocked(c, now)
	if paused {
		return InboundPaused
	}
	if expired {
		*dirty = append(*dirty, CollPaused)
	}
	switch {
	case e.pendingScheduleLocked(c, now):
		return InboundDeferred
	case e.activeAgendaLocked(c, now):
		return InboundAgendaOwned
	case e.isPostSale(c):
		return InboundPostSale
	}
	e.startFunnelLocked(c, now)
	*dirty = append(*dirty, CollContacts)
	return InboundFunnelStarted
}

func (e *Engine) customerMessageLocked(ctx context.Context, c ContactID, body string, now time.Time) InboundResult {
	e.appendChatLocked(c, false, body, now, false)
	dirty := []string{CollChats}
	defer func() { e.saveQuietly(ctx, dirty...) }()

	if _, ok := e.st.blocked[c]; ok {
		return InboundBlocked
	}
	paused, expired := e.pausedLocked(c, now)
	if paused {
		return InboundPaused
	}
	if expired {
		dirty = append(dirty, CollPaused)
		e.log.Info("pause expired", logx.String("contact", string(c)))
	}
	if ct, ok := e.st.contacts[c]; ok && ct.Stage.Kind == StagePostSale {
		ct.LastContactAt = now
		e.st.contacts[c] = ct
		dirty = append(dirty, CollContacts)
		return InboundPostSale
	}
	if e.activeAgendaLocked(c, now) && !e.settings.RestartFunnelWithAgenda {
		return InboundAgendaOwned
	}
	if e.pendingScheduleLocked(c, now) {
		return InboundDeferred
	}
	e.startFunnelLocked(c, now)
	dirty = append(dirty, CollContacts)
	return InboundFunnelStarted
}

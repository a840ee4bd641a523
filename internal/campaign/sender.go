package campaign

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	logx "outreach/pkg/logx"
)

func randInt64N(n int64) int64 { return rand.Int64N(n) }

// SendOutcome describes what one sender tick did.
type SendOutcome int

const (
	SendIdle      SendOutcome = iota // nothing queued
	SendBusy                         // another send is in flight
	SendHeld                         // disconnected or outside the window; job moved to the back
	SendThrottled                    // rate limited; job kept at the front
	SendDropped                      // job no longer due
	SendDelivered
	SendFailed // transport error; job back at the front
)

func (o SendOutcome) String() string {
	switch o {
	case SendIdle:
		return "idle"
	case SendBusy:
		return "busy"
	case SendHeld:
		return "held"
	case SendThrottled:
		return "throttled"
	case SendDropped:
		return "dropped"
	case SendDelivered:
		return "delivered"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SendTick dispatches at most one queued job. Overlapping calls return
// SendBusy while a send is in flight.
func (e *Engine) SendTick(ctx context.Context) (SendOutcome, error) {
	e.mu.Lock()
	if e.sendingNow {
		e.mu.Unlock()
		return SendBusy, nil
	}
	job, ok := e.queue.pop()
	if !ok {
		e.mu.Unlock()
		return SendIdle, nil
	}
	now := e.now()
	dry := e.settings.DryRun
	if (!e.connected && !dry) || !e.settings.inWindow(now) {
		e.queue.pushBack(job)
		e.mu.Unlock()
		return SendHeld, nil
	}
	if !e.limiter.AllowN(now, 1) {
		e.queue.pushFront(job)
		e.mu.Unlock()
		return SendThrottled, nil
	}
	e.sendingNow = true
	k := job.id()
	e.inflight = &k
	jitter := e.jitterLocked()
	e.mu.Unlock()

	if err := e.sleep(ctx, jitter); err != nil {
		e.mu.Lock()
		e.queue.pushFront(job)
		e.finishLocked()
		e.mu.Unlock()
		return SendHeld, err
	}

	e.mu.Lock()
	now = e.now()
	if !e.stillDueLocked(job.Contact, job.Kind, job.Key, now) {
		e.finishLocked()
		e.mu.Unlock()
		e.log.Debug("queued job no longer due; dropped",
			logx.String("contact", string(job.Contact)), logx.String("kind", job.Kind.String()))
		e.publish(EventJobDropped, job.Contact, map[string]any{"kind": job.Kind.String(), "key": job.Key})
		return SendDropped, nil
	}
	text := e.renderJobLocked(job)
	src := e.sourceLocked(job)
	dry = e.settings.DryRun
	var (
		token   uuid.UUID
		flagged bool
	)
	if !dry {
		// Mark before sending: the echo can arrive before SendText returns.
		token = e.echoes.issue(job.Contact, text, now, e.settings.EchoTTL)
		if ct, ok := e.st.contacts[job.Contact]; ok && !ct.IgnoreNextSelfEcho {
			ct.IgnoreNextSelfEcho = true
			e.st.contacts[job.Contact] = ct
			flagged = true
			e.saveQuietly(ctx, CollContacts)
		}
	}
	e.mu.Unlock()

	var sendErr error
	if dry {
		e.log.Info("[DRY RUN] message not sent",
			logx.String("contact", string(job.Contact)), logx.String("kind", job.Kind.String()), logx.String("text", text))
	} else {
		sendErr = e.tx.SendText(ctx, string(job.Contact), text)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.finishLocked()
	if sendErr != nil {
		job.Attempts++
		e.queue.pushFront(job)
		e.echoes.cancel(job.Contact, token)
		if ct, ok := e.st.contacts[job.Contact]; ok && flagged {
			ct.IgnoreNextSelfEcho = false
			e.st.contacts[job.Contact] = ct
			e.saveQuietly(ctx, CollContacts)
		}
		e.log.Warn("send failed; job kept at queue front",
			logx.String("contact", string(job.Contact)), logx.String("kind", job.Kind.String()),
			logx.Int("attempts", job.Attempts), logx.Err(sendErr))
		e.publish(EventJobFailed, job.Contact, map[string]any{"kind": job.Kind.String(), "err": sendErr.Error()})
		return SendFailed, sendErr
	}

	sentAt := e.now()
	var dirty []string
	if e.sourceIntactLocked(job, src) {
		dirty = e.applySentLocked(job, sentAt)
	} else {
		dirty = e.settleChangedLocked(job, src)
		e.log.Info("contact changed during send; transition skipped",
			logx.String("contact", string(job.Contact)), logx.String("kind", job.Kind.String()))
	}
	e.appendChatLocked(job.Contact, true, text, sentAt, dry)
	dirty = append(dirty, CollChats)
	err := e.saveLocked(ctx, dirty...)
	e.log.Info("message sent",
		logx.String("contact", string(job.Contact)), logx.String("kind", job.Kind.String()),
		logx.String("key", job.Key), logx.Bool("dry_run", dry))
	e.publish(EventJobSent, job.Contact, map[string]any{"kind": job.Kind.String(), "key": job.Key, "dry_run": dry})
	return SendDelivered, err
}

func (e *Engine) finishLocked() {
	e.sendingNow = false
	e.inflight = nil
}

func (e *Engine) jitterLocked() time.Duration {
	lo, hi := e.settings.JitterMin, e.settings.JitterMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.randN(int64(hi-lo)))
}

func (e *Engine) renderJobLocked(j Job) string {
	t := e.st.templates
	switch j.Kind {
	case JobFunnelStep:
		ct := e.st.contacts[j.Contact]
		var tpl string
		switch ct.Stage.Kind {
		case StagePostSale:
			tpl = t.messageText(KeyPostSale, t.messageText(KeyExtra, fallbackText))
		case StageStepping:
			tpl = t.messageText(stepKey(ct.Stage.Step), t.messageText(KeyExtra, fallbackText))
		default:
			tpl = t.messageText(KeyExtra, fallbackText)
		}
		return Render(tpl, e.baseVars())
	case JobAgendaReminder:
		a := e.st.agendas[j.Contact]
		return Render(t.messageText(j.Key, fallbackReminder), e.agendaVars(a))
	case JobScheduledStart:
		s := e.st.scheduled[j.Contact]
		tpl := s.Text
		if tpl == "" {
			tpl = t.messageText(stepKey(0), fallbackText)
		}
		return Render(tpl, e.baseVars())
	default:
		return fallbackText
	}
}

// sendSource is the record a job was rendered from, captured before the
// lock is released for the transport call.
type sendSource struct {
	stage  FunnelStage
	next   time.Time
	fire   time.Time
	paused bool
}

func (e *Engine) sourceLocked(j Job) sendSource {
	_, paused := e.st.paused[j.Contact]
	src := sendSource{paused: paused}
	switch j.Kind {
	case JobFunnelStep:
		ct := e.st.contacts[j.Contact]
		src.stage, src.next = ct.Stage, ct.NextFollowUpAt
	case JobAgendaReminder:
		r, _ := e.st.agendas[j.Contact].reminder(j.Key)
		src.fire = r.FireAt
	case JobScheduledStart:
		src.fire = e.st.scheduled[j.Contact].FireAt
	}
	return src
}

// sourceIntactLocked reports whether the record behind j survived the send
// unchanged. A block, pause, client mark or restart made while the lock was
// released wins over the send transition.
func (e *Engine) sourceIntactLocked(j Job, src sendSource) bool {
	if _, ok := e.st.blocked[j.Contact]; ok {
		return false
	}
	_, paused := e.st.paused[j.Contact]
	switch j.Kind {
	case JobFunnelStep:
		ct, ok := e.st.contacts[j.Contact]
		return ok && !paused && ct.Stage == src.stage && ct.NextFollowUpAt.Equal(src.next)
	case JobAgendaReminder:
		a, ok := e.st.agendas[j.Contact]
		if !ok {
			return false
		}
		r, ok := a.reminder(j.Key)
		return ok && r.FireAt.Equal(src.fire)
	case JobScheduledStart:
		s, ok := e.st.scheduled[j.Contact]
		return ok && s.FireAt.Equal(src.fire) && (src.paused || !paused)
	default:
		return false
	}
}

// settleChangedLocked consumes a scheduled start that was delivered while a
// pause landed, so it does not fire twice. Nothing else is touched.
func (e *Engine) settleChangedLocked(j Job, src sendSource) []string {
	if j.Kind != JobScheduledStart {
		return nil
	}
	if s, ok := e.st.scheduled[j.Contact]; ok && s.FireAt.Equal(src.fire) {
		delete(e.st.scheduled, j.Contact)
		return []string{CollScheduled}
	}
	return nil
}

// applySentLocked applies the success transition and returns the
// collections it touched.
func (e *Engine) applySentLocked(j Job, sentAt time.Time) []string {
	switch j.Kind {
	case JobFunnelStep:
		e.advanceLocked(j.Contact, e.st.contacts[j.Contact], sentAt)
		return []string{CollContacts}
	case JobAgendaReminder:
		a := e.st.agendas[j.Contact]
		a.Reminders = removeReminder(a.Reminders, j.Key)
		e.st.agendas[j.Contact] = a
		return []string{CollAgendas}
	case JobScheduledStart:
		// The operator asked for this send; it lifts a pause that predates it.
		delete(e.st.scheduled, j.Contact)
		delete(e.st.paused, j.Contact)
		e.startFunnelLocked(j.Contact, sentAt)
		return []string{CollScheduled, CollContacts, CollPaused}
	default:
		return nil
	}
}

func removeReminder(rs []Reminder, key string) []Reminder {
	out := rs[:0:0]
	for _, r := range rs {
		if r.Key != key {
			out = append(out, r)
		}
	}
	return out
}

// SendNow delivers text immediately, outside the queue, and logs it in the
// chat. It does not touch the funnel.
func (e *Engine) SendNow(ctx context.Context, c ContactID, text string) error {
	err := e.sendNow(ctx, c, text)
	e.recordAudit(ctx, "send_now", c, truncate(text, 120), err)
	return err
}

func (e *Engine) sendNow(ctx context.Context, c ContactID, text string) error {
	if c == "" || text == "" {
		return ErrInvalidArgument
	}
	e.mu.Lock()
	dry := e.settings.DryRun
	if !e.connected && !dry {
		e.mu.Unlock()
		return ErrDisconnected
	}
	now := e.now()
	var token uuid.UUID
	if !dry {
		token = e.echoes.issue(c, text, now, e.settings.EchoTTL)
	}
	e.mu.Unlock()

	if !dry {
		if err := e.tx.SendText(ctx, string(c), text); err != nil {
			e.mu.Lock()
			e.echoes.cancel(c, token)
			e.mu.Unlock()
			return err
		}
	} else {
		e.log.Info("[DRY RUN] manual message not sent", logx.String("contact", string(c)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sentAt := e.now()
	e.appendChatLocked(c, true, text, sentAt, dry)
	dirty := []string{CollChats}
	if ct, ok := e.st.contacts[c]; ok {
		ct.LastContactAt = sentAt
		e.st.contacts[c] = ct
		dirty = append(dirty, CollContacts)
	}
	e.publish(EventManualSend, c, map[string]any{"dry_run": dry})
	return e.saveLocked(ctx, dirty...)
}

// SendConfirmation renders the confirmation template with c's agenda and
// sends it with SendNow.
func (e *Engine) SendConfirmation(ctx context.Context, c ContactID) error {
	e.mu.Lock()
	a, ok := e.st.agendas[c]
	var text string
	if ok {
		text = Render(e.st.templates.messageText(KeyConfirm, fallbackText), e.agendaVars(a))
	}
	e.mu.Unlock()
	if !ok {
		err := fmt.Errorf("agenda for %s: %w", c, ErrNotFound)
		e.recordAudit(ctx, "send_confirmation", c, "", err)
		return err
	}
	err := e.sendNow(ctx, c, text)
	e.recordAudit(ctx, "send_confirmation", c, "", err)
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

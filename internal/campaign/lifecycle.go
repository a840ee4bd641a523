package campaign

import (
	"time"
)

// startFunnelLocked (re)enters Stepping(0). The self-echo flag survives a
// restart so a pending echo is still recognized.
func (e *Engine) startFunnelLocked(c ContactID, now time.Time) {
	prev := e.st.contacts[c]
	next := now.Add(e.settings.FirstStepOffset)
	e.st.contacts[c] = Contact{
		Stage:              Stepping(0),
		NextFollowUpAt:     next,
		LastContactAt:      now,
		IgnoreNextSelfEcho: prev.IgnoreNextSelfEcho,
	}
	e.queue.purge(c, JobFunnelStep)
	e.due.add(dueItem{At: next, Contact: c, Kind: JobFunnelStep})
	e.publish(EventFunnelStarted, c, map[string]any{"next": next})
}

// advanceLocked applies the after-send rule for a funnel step.
func (e *Engine) advanceLocked(c ContactID, ct Contact, sentAt time.Time) Contact {
	switch ct.Stage.Kind {
	case StagePostSale, StageRecurring:
		ct.NextFollowUpAt = sentAt.Add(e.settings.RecurringInterval)
	case StageStepping:
		if ct.Stage.Step >= e.settings.lastStep() {
			ct.Stage = Recurring()
			ct.NextFollowUpAt = sentAt.Add(e.settings.RecurringInterval)
		} else {
			ct.Stage = Stepping(ct.Stage.Step + 1)
			ct.NextFollowUpAt = sentAt.Add(e.settings.FunnelSteps[ct.Stage.Step])
		}
	default:
		ct.NextFollowUpAt = time.Time{}
	}
	ct.LastContactAt = sentAt
	e.st.contacts[c] = ct
	e.due.add(dueItem{At: ct.NextFollowUpAt, Contact: c, Kind: JobFunnelStep})
	e.publish(EventFunnelAdvanced, c, map[string]any{"stage": ct.Stage.String(), "next": ct.NextFollowUpAt})
	return ct
}

// blockLocked makes c terminal. It returns false when c was already blocked.
func (e *Engine) blockLocked(c ContactID, reason string, now time.Time) bool {
	if _, ok := e.st.blocked[c]; ok {
		return false
	}
	e.st.blocked[c] = BlockRecord{Reason: reason, BlockedAt: now}
	delete(e.st.paused, c)
	delete(e.st.contacts, c)
	delete(e.st.agendas, c)
	delete(e.st.scheduled, c)
	e.queue.purge(c)
	e.echoes.clear(c)
	e.publish(EventContactBlocked, c, map[string]any{"reason": reason})
	return true
}

func (e *Engine) pauseLocked(c ContactID, now time.Time) {
	e.st.paused[c] = PauseRecord{PausedAt: now}
	delete(e.st.contacts, c)
	e.queue.purge(c, JobFunnelStep)
	e.publish(EventContactPaused, c, map[string]any{"until": now.Add(e.settings.PauseWindow)})
}

// pausedLocked reports whether c is inside its pause window. An expired
// pause is removed and reported through expired.
func (e *Engine) pausedLocked(c ContactID, now time.Time) (paused, expired bool) {
	p, ok := e.st.paused[c]
	if !ok {
		return false, false
	}
	if now.Before(p.PausedAt.Add(e.settings.PauseWindow)) {
		return true, false
	}
	delete(e.st.paused, c)
	return false, true
}

func (e *Engine) markClientLocked(c ContactID, now time.Time) {
	delete(e.st.agendas, c)
	delete(e.st.scheduled, c)
	delete(e.st.paused, c)
	e.queue.purge(c, JobFunnelStep, JobAgendaReminder, JobScheduledStart)

	prev := e.st.contacts[c]
	next := now.Add(e.settings.RecurringInterval)
	e.st.contacts[c] = Contact{
		Stage:              PostSale(),
		NextFollowUpAt:     next,
		LastContactAt:      now,
		IgnoreNextSelfEcho: prev.IgnoreNextSelfEcho,
	}
	e.due.add(dueItem{At: next, Contact: c, Kind: JobFunnelStep})
	e.publish(EventContactClient, c, map[string]any{"next": next})
}

// clearEchoFlagLocked drops the persisted self-echo flag and reports whether
// it was set.
func (e *Engine) clearEchoFlagLocked(c ContactID) bool {
	ct, ok := e.st.contacts[c]
	if !ok || !ct.IgnoreNextSelfEcho {
		return false
	}
	ct.IgnoreNextSelfEcho = false
	e.st.contacts[c] = ct
	return true
}

// echoFlagLiveLocked reports whether the persisted self-echo flag still
// covers c. The session does not always echo our sends, so the flag only
// counts for EchoTTL after the last send.
func (e *Engine) echoFlagLiveLocked(c ContactID, now time.Time) bool {
	ct, ok := e.st.contacts[c]
	if !ok || !ct.IgnoreNextSelfEcho {
		return false
	}
	return now.Sub(ct.LastContactAt) <= e.settings.EchoTTL
}

func (e *Engine) isPostSale(c ContactID) bool {
	ct, ok := e.st.contacts[c]
	return ok && ct.Stage.Kind == StagePostSale
}

func (e *Engine) pendingScheduleLocked(c ContactID, now time.Time) bool {
	s, ok := e.st.scheduled[c]
	return ok && s.FireAt.After(now)
}

func (e *Engine) activeAgendaLocked(c ContactID, now time.Time) bool {
	a, ok := e.st.agendas[c]
	return ok && a.active(now)
}

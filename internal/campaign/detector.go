package campaign

import (
	"context"
	"time"

	logx "outreach/pkg/logx"
)

// DetectTick moves due items from the heap into the queue and returns how
// many jobs were enqueued. It does nothing while automation is disabled or
// once ctx is done.
func (e *Engine) DetectTick(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded || !e.settings.AutomationEnabled {
		return 0
	}
	now := e.now()

	enqueued := 0
	for _, it := range e.due.popDue(now) {
		if !e.stillDueLocked(it.Contact, it.Kind, it.Key, now) {
			continue
		}
		j := Job{Contact: it.Contact, Kind: it.Kind, Key: it.Key, EnqueuedAt: now}
		if e.queue.contains(j.id()) || (e.inflight != nil && *e.inflight == j.id()) {
			continue
		}
		e.queue.pushBack(j)
		enqueued++
		e.publish(EventJobEnqueued, j.Contact, map[string]any{"kind": j.Kind.String(), "key": j.Key})
	}
	if enqueued > 0 {
		e.log.Debug("jobs enqueued", logx.Int("count", enqueued), logx.Int("queue", e.queue.Len()))
	}
	return enqueued
}

// stillDueLocked checks a heap hint or a queued job against the collections.
// Blocked contacts are never due; paused contacts have no funnel source.
func (e *Engine) stillDueLocked(c ContactID, kind JobKind, key string, now time.Time) bool {
	if _, ok := e.st.blocked[c]; ok {
		return false
	}
	switch kind {
	case JobFunnelStep:
		if _, ok := e.st.paused[c]; ok {
			return false
		}
		ct, ok := e.st.contacts[c]
		if !ok || ct.Stage.Kind == StageNotStarted || ct.NextFollowUpAt.IsZero() {
			return false
		}
		return !ct.NextFollowUpAt.After(now)
	case JobAgendaReminder:
		a, ok := e.st.agendas[c]
		if !ok {
			return false
		}
		r, ok := a.reminder(key)
		return ok && !r.FireAt.After(now)
	case JobScheduledStart:
		s, ok := e.st.scheduled[c]
		return ok && !s.FireAt.After(now)
	default:
		return false
	}
}

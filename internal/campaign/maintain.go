package campaign

import (
	"context"
	"time"

	logx "outreach/pkg/logx"
)

// Maintain sweeps expired echo tokens and flags, prunes finished agendas and compacts
// the due heap when stale hints dominate it.
func (e *Engine) Maintain(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.echoes.sweep(now)
	if n := e.expireEchoFlagsLocked(now); n > 0 {
		e.saveQuietly(ctx, CollContacts)
		e.log.Debug("stale self-echo flags cleared", logx.Int("count", n))
	}
	if pruned := e.pruneAgendasLocked(now); len(pruned) > 0 {
		e.saveQuietly(ctx, CollAgendas)
		e.log.Info("finished agendas pruned", logx.Int("count", len(pruned)))
	}
	live := len(e.st.contacts) + len(e.st.scheduled)
	for _, a := range e.st.agendas {
		live += len(a.Reminders)
	}
	if e.due.Len() > 2*live+64 {
		e.rebuildDueLocked()
	}
}

// expireEchoFlagsLocked clears self-echo flags that outlived EchoTTL. The
// contact of an in-flight send keeps its flag.
func (e *Engine) expireEchoFlagsLocked(now time.Time) int {
	n := 0
	for c, ct := range e.st.contacts {
		if !ct.IgnoreNextSelfEcho || e.echoFlagLiveLocked(c, now) {
			continue
		}
		if e.inflight != nil && e.inflight.contact == c {
			continue
		}
		ct.IgnoreNextSelfEcho = false
		e.st.contacts[c] = ct
		n++
	}
	return n
}

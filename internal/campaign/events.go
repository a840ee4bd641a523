package campaign

import (
	"outreach/internal/eventbus"
)

// Event types published on the bus.
const (
	EventFunnelStarted   = "funnel.started"
	EventFunnelAdvanced  = "funnel.advanced"
	EventJobEnqueued     = "job.enqueued"
	EventJobSent         = "job.sent"
	EventJobFailed       = "job.failed"
	EventJobDropped      = "job.dropped"
	EventContactBlocked  = "contact.blocked"
	EventContactPaused   = "contact.paused"
	EventContactClient   = "contact.client"
	EventAgendaCreated   = "agenda.created"
	EventAgendaCanceled  = "agenda.canceled"
	EventScheduleCreated = "schedule.created"
	EventScheduleCancel  = "schedule.canceled"
	EventEchoSuppressed  = "echo.suppressed"
	EventInbound         = "message.inbound"
	EventManualSend      = "message.manual"
	EventConnectivity    = "transport.connectivity"
	EventSaveFailed      = "store.save_failed"
)

// publish never blocks; the bus drops events for slow subscribers.
func (e *Engine) publish(typ string, c ContactID, data map[string]any) {
	if e.bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	if c != "" {
		data["contact"] = string(c)
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}

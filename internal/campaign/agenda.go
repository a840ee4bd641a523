package campaign

import (
	"maps"
	"slices"
	"time"
)

// Agenda detail keys understood by the stock templates.
const (
	DetailDate     = "DATA"
	DetailTime     = "HORA"
	DetailVehicle  = "VEICULO"
	DetailProduct  = "PRODUTO"
	DetailValue    = "VALOR"
	DetailDeposit  = "SINAL"
	DetailPayment  = "PAGAMENTO"
	VarBusinessKey = "EMPRESA"
)

// buildReminders derives the reminder list for an appointment. Only
// firings still in the future are kept; the result is sorted by FireAt.
func buildReminders(appt time.Time, offsetDays []int, now time.Time) []Reminder {
	out := make([]Reminder, 0, len(offsetDays))
	for i, days := range offsetDays {
		if days <= 0 {
			continue
		}
		at := appt.AddDate(0, 0, -days)
		if !at.After(now) || !at.Before(appt) {
			continue
		}
		out = append(out, Reminder{FireAt: at, OffsetDays: days, Key: agendaKey(i)})
	}
	slices.SortStableFunc(out, func(a, b Reminder) int { return a.FireAt.Compare(b.FireAt) })
	return out
}

// createAgendaLocked replaces c's agenda. The funnel record and any
// scheduled start are dropped along with their queued jobs.
func (e *Engine) createAgendaLocked(c ContactID, appt time.Time, details map[string]string, now time.Time) Agenda {
	delete(e.st.contacts, c)
	delete(e.st.scheduled, c)
	e.queue.purge(c, JobFunnelStep, JobScheduledStart, JobAgendaReminder)

	d := maps.Clone(details)
	if d == nil {
		d = map[string]string{}
	}
	local := appt.In(e.settings.Location)
	if d[DetailDate] == "" {
		d[DetailDate] = local.Format("02/01/2006")
	}
	if d[DetailTime] == "" {
		d[DetailTime] = local.Format("15:04")
	}

	a := Agenda{
		AppointmentAt: appt,
		Details:       d,
		Reminders:     buildReminders(appt, e.settings.AgendaOffsetDays, now),
		CreatedAt:     now,
	}
	e.st.agendas[c] = a
	for _, r := range a.Reminders {
		e.due.add(dueItem{At: r.FireAt, Contact: c, Kind: JobAgendaReminder, Key: r.Key})
	}
	e.publish(EventAgendaCreated, c, map[string]any{"appointment": appt, "reminders": len(a.Reminders)})
	return a
}

func (e *Engine) cancelAgendaLocked(c ContactID) bool {
	if _, ok := e.st.agendas[c]; !ok {
		return false
	}
	delete(e.st.agendas, c)
	e.queue.purge(c, JobAgendaReminder)
	e.publish(EventAgendaCanceled, c, nil)
	return true
}

// agendaVars returns the template variables for a reminder or confirmation.
// Agendas stored without DATA/HORA get them from the appointment time.
func (e *Engine) agendaVars(a Agenda) map[string]string {
	vars := e.baseVars()
	for k, v := range a.Details {
		vars[k] = v
	}
	if !a.AppointmentAt.IsZero() {
		local := a.AppointmentAt.In(e.settings.Location)
		if vars[DetailDate] == "" {
			vars[DetailDate] = local.Format("02/01/2006")
		}
		if vars[DetailTime] == "" {
			vars[DetailTime] = local.Format("15:04")
		}
	}
	return vars
}

func (e *Engine) baseVars() map[string]string {
	return map[string]string{VarBusinessKey: e.settings.BusinessName}
}

// pruneAgendasLocked drops agendas whose appointment is long past and
// that have nothing left to send.
func (e *Engine) pruneAgendasLocked(now time.Time) []ContactID {
	var pruned []ContactID
	for c, a := range e.st.agendas {
		if len(a.Reminders) == 0 && now.Sub(a.AppointmentAt) > e.settings.AgendaRetainAfter {
			delete(e.st.agendas, c)
			pruned = append(pruned, c)
		}
	}
	return pruned
}

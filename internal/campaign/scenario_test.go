package campaign

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScenarioNewLeadEntersFunnel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511999990001"

	require.Equal(t, InboundFunnelStarted, h.customer(c, "Oi"))

	ct, ok := h.contact(c)
	require.True(t, ok)
	require.Equal(t, Stepping(0), ct.Stage)
	require.Equal(t, t0.Add(3*day), ct.NextFollowUpAt)

	chats := h.e.Chats()
	require.Len(t, chats, 1)
	require.Equal(t, 1, chats[0].Unread)
	require.Equal(t, "+5511999990001", chats[0].Phone)

	// First step fires three days later and the cadence moves on.
	h.clk.advance(3 * day)
	require.Equal(t, 1, h.detect())
	out, err := h.send()
	require.NoError(t, err)
	require.Equal(t, SendDelivered, out)

	sent := h.tx.messages()
	require.Len(t, sent, 1)
	require.Equal(t, string(c), sent[0].To)
	require.Equal(t, Render(DefaultTemplates().Messages["step0"], map[string]string{"EMPRESA": "Iron Glass"}), sent[0].Text)

	ct, _ = h.contact(c)
	sentAt := t0.Add(3*day + time.Second)
	require.Equal(t, Stepping(1), ct.Stage)
	require.Equal(t, sentAt.Add(5*day), ct.NextFollowUpAt)
	require.True(t, ct.IgnoreNextSelfEcho)

	// The session reports our own message back; it must not restart anything.
	require.Equal(t, InboundEcho, h.operator(c, sent[0].Text))
	ct, _ = h.contact(c)
	require.Equal(t, Stepping(1), ct.Stage)
	require.False(t, ct.IgnoreNextSelfEcho)
}

func TestScenarioOperatorConfirmsAppointment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511999990002"
	require.Equal(t, InboundFunnelStarted, h.customer(c, "Quero orçamento"))

	require.Equal(t, InboundAppointment, h.operator(c, "Agendamento confirmado para 20/12/2025 14:30"))

	_, ok := h.contact(c)
	require.False(t, ok, "funnel record must be deleted")

	a, ok := h.agenda(c)
	require.True(t, ok)
	appt := time.Date(2025, 12, 20, 14, 30, 0, 0, time.UTC)
	require.Equal(t, appt, a.AppointmentAt)
	require.Len(t, a.Reminders, 3)
	for i, days := range []int{7, 3, 1} {
		require.Equal(t, appt.AddDate(0, 0, -days), a.Reminders[i].FireAt)
		require.Equal(t, agendaKey(i), a.Reminders[i].Key)
	}
	require.Equal(t, "20/12/2025", a.Details[DetailDate])
	require.Equal(t, "14:30", a.Details[DetailTime])

	// The 7-day reminder goes out on 13 Dec.
	h.clk.set(appt.AddDate(0, 0, -7))
	require.Equal(t, 1, h.detect())
	out, err := h.send()
	require.NoError(t, err)
	require.Equal(t, SendDelivered, out)
	sent := h.tx.messages()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Text, "faltam 7 dias")
	require.Contains(t, sent[0].Text, "20/12/2025 às 14:30")

	a, _ = h.agenda(c)
	require.Len(t, a.Reminders, 2)
	require.Equal(t, "agenda1", a.Reminders[0].Key)

	// The reminder text names the appointment, but its echo is ours.
	require.Equal(t, InboundEcho, h.operator(c, sent[0].Text))
	after, _ := h.agenda(c)
	require.Equal(t, a.CreatedAt, after.CreatedAt)
}

func TestScenarioStopPurgesEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.RestartFunnelWithAgenda = true })
	const c ContactID = "5511999990003"

	require.Equal(t, InboundFunnelStarted, h.customer(c, "Oi"))
	require.Equal(t, InboundAppointment, h.operator(c, "agenda 20/12/2025 10:00"))
	// With the restart flag a customer message re-enters the funnel while
	// the agenda stays.
	require.Equal(t, InboundFunnelStarted, h.customer(c, "Tudo certo?"))
	_, hasAgenda := h.agenda(c)
	require.True(t, hasAgenda)

	h.clk.advance(3 * day)
	require.Equal(t, 1, h.detect())
	require.Len(t, h.queued(), 1)

	require.Equal(t, InboundStop, h.operator(c, "#okok"))

	snap := h.e.Snapshot()
	require.Contains(t, snap.Blocked, c)
	require.Equal(t, "MANUAL_STOP", snap.Blocked[c].Reason)
	require.NotContains(t, snap.Contacts, c)
	require.NotContains(t, snap.Agendas, c)
	require.NotContains(t, snap.Paused, c)
	require.NotContains(t, snap.Scheduled, c)
	require.Empty(t, snap.Queue)

	require.Equal(t, InboundBlocked, h.customer(c, "Oi de novo"))
	_, ok := h.contact(c)
	require.False(t, ok)

	// Stale heap hints for the funnel and the reminders never fire.
	h.clk.set(time.Date(2025, 12, 21, 10, 0, 0, 0, time.UTC))
	require.Zero(t, h.detect())
	out, err := h.send()
	require.NoError(t, err)
	require.Equal(t, SendIdle, out)
	require.Empty(t, h.tx.messages())
}

func TestScenarioTransportFailureKeepsJobAtFront(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const d ContactID = "5511999990004"
	const other ContactID = "5511999990005"

	require.Equal(t, InboundFunnelStarted, h.customer(d, "Oi"))
	h.clk.advance(time.Minute)
	require.Equal(t, InboundFunnelStarted, h.customer(other, "Oi"))
	h.clk.advance(3 * day)
	require.Equal(t, 2, h.detect())

	before, _ := h.contact(d)
	h.tx.failWith(errors.New("socket closed"))
	out, err := h.send()
	require.Error(t, err)
	require.Equal(t, SendFailed, out)

	after, _ := h.contact(d)
	require.Equal(t, before.Stage, after.Stage)
	require.Equal(t, before.NextFollowUpAt, after.NextFollowUpAt)
	require.False(t, after.IgnoreNextSelfEcho, "flag set for the attempt must be reverted")
	require.Zero(t, h.e.Snapshot().Echoes)

	q := h.queued()
	require.Len(t, q, 2)
	require.Equal(t, d, q[0].Contact)
	require.Equal(t, 1, q[0].Attempts)

	h.tx.failWith(nil)
	out, err = h.send()
	require.NoError(t, err)
	require.Equal(t, SendDelivered, out)
	require.Equal(t, string(d), h.tx.messages()[0].To)
	after, _ = h.contact(d)
	require.Equal(t, Stepping(1), after.Stage)
}

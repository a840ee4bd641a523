package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"outreach/internal/eventbus"
	"outreach/internal/transport"
)

func TestInboundDropsNonDirectAndReplayed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   transport.Inbound
	}{
		{"group", transport.Inbound{ContactID: "5511900000001", Body: "Oi", Timestamp: t0, Chat: transport.ChatGroup}},
		{"status", transport.Inbound{ContactID: "5511900000001", Body: "Oi", Timestamp: t0, Chat: transport.ChatStatus}},
		{"no contact", transport.Inbound{Body: "Oi", Timestamp: t0, Chat: transport.ChatDirect}},
		{"replayed", transport.Inbound{ContactID: "5511900000001", Body: "Oi", Timestamp: t0.Add(-11 * time.Minute), Chat: transport.ChatDirect}},
	}
	for _, tt := range tests {
		if got := h.e.HandleInbound(ctx, tt.in); got != InboundDropped {
			t.Fatalf("%s: HandleInbound() = %v, want %v", tt.name, got, InboundDropped)
		}
	}
	if got := len(h.e.Chats()); got != 0 {
		t.Fatalf("chats = %d, want 0", got)
	}

	// Slightly old history is still inside the replay window.
	in := transport.Inbound{ContactID: "5511900000001", Body: "Oi", Timestamp: t0.Add(-9 * time.Minute), Chat: transport.ChatDirect}
	if got := h.e.HandleInbound(ctx, in); got != InboundFunnelStarted {
		t.Fatalf("HandleInbound() = %v, want %v", got, InboundFunnelStarted)
	}
}

func TestEchoConsumedOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511900000002"
	dueFunnel(t, h, c, t0.Add(3*day))
	_, err := h.send()
	require.NoError(t, err)
	text := h.tx.messages()[0].Text

	require.Equal(t, InboundEcho, h.operator(c, text))
	// Typing the same text again is the operator, not an echo.
	require.Equal(t, InboundFunnelStarted, h.operator(c, text))
	ct, _ := h.contact(c)
	require.Equal(t, Stepping(0), ct.Stage)
}

func TestEchoFallbackWhenTextAltered(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511900000003"
	dueFunnel(t, h, c, t0.Add(3*day))
	_, err := h.send()
	require.NoError(t, err)

	// The session may rewrite links or whitespace; the flag still catches it.
	require.Equal(t, InboundEcho, h.operator(c, "something the transport rewrote"))
	require.Zero(t, h.e.Snapshot().Echoes)
	ct, _ := h.contact(c)
	require.False(t, ct.IgnoreNextSelfEcho)
	require.Equal(t, InboundFunnelStarted, h.operator(c, "Oi, tudo bem?"))
}

func TestEchoTokenExpires(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	const c ContactID = "5511900000004"
	require.NoError(t, h.e.SendNow(ctx, c, "Olá!"))

	h.clk.advance(3 * time.Minute)
	h.e.Maintain(ctx)
	require.Zero(t, h.e.Snapshot().Echoes)
	require.Equal(t, InboundFunnelStarted, h.operator(c, "Olá!"))
}

func TestCommandsWinOverEcho(t *testing.T) {
	t.Parallel()
	tests := []struct {
		body  string
		want  InboundResult
		check func(t *testing.T, h *harness, c ContactID)
	}{
		{
			body: "#falamos no futuro",
			want: InboundPause,
			check: func(t *testing.T, h *harness, c ContactID) {
				require.Contains(t, h.e.Snapshot().Paused, c)
				_, ok := h.contact(c)
				require.False(t, ok)
			},
		},
		{
			body: "Fechado! #CLIENTE",
			want: InboundClient,
			check: func(t *testing.T, h *harness, c ContactID) {
				ct, ok := h.contact(c)
				require.True(t, ok)
				require.Equal(t, PostSale(), ct.Stage)
				require.Equal(t, h.clk.now().Add(30*day), ct.NextFollowUpAt)
				require.False(t, ct.IgnoreNextSelfEcho)
			},
		},
		{
			body: "#okok",
			want: InboundStop,
			check: func(t *testing.T, h *harness, c ContactID) {
				require.Contains(t, h.e.Snapshot().Blocked, c)
			},
		},
	}
	for _, tt := range tests {
		h := newHarness(t)
		const c ContactID = "5511900000005"
		dueFunnel(t, h, c, t0.Add(3*day))
		_, err := h.send()
		require.NoError(t, err)

		require.Equal(t, tt.want, h.operator(c, tt.body), tt.body)
		require.Zero(t, h.e.Snapshot().Echoes, tt.body)
		tt.check(t, h, c)
	}
}

func TestPauseWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511900000006"
	require.Equal(t, InboundFunnelStarted, h.customer(c, "Oi"))
	require.Equal(t, InboundPause, h.operator(c, "#falamos no futuro"))

	h.clk.advance(71 * time.Hour)
	require.Equal(t, InboundPaused, h.customer(c, "Oi?"))
	require.Equal(t, InboundPaused, h.operator(c, "mensagem manual"))

	// Past the old due time the funnel hint from before the pause is stale.
	h.clk.advance(2 * time.Hour)
	require.Zero(t, h.detect())
	require.Equal(t, InboundFunnelStarted, h.customer(c, "Voltei"))
	require.NotContains(t, h.e.Snapshot().Paused, c)
	ct, _ := h.contact(c)
	require.Equal(t, Stepping(0), ct.Stage)
}

func TestPostSaleIgnoresFunnelRestart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511900000007"
	require.Equal(t, InboundClient, h.operator(c, "#cliente"))
	first, _ := h.contact(c)

	h.clk.advance(time.Hour)
	require.Equal(t, InboundPostSale, h.customer(c, "Obrigado!"))
	ct, _ := h.contact(c)
	require.Equal(t, PostSale(), ct.Stage)
	require.Equal(t, h.clk.now(), ct.LastContactAt)
	require.Equal(t, first.NextFollowUpAt, ct.NextFollowUpAt)

	require.Equal(t, InboundPostSale, h.operator(c, "Por nada"))

	h.clk.set(first.NextFollowUpAt)
	require.Equal(t, 1, h.detect())
	_, err := h.send()
	require.NoError(t, err)
	post := Render(DefaultTemplates().Messages[KeyPostSale], map[string]string{"EMPRESA": "Iron Glass"})
	require.Equal(t, post, h.tx.messages()[0].Text)
	ct, _ = h.contact(c)
	require.Equal(t, PostSale(), ct.Stage)
}

func TestAgendaOwnsRelationship(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511900000008"
	require.Equal(t, InboundAppointment, h.operator(c, "confirmação 20.12.2025 às 9h15"))
	a, _ := h.agenda(c)
	require.Equal(t, time.Date(2025, 12, 20, 9, 15, 0, 0, time.UTC), a.AppointmentAt)

	require.Equal(t, InboundAgendaOwned, h.customer(c, "Até lá!"))
	require.Equal(t, InboundAgendaOwned, h.operator(c, "Combinado"))
	_, ok := h.contact(c)
	require.False(t, ok)

	// After the appointment, with every reminder sent, the funnel is free again.
	for range 3 {
		a, _ = h.agenda(c)
		h.clk.set(a.Reminders[0].FireAt)
		require.Equal(t, 1, h.detect())
		_, err := h.send()
		require.NoError(t, err)
		require.Equal(t, InboundEcho, h.operator(c, h.tx.messages()[len(h.tx.messages())-1].Text))
	}
	h.clk.set(time.Date(2025, 12, 21, 10, 0, 0, 0, time.UTC))
	require.Equal(t, InboundFunnelStarted, h.customer(c, "Oi de novo"))
}

func TestOperatorNotesStayOutOfChatLog(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	const c ContactID = "5511900000009"
	require.Equal(t, InboundFunnelStarted, h.operator(c, "#nota interna"))
	_, err := h.e.ChatHistory(c)
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, InboundFunnelStarted, h.operator(c, "Bom dia"))
	ch, err := h.e.ChatHistory(c)
	require.NoError(t, err)
	require.Len(t, ch.Messages, 1)
	require.Zero(t, ch.Unread)
}

func TestInboundSaveFailureIsReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	bus := eventbus.New()
	h.e.mu.Lock()
	h.e.bus = bus
	h.e.mu.Unlock()
	events, unsubscribe := bus.Subscribe(8, EventSaveFailed)
	defer unsubscribe()

	h.store.failSaves(errors.New("disk full"))
	const c ContactID = "5511900000090"
	require.Equal(t, InboundFunnelStarted, h.customer(c, "Oi"))
	_, ok := h.contact(c)
	require.True(t, ok, "memory stays authoritative when the save fails")

	select {
	case ev := <-events:
		require.Equal(t, "disk full", ev.Data["err"])
		require.Contains(t, ev.Data["collections"], CollContacts)
	default:
		t.Fatal("expected a save failure event")
	}
}

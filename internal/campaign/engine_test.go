package campaign

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRepairsCollections(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.seed(CollBlocked, `{"5511977770001":{"reason":"MANUAL_STOP","blocked_at":"2025-11-01T10:00:00Z"}}`)
	store.seed(CollContacts, `{
		"5511977770001":{"stage":{"kind":"stepping","step":1},"next_follow_up_at":"2025-12-02T10:00:00Z"},
		"5511977770002":{"stage":{"kind":"stepping","step":9},"next_follow_up_at":"2025-12-02T10:00:00Z"},
		"5511977770003":{"stage":{"kind":"recurring"},"next_follow_up_at":"2025-12-02T10:00:00Z"}
	}`)
	store.seed(CollPaused, `{"5511977770003":{"paused_at":"2025-11-30T10:00:00Z"}}`)
	store.seed(CollAgendas, `{"5511977770004":{"appointment_at":"2025-12-20T14:30:00Z","reminders":[]}}`)
	store.seed(CollScheduled, `{"5511977770004":{"fire_at":"2025-12-05T10:00:00Z"}}`)

	h := newHarnessWithStore(t, store)
	snap := h.e.Snapshot()

	require.NotContains(t, snap.Contacts, ContactID("5511977770001"), "blocked contacts own nothing")
	require.Equal(t, Recurring(), snap.Contacts["5511977770002"].Stage, "step past the cadence")
	require.NotContains(t, snap.Contacts, ContactID("5511977770003"), "paused contacts have no funnel record")
	require.Contains(t, snap.Agendas, ContactID("5511977770004"))
	require.NotContains(t, snap.Scheduled, ContactID("5511977770004"), "agenda wins over a scheduled start")

	for _, name := range []string{CollContacts, CollScheduled} {
		require.Equal(t, 1, store.saves[name], name)
	}
	require.Zero(t, store.saves[CollBlocked])

	var contacts map[ContactID]Contact
	require.NoError(t, json.Unmarshal(store.docs[CollContacts], &contacts))
	require.Len(t, contacts, 1)
}

func TestLoadRebuildsDueHeap(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.seed(CollContacts, `{"5511977770010":{"stage":{"kind":"stepping","step":0},"next_follow_up_at":"2025-12-01T09:00:00Z"}}`)
	store.seed(CollScheduled, `{"5511977770011":{"fire_at":"2025-12-01T09:30:00Z","text":"Oi"}}`)

	h := newHarnessWithStore(t, store)
	require.Equal(t, 2, h.e.Snapshot().PendingDue)
	require.Equal(t, 2, h.detect())
	q := h.queued()
	require.Equal(t, JobFunnelStep, q[0].Kind)
	require.Equal(t, JobScheduledStart, q[1].Kind)
}

func TestLoadCreatesMissingCollections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, name := range AllCollections {
		require.Contains(t, h.store.docs, name)
	}
	require.Equal(t, DefaultTemplates().Messages["step0"], h.e.Templates().Messages["step0"])
}

func TestLoadRejectsBadStage(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.seed(CollContacts, `{"5511977770020":{"stage":{"kind":"waiting"}}}`)
	e := New(testSettings(), store, &fakeTx{})
	require.Error(t, e.Load(context.Background()))
}

func TestStateSurvivesReload(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.customer("5511977770030", "Oi")
	require.NoError(t, h.e.PauseContact(ctx, "5511977770031"))
	_, err := h.e.CreateOrReplaceAgenda(ctx, "5511977770032", t0.Add(10*day), map[string]string{DetailVehicle: "HB20"})
	require.NoError(t, err)
	require.NoError(t, h.e.CreateScheduledStart(ctx, "5511977770033", t0.Add(time.Hour), ""))

	again := newHarnessWithStore(t, h.store)
	before, after := h.e.Snapshot(), again.e.Snapshot()
	require.Equal(t, before.Contacts, after.Contacts)
	require.Equal(t, before.Paused, after.Paused)
	require.Equal(t, before.Agendas, after.Agendas)
	require.Equal(t, before.Scheduled, after.Scheduled)
	require.Equal(t, before.Chats, after.Chats)
}

func TestFunnelStageJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		stage FunnelStage
		json  string
	}{
		{Stepping(0), `{"kind":"stepping","step":0}`},
		{Stepping(3), `{"kind":"stepping","step":3}`},
		{Recurring(), `{"kind":"recurring"}`},
		{PostSale(), `{"kind":"post_sale"}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.stage)
		if err != nil || string(b) != tt.json {
			t.Fatalf("Marshal(%v) = %s, %v; want %s", tt.stage, b, err, tt.json)
		}
	}
	var s FunnelStage
	if err := json.Unmarshal([]byte(`{"kind":"stepping"}`), &s); err == nil {
		t.Fatalf("Unmarshal(stepping without step) error = nil")
	}
}

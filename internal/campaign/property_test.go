package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var propContacts = []ContactID{"5511966660001", "5511966660002", "5511966660003"}

// propStep applies one random operation to the engine.
func propStep(t *rapid.T, h *harness) {
	ctx := context.Background()
	c := rapid.SampledFrom(propContacts).Draw(t, "contact")
	switch rapid.IntRange(0, 10).Draw(t, "op") {
	case 0:
		h.customer(c, rapid.SampledFrom([]string{"Oi", "Quanto custa?", "agenda 20/12/2025 10:00"}).Draw(t, "text"))
	case 1:
		h.operator(c, rapid.SampledFrom([]string{"Bom dia", "#falamos no futuro", "#cliente", "agenda 24/12/2025 15:00"}).Draw(t, "text"))
	case 2:
		if rapid.IntRange(0, 4).Draw(t, "stop") == 0 {
			h.operator(c, "#okok")
		}
	case 3:
		_ = h.e.PauseContact(ctx, c)
	case 4:
		at := h.clk.now().Add(time.Duration(rapid.IntRange(1, 20).Draw(t, "days")) * day)
		_, _ = h.e.CreateOrReplaceAgenda(ctx, c, at, nil)
	case 5:
		_ = h.e.CreateScheduledStart(ctx, c, h.clk.now().Add(time.Hour), "")
	case 6:
		_ = h.e.MarkAsPostSaleClient(ctx, c)
	case 7:
		h.clk.advance(time.Duration(rapid.IntRange(1, 96).Draw(t, "hours")) * time.Hour)
	case 8:
		h.detect()
	default:
		at := h.clk.now()
		out, _ := h.send()
		if out == SendDelivered {
			hour := at.Hour()
			require.True(t, hour >= 9 && hour < 22, "delivered at %v outside the send window", at)
		}
	}
}

func checkInvariants(t *rapid.T, h *harness) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	seen := map[jobKey]bool{}
	for _, j := range h.e.queue.jobs {
		require.False(t, seen[j.id()], "duplicate job %+v", j.id())
		seen[j.id()] = true
		_, blocked := h.e.st.blocked[j.Contact]
		require.False(t, blocked, "queued job for blocked contact %s", j.Contact)
	}
	for c := range h.e.st.blocked {
		require.NotContains(t, h.e.st.contacts, c)
		require.NotContains(t, h.e.st.paused, c)
		require.NotContains(t, h.e.st.agendas, c)
		require.NotContains(t, h.e.st.scheduled, c)
	}
	for c := range h.e.st.paused {
		require.NotContains(t, h.e.st.contacts, c, "paused contact has a funnel record")
	}
	for c := range h.e.st.scheduled {
		require.NotContains(t, h.e.st.agendas, c, "scheduled start next to an agenda")
	}
}

func TestPropertyEngineInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		blockedSends := map[ContactID]int{}
		n := rapid.IntRange(1, 60).Draw(t, "steps")
		for range n {
			propStep(t, h)
			checkInvariants(t, h)

			// Blocking is absorbing: nothing reaches a blocked contact again.
			snap := h.e.Snapshot()
			for c := range snap.Blocked {
				sent := h.tx.sentTo(c)
				if prev, ok := blockedSends[c]; ok {
					require.Equal(t, prev, sent, "message sent to blocked contact %s", c)
				}
				blockedSends[c] = sent
			}
			for c := range blockedSends {
				require.Contains(t, snap.Blocked, c, "contact %s left the blocked set", c)
			}
		}
	})
}

func TestPropertyDetectIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness(t)
		for _, c := range propContacts {
			h.customer(c, "Oi")
			h.clk.advance(time.Duration(rapid.IntRange(0, 120).Draw(t, "gap")) * time.Minute)
		}
		h.clk.advance(time.Duration(rapid.IntRange(0, 10).Draw(t, "days")) * day)

		first := h.detect()
		require.Equal(t, first, len(h.queued()))
		require.Zero(t, h.detect(), "second detect over the same state")

		// Re-adding every hint must not duplicate queued jobs.
		h.e.mu.Lock()
		h.e.rebuildDueLocked()
		h.e.mu.Unlock()
		require.Zero(t, h.detect())
		require.Len(t, h.queued(), first)
	})
}

package eventbus

import "testing"

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()
	b := New()
	jobs, unsub := b.Subscribe(4, "job.")
	defer unsub()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "job.sent"})
	b.Publish(Event{Type: "contact.blocked"})

	if got := len(jobs); got != 1 {
		t.Fatalf("len(jobs) = %d, want 1", got)
	}
	if got := len(all); got != 2 {
		t.Fatalf("len(all) = %d, want 2", got)
	}
	if ev := <-jobs; ev.Type != "job.sent" || ev.Time.IsZero() {
		t.Fatalf("event = %+v, want job.sent with time", ev)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for range 3 {
		b.Publish(Event{Type: "x"})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}

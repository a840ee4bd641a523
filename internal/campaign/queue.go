package campaign

import (
	"slices"
	"time"
)

type JobKind uint8

const (
	JobFunnelStep JobKind = iota + 1
	JobAgendaReminder
	JobScheduledStart
)

func (k JobKind) String() string {
	switch k {
	case JobFunnelStep:
		return "funnel_step"
	case JobAgendaReminder:
		return "agenda_reminder"
	case JobScheduledStart:
		return "scheduled_start"
	default:
		return "unknown"
	}
}

func (k JobKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Job is a queued send. Jobs are never persisted: the detector rebuilds them
// from the due timestamps in the collections.
type Job struct {
	Contact    ContactID `json:"contact"`
	Kind       JobKind   `json:"kind"`
	Key        string    `json:"key,omitempty"` // reminder key for JobAgendaReminder
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts,omitempty"`
}

type jobKey struct {
	contact ContactID
	kind    JobKind
	key     string
}

func (j Job) id() jobKey { return jobKey{j.Contact, j.Kind, j.Key} }

// jobQueue is a FIFO that allows retries at the front. Not safe for
// concurrent use; the engine mutex guards it.
type jobQueue struct {
	jobs []Job
}

func (q *jobQueue) Len() int { return len(q.jobs) }

func (q *jobQueue) pushBack(j Job) { q.jobs = append(q.jobs, j) }

func (q *jobQueue) pushFront(j Job) { q.jobs = slices.Insert(q.jobs, 0, j) }

func (q *jobQueue) pop() (Job, bool) {
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	return j, true
}

func (q *jobQueue) contains(k jobKey) bool {
	return slices.ContainsFunc(q.jobs, func(j Job) bool { return j.id() == k })
}

// purge drops the contact's jobs of the given kinds (all kinds when none
// are given) and reports how many were removed.
func (q *jobQueue) purge(c ContactID, kinds ...JobKind) int {
	before := len(q.jobs)
	q.jobs = slices.DeleteFunc(q.jobs, func(j Job) bool {
		return j.Contact == c && (len(kinds) == 0 || slices.Contains(kinds, j.Kind))
	})
	return before - len(q.jobs)
}

func (q *jobQueue) snapshot() []Job { return slices.Clone(q.jobs) }

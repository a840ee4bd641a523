package campaign

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Dashboard operations. They share the transitions the interpreter uses,
// record an audit entry and persist before returning.

func (e *Engine) checkContactLocked(c ContactID) error {
	if c == "" {
		return fmt.Errorf("empty contact: %w", ErrInvalidArgument)
	}
	if _, ok := e.st.blocked[c]; ok {
		return fmt.Errorf("contact %s: %w", c, ErrBlocked)
	}
	return nil
}

// CreateScheduledStart sets the first message for c. It replaces any
// agenda and funnel record; a pause is lifted because the operator asked
// for the send explicitly.
func (e *Engine) CreateScheduledStart(ctx context.Context, c ContactID, fireAt time.Time, text string) error {
	err := e.createScheduledStart(ctx, c, fireAt, text)
	e.recordAudit(ctx, "schedule", c, fireAt.Format(time.RFC3339), err)
	return err
}

func (e *Engine) createScheduledStart(ctx context.Context, c ContactID, fireAt time.Time, text string) error {
	if fireAt.IsZero() {
		return fmt.Errorf("fire time required: %w", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkContactLocked(c); err != nil {
		return err
	}
	now := e.now()
	e.cancelAgendaLocked(c)
	delete(e.st.contacts, c)
	delete(e.st.paused, c)
	e.queue.purge(c, JobFunnelStep, JobScheduledStart)
	e.st.scheduled[c] = ScheduledStart{FireAt: fireAt, Text: strings.TrimSpace(text), CreatedAt: now}
	e.due.add(dueItem{At: fireAt, Contact: c, Kind: JobScheduledStart})
	e.publish(EventScheduleCreated, c, map[string]any{"fire_at": fireAt})
	return e.saveLocked(ctx, CollScheduled, CollAgendas, CollContacts, CollPaused)
}

func (e *Engine) CancelScheduledStart(ctx context.Context, c ContactID) error {
	err := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.st.scheduled[c]; !ok {
			return fmt.Errorf("scheduled start for %s: %w", c, ErrNotFound)
		}
		delete(e.st.scheduled, c)
		e.queue.purge(c, JobScheduledStart)
		e.publish(EventScheduleCancel, c, nil)
		return e.saveLocked(ctx, CollScheduled)
	}()
	e.recordAudit(ctx, "unschedule", c, "", err)
	return err
}

// CreateOrReplaceAgenda books an appointment for c and derives its
// reminders. The funnel record and any scheduled start are dropped.
func (e *Engine) CreateOrReplaceAgenda(ctx context.Context, c ContactID, appt time.Time, details map[string]string) (Agenda, error) {
	a, err := func() (Agenda, error) {
		if appt.IsZero() {
			return Agenda{}, fmt.Errorf("appointment time required: %w", ErrInvalidArgument)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.checkContactLocked(c); err != nil {
			return Agenda{}, err
		}
		a := e.createAgendaLocked(c, appt, details, e.now())
		return cloneAgenda(a), e.saveLocked(ctx, CollAgendas, CollContacts, CollScheduled)
	}()
	e.recordAudit(ctx, "agenda", c, appt.Format(time.RFC3339), err)
	return a, err
}

func (e *Engine) CancelAgenda(ctx context.Context, c ContactID) error {
	err := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.cancelAgendaLocked(c) {
			return fmt.Errorf("agenda for %s: %w", c, ErrNotFound)
		}
		return e.saveLocked(ctx, CollAgendas)
	}()
	e.recordAudit(ctx, "unagenda", c, "", err)
	return err
}

func (e *Engine) PauseContact(ctx context.Context, c ContactID) error {
	err := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.checkContactLocked(c); err != nil {
			return err
		}
		e.pauseLocked(c, e.now())
		return e.saveLocked(ctx, CollPaused, CollContacts)
	}()
	e.recordAudit(ctx, "pause", c, "", err)
	return err
}

// BlockContact is idempotent: blocking a blocked contact keeps the first
// record.
func (e *Engine) BlockContact(ctx context.Context, c ContactID, reason string) error {
	err := func() error {
		if c == "" {
			return fmt.Errorf("empty contact: %w", ErrInvalidArgument)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.blockLocked(c, strings.TrimSpace(reason), e.now()) {
			return nil
		}
		return e.saveLocked(ctx, CollBlocked, CollPaused, CollContacts, CollAgendas, CollScheduled)
	}()
	e.recordAudit(ctx, "block", c, reason, err)
	return err
}

func (e *Engine) MarkAsPostSaleClient(ctx context.Context, c ContactID) error {
	err := func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.checkContactLocked(c); err != nil {
			return err
		}
		e.markClientLocked(c, e.now())
		return e.saveLocked(ctx, CollContacts, CollAgendas, CollScheduled, CollPaused)
	}()
	e.recordAudit(ctx, "client", c, "", err)
	return err
}

// UpdateMessageTemplates merges msgs into the stored texts. An empty text
// removes the key so the stock text applies again.
func (e *Engine) UpdateMessageTemplates(ctx context.Context, msgs map[string]string) error {
	err := func() error {
		for k := range msgs {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("empty template key: %w", ErrInvalidArgument)
			}
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		for k, v := range msgs {
			if strings.TrimSpace(v) == "" {
				delete(e.st.templates.Messages, k)
				continue
			}
			e.st.templates.Messages[k] = v
		}
		return e.saveLocked(ctx, CollMessages)
	}()
	e.recordAudit(ctx, "templates", "", strings.Join(slices.Sorted(maps.Keys(msgs)), ","), err)
	return err
}

func (e *Engine) UpdateQuickReplies(ctx context.Context, items []QuickReply) error {
	err := func() error {
		clean := make([]QuickReply, 0, len(items))
		for i, it := range items {
			it.Label, it.Text = strings.TrimSpace(it.Label), strings.TrimSpace(it.Text)
			if it.Label == "" || it.Text == "" {
				return fmt.Errorf("quick reply %d needs label and text: %w", i, ErrInvalidArgument)
			}
			clean = append(clean, it)
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		e.st.templates.QuickReplies = clean
		return e.saveLocked(ctx, CollMessages)
	}()
	e.recordAudit(ctx, "quick_replies", "", fmt.Sprintf("%d items", len(items)), err)
	return err
}

func (e *Engine) Templates() Templates {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := DefaultTemplates()
	maps.Copy(merged.Messages, e.st.templates.Messages)
	if e.st.templates.QuickReplies != nil {
		merged.QuickReplies = slices.Clone(e.st.templates.QuickReplies)
	}
	return merged
}

func cloneAgenda(a Agenda) Agenda {
	a.Details = maps.Clone(a.Details)
	a.Reminders = slices.Clone(a.Reminders)
	return a
}

// ContactView gathers everything the engine knows about one contact.
type ContactView struct {
	Contact   ContactID       `json:"contact"`
	Funnel    *Contact        `json:"funnel,omitempty"`
	Blocked   *BlockRecord    `json:"blocked,omitempty"`
	Paused    *PauseRecord    `json:"paused,omitempty"`
	Agenda    *Agenda         `json:"agenda,omitempty"`
	Scheduled *ScheduledStart `json:"scheduled,omitempty"`
	Queued    []Job           `json:"queued,omitempty"`
	Unread    int             `json:"unread"`
}

func (e *Engine) Contact(c ContactID) (ContactView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := ContactView{Contact: c}
	found := false
	if ct, ok := e.st.contacts[c]; ok {
		v.Funnel, found = &ct, true
	}
	if b, ok := e.st.blocked[c]; ok {
		v.Blocked, found = &b, true
	}
	if p, ok := e.st.paused[c]; ok {
		v.Paused, found = &p, true
	}
	if a, ok := e.st.agendas[c]; ok {
		a = cloneAgenda(a)
		v.Agenda, found = &a, true
	}
	if s, ok := e.st.scheduled[c]; ok {
		v.Scheduled, found = &s, true
	}
	if ch, ok := e.st.chats[c]; ok {
		v.Unread, found = ch.Unread, true
	}
	for _, j := range e.queue.jobs {
		if j.Contact == c {
			v.Queued = append(v.Queued, j)
		}
	}
	if !found && len(v.Queued) == 0 {
		return v, fmt.Errorf("contact %s: %w", c, ErrNotFound)
	}
	return v, nil
}

// Snapshot is a read-only copy of every collection plus runtime status.
type Snapshot struct {
	Contacts   map[ContactID]Contact        `json:"contacts"`
	Templates  Templates                    `json:"messages"`
	Blocked    map[ContactID]BlockRecord    `json:"blocked"`
	Paused     map[ContactID]PauseRecord    `json:"paused"`
	Agendas    map[ContactID]Agenda         `json:"agendas"`
	Scheduled  map[ContactID]ScheduledStart `json:"scheduled"`
	Chats      map[ContactID]Chat           `json:"chats"`
	Queue      []Job                        `json:"queue"`
	SendingNow bool                         `json:"sending_now"`
	Connected  bool                         `json:"connected"`
	Automation bool                         `json:"automation"`
	DryRun     bool                         `json:"dry_run"`
	PendingDue int                          `json:"pending_due"`
	Echoes     int                          `json:"pending_echoes"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.st.clone()
	return Snapshot{
		Contacts:   st.contacts,
		Templates:  st.templates,
		Blocked:    st.blocked,
		Paused:     st.paused,
		Agendas:    st.agendas,
		Scheduled:  st.scheduled,
		Chats:      st.chats,
		Queue:      e.queue.snapshot(),
		SendingNow: e.sendingNow,
		Connected:  e.connected,
		Automation: e.settings.AutomationEnabled,
		DryRun:     e.settings.DryRun,
		PendingDue: e.due.Len(),
		Echoes:     e.echoes.count(),
	}
}

// Status is the cheap subset of Snapshot used by health checks.
type Status struct {
	Contacts   int  `json:"contacts"`
	Agendas    int  `json:"agendas"`
	Scheduled  int  `json:"scheduled"`
	Blocked    int  `json:"blocked"`
	Paused     int  `json:"paused"`
	Queue      int  `json:"queue"`
	SendingNow bool `json:"sending_now"`
	Connected  bool `json:"connected"`
	Automation bool `json:"automation"`
	DryRun     bool `json:"dry_run"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Contacts:   len(e.st.contacts),
		Agendas:    len(e.st.agendas),
		Scheduled:  len(e.st.scheduled),
		Blocked:    len(e.st.blocked),
		Paused:     len(e.st.paused),
		Queue:      e.queue.Len(),
		SendingNow: e.sendingNow,
		Connected:  e.connected,
		Automation: e.settings.AutomationEnabled,
		DryRun:     e.settings.DryRun,
	}
}

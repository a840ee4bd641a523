package campaign

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ContactID is the E.164 phone number of a contact, digits only.
type ContactID string

// Names of the persisted collections.
const (
	CollContacts  = "contacts"
	CollMessages  = "messages"
	CollBlocked   = "blocked"
	CollPaused    = "paused"
	CollAgendas   = "agendas"
	CollScheduled = "scheduled"
	CollChats     = "chats"
)

// AllCollections lists every collection in load order.
var AllCollections = []string{CollContacts, CollMessages, CollBlocked, CollPaused, CollAgendas, CollScheduled, CollChats}

type StageKind uint8

const (
	StageNotStarted StageKind = iota
	StageStepping
	StageRecurring
	StagePostSale
)

var stageNames = [...]string{"not_started", "stepping", "recurring", "post_sale"}

func (k StageKind) String() string {
	if int(k) < len(stageNames) {
		return stageNames[k]
	}
	return fmt.Sprintf("stage(%d)", uint8(k))
}

// FunnelStage is where a contact sits in the outreach cadence. Step is only
// meaningful for StageStepping.
type FunnelStage struct {
	Kind StageKind
	Step int
}

func Stepping(i int) FunnelStage { return FunnelStage{Kind: StageStepping, Step: i} }
func Recurring() FunnelStage     { return FunnelStage{Kind: StageRecurring} }
func PostSale() FunnelStage      { return FunnelStage{Kind: StagePostSale} }

func (s FunnelStage) String() string {
	if s.Kind == StageStepping {
		return fmt.Sprintf("stepping(%d)", s.Step)
	}
	return s.Kind.String()
}

type stageJSON struct {
	Kind string `json:"kind"`
	Step *int   `json:"step,omitempty"`
}

func (s FunnelStage) MarshalJSON() ([]byte, error) {
	out := stageJSON{Kind: s.Kind.String()}
	if s.Kind == StageStepping {
		step := s.Step
		out.Step = &step
	}
	return json.Marshal(out)
}

func (s *FunnelStage) UnmarshalJSON(b []byte) error {
	var in stageJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	idx := slices.Index(stageNames[:], in.Kind)
	if idx < 0 {
		return fmt.Errorf("unknown funnel stage %q", in.Kind)
	}
	*s = FunnelStage{Kind: StageKind(idx)}
	if s.Kind == StageStepping {
		if in.Step == nil || *in.Step < 0 {
			return fmt.Errorf("stepping stage needs a non-negative step")
		}
		s.Step = *in.Step
	}
	return nil
}

// Contact is the funnel record. Deleting it is how pause, agenda creation and
// blocking take a contact out of the funnel.
type Contact struct {
	Stage              FunnelStage `json:"stage"`
	NextFollowUpAt     time.Time   `json:"next_follow_up_at,omitzero"`
	LastContactAt      time.Time   `json:"last_contact_at,omitzero"`
	IgnoreNextSelfEcho bool        `json:"ignore_next_self_echo,omitempty"`
}

type BlockRecord struct {
	Reason    string    `json:"reason,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
}

type PauseRecord struct {
	PausedAt time.Time `json:"paused_at"`
}

// Reminder is one pre-appointment firing. Key names both the job and the
// message template ("agenda0", "agenda1", ...).
type Reminder struct {
	FireAt     time.Time `json:"fire_at"`
	OffsetDays int       `json:"offset_days"`
	Key        string    `json:"key"`
}

type Agenda struct {
	AppointmentAt time.Time         `json:"appointment_at"`
	Details       map[string]string `json:"details,omitempty"`
	Reminders     []Reminder        `json:"reminders"`
	CreatedAt     time.Time         `json:"created_at,omitzero"`
}

func (a Agenda) reminder(key string) (Reminder, bool) {
	for _, r := range a.Reminders {
		if r.Key == key {
			return r, true
		}
	}
	return Reminder{}, false
}

// active reports whether the agenda still owns the relationship.
func (a Agenda) active(now time.Time) bool {
	return len(a.Reminders) > 0 || a.AppointmentAt.After(now)
}

type ScheduledStart struct {
	FireAt    time.Time `json:"fire_at"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type QuickReply struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Templates is the editable message texts collection.
type Templates struct {
	Messages     map[string]string `json:"messages"`
	QuickReplies []QuickReply      `json:"quick_replies"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	FromMe    bool      `json:"from_me"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
	Simulated bool      `json:"simulated,omitempty"`
}

type Chat struct {
	Phone     string        `json:"phone"`
	UpdatedAt time.Time     `json:"updated_at"`
	Unread    int           `json:"unread"`
	PinnedAt  time.Time     `json:"pinned_at,omitzero"`
	Messages  []ChatMessage `json:"messages"`
}

// state is the in-memory mirror of the seven collections.
type state struct {
	contacts  map[ContactID]Contact
	templates Templates
	blocked   map[ContactID]BlockRecord
	paused    map[ContactID]PauseRecord
	agendas   map[ContactID]Agenda
	scheduled map[ContactID]ScheduledStart
	chats     map[ContactID]Chat
}

func newState() state {
	return state{
		contacts:  map[ContactID]Contact{},
		templates: DefaultTemplates(),
		blocked:   map[ContactID]BlockRecord{},
		paused:    map[ContactID]PauseRecord{},
		agendas:   map[ContactID]Agenda{},
		scheduled: map[ContactID]ScheduledStart{},
		chats:     map[ContactID]Chat{},
	}
}

// collection returns a pointer to the map or struct backing name.
func (s *state) collection(name string) any {
	switch name {
	case CollContacts:
		return &s.contacts
	case CollMessages:
		return &s.templates
	case CollBlocked:
		return &s.blocked
	case CollPaused:
		return &s.paused
	case CollAgendas:
		return &s.agendas
	case CollScheduled:
		return &s.scheduled
	case CollChats:
		return &s.chats
	default:
		return nil
	}
}

// ensure replaces nil maps left by "null" documents.
func (s *state) ensure() {
	if s.contacts == nil {
		s.contacts = map[ContactID]Contact{}
	}
	if s.templates.Messages == nil {
		s.templates.Messages = map[string]string{}
	}
	if s.blocked == nil {
		s.blocked = map[ContactID]BlockRecord{}
	}
	if s.paused == nil {
		s.paused = map[ContactID]PauseRecord{}
	}
	if s.agendas == nil {
		s.agendas = map[ContactID]Agenda{}
	}
	if s.scheduled == nil {
		s.scheduled = map[ContactID]ScheduledStart{}
	}
	if s.chats == nil {
		s.chats = map[ContactID]Chat{}
	}
}

// clone deep-copies the collections for read-only consumers.
func (s *state) clone() state {
	out := state{
		contacts:  maps.Clone(s.contacts),
		blocked:   maps.Clone(s.blocked),
		paused:    maps.Clone(s.paused),
		scheduled: maps.Clone(s.scheduled),
		agendas:   make(map[ContactID]Agenda, len(s.agendas)),
		chats:     make(map[ContactID]Chat, len(s.chats)),
		templates: Templates{
			Messages:     maps.Clone(s.templates.Messages),
			QuickReplies: slices.Clone(s.templates.QuickReplies),
		},
	}
	for id, a := range s.agendas {
		a.Details = maps.Clone(a.Details)
		a.Reminders = slices.Clone(a.Reminders)
		out.agendas[id] = a
	}
	for id, c := range s.chats {
		c.Messages = slices.Clone(c.Messages)
		out.chats[id] = c
	}
	return out
}

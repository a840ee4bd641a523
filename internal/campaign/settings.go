package campaign

import (
	"strings"
	"time"
)

const day = 24 * time.Hour

// Settings are the resolved engine tunables. Zero fields are filled from
// DefaultSettings by normalize.
type Settings struct {
	BusinessName string
	Location     *time.Location

	// FunnelSteps[i] is the wait before step i, counted from the previous
	// send. A new funnel waits FirstStepOffset (default FunnelSteps[0]).
	FunnelSteps       []time.Duration
	FirstStepOffset   time.Duration
	RecurringInterval time.Duration

	AgendaOffsetDays  []int
	AgendaRetainAfter time.Duration

	// Sends are allowed when WindowStart <= local hour < WindowEnd.
	WindowStart int
	WindowEnd   int
	JitterMin   time.Duration
	JitterMax   time.Duration

	PauseWindow  time.Duration
	ReplayWindow time.Duration
	EchoTTL      time.Duration

	// MaxSendsPerHour caps queued sends; 0 means unlimited.
	MaxSendsPerHour int

	RestartFunnelWithAgenda bool

	DefaultApptHour   int
	DefaultApptMinute int

	PauseCommand  string
	StopCommand   string
	ClientCommand string

	AppointmentKeywords []string
	ChatLogLimit        int

	AutomationEnabled bool
	DryRun            bool
}

func DefaultSettings() Settings {
	return Settings{
		BusinessName:        "Iron Glass",
		Location:            time.Local,
		FunnelSteps:         []time.Duration{3 * day, 5 * day, 7 * day, 15 * day},
		RecurringInterval:   30 * day,
		AgendaOffsetDays:    []int{7, 3, 1},
		AgendaRetainAfter:   7 * day,
		WindowStart:         9,
		WindowEnd:           22,
		JitterMin:           5 * time.Second,
		JitterMax:           55 * time.Second,
		PauseWindow:         72 * time.Hour,
		ReplayWindow:        10 * time.Minute,
		EchoTTL:             2 * time.Minute,
		DefaultApptHour:     9,
		PauseCommand:        "#falamos no futuro",
		StopCommand:         "#okok",
		ClientCommand:       "#cliente",
		AppointmentKeywords: []string{"confirmação", "confirmacion", "agendamento", "agenda"},
		ChatLogLimit:        200,
		AutomationEnabled:   true,
	}
}

func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.Location == nil {
		s.Location = def.Location
	}
	if len(s.FunnelSteps) == 0 {
		s.FunnelSteps = def.FunnelSteps
	}
	if s.FirstStepOffset <= 0 {
		s.FirstStepOffset = s.FunnelSteps[0]
	}
	if s.RecurringInterval <= 0 {
		s.RecurringInterval = def.RecurringInterval
	}
	if s.AgendaOffsetDays == nil {
		s.AgendaOffsetDays = def.AgendaOffsetDays
	}
	if s.AgendaRetainAfter <= 0 {
		s.AgendaRetainAfter = def.AgendaRetainAfter
	}
	if s.WindowStart == 0 && s.WindowEnd == 0 {
		s.WindowStart, s.WindowEnd = def.WindowStart, def.WindowEnd
	}
	if s.JitterMax < s.JitterMin {
		s.JitterMax = s.JitterMin
	}
	if s.PauseWindow <= 0 {
		s.PauseWindow = def.PauseWindow
	}
	if s.ReplayWindow <= 0 {
		s.ReplayWindow = def.ReplayWindow
	}
	if s.EchoTTL <= 0 {
		s.EchoTTL = def.EchoTTL
	}
	if strings.TrimSpace(s.PauseCommand) == "" {
		s.PauseCommand = def.PauseCommand
	}
	if strings.TrimSpace(s.StopCommand) == "" {
		s.StopCommand = def.StopCommand
	}
	if strings.TrimSpace(s.ClientCommand) == "" {
		s.ClientCommand = def.ClientCommand
	}
	if len(s.AppointmentKeywords) == 0 {
		s.AppointmentKeywords = def.AppointmentKeywords
	}
	if s.ChatLogLimit <= 0 {
		s.ChatLogLimit = def.ChatLogLimit
	}
	return s
}

func (s Settings) inWindow(t time.Time) bool {
	h := t.In(s.Location).Hour()
	return h >= s.WindowStart && h < s.WindowEnd
}

func (s Settings) lastStep() int { return len(s.FunnelSteps) - 1 }

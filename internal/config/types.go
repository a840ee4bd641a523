package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are strings parsed by ParseDurationField: Go syntax ("90m",
// "10s") plus a day suffix ("3d", "1.5d").
type Config struct {
	Campaign   CampaignConfig   `json:"campaign"`
	Automation AutomationConfig `json:"automation"`
	Storage    StorageConfig    `json:"storage"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Operator   OperatorConfig   `json:"operator"`
	API        APIConfig        `json:"api"`
	Logging    LoggingConfig    `json:"logging"`
}

// CampaignConfig holds the engine tunables. Every field is hot-reloadable.
type CampaignConfig struct {
	// BusinessName is exposed to templates as {{EMPRESA}}.
	BusinessName string `json:"business_name" validate:"max=80"`
	// Timezone is the IANA zone used for the sending window and appointment
	// parsing. Empty means the host zone.
	Timezone string `json:"timezone,omitempty"`

	// FunnelSteps are the offsets between consecutive scripted messages.
	// FunnelSteps[0] is also the first-step offset unless FirstStepOffset is set.
	FunnelSteps       []string `json:"funnel_steps" validate:"omitempty,min=1,max=20"`
	FirstStepOffset   string   `json:"first_step_offset,omitempty"`
	RecurringInterval string   `json:"recurring_interval,omitempty"`

	AgendaOffsetDays  []int  `json:"agenda_offset_days" validate:"omitempty,max=10,dive,min=1,max=365"`
	AgendaRetainAfter string `json:"agenda_retain_after,omitempty"`

	SendingWindow WindowConfig `json:"sending_window"`
	Jitter        JitterConfig `json:"jitter"`

	PauseWindow  string `json:"pause_window,omitempty"`
	ReplayWindow string `json:"replay_window,omitempty"`
	EchoTTL      string `json:"echo_ttl,omitempty"`

	// MaxSendsPerHour caps automated sends. 0 disables the cap.
	MaxSendsPerHour int `json:"max_sends_per_hour" validate:"min=0,max=3600"`

	// RestartFunnelWithAgenda lets a customer message restart the funnel
	// even while an appointment is pending.
	RestartFunnelWithAgenda bool `json:"restart_funnel_with_agenda"`

	DefaultAppointmentTime string   `json:"default_appointment_time,omitempty"`
	Commands               Commands `json:"commands"`
	AppointmentKeywords    []string `json:"appointment_keywords,omitempty" validate:"omitempty,dive,required"`

	ChatLogLimit  int    `json:"chat_log_limit" validate:"min=0,max=10000"`
	DefaultRegion string `json:"default_region,omitempty" validate:"omitempty,len=2"`
}

type WindowConfig struct {
	StartHour int `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int `json:"end_hour" validate:"min=0,max=24"`
}

type JitterConfig struct {
	Min string `json:"min,omitempty"`
	Max string `json:"max,omitempty"`
}

// Commands are matched case-insensitively as substrings of operator messages.
type Commands struct {
	Pause  string `json:"pause,omitempty"`
	Stop   string `json:"stop,omitempty"`
	Client string `json:"client,omitempty"`
}

type AutomationConfig struct {
	// Enabled=false stops the trigger detector. Inbound handling, the
	// dashboard and manual sends keep working.
	Enabled bool `json:"enabled"`
	// DryRun never hands a message to the transport.
	DryRun bool `json:"dry_run"`

	// Ticks accept anything scheduler.ParseSchedule does ("60s", "@every 1m", cron).
	DetectorTick    string `json:"detector_tick,omitempty"`
	SenderTick      string `json:"sender_tick,omitempty"`
	MaintenanceTick string `json:"maintenance_tick,omitempty"`
}

// StorageConfig selects the collection backend.
//
// Example:
//
//	storage: { driver: file, path: ./data }
//	storage: { driver: sqlite, path: ./data/outreach.db, busy_timeout: 2s }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type WhatsAppConfig struct {
	Enabled bool `json:"enabled"`
	// SessionDB is the sqlite file holding the paired device keys.
	SessionDB    string `json:"session_db,omitempty"`
	ReconnectMin string `json:"reconnect_min,omitempty"`
	ReconnectMax string `json:"reconnect_max,omitempty"`
	// QRFile, when set, also writes the pairing code as a PNG.
	QRFile string `json:"qr_file,omitempty"`
}

// OperatorConfig configures the Telegram owner console.
type OperatorConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty" validate:"omitempty,dive,gt=0"`
	AlertChatID  int64   `json:"alert_chat_id,omitempty"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	// Token, when set, is required as "Authorization: Bearer <token>".
	Token string `json:"token,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerMin int    `json:"rate_per_min" validate:"min=0,max=600"`
}

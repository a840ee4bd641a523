package app

import (
	"fmt"
	"strings"
	"time"

	"outreach/internal/api"
	"outreach/internal/campaign"
	"outreach/internal/config"
	"outreach/internal/operator"
	"outreach/internal/phone"
	"outreach/internal/transport/whatsapp"
	logx "outreach/pkg/logx"
)

// Default tick schedules. The detector and sender cadence matches a
// once-a-minute sweep; maintenance only prunes.
const (
	defaultDetectorTick    = "1m"
	defaultSenderTick      = "1m"
	defaultMaintenanceTick = "1h"
)

// mapCampaignSettings resolves the campaign and automation sections. Zero
// values are left for campaign.Settings to default.
func mapCampaignSettings(cfg *config.Config) (campaign.Settings, error) {
	c := cfg.Campaign
	s := campaign.Settings{
		BusinessName:            strings.TrimSpace(c.BusinessName),
		Location:                time.Local,
		AgendaOffsetDays:        c.AgendaOffsetDays,
		WindowStart:             c.SendingWindow.StartHour,
		WindowEnd:               c.SendingWindow.EndHour,
		MaxSendsPerHour:         c.MaxSendsPerHour,
		RestartFunnelWithAgenda: c.RestartFunnelWithAgenda,
		PauseCommand:            c.Commands.Pause,
		StopCommand:             c.Commands.Stop,
		ClientCommand:           c.Commands.Client,
		AppointmentKeywords:     c.AppointmentKeywords,
		ChatLogLimit:            c.ChatLogLimit,
		AutomationEnabled:       cfg.Automation.Enabled,
		DryRun:                  cfg.Automation.DryRun,
	}
	if s.BusinessName == "" {
		s.BusinessName = campaign.DefaultSettings().BusinessName
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return campaign.Settings{}, fmt.Errorf("campaign.timezone: %w", err)
		}
		s.Location = loc
	}
	for i, raw := range c.FunnelSteps {
		d, err := config.ParseDurationField(fmt.Sprintf("campaign.funnel_steps[%d]", i), raw)
		if err != nil {
			return campaign.Settings{}, err
		}
		s.FunnelSteps = append(s.FunnelSteps, d)
	}

	var err error
	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"campaign.first_step_offset", c.FirstStepOffset, &s.FirstStepOffset},
		{"campaign.recurring_interval", c.RecurringInterval, &s.RecurringInterval},
		{"campaign.agenda_retain_after", c.AgendaRetainAfter, &s.AgendaRetainAfter},
		{"campaign.pause_window", c.PauseWindow, &s.PauseWindow},
		{"campaign.replay_window", c.ReplayWindow, &s.ReplayWindow},
		{"campaign.echo_ttl", c.EchoTTL, &s.EchoTTL},
		{"campaign.jitter.min", c.Jitter.Min, &s.JitterMin},
		{"campaign.jitter.max", c.Jitter.Max, &s.JitterMax},
	}
	for _, d := range durations {
		if *d.dst, err = config.ParseDurationField(d.path, d.raw); err != nil {
			return campaign.Settings{}, err
		}
	}
	// Unset jitter keeps the stock 5..55s spread.
	if c.Jitter.Min == "" && c.Jitter.Max == "" {
		def := campaign.DefaultSettings()
		s.JitterMin, s.JitterMax = def.JitterMin, def.JitterMax
	}

	s.DefaultApptHour = campaign.DefaultSettings().DefaultApptHour
	if raw := strings.TrimSpace(c.DefaultAppointmentTime); raw != "" {
		if s.DefaultApptHour, s.DefaultApptMinute, err = config.ParseClock("campaign.default_appointment_time", raw); err != nil {
			return campaign.Settings{}, err
		}
	}
	return s, nil
}

func regionOf(cfg *config.Config) string {
	if r := strings.ToUpper(strings.TrimSpace(cfg.Campaign.DefaultRegion)); r != "" {
		return r
	}
	return phone.DefaultRegion
}

// sendBudget bounds the transport call of one send tick, on top of the
// jitter sleep.
const sendBudget = time.Minute

func sendTimeout(s campaign.Settings) time.Duration {
	return s.JitterMax + sendBudget
}

type ticks struct {
	detector, sender, maintenance string
}

func mapTicks(cfg *config.Config) ticks {
	or := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	a := cfg.Automation
	return ticks{
		detector:    or(a.DetectorTick, defaultDetectorTick),
		sender:      or(a.SenderTick, defaultSenderTick),
		maintenance: or(a.MaintenanceTick, defaultMaintenanceTick),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerMin: l.Alerts.RatePerMin,
		},
	}
}

func mapWhatsAppConfig(cfg *config.Config) (whatsapp.Config, error) {
	w := cfg.WhatsApp
	minB, err := config.ParseDurationOrDefault("whatsapp.reconnect_min", w.ReconnectMin, time.Second)
	if err != nil {
		return whatsapp.Config{}, err
	}
	maxB, err := config.ParseDurationOrDefault("whatsapp.reconnect_max", w.ReconnectMax, 2*time.Minute)
	if err != nil {
		return whatsapp.Config{}, err
	}
	db := strings.TrimSpace(w.SessionDB)
	if db == "" {
		db = defaultDataDir + "/whatsapp.db"
	}
	return whatsapp.Config{
		SessionDB:    db,
		ReconnectMin: minB,
		ReconnectMax: max(minB, maxB),
		QRFile:       strings.TrimSpace(w.QRFile),
		Verbose:      strings.EqualFold(strings.TrimSpace(cfg.Logging.Level), "trace"),
	}, nil
}

func mapOperatorConfig(cfg *config.Config) (operator.Config, error) {
	o := cfg.Operator
	poll, err := config.ParseDurationOrDefault("operator.poll_timeout", o.PollTimeout, 10*time.Second)
	if err != nil {
		return operator.Config{}, err
	}
	return operator.Config{
		Token:       strings.TrimSpace(o.Token),
		Owners:      o.OwnerUserIDs,
		AlertChatID: o.AlertChatID,
		PollTimeout: poll,
		Region:      regionOf(cfg),
	}, nil
}

func mapAPIConfig(cfg *config.Config) api.Config {
	return api.Config{
		Enabled: cfg.API.Enabled,
		Addr:    strings.TrimSpace(cfg.API.Addr),
		Token:   strings.TrimSpace(cfg.API.Token),
		Region:  regionOf(cfg),
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"outreach/internal/scheduler"
)

// MaxJitter caps the pre-send delay so a send tick fits its timeout.
const MaxJitter = 90 * time.Second

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field rules that do not need the
// consuming components. Component mappers in internal/app apply defaults
// and re-check what they own.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	c := cfg.Campaign
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("campaign.timezone: invalid %q: %w", tz, err)
		}
	}
	w := c.SendingWindow
	if (w.StartHour != 0 || w.EndHour != 0) && w.StartHour >= w.EndHour {
		return fmt.Errorf("campaign.sending_window: start_hour (%d) must be < end_hour (%d)", w.StartHour, w.EndHour)
	}
	for i, raw := range c.FunnelSteps {
		d, err := ParseDurationField(fmt.Sprintf("campaign.funnel_steps[%d]", i), raw)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("campaign.funnel_steps[%d]: must be > 0", i)
		}
	}
	for path, raw := range map[string]string{
		"campaign.first_step_offset":   c.FirstStepOffset,
		"campaign.recurring_interval":  c.RecurringInterval,
		"campaign.agenda_retain_after": c.AgendaRetainAfter,
		"campaign.pause_window":        c.PauseWindow,
		"campaign.replay_window":       c.ReplayWindow,
		"campaign.echo_ttl":            c.EchoTTL,
		"storage.busy_timeout":         cfg.Storage.BusyTimeout,
		"whatsapp.reconnect_min":       cfg.WhatsApp.ReconnectMin,
		"whatsapp.reconnect_max":       cfg.WhatsApp.ReconnectMax,
		"operator.poll_timeout":        cfg.Operator.PollTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	jmin, err := ParseDurationField("campaign.jitter.min", c.Jitter.Min)
	if err != nil {
		return err
	}
	jmax, err := ParseDurationField("campaign.jitter.max", c.Jitter.Max)
	if err != nil {
		return err
	}
	if jmax > 0 && jmin > jmax {
		return fmt.Errorf("campaign.jitter: min (%s) must be <= max (%s)", jmin, jmax)
	}
	if jmin > MaxJitter || jmax > MaxJitter {
		return fmt.Errorf("campaign.jitter: must be <= %s", MaxJitter)
	}
	if raw := strings.TrimSpace(c.DefaultAppointmentTime); raw != "" {
		if _, _, err := ParseClock("campaign.default_appointment_time", raw); err != nil {
			return err
		}
	}
	a := cfg.Automation
	for path, raw := range map[string]string{
		"automation.detector_tick":    a.DetectorTick,
		"automation.sender_tick":      a.SenderTick,
		"automation.maintenance_tick": a.MaintenanceTick,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if cfg.Operator.Enabled && strings.TrimSpace(cfg.Operator.Token) == "" {
		return errors.New("operator.token is required when operator.enabled is true")
	}
	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Addr) == "" {
		return errors.New("api.addr is required when api.enabled is true")
	}
	return nil
}

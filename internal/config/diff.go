package config

import (
	"reflect"
	"strings"

	logx "outreach/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe attrs for
// logging (never tokens), and (3) the changed settings that only take effect
// after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)
	var restart []string

	if !reflect.DeepEqual(oldCfg.Campaign, newCfg.Campaign) {
		changed = append(changed, "campaign")
		attrs = append(attrs,
			logx.Strings("campaign.funnel_steps", newCfg.Campaign.FunnelSteps),
			logx.Int("campaign.window_start", newCfg.Campaign.SendingWindow.StartHour),
			logx.Int("campaign.window_end", newCfg.Campaign.SendingWindow.EndHour),
			logx.Int("campaign.max_sends_per_hour", newCfg.Campaign.MaxSendsPerHour),
		)
	}

	if oldCfg.Automation != newCfg.Automation {
		changed = append(changed, "automation")
		attrs = append(attrs,
			logx.Bool("automation.enabled", newCfg.Automation.Enabled),
			logx.Bool("automation.dry_run", newCfg.Automation.DryRun),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.alerts", newCfg.Logging.Alerts.Enabled),
		)
	}

	if oldCfg.Operator.Enabled != newCfg.Operator.Enabled ||
		oldCfg.Operator.Token != newCfg.Operator.Token ||
		oldCfg.Operator.AlertChatID != newCfg.Operator.AlertChatID ||
		strings.TrimSpace(oldCfg.Operator.PollTimeout) != strings.TrimSpace(newCfg.Operator.PollTimeout) {
		changed = append(changed, "operator")
		restart = append(restart, "operator")
	} else if !reflect.DeepEqual(oldCfg.Operator.OwnerUserIDs, newCfg.Operator.OwnerUserIDs) {
		changed = append(changed, "operator")
		attrs = append(attrs, logx.Int("operator.owner_count", len(newCfg.Operator.OwnerUserIDs)))
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
	}
	if oldCfg.WhatsApp != newCfg.WhatsApp {
		changed = append(changed, "whatsapp")
		restart = append(restart, "whatsapp")
	}
	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", newCfg.API.Addr),
		)
	}

	return changed, attrs, restart
}

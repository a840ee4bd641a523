package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
campaign:
  business_name: Iron Glass
  timezone: America/Sao_Paulo
  funnel_steps: ["3d", "5d", "7d", "15d"]
  recurring_interval: 30d
  agenda_offset_days: [7, 3, 1]
  sending_window: { start_hour: 9, end_hour: 22 }
  jitter: { min: 5s, max: 55s }
  max_sends_per_hour: 30
  chat_log_limit: 200
automation:
  enabled: true
  detector_tick: 60s
  sender_tick: 60s
storage:
  driver: file
  path: ./data
logging:
  level: info
  console: true
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Campaign.BusinessName != "Iron Glass" {
		t.Fatalf("BusinessName = %q", cfg.Campaign.BusinessName)
	}
	if got := len(cfg.Campaign.FunnelSteps); got != 4 {
		t.Fatalf("len(FunnelSteps) = %d, want 4", got)
	}
	if cfg.Campaign.SendingWindow.EndHour != 22 {
		t.Fatalf("EndHour = %d, want 22", cfg.Campaign.SendingWindow.EndHour)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"campaign":{"bogus":1}}`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestDecodeEnvSecrets(t *testing.T) {
	t.Setenv(EnvOperatorToken, "from-env")
	cfg, err := Decode("c.json", []byte(`{"operator":{"enabled":true}}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Operator.Token != "from-env" {
		t.Fatalf("Operator.Token = %q, want from-env", cfg.Operator.Token)
	}

	cfg, err = Decode("c.json", []byte(`{"operator":{"token":"file"}}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Operator.Token != "file" {
		t.Fatalf("file token should win, got %q", cfg.Operator.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		json string
		want string
	}{
		{name: "ok", json: `{}`},
		{name: "bad timezone", json: `{"campaign":{"timezone":"Mars/Olympus"}}`, want: "campaign.timezone"},
		{name: "window order", json: `{"campaign":{"sending_window":{"start_hour":22,"end_hour":9}}}`, want: "sending_window"},
		{name: "hour range", json: `{"campaign":{"sending_window":{"start_hour":30,"end_hour":31}}}`, want: "StartHour"},
		{name: "bad step", json: `{"campaign":{"funnel_steps":["3x"]}}`, want: "funnel_steps[0]"},
		{name: "zero step", json: `{"campaign":{"funnel_steps":["0s"]}}`, want: "must be > 0"},
		{name: "jitter", json: `{"campaign":{"jitter":{"min":"60s","max":"5s"}}}`, want: "jitter"},
		{name: "jitter cap", json: `{"campaign":{"jitter":{"min":"5s","max":"10m"}}}`, want: "campaign.jitter: must be <= 1m30s"},
		{name: "jitter min cap", json: `{"campaign":{"jitter":{"min":"2m"}}}`, want: "campaign.jitter: must be <= 1m30s"},
		{name: "jitter at cap", json: `{"campaign":{"jitter":{"min":"30s","max":"90s"}}}`},
		{name: "clock", json: `{"campaign":{"default_appointment_time":"25:00"}}`, want: "default_appointment_time"},
		{name: "driver", json: `{"storage":{"driver":"mongo"}}`, want: "oneof"},
		{name: "operator token", json: `{"operator":{"enabled":true}}`, want: "operator.token"},
		{name: "api addr", json: `{"api":{"enabled":true}}`, want: "api.addr"},
		{name: "tick", json: `{"automation":{"sender_tick":"whenever"}}`, want: "automation.sender_tick"},
		{name: "cron tick", json: `{"automation":{"maintenance_tick":"0 3 * * *"}}`},
		{name: "offset days", json: `{"campaign":{"agenda_offset_days":[0]}}`, want: "AgendaOffsetDays"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Decode("c.json", []byte(tt.json))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			err = Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"90m", 90 * time.Minute},
		{"3d", 72 * time.Hour},
		{"0.5d", 12 * time.Hour},
		{" 10s ", 10 * time.Second},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if err != nil {
			t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	for _, raw := range []string{"-1s", "xd", "soon"} {
		if _, err := ParseDurationField("x", raw); err == nil {
			t.Fatalf("ParseDurationField(%q) expected error", raw)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("ParseDurationOrDefault = %v, want 1m", d)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	h, m, err := ParseClock("x", "09:05")
	if err != nil || h != 9 || m != 5 {
		t.Fatalf("ParseClock = %d:%d, %v", h, m, err)
	}
	for _, raw := range []string{"9", "24:00", "10:60", "a:b"} {
		if _, _, err := ParseClock("x", raw); err == nil {
			t.Fatalf("ParseClock(%q) expected error", raw)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Campaign.MaxSendsPerHour = 10
	newCfg.Storage.Driver = "sqlite"
	newCfg.Operator.OwnerUserIDs = []int64{42}
	newCfg.API.Addr = "127.0.0.1:9000"

	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"campaign", "operator", "storage", "api"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if strings.Join(restart, ",") != "storage" {
		t.Fatalf("restart = %v, want [storage]", restart)
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("subscriber should hold the latest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestReloadSkipsUnchanged(t *testing.T) {
	p := writeConfig(t, "config.json", `{"campaign":{"business_name":"A"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)

	m.reload(t.Context())
	select {
	case <-ch:
		t.Fatal("unchanged file should not publish")
	default:
	}

	if err := os.WriteFile(p, []byte(`{"campaign":{"business_name":"B"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(t.Context())
	select {
	case cfg := <-ch:
		if cfg.Campaign.BusinessName != "B" {
			t.Fatalf("BusinessName = %q, want B", cfg.Campaign.BusinessName)
		}
	default:
		t.Fatal("changed file should publish")
	}
}

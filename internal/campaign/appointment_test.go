package campaign

import (
	"testing"
	"time"
)

func TestAppointmentParser(t *testing.T) {
	t.Parallel()
	p := NewAppointmentParser(DefaultSettings().AppointmentKeywords, time.UTC, 9, 0)
	at := func(y int, m time.Month, d, hh, mm int) time.Time { return time.Date(y, m, d, hh, mm, 0, 0, time.UTC) }

	tests := []struct {
		text   string
		want   time.Time
		wantOK bool
	}{
		{"Agendamento confirmado para 20/12/2025 14:30", at(2025, 12, 20, 14, 30), true},
		{"agenda 5/1/26", at(2026, 1, 5, 9, 0), true},
		{"Confirmação 20.12.2025 às 9h15", at(2025, 12, 20, 9, 15), true},
		{"AGENDA 01-03-2025 08:05", at(2025, 3, 1, 8, 5), true},
		{"confirmacion 1/2/2025 10 h 30", at(2025, 2, 1, 10, 30), true},
		{"agenda 1/1/2025 10h", at(2025, 1, 1, 9, 0), true},
		{"confirmado 20/12/2025 14:30", time.Time{}, false},
		{"agenda 31/02/2025", time.Time{}, false},
		{"agenda 20/13/2025", time.Time{}, false},
		{"agenda 20/12/2025 25:00", time.Time{}, false},
		{"agenda 20/12/2025 10:75", time.Time{}, false},
		{"agenda 20/12/202", time.Time{}, false},
		{"agenda amanhã às 10h", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := p.Parse(tt.text)
		if ok != tt.wantOK || !got.Equal(tt.want) {
			t.Fatalf("Parse(%q) = %v, %v; want %v, %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestAppointmentParserLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("BRT", -3*3600)
	p := NewAppointmentParser([]string{"agenda"}, loc, 9, 0)
	got, ok := p.Parse("agenda 20/12/2025 14:30")
	if !ok {
		t.Fatalf("Parse() no match")
	}
	want := time.Date(2025, 12, 20, 17, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Parse() = %v, want %v", got.UTC(), want)
	}
}

func TestBuildReminders(t *testing.T) {
	t.Parallel()
	appt := time.Date(2025, 12, 20, 14, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		keys []string
	}{
		{"all future", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), []string{"agenda0", "agenda1", "agenda2"}},
		{"seven-day passed", time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), []string{"agenda1", "agenda2"}},
		{"only tomorrow", time.Date(2025, 12, 19, 14, 0, 0, 0, time.UTC), []string{"agenda2"}},
		{"too late", time.Date(2025, 12, 19, 15, 0, 0, 0, time.UTC), nil},
	}
	for _, tt := range tests {
		rs := buildReminders(appt, []int{7, 3, 1}, tt.now)
		var keys []string
		for i, r := range rs {
			keys = append(keys, r.Key)
			if !r.FireAt.Before(appt) || !r.FireAt.After(tt.now) {
				t.Fatalf("%s: reminder %s at %v outside (now, appt)", tt.name, r.Key, r.FireAt)
			}
			if i > 0 && !rs[i-1].FireAt.Before(r.FireAt) {
				t.Fatalf("%s: reminders not sorted", tt.name)
			}
		}
		if len(keys) != len(tt.keys) {
			t.Fatalf("%s: keys = %v, want %v", tt.name, keys, tt.keys)
		}
		for i := range keys {
			if keys[i] != tt.keys[i] {
				t.Fatalf("%s: keys = %v, want %v", tt.name, keys, tt.keys)
			}
		}
	}
}

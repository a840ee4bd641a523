package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a normalized schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 */2 * * * *" (with seconds), "@hourly", "@every 1m"
//   - Interval duration: "30s", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes)
//
// A "cron:" or "every:" prefix forces the kind.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

// String returns the form the cron parser accepts.
func (p ParsedSpec) String() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if rest, ok := strings.CutPrefix(low, "cron:"); ok {
		expr := strings.TrimSpace(s[len(s)-len(rest):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		if _, err := cronParser.Parse(expr); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr}, nil
	}
	if rest, ok := strings.CutPrefix(low, "every:"); ok {
		d, err := parseInterval(rest)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}

	// "@every 1m" is an interval so it gets the startup spread.
	if rest, ok := strings.CutPrefix(low, "@every"); ok {
		d, err := parseInterval(rest)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		if _, err := cronParser.Parse(s); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", s, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}

	d, err := parseInterval(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:30', or duration like '30s')", raw)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval %q must be at least 1s", v)
	}
	return d, nil
}

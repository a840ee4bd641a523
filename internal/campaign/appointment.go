package campaign

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	apptDateRe = regexp.MustCompile(`(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2,4})`)
	apptTimeRe = regexp.MustCompile(`(?i)(\d{1,2})\s*[:h]\s*(\d{2})`)
)

// AppointmentParser finds a confirmed appointment in free text. It only
// looks for a date when one of its keywords is present.
type AppointmentParser struct {
	keywords      []string
	loc           *time.Location
	defaultHour   int
	defaultMinute int
}

func NewAppointmentParser(keywords []string, loc *time.Location, defaultHour, defaultMinute int) AppointmentParser {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	if loc == nil {
		loc = time.Local
	}
	return AppointmentParser{keywords: kw, loc: loc, defaultHour: defaultHour, defaultMinute: defaultMinute}
}

// Parse returns the appointment time, or false when the text is not a
// confirmation or names an impossible date or time.
func (p AppointmentParser) Parse(text string) (time.Time, bool) {
	lower := strings.ToLower(text)
	if !p.gated(lower) {
		return time.Time{}, false
	}

	dm := apptDateRe.FindStringSubmatchIndex(lower)
	if dm == nil {
		return time.Time{}, false
	}
	dd, _ := strconv.Atoi(lower[dm[2]:dm[3]])
	mm, _ := strconv.Atoi(lower[dm[4]:dm[5]])
	yy := lower[dm[6]:dm[7]]
	year, _ := strconv.Atoi(yy)
	switch len(yy) {
	case 2:
		year += 2000
	case 3:
		return time.Time{}, false
	}

	hour, minute := p.defaultHour, p.defaultMinute
	// The time must not overlap the date ("20/12/2025" has no ':' or 'h').
	rest := lower[:dm[0]] + " " + lower[dm[1]:]
	if tm := apptTimeRe.FindStringSubmatch(rest); tm != nil {
		hour, _ = strconv.Atoi(tm[1])
		minute, _ = strconv.Atoi(tm[2])
		if hour > 23 || minute > 59 {
			return time.Time{}, false
		}
	}

	t := time.Date(year, time.Month(mm), dd, hour, minute, 0, 0, p.loc)
	// time.Date normalizes 31/02 into March; reject instead.
	if t.Day() != dd || int(t.Month()) != mm || t.Year() != year {
		return time.Time{}, false
	}
	return t, true
}

func (p AppointmentParser) gated(lower string) bool {
	for _, k := range p.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

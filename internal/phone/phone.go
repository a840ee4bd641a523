// Package phone turns operator input and session addresses into the
// digits-only E.164 form used as contact ids.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion applies when the number carries no country code.
const DefaultRegion = "BR"

var ErrInvalid = errors.New("invalid phone number")

// Normalize parses raw ("+55 (11) 98888-7777", "11988887777", ...) and
// returns its E.164 digits without the plus sign. Brazilian mobiles in the
// pre-2012 eight digit form gain their leading 9.
func Normalize(raw, region string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty number: %w", ErrInvalid)
	}
	if region == "" {
		region = DefaultRegion
	}
	region = strings.ToUpper(region)

	num, err := phonenumbers.Parse(s, region)
	if err == nil && !phonenumbers.IsValidNumber(num) {
		num = upgradeLegacy(num)
	}
	if err != nil || !phonenumbers.IsValidNumber(num) {
		// Digits that already start with a country code but lack the plus.
		if d := digits(s); d != "" && !strings.HasPrefix(s, "+") {
			if alt, aerr := phonenumbers.Parse("+"+canonical(d), ""); aerr == nil && phonenumbers.IsValidNumber(alt) {
				num, err = alt, nil
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalid)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalid)
	}
	return canonical(strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+")), nil
}

// FromSession accepts the user part of a session address as long as it is
// all digits. Session numbers are not re-validated, but the legacy
// Brazilian mobile form some carriers still report is upgraded so both
// paths agree on one contact id.
func FromSession(user string) (string, bool) {
	d := digits(user)
	if d == "" || d != user || len(d) < 8 || len(d) > 15 {
		return "", false
	}
	return canonical(d), true
}

// canonical inserts the mobile 9 into a 12 digit Brazilian number whose
// subscriber part starts with 6..9. Landlines (2..5) are left alone.
func canonical(d string) string {
	if len(d) != 12 || !strings.HasPrefix(d, "55") || d[2] == '0' {
		return d
	}
	if first := d[4]; first < '6' || first > '9' {
		return d
	}
	return d[:4] + "9" + d[4:]
}

func upgradeLegacy(num *phonenumbers.PhoneNumber) *phonenumbers.PhoneNumber {
	if num.GetCountryCode() != 55 {
		return num
	}
	d := canonical("55" + phonenumbers.GetNationalSignificantNumber(num))
	alt, err := phonenumbers.Parse("+"+d, "")
	if err != nil {
		return num
	}
	return alt
}

// Display renders id in international format, falling back to "+digits".
func Display(id string) string {
	num, err := phonenumbers.Parse("+"+id, "")
	if err != nil {
		return "+" + id
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	return b.String()
}

package onboard

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wastehub/onboard/idp"
)

const (
	otpLength    = 4
	pinLength    = 6
	maxEmailSize = 254
	foundedFmt   = "2006-01-02"
)

var (
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}$`)
	deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
)

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// normalizePhone returns the phone number as country code plus subscriber
// digits, without "+". A local "0…" form is rewritten to the country code;
// the country code followed by "0" is refused.
func (e *Engine) normalizePhone(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	v = strings.NewReplacer(" ", "", "-", "").Replace(v)
	cc := e.config.Validation.CountryCode

	switch {
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	case strings.HasPrefix(v, "0"):
		v = cc + v[1:]
	}
	if !allDigits(v) || !strings.HasPrefix(v, cc) {
		return "", false
	}
	// A trunk zero never follows the country code.
	if len(v) > len(cc) && v[len(cc)] == '0' {
		return "", false
	}

	n := len(v) - len(cc)
	if n < e.config.Validation.MinSubscriberDigits || n > e.config.Validation.MaxSubscriberDigits {
		return "", false
	}
	return v, true
}

func validOTP(v string) bool {
	return len(v) == otpLength && allDigits(v)
}

func validPIN(v string) bool {
	return len(v) == pinLength && allDigits(v)
}

func normalizeEmail(raw string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" || len(v) > maxEmailSize || !emailPattern.MatchString(v) {
		return "", false
	}
	return v, true
}

// resolveDeviceID keeps a device id already bound to the session, accepts a
// well-formed client id, and otherwise generates one.
func resolveDeviceID(client, current string) (string, bool) {
	client = strings.TrimSpace(client)
	if client == "" {
		if current != "" {
			return current, true
		}
		return uuid.NewString(), true
	}
	if !deviceIDPattern.MatchString(client) {
		return "", false
	}
	return client, true
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validateProfile trims p in place and collects every field error.
func (e *Engine) validateProfile(p *idp.CompanyProfile, now time.Time) map[string]string {
	fields := map[string]string{}

	required := []struct {
		name  string
		value *string
	}{
		{"company_name", &p.CompanyName},
		{"company_type", &p.CompanyType},
		{"address", &p.Address},
		{"province", &p.Province},
		{"city", &p.City},
		{"postal_code", &p.PostalCode},
		{"company_phone", &p.CompanyPhone},
		{"company_email", &p.CompanyEmail},
		{"website", &p.Website},
		{"founded_date", &p.FoundedDate},
		{"tax_id", &p.TaxID},
		{"description", &p.Description},
	}
	for _, f := range required {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			fields[f.name] = "required"
		}
	}
	p.LogoURL = strings.TrimSpace(p.LogoURL)

	if p.PostalCode != "" && (len(p.PostalCode) != 5 || !allDigits(p.PostalCode)) {
		fields["postal_code"] = "must be 5 digits"
	}
	if p.CompanyPhone != "" {
		if phone, ok := e.normalizePhone(p.CompanyPhone); ok {
			p.CompanyPhone = phone
		} else {
			fields["company_phone"] = "invalid phone number"
		}
	}
	if p.CompanyEmail != "" {
		if email, ok := normalizeEmail(p.CompanyEmail); ok {
			p.CompanyEmail = email
		} else {
			fields["company_email"] = "invalid email"
		}
	}
	if p.Website != "" && !validHTTPURL(p.Website) {
		fields["website"] = "must be an http or https url"
	}
	if p.LogoURL != "" && !validHTTPURL(p.LogoURL) {
		fields["logo_url"] = "must be an http or https url"
	}
	if p.FoundedDate != "" {
		founded, err := time.Parse(foundedFmt, p.FoundedDate)
		switch {
		case err != nil:
			fields["founded_date"] = "must be YYYY-MM-DD"
		case founded.After(now):
			fields["founded_date"] = "must not be in the future"
		}
	}
	if p.TaxID != "" {
		taxID := strings.NewReplacer(".", "", "-", "").Replace(p.TaxID)
		if !allDigits(taxID) || (len(taxID) != 15 && len(taxID) != 16) {
			fields["tax_id"] = "must be 15 or 16 digits"
		} else {
			p.TaxID = taxID
		}
	}

	return fields
}

// MaskPhone keeps the country code and last three digits.
func MaskPhone(phone string) string {
	if len(phone) <= 5 {
		return phone
	}
	return phone[:2] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-3:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return email
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}

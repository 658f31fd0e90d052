package devidp

import (
	"errors"
	"time"

	"github.com/wastehub/onboard/pin"
)

// Config tunes the development identity provider.
type Config struct {
	KeyPrefix string
	OTP       OTPConfig
	PIN       PINConfig
	Tokens    TokenConfig
	// Administrators are the emails seeded as administrator accounts by
	// [Provider.SeedAdministrators].
	Administrators []string
}

/*
====================================
OTP CONFIG
====================================
*/

type OTPConfig struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
	// FixedCode, when set, is issued instead of a random code.
	FixedCode string

	// Send throttle: at most MaxPerContact sends per contact and
	// MaxPerIP per client IP in each Window. Zero disables a limit.
	MaxPerContact int
	MaxPerIP      int
	Window        time.Duration
}

/*
====================================
PIN CONFIG
====================================
*/

type PINConfig struct {
	Hash          pin.Config
	LockThreshold int
	LockDuration  time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func defaultConfig() Config {
	return Config{
		KeyPrefix: "devidp",
		OTP: OTPConfig{
			Length:        4,
			TTL:           5 * time.Minute,
			MaxAttempts:   5,
			MaxPerContact: 5,
			MaxPerIP:      30,
			Window:        15 * time.Minute,
		},
		PIN: PINConfig{
			Hash:          pin.DefaultConfig(),
			LockThreshold: 5,
			LockDuration:  15 * time.Minute,
		},
		Tokens: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
	}
}

// DefaultConfig returns the development defaults: 4-digit codes valid for
// five minutes, five wrong PINs lock an account for fifteen minutes.
func DefaultConfig() Config {
	return defaultConfig()
}

// Validate checks that c can run a provider.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("KeyPrefix must not be empty")
	}

	// OTP
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return errors.New("OTP Length must be between 4 and 10")
	}
	if c.OTP.FixedCode != "" && len(c.OTP.FixedCode) != c.OTP.Length {
		return errors.New("OTP FixedCode must have OTP Length digits")
	}
	for i := 0; i < len(c.OTP.FixedCode); i++ {
		if c.OTP.FixedCode[i] < '0' || c.OTP.FixedCode[i] > '9' {
			return errors.New("OTP FixedCode must be digits")
		}
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.MaxPerContact < 0 || c.OTP.MaxPerIP < 0 {
		return errors.New("OTP send limits must be >= 0")
	}
	if (c.OTP.MaxPerContact > 0 || c.OTP.MaxPerIP > 0) && c.OTP.Window <= 0 {
		return errors.New("OTP Window must be > 0 when a send limit is set")
	}

	// PIN
	if c.PIN.LockThreshold <= 0 {
		return errors.New("PIN LockThreshold must be > 0")
	}
	if c.PIN.LockDuration <= 0 {
		return errors.New("PIN LockDuration must be > 0")
	}

	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL < c.Tokens.AccessTTL {
		return errors.New("Tokens RefreshTTL must be >= AccessTTL")
	}

	return nil
}

package leagueauth

import (
	"bytes"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpManager wraps the otp library with the engine's configuration.
// Secrets are standard base32 so any authenticator app can enroll.
type totpManager struct {
	cfg TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{cfg: cfg}
}

func (m *totpManager) digits() otp.Digits {
	if m.cfg.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// generate creates a fresh key. The issuer is the organization name so
// authenticator entries read "Riverside Softball (pat@example.com)",
// not a platform-wide label.
func (m *totpManager) generate(issuer, account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      m.cfg.Period,
		Digits:      m.digits(),
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  20,
	})
}

// validate checks a code against a stored secret at the given time,
// accepting the configured number of adjacent steps on either side.
func (m *totpManager) validate(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    m.cfg.Period,
		Skew:      m.cfg.Skew,
		Digits:    m.digits(),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// qrPNG renders the otpauth URL as a PNG for enrollment pages.
func (m *totpManager) qrPNG(key *otp.Key) ([]byte, error) {
	img, err := key.Image(m.cfg.QRSize, m.cfg.QRSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

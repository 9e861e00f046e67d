package leagueauth_test

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	leagueauth "github.com/openleague/leagueauth"
)

var recoveryCodeShape = regexp.MustCompile(`^[0-9a-f]{5}-[0-9a-f]{5}$`)

// enrollTOTP walks a user through enrollment and returns the shared
// secret with the freshly minted recovery codes.
func (env *testEnv) enrollTOTP(t *testing.T, orgID, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, orgID, userID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	codes, err := env.engine.ConfirmTOTPEnrollment(ctx, orgID, userID, code)
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}
	return enrollment.Secret, codes
}

// wrongTOTPCode derives a code guaranteed to differ from the valid one.
func wrongTOTPCode(valid string) string {
	if strings.HasSuffix(valid, "0") {
		return valid[:len(valid)-1] + "1"
	}
	return valid[:len(valid)-1] + "0"
}

func TestTOTPEnrollmentAndLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")

	enrollment, err := env.engine.BeginTOTPEnrollment(ctx, org.ID, owner.ID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	if enrollment.Secret == "" {
		t.Fatal("no shared secret issued")
	}
	if !strings.HasPrefix(enrollment.URL, "otpauth://totp/") {
		t.Fatalf("enrollment URL = %q", enrollment.URL)
	}
	if !bytes.HasPrefix(enrollment.QRPNG, []byte("\x89PNG")) {
		t.Fatal("QR image is not a PNG")
	}

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	codes, err := env.engine.ConfirmTOTPEnrollment(ctx, org.ID, owner.ID, code)
	if err != nil {
		t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("got %d recovery codes, want 10", len(codes))
	}
	for _, c := range codes {
		if !recoveryCodeShape.MatchString(c) {
			t.Fatalf("recovery code %q has unexpected shape", c)
		}
	}

	// The first factor alone now yields a challenge, not a session.
	res, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.MFARequired || res.ChallengeID == "" {
		t.Fatalf("expected a challenge, got %+v", res)
	}
	if res.SessionID != "" {
		t.Fatal("session issued before second factor")
	}

	code, _ = totp.GenerateCode(enrollment.Secret, time.Now())
	final, err := env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, code, leagueauth.MFAMethodTOTP)
	if err != nil {
		t.Fatalf("VerifyLoginMFA: %v", err)
	}
	if final.SessionID == "" {
		t.Fatal("no session after second factor")
	}
	if _, err := env.engine.ValidateSession(ctx, org.ID, final.SessionID); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}

	// The challenge is single-use.
	_, err = env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, code, leagueauth.MFAMethodTOTP)
	wantErr(t, err, leagueauth.ErrChallengeNotFound)

	if got := env.counter(leagueauth.MetricMFASuccess); got != 1 {
		t.Fatalf("mfa_success counter = %d", got)
	}
	entry := env.waitAudit(t, org.ID, "mfa_login_success")
	if entry.Metadata["method"] != "totp" {
		t.Fatalf("mfa method = %q", entry.Metadata["method"])
	}
}

func TestTOTPEnrollmentStateMachine(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")

	// Confirmation without a pending secret.
	_, err := env.engine.ConfirmTOTPEnrollment(ctx, org.ID, owner.ID, "123456")
	wantErr(t, err, leagueauth.ErrMFANotPending)

	// Re-running Begin rotates the pending secret; the newest one wins.
	first, err := env.engine.BeginTOTPEnrollment(ctx, org.ID, owner.ID)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	second, err := env.engine.BeginTOTPEnrollment(ctx, org.ID, owner.ID)
	if err != nil {
		t.Fatalf("second BeginTOTPEnrollment: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("pending secret not rotated")
	}

	staleCode, _ := totp.GenerateCode(first.Secret, time.Now())
	_, err = env.engine.ConfirmTOTPEnrollment(ctx, org.ID, owner.ID, staleCode)
	wantErr(t, err, leagueauth.ErrMFAVerificationFailed)

	code, _ := totp.GenerateCode(second.Secret, time.Now())
	if _, err := env.engine.ConfirmTOTPEnrollment(ctx, org.ID, owner.ID, code); err != nil {
		t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}

	// Enrollment is one-way until disabled.
	_, err = env.engine.BeginTOTPEnrollment(ctx, org.ID, owner.ID)
	wantErr(t, err, leagueauth.ErrMFAAlreadyEnabled)
}

func TestMFAAttemptsExhaustChallenge(t *testing.T) {
	env := newTestEnv(t, func(cfg *leagueauth.Config) {
		cfg.Challenge.MaxAttempts = 2
		cfg.Security.LockoutThreshold = 10
	})
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	secret, _ := env.enrollTOTP(t, org.ID, owner.ID)

	res, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	valid, _ := totp.GenerateCode(secret, time.Now())
	bad := wrongTOTPCode(valid)

	for i := 0; i < 2; i++ {
		_, err := env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, bad, leagueauth.MFAMethodTOTP)
		wantErr(t, err, leagueauth.ErrMFAVerificationFailed)
	}

	// The second failure burned the challenge.
	_, err = env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, valid, leagueauth.MFAMethodTOTP)
	wantErr(t, err, leagueauth.ErrChallengeNotFound)
}

func TestMFAFailuresCountTowardLockout(t *testing.T) {
	env := newTestEnv(t, nil) // lockout threshold 3, challenge attempts 5
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	secret, _ := env.enrollTOTP(t, org.ID, owner.ID)

	res, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	valid, _ := totp.GenerateCode(secret, time.Now())
	bad := wrongTOTPCode(valid)

	for i := 0; i < 3; i++ {
		_, err := env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, bad, leagueauth.MFAMethodTOTP)
		wantErr(t, err, leagueauth.ErrMFAVerificationFailed)
	}

	// The third wrong code tripped the account lock; the gate now wins
	// even with a valid code.
	_, err = env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, valid, leagueauth.MFAMethodTOTP)
	wantErr(t, err, leagueauth.ErrAccountLocked)

	_, err = env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	wantErr(t, err, leagueauth.ErrAccountLocked)
}

func TestRecoveryCodeLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	_, codes := env.enrollTOTP(t, org.ID, owner.ID)

	res, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Codes are accepted in any presentation the user types.
	typed := strings.ToUpper(strings.ReplaceAll(codes[0], "-", " "))
	final, err := env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, typed, leagueauth.MFAMethodRecovery)
	if err != nil {
		t.Fatalf("VerifyLoginMFA recovery: %v", err)
	}
	if !final.UsedRecoveryCode {
		t.Fatal("UsedRecoveryCode not set")
	}
	if final.RecoveryCodesLeft != 9 {
		t.Fatalf("RecoveryCodesLeft = %d, want 9", final.RecoveryCodesLeft)
	}
	env.waitAudit(t, org.ID, "recovery_code_used")

	// The code is burned.
	res2, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	_, err = env.engine.VerifyLoginMFA(ctx, org.ID, res2.ChallengeID, codes[0], leagueauth.MFAMethodRecovery)
	wantErr(t, err, leagueauth.ErrMFAVerificationFailed)

	if got := env.counter(leagueauth.MetricRecoveryCodeFailed); got != 1 {
		t.Fatalf("recovery_code_failed counter = %d", got)
	}
}

func TestRegenerateRecoveryCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")

	// Regeneration needs an enabled second factor.
	_, err := env.engine.RegenerateRecoveryCodes(ctx, org.ID, owner.ID, "Sw1mFast2024")
	wantErr(t, err, leagueauth.ErrMFANotEnabled)

	_, oldCodes := env.enrollTOTP(t, org.ID, owner.ID)

	_, err = env.engine.RegenerateRecoveryCodes(ctx, org.ID, owner.ID, "WrongPass99")
	wantErr(t, err, leagueauth.ErrInvalidCredentials)

	newCodes, err := env.engine.RegenerateRecoveryCodes(ctx, org.ID, owner.ID, "Sw1mFast2024")
	if err != nil {
		t.Fatalf("RegenerateRecoveryCodes: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("got %d codes, want 10", len(newCodes))
	}

	res, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err = env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, oldCodes[0], leagueauth.MFAMethodRecovery)
	wantErr(t, err, leagueauth.ErrMFAVerificationFailed)

	if _, err := env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, newCodes[0], leagueauth.MFAMethodRecovery); err != nil {
		t.Fatalf("VerifyLoginMFA with fresh code: %v", err)
	}
}

func TestDisableTOTP(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	env.enrollTOTP(t, org.ID, owner.ID)

	err := env.engine.DisableTOTP(ctx, org.ID, owner.ID, "WrongPass99")
	wantErr(t, err, leagueauth.ErrInvalidCredentials)

	if err := env.engine.DisableTOTP(ctx, org.ID, owner.ID, "Sw1mFast2024"); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}

	// Password alone signs in again.
	res := env.login(t, "metro", "owner@metro.test", "Sw1mFast2024")
	if res.MFARequired {
		t.Fatal("challenge issued after disable")
	}

	// Recovery codes went with the secret.
	rows, err := env.store.Users().RecoveryCodes(ctx, org.ID, owner.ID)
	if err != nil {
		t.Fatalf("RecoveryCodes: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("%d recovery codes survived disable", len(rows))
	}

	_, err = env.engine.RegenerateRecoveryCodes(ctx, org.ID, owner.ID, "Sw1mFast2024")
	wantErr(t, err, leagueauth.ErrMFANotEnabled)
}

func TestAbandonLoginMFA(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	secret, _ := env.enrollTOTP(t, org.ID, owner.ID)

	res, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.engine.AbandonLoginMFA(ctx, org.ID, res.ChallengeID); err != nil {
		t.Fatalf("AbandonLoginMFA: %v", err)
	}

	code, _ := totp.GenerateCode(secret, time.Now())
	_, err = env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, code, leagueauth.MFAMethodTOTP)
	wantErr(t, err, leagueauth.ErrChallengeNotFound)

	// Abandoning twice is harmless.
	if err := env.engine.AbandonLoginMFA(ctx, org.ID, res.ChallengeID); err != nil {
		t.Fatalf("repeat AbandonLoginMFA: %v", err)
	}
}

func TestChallengeExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	org, owner := env.seedLeague(t, "metro", "owner@metro.test", "Sw1mFast2024")
	secret, _ := env.enrollTOTP(t, org.ID, owner.ID)

	res, err := env.engine.Login(ctx, leagueauth.LoginRequest{
		Email:    "owner@metro.test",
		Password: "Sw1mFast2024",
		OrgSlug:  "metro",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	env.redis.FastForward(6 * time.Minute)

	code, _ := totp.GenerateCode(secret, time.Now())
	_, err = env.engine.VerifyLoginMFA(ctx, org.ID, res.ChallengeID, code, leagueauth.MFAMethodTOTP)
	wantErr(t, err, leagueauth.ErrChallengeNotFound)
}

func TestVerifyLoginMFAUnknownMethod(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.VerifyLoginMFA(context.Background(), "org", "challenge", "123456", leagueauth.MFAMethod("sms"))
	if err == nil {
		t.Fatal("unknown method accepted")
	}
}

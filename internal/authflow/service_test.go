package authflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/account"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/lockout"
	"gatehouse.org/internal/password"
	"gatehouse.org/internal/token"
	"gatehouse.org/internal/totp"
)

// memorySink collects audit events for assertions.
type memorySink struct {
	mu     sync.Mutex
	events []audit.Event
	fail   bool
}

func (s *memorySink) Record(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) byType(t string) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc  *Service
	repo *account.MemoryRepository
	sink *memorySink
	now  time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo: account.NewMemoryRepository(),
		sink: &memorySink{},
		now:  time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC),
	}
	issuer := token.NewIssuer(token.NewMemoryStore(), token.WithClock(func() time.Time { return f.now }))
	base := []Option{
		WithAuditSink(f.sink),
		WithClock(func() time.Time { return f.now }),
	}
	f.svc = NewService(
		f.repo,
		password.Bcrypt{Cost: 4}, // min cost keeps the suite fast
		issuer,
		totp.New("Gatehouse Test"),
		append(base, opts...)...,
	)
	return f
}

func (f *fixture) register(t *testing.T, email, pass string) *account.Account {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: pass})
	require.NoError(t, err)
	return res.Account
}

// enroll2FA walks the account through setup and confirmation, returning the
// shared secret and the recovery batch.
func (f *fixture) enroll2FA(t *testing.T, acct *account.Account, pass string) (string, []string) {
	t.Helper()
	setup, err := f.svc.SetupTwoFactor(context.Background(), acct.ID, pass)
	require.NoError(t, err)
	code, err := totp.CodeAt(setup.Secret, f.now)
	require.NoError(t, err)
	enabled, err := f.svc.VerifyTwoFactor(context.Background(), acct.ID, code)
	require.NoError(t, err)
	return setup.Secret, enabled.RecoveryCodes
}

const testPassword = "Sw0rdfish-actual"

func TestLoginSuccessBeforeTwoFactor(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	res, err := f.svc.Login(context.Background(), LoginInput{
		Email:    "Ada@Example.com", // lookup is case-insensitive
		Password: testPassword,
		ClientIP: "203.0.113.9",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.False(t, res.TwoFactorRequired)
	assert.Equal(t, acct.ID, res.Account.ID)
	assert.Equal(t, "203.0.113.9", res.Account.LastLoginIP)
	assert.Len(t, f.sink.byType(audit.EventLoginSuccess), 1)
}

func TestLoginUnknownEmailIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", testPassword)

	_, errUnknown := f.svc.Login(context.Background(), LoginInput{Email: "nobody@example.com", Password: testPassword})
	_, errWrong := f.svc.Login(context.Background(), LoginInput{Email: "ada@example.com", Password: "not-it-Aa1"})

	require.Error(t, errUnknown)
	require.Error(t, errWrong)
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	// Same message text for both shapes.
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestLoginLockoutAtThreshold(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	for i := 0; i < lockout.DefaultMaxFailedAttempts-1; i++ {
		_, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: "wrong-Aa1"})
		var ice *InvalidCredentialsError
		require.ErrorAs(t, err, &ice)
		assert.True(t, ice.Counted)
		assert.Equal(t, lockout.DefaultMaxFailedAttempts-1-i, ice.AttemptsRemaining)
	}

	// Fifth failure crosses the threshold.
	_, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: "wrong-Aa1"})
	var le *LockedError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, f.now.Add(lockout.DefaultLockoutDuration), le.Until)

	// While locked, even the correct password is rejected and the counter
	// stays put.
	_, err = f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword})
	assert.ErrorIs(t, err, ErrAccountLocked)
	stored, err := f.repo.FindByEmail(context.Background(), acct.Email)
	require.NoError(t, err)
	assert.Equal(t, lockout.DefaultMaxFailedAttempts, stored.FailedLoginAttempts)
}

func TestLoginLockoutExpires(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	for i := 0; i < lockout.DefaultMaxFailedAttempts; i++ {
		_, _ = f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: "wrong-Aa1"})
	}
	f.now = f.now.Add(lockout.DefaultLockoutDuration + time.Second)

	res, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.Zero(t, res.Account.FailedLoginAttempts)
	assert.Nil(t, res.Account.LockedUntil)
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	for i := 0; i < 3; i++ {
		_, _ = f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: "wrong-Aa1"})
	}
	_, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword})
	require.NoError(t, err)

	// Post-reset the full budget is available again.
	for i := 0; i < lockout.DefaultMaxFailedAttempts-1; i++ {
		_, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: "wrong-Aa1"})
		assert.NotErrorIs(t, err, ErrAccountLocked)
	}
}

func TestLoginTwoFactorChallenge(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	secret, _ := f.enroll2FA(t, acct, testPassword)

	// Password alone yields a challenge, not a session.
	res, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword})
	require.NoError(t, err)
	assert.True(t, res.TwoFactorRequired)
	assert.Equal(t, acct.ID, res.AccountID)
	assert.Nil(t, res.Account)

	// Wrong code is rejected without counting a password failure.
	_, err = f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword, TOTPCode: "000000"})
	if err == nil {
		t.Skip("generated code collided with the probe value")
	}
	assert.ErrorIs(t, err, ErrInvalidTwoFactorCode)
	stored, err := f.repo.FindByEmail(context.Background(), acct.Email)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)

	// Live code completes the login.
	code, err := totp.CodeAt(secret, f.now)
	require.NoError(t, err)
	res, err = f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword, TOTPCode: code})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
}

func TestLoginTOTPAdjacentStepAccepted(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	secret, _ := f.enroll2FA(t, acct, testPassword)

	// A code from the previous 30s step still verifies (clock skew budget).
	code, err := totp.CodeAt(secret, f.now.Add(-30*time.Second))
	require.NoError(t, err)
	res, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword, TOTPCode: code})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
}

func TestLoginRecoveryCodeSingleUse(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	_, codes := f.enroll2FA(t, acct, testPassword)
	require.NotEmpty(t, codes)

	res, err := f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		RecoveryCode: codes[0],
	})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.Equal(t, len(codes)-1, res.RecoveryCodesRemaining)
	assert.Len(t, f.sink.byType(audit.EventRecoveryCodeUsed), 1)

	// The spent code is gone.
	_, err = f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		RecoveryCode: codes[0],
	})
	assert.ErrorIs(t, err, ErrInvalidRecoveryCode)
}

func TestLoginWrongRecoveryCode(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	f.enroll2FA(t, acct, testPassword)

	_, err := f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		RecoveryCode: "AAAAA-AAAAA",
	})
	assert.ErrorIs(t, err, ErrInvalidRecoveryCode)

	stored, err := f.repo.FindByEmail(context.Background(), acct.Email)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
}

func TestLoginRecoveryCodeCaseSensitive(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	_, codes := f.enroll2FA(t, acct, testPassword)
	require.NotEmpty(t, codes)

	// Pick a code whose lower-cased form actually differs.
	var code string
	for _, c := range codes {
		if strings.ToLower(c) != c {
			code = c
			break
		}
	}
	require.NotEmpty(t, code)

	// A lower-cased transcription of a stored code must not authenticate.
	_, err := f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		RecoveryCode: strings.ToLower(code),
	})
	assert.ErrorIs(t, err, ErrInvalidRecoveryCode)

	stored, err := f.repo.FindByEmail(context.Background(), acct.Email)
	require.NoError(t, err)
	assert.Len(t, stored.RecoveryCodes, len(codes))
	assert.Zero(t, stored.FailedLoginAttempts)

	// The exact stored form still works.
	res, err := f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		RecoveryCode: code,
	})
	require.NoError(t, err)
	assert.Equal(t, len(codes)-1, res.RecoveryCodesRemaining)
}

func TestLoginRecoveryCodeTakesPrecedenceOverTOTP(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	_, codes := f.enroll2FA(t, acct, testPassword)
	require.NotEmpty(t, codes)

	// With both factors submitted, the recovery code is checked first: the
	// malformed TOTP code never gets a say.
	res, err := f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		TOTPCode:     "12345",
		RecoveryCode: codes[0],
	})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.Equal(t, len(codes)-1, res.RecoveryCodesRemaining)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "ada@example.com", testPassword)

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "ADA@example.com", Password: testPassword})
	assert.ErrorIs(t, err, account.ErrEmailTaken)
}

func TestRegisterWeakPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "ada@example.com", Password: "short"})
	assert.ErrorIs(t, err, password.ErrWeakPassword)
}

func TestVerifyEmailSingleUse(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Register(context.Background(), RegisterInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)

	require.NoError(t, f.svc.VerifyEmail(context.Background(), res.VerificationToken))
	acct, err := f.repo.FindByID(context.Background(), res.Account.ID)
	require.NoError(t, err)
	assert.True(t, acct.EmailVerified)

	// Second redemption fails: the token is spent.
	assert.ErrorIs(t, f.svc.VerifyEmail(context.Background(), res.VerificationToken), ErrTokenInvalid)
}

func TestResendVerification(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Register(context.Background(), RegisterInput{Email: "ada@example.com", Password: testPassword})
	require.NoError(t, err)

	// Unknown emails succeed silently.
	raw, err := f.svc.ResendVerification(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, raw)

	// Known unverified account gets a fresh, working token.
	raw, err = f.svc.ResendVerification(context.Background(), res.Account.Email)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NoError(t, f.svc.VerifyEmail(context.Background(), raw))

	// Verified accounts are rejected.
	_, err = f.svc.ResendVerification(context.Background(), res.Account.Email)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	// Lock the account first; reset must clear the lockout.
	for i := 0; i < lockout.DefaultMaxFailedAttempts; i++ {
		_, _ = f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: "wrong-Aa1"})
	}

	raw, err := f.svc.ForgotPassword(context.Background(), acct.Email)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	const newPassword = "Turq0ise-harbor"
	require.NoError(t, f.svc.ResetPassword(context.Background(), raw, newPassword))

	// Token is single use.
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), raw, newPassword), ErrTokenInvalid)

	// Old password no longer works; new one does immediately.
	_, err = f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	res, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: newPassword})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
}

func TestForgotPasswordUnknownEmailSilent(t *testing.T) {
	f := newFixture(t)
	raw, err := f.svc.ForgotPassword(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	raw, err := f.svc.ForgotPassword(context.Background(), acct.Email)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour + time.Minute)
	assert.ErrorIs(t, f.svc.ResetPassword(context.Background(), raw, "Turq0ise-harbor"), ErrTokenInvalid)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	err := f.svc.ChangePassword(context.Background(), acct.ID, "not-it-Aa1", "Turq0ise-harbor")
	assert.ErrorIs(t, err, ErrWrongPassword)

	err = f.svc.ChangePassword(context.Background(), acct.ID, testPassword, "weak")
	assert.ErrorIs(t, err, password.ErrWeakPassword)

	require.NoError(t, f.svc.ChangePassword(context.Background(), acct.ID, testPassword, "Turq0ise-harbor"))
	res, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: "Turq0ise-harbor"})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
}

func TestSetupTwoFactorRequiresPassword(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	_, err := f.svc.SetupTwoFactor(context.Background(), acct.ID, "not-it-Aa1")
	assert.ErrorIs(t, err, ErrWrongPassword)

	setup, err := f.svc.SetupTwoFactor(context.Background(), acct.ID, testPassword)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OTPAuthURL, "otpauth://totp/")

	// Pending state does not gate login yet.
	res, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.False(t, res.TwoFactorRequired)
}

func TestSetupTwoFactorReplacesPendingSecret(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	first, err := f.svc.SetupTwoFactor(context.Background(), acct.ID, testPassword)
	require.NoError(t, err)
	second, err := f.svc.SetupTwoFactor(context.Background(), acct.ID, testPassword)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only the latest secret confirms.
	staleCode, err := totp.CodeAt(first.Secret, f.now)
	require.NoError(t, err)
	_, err = f.svc.VerifyTwoFactor(context.Background(), acct.ID, staleCode)
	if err == nil {
		t.Skip("stale and fresh secrets produced the same code")
	}
	assert.ErrorIs(t, err, ErrInvalidTwoFactorCode)

	code, err := totp.CodeAt(second.Secret, f.now)
	require.NoError(t, err)
	_, err = f.svc.VerifyTwoFactor(context.Background(), acct.ID, code)
	require.NoError(t, err)
}

func TestVerifyTwoFactorWithoutSetup(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	_, err := f.svc.VerifyTwoFactor(context.Background(), acct.ID, "123456")
	assert.ErrorIs(t, err, ErrTwoFactorNotPending)
}

func TestVerifyTwoFactorEnablesAtomically(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	_, codes := f.enroll2FA(t, acct, testPassword)

	stored, err := f.repo.FindByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, stored.TwoFactorEnabled)
	require.NotNil(t, stored.TwoFactorSecret)
	assert.Len(t, stored.RecoveryCodes, len(codes))

	// Re-enrolling over an active factor is rejected.
	_, err = f.svc.SetupTwoFactor(context.Background(), acct.ID, testPassword)
	assert.ErrorIs(t, err, ErrTwoFactorAlreadyEnabled)
}

func TestDisableTwoFactorDemandsBothFactors(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	secret, codes := f.enroll2FA(t, acct, testPassword)

	code, err := totp.CodeAt(secret, f.now)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DisableTwoFactor(context.Background(), acct.ID, "not-it-Aa1", code), ErrWrongPassword)
	// A recovery code is not accepted in place of a live TOTP code.
	assert.ErrorIs(t, f.svc.DisableTwoFactor(context.Background(), acct.ID, testPassword, codes[0]), ErrInvalidTwoFactorCode)

	require.NoError(t, f.svc.DisableTwoFactor(context.Background(), acct.ID, testPassword, code))
	stored, err := f.repo.FindByID(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Nil(t, stored.TwoFactorSecret)
	assert.Empty(t, stored.RecoveryCodes)

	// Once disabled, further disables are rejected.
	assert.ErrorIs(t, f.svc.DisableTwoFactor(context.Background(), acct.ID, testPassword, code), ErrTwoFactorNotEnabled)
}

func TestRegenerateRecoveryCodesInvalidatesOldBatch(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)
	_, oldCodes := f.enroll2FA(t, acct, testPassword)

	_, err := f.svc.RegenerateRecoveryCodes(context.Background(), acct.ID, "not-it-Aa1")
	assert.ErrorIs(t, err, ErrWrongPassword)

	fresh, err := f.svc.RegenerateRecoveryCodes(context.Background(), acct.ID, testPassword)
	require.NoError(t, err)
	require.Len(t, fresh.RecoveryCodes, len(oldCodes))
	assert.NotEqual(t, oldCodes, fresh.RecoveryCodes)

	// Old batch is dead even though it was never spent.
	_, err = f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		RecoveryCode: oldCodes[0],
	})
	assert.ErrorIs(t, err, ErrInvalidRecoveryCode)

	// New batch works.
	res, err := f.svc.Login(context.Background(), LoginInput{
		Email:        acct.Email,
		Password:     testPassword,
		RecoveryCode: fresh.RecoveryCodes[0],
	})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
}

func TestRegenerateRequiresEnabledFactor(t *testing.T) {
	f := newFixture(t)
	acct := f.register(t, "ada@example.com", testPassword)

	_, err := f.svc.RegenerateRecoveryCodes(context.Background(), acct.ID, testPassword)
	assert.ErrorIs(t, err, ErrTwoFactorNotEnabled)
}

func TestAuditSinkFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.sink.fail = true
	acct := f.register(t, "ada@example.com", testPassword)

	res, err := f.svc.Login(context.Background(), LoginInput{Email: acct.Email, Password: testPassword})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
}

func TestCreateAdmin(t *testing.T) {
	f := newFixture(t)

	acct, err := f.svc.CreateAdmin(context.Background(), "Root@Example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", acct.Email)
	assert.Equal(t, account.RoleAdmin, acct.Role)
	assert.True(t, acct.EmailVerified)
	require.NotNil(t, acct.EmailVerifiedAt)

	// Provisioning is not idempotent at this layer; callers treat the
	// conflict as already-done.
	_, err = f.svc.CreateAdmin(context.Background(), "root@example.com", testPassword)
	assert.ErrorIs(t, err, account.ErrEmailTaken)

	res, err := f.svc.Login(context.Background(), LoginInput{Email: "root@example.com", Password: testPassword})
	require.NoError(t, err)
	require.NotNil(t, res.Account)
}

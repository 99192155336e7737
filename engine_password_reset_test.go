package credflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/credflow/notify"
)

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func TestResetWrongCodeConsumesOTP(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "u@x.com", "Secret123!")

	challenge, err := env.engine.RequestReset(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	if len(challenge.OTP) != 6 || !isDigits(challenge.OTP) {
		t.Fatalf("expected 6-digit numeric otp, got %q", challenge.OTP)
	}

	mail := env.nextMail(t, notify.TemplatePasswordReset)
	if mail.Context["otp"] != challenge.OTP || mail.Context["token"] != challenge.ResetToken {
		t.Fatal("reset mail does not carry the issued otp and token")
	}

	wrong := "000000"
	if challenge.OTP == wrong {
		wrong = "111111"
	}
	_, err = env.engine.VerifyOTP(ctx, wrong, challenge.ResetToken)
	if !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	assertKind(t, err, KindForbidden)
	if env.mr.Exists(env.engine.sessions.OTPKey("u@x.com")) {
		t.Fatal("otp survived a failed attempt")
	}

	_, err = env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken)
	if !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired after consumption, got %v", err)
	}
}

func TestResetFullFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	user := env.seedUser(t, "u@x.com", "Secret123!")

	pair, err := env.engine.Signin(ctx, "u@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("Signin: %v", err)
	}

	challenge, err := env.engine.RequestReset(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	verified, err := env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken)
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if verified.Email != "u@x.com" || verified.ResetToken != challenge.ResetToken {
		t.Fatalf("unexpected verify result %+v", verified)
	}
	if !env.mr.Exists(env.engine.sessions.ResetGrantKey("u@x.com")) {
		t.Fatal("expected reset grant after verified otp")
	}

	if err := env.engine.ResetPassword(ctx, "u@x.com", "NewSecret456!", verified.ResetToken); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	env.nextMail(t, notify.TemplatePasswordResetDone)

	if _, err := env.engine.Signin(ctx, "u@x.com", "Secret123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, user.ID, pair.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("session survived password reset: %v", err)
	}
	if _, err := env.engine.Signin(ctx, "u@x.com", "NewSecret456!"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	err = env.engine.ResetPassword(ctx, "u@x.com", "Newer789!xx", verified.ResetToken)
	if !errors.Is(err, ErrResetSessionExpired) {
		t.Fatalf("expected ErrResetSessionExpired on replay, got %v", err)
	}
}

func TestOTPSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "u@x.com", "Secret123!")

	challenge, err := env.engine.RequestReset(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	if _, err := env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken); err != nil {
		t.Fatalf("first VerifyOTP: %v", err)
	}

	_, err = env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken)
	if err == nil {
		t.Fatal("second VerifyOTP with the same code succeeded")
	}
	assertKind(t, err, KindForbidden)
}

func TestConcurrentVerifyOTPSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "u@x.com", "Secret123!")

	challenge, err := env.engine.RequestReset(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrOTPExpired) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful verification, got %d", success)
	}
}

func TestResetPasswordRequiresVerifiedOTP(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "u@x.com", "Secret123!")

	challenge, err := env.engine.RequestReset(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}

	err = env.engine.ResetPassword(ctx, "u@x.com", "NewSecret456!", challenge.ResetToken)
	if !errors.Is(err, ErrResetSessionExpired) {
		t.Fatalf("expected ErrResetSessionExpired, got %v", err)
	}
	assertKind(t, err, KindForbidden)
}

func TestResetPasswordRejectsEmailSubstitution(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "a@x.com", "Secret123!")
	env.seedUser(t, "b@x.com", "Secret123!")

	a, err := env.engine.RequestReset(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("RequestReset a: %v", err)
	}
	b, err := env.engine.RequestReset(ctx, "b@x.com")
	if err != nil {
		t.Fatalf("RequestReset b: %v", err)
	}
	if _, err := env.engine.VerifyOTP(ctx, a.OTP, a.ResetToken); err != nil {
		t.Fatalf("VerifyOTP a: %v", err)
	}
	if _, err := env.engine.VerifyOTP(ctx, b.OTP, b.ResetToken); err != nil {
		t.Fatalf("VerifyOTP b: %v", err)
	}

	err = env.engine.ResetPassword(ctx, "b@x.com", "NewSecret456!", a.ResetToken)
	if !errors.Is(err, ErrResetEmailMismatch) {
		t.Fatalf("expected ErrResetEmailMismatch, got %v", err)
	}
	assertKind(t, err, KindForbidden)

	if _, err := env.engine.Signin(ctx, "b@x.com", "Secret123!"); err != nil {
		t.Fatalf("b's password changed by a substituted token: %v", err)
	}
}

func TestResetGrantIsScopedToFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "u@x.com", "Secret123!")

	first, err := env.engine.RequestReset(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("first RequestReset: %v", err)
	}
	second, err := env.engine.RequestReset(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("second RequestReset: %v", err)
	}
	if _, err := env.engine.VerifyOTP(ctx, second.OTP, second.ResetToken); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}

	err = env.engine.ResetPassword(ctx, "u@x.com", "NewSecret456!", first.ResetToken)
	if !errors.Is(err, ErrResetSessionExpired) {
		t.Fatalf("expected ErrResetSessionExpired for another flow's token, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "u@x.com", "NewSecret456!", second.ResetToken); err != nil {
		t.Fatalf("ResetPassword with authorized flow: %v", err)
	}
}

func TestNewResetRequestDiscardsPendingGrant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "u@x.com", "Secret123!")

	challenge, _ := env.engine.RequestReset(ctx, "u@x.com")
	if _, err := env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if _, err := env.engine.RequestReset(ctx, "u@x.com"); err != nil {
		t.Fatalf("RequestReset: %v", err)
	}

	err := env.engine.ResetPassword(ctx, "u@x.com", "NewSecret456!", challenge.ResetToken)
	if !errors.Is(err, ErrResetSessionExpired) {
		t.Fatalf("expected ErrResetSessionExpired, got %v", err)
	}
}

func TestVerifyOTPExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "u@x.com", "Secret123!")

	challenge, _ := env.engine.RequestReset(ctx, "u@x.com")
	env.mr.FastForward(301 * time.Second)
	_, err := env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken)
	if !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired after otp ttl, got %v", err)
	}

	challenge, _ = env.engine.RequestReset(ctx, "u@x.com")
	env.clock.Advance(16 * time.Minute)
	_, err = env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	assertKind(t, err, KindExpiredToken)

	_, err = env.engine.VerifyOTP(ctx, challenge.OTP, "not-a-token")
	assertKind(t, err, KindInvalidToken)
}

func TestVerifyOTPUserVanished(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	user := env.seedUser(t, "u@x.com", "Secret123!")

	challenge, _ := env.engine.RequestReset(ctx, "u@x.com")
	if err := env.users.MarkDeleted(user.ID); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	_, err := env.engine.VerifyOTP(ctx, challenge.OTP, challenge.ResetToken)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if env.mr.Exists(env.engine.sessions.OTPKey("u@x.com")) {
		t.Fatal("otp survived a failed attempt")
	}
}

func TestRequestResetFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.RequestReset(ctx, "missing@x.com")
	assertKind(t, err, KindNotFound)

	_, err = env.engine.RequestReset(ctx, "not-an-email")
	assertKind(t, err, KindBadRequest)
}

func TestRequestResetHidesSecretsWithoutDebugEcho(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Reset.DebugEcho = false })
	env.seedUser(t, "u@x.com", "Secret123!")

	challenge, err := env.engine.RequestReset(context.Background(), "u@x.com")
	if err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	if challenge.OTP != "" || challenge.ResetToken != "" || challenge.Link != "" {
		t.Fatalf("secrets echoed to caller: %+v", challenge)
	}
	if challenge.ExpiresAt.IsZero() {
		t.Fatal("expected expiry in challenge")
	}

	mail := env.nextMail(t, notify.TemplatePasswordReset)
	if len(mail.Context["otp"]) != 6 {
		t.Fatalf("reset mail lacks otp: %+v", mail.Context)
	}
}

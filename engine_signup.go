package credflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/credflow/notify"
	"github.com/MrEthical07/credflow/userstore"
)

// RequestSignup starts a two-phase signup. It hashes password, packs the
// email and hash into a signed verification token and emails a link with
// it. No credential is created until [Engine.VerifySignup].
//
// A credential using the email, active or deleted, fails with
// ErrAccountExists. Deleted accounts are only brought back by explicit
// reactivation outside these flows.
func (e *Engine) RequestSignup(ctx context.Context, email, pw string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	email = normalizeEmail(email)
	defer func() {
		e.finish(ctx, flowRequestSignup, auditEventSignupRequested, auditEventSignupRejected, "", email, err)
	}()

	if !validEmail(email) {
		return ErrBadRequest
	}
	if err := e.checkPassword(pw); err != nil {
		return err
	}

	if err := e.ensureEmailFree(ctx, email); err != nil {
		return err
	}

	hash, err := e.hashPassword(pw)
	if err != nil {
		return err
	}
	token, err := e.codec.IssueSignup(email, hash)
	if err != nil {
		return fmt.Errorf("%w: issue signup token: %v", ErrInternal, err)
	}

	e.send(ctx, notify.Message{
		To:       email,
		Subject:  "Confirm your email address",
		Template: notify.TemplateSignupVerify,
		Context: map[string]string{
			"email": email,
			"link":  withToken(e.config.Signup.VerifyURL, token),
			"token": token,
		},
	})

	return nil
}

// VerifySignup completes a signup from its verification token and returns
// the new user id. Replaying a token after the account exists fails with
// ErrAccountExists.
func (e *Engine) VerifySignup(ctx context.Context, token string) (userID string, err error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	var email string
	defer func() {
		e.finish(ctx, flowVerifySignup, auditEventSignupVerified, auditEventSignupRejected, userID, email, err)
	}()

	claims, err := e.codec.ParseSignup(token)
	if err != nil {
		return "", tokenError(err)
	}
	email = normalizeEmail(claims.Email)

	if err := e.ensureEmailFree(ctx, email); err != nil {
		return "", err
	}

	created, err := e.users.Create(ctx, userstore.Credential{
		Email:        email,
		PasswordHash: claims.PasswordHash,
	})
	if err != nil {
		if errors.Is(err, userstore.ErrDuplicateEmail) {
			return "", ErrAccountExists
		}
		return "", storeError(err)
	}

	if e.config.Signup.WelcomeEmail {
		e.send(ctx, notify.Message{
			To:       email,
			Subject:  "Welcome",
			Template: notify.TemplateWelcome,
			Context:  map[string]string{"email": email},
		})
	}

	return created.ID, nil
}

func (e *Engine) ensureEmailFree(ctx context.Context, email string) error {
	_, err := e.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrAccountExists
	case errors.Is(err, userstore.ErrNotFound):
		return nil
	default:
		return storeError(err)
	}
}

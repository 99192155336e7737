package credflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/credflow/jwt"
	"github.com/MrEthical07/credflow/password"
	"github.com/MrEthical07/credflow/session"
	"github.com/MrEthical07/credflow/userstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Signin checks email and password and opens a new refresh session,
// replacing any previous one: only the latest refresh token per user is
// honored.
func (e *Engine) Signin(ctx context.Context, email, pw string) (pair TokenPair, err error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	var userID string
	defer func() {
		e.finish(ctx, flowSignin, auditEventSigninSuccess, auditEventSigninFailure, userID, email, err)
	}()

	if email == "" || pw == "" {
		return TokenPair{}, ErrBadRequest
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, userLookupError(err, ErrUserNotFound)
	}
	userID = user.ID
	if user.Deleted {
		return TokenPair{}, ErrAccountDeleted
	}

	ok, err := e.verifyPassword(pw, user.PasswordHash)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		return TokenPair{}, ErrInvalidCredentials
	}

	pair, refreshHash, err := e.issueTokenPair(user)
	if err != nil {
		return TokenPair{}, err
	}
	if err := e.sessions.Set(ctx, e.sessions.RefreshKey(user.ID), refreshHash, e.config.Tokens.RefreshTTL); err != nil {
		return TokenPair{}, storeError(err)
	}

	if e.config.Password.UpgradeOnSignin {
		e.upgradeHash(ctx, user, pw)
	}

	return pair, nil
}

// Refresh rotates a refresh token. The stored hash is replaced only if it
// still equals the one the presented token was checked against, so of two
// concurrent refreshes with the same token exactly one succeeds. A token
// that was already rotated fails with ErrRefreshInvalid.
func (e *Engine) Refresh(ctx context.Context, userID, refreshToken string) (pair TokenPair, err error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	defer func() {
		e.finish(ctx, flowRefresh, auditEventRefreshSuccess, auditEventRefreshRejected, userID, "", err)
	}()

	if userID == "" || refreshToken == "" {
		return TokenPair{}, ErrUnauthorized
	}

	claims, err := e.codec.ParseRefresh(refreshToken)
	if err != nil || claims.UserID != userID {
		return TokenPair{}, ErrRefreshInvalid
	}

	key := e.sessions.RefreshKey(userID)
	stored, err := e.sessions.Get(ctx, key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, storeError(err)
	}

	ok, err := e.hasher.VerifyRefreshToken(refreshToken, stored)
	if err != nil {
		if errors.Is(err, password.ErrMalformedHash) {
			return TokenPair{}, fmt.Errorf("%w: stored refresh hash: %v", ErrInternal, err)
		}
		return TokenPair{}, ErrRefreshInvalid
	}
	if !ok {
		return TokenPair{}, ErrRefreshInvalid
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return TokenPair{}, userLookupError(err, ErrUnauthorized)
	}
	if user.Deleted {
		return TokenPair{}, ErrAccountDeleted
	}

	pair, refreshHash, err := e.issueTokenPair(user)
	if err != nil {
		return TokenPair{}, err
	}

	if err := e.sessions.SwapIf(ctx, key, stored, refreshHash, e.config.Tokens.RefreshTTL); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrValueMismatch) {
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, storeError(err)
	}

	return pair, nil
}

// Signout deletes the refresh session of userID. Repeated calls succeed.
func (e *Engine) Signout(ctx context.Context, userID string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	defer func() {
		e.finish(ctx, flowSignout, auditEventSignout, auditEventSignout, userID, "", err)
	}()

	if userID == "" {
		return ErrBadRequest
	}
	if err := e.sessions.Delete(ctx, e.sessions.RefreshKey(userID)); err != nil {
		return storeError(err)
	}
	return nil
}

// issueTokenPair signs the access and refresh tokens concurrently and hashes
// the refresh token for storage.
func (e *Engine) issueTokenPair(user userstore.Credential) (TokenPair, string, error) {
	subject := jwt.Subject{
		UserID:        user.ID,
		Email:         user.Email,
		RoleID:        user.RoleID,
		PermissionIDs: user.PermissionIDs,
	}
	issuedAt := e.now()

	pair := TokenPair{UserID: user.ID}
	var g errgroup.Group
	g.Go(func() error {
		token, err := e.codec.IssueAccess(subject)
		pair.AccessToken = token
		return err
	})
	g.Go(func() error {
		token, err := e.codec.IssueRefresh(subject)
		pair.RefreshToken = token
		return err
	})
	if err := g.Wait(); err != nil {
		return TokenPair{}, "", fmt.Errorf("%w: issue tokens: %v", ErrInternal, err)
	}

	refreshHash, err := e.hasher.HashRefreshToken(pair.RefreshToken)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("%w: hash refresh token: %v", ErrInternal, err)
	}

	pair.AccessExpiresAt = issuedAt.Add(e.config.Tokens.AccessTTL)
	pair.RefreshExpiresAt = issuedAt.Add(e.config.Tokens.RefreshTTL)

	return pair, refreshHash, nil
}

// upgradeHash rehashes the password when the stored hash uses weaker costs.
// The write only lands if the stored hash is still the one that was verified.
// Failures only cost a rehash on a later sign-in, so they are logged.
func (e *Engine) upgradeHash(ctx context.Context, user userstore.Credential, pw string) {
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err == nil {
		err = e.users.UpdatePasswordHashIf(ctx, user.ID, user.PasswordHash, hash)
	}
	if errors.Is(err, userstore.ErrHashChanged) {
		e.logger.Debug("password hash upgrade skipped, hash changed concurrently",
			zap.String("op", flowSignin),
			zap.String("user_id", user.ID),
		)
		return
	}
	if err != nil {
		e.logger.Warn("password hash upgrade failed",
			zap.String("op", flowSignin),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
}

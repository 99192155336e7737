package credflow

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/credflow/userstore"
	"go.uber.org/zap"
)

// Blacklist revokes the refresh sessions of the users owning emails. Either
// every email resolves and all sessions are revoked, or nothing is revoked
// and an *UnresolvedEmailsError lists the unknown emails.
func (e *Engine) Blacklist(ctx context.Context, emails []string) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	var revoked int
	defer func() {
		e.record(flowBlacklist, err)
		e.emitAudit(ctx, auditEventBlacklist, "", "", err, map[string]string{
			"requested": strconv.Itoa(len(emails)),
			"revoked":   strconv.Itoa(revoked),
		})
	}()

	seen := make(map[string]struct{}, len(emails))
	keys := make([]string, 0, len(emails))
	var unresolved []string

	for _, raw := range emails {
		email := normalizeEmail(raw)
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		user, err := e.users.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, userstore.ErrNotFound) {
				unresolved = append(unresolved, email)
				continue
			}
			return storeError(err)
		}
		keys = append(keys, e.sessions.RefreshKey(user.ID))
	}

	if len(unresolved) > 0 {
		return &UnresolvedEmailsError{Emails: unresolved}
	}
	if err := e.sessions.Delete(ctx, keys...); err != nil {
		return storeError(err)
	}
	revoked = len(keys)
	return nil
}

// BlacklistAll deletes every key in the engine's Redis namespace: all
// refresh sessions, pending OTPs and reset authorizations. Every user has to
// sign in again. Keys outside the namespace are untouched.
func (e *Engine) BlacklistAll(ctx context.Context) (err error) {
	if e == nil {
		return ErrEngineNotReady
	}
	var deleted int
	defer func() {
		e.record(flowBlacklistAll, err)
		e.emitAudit(ctx, auditEventBlacklistAll, "", "", err, map[string]string{
			"deleted": strconv.Itoa(deleted),
		})
	}()

	deleted, err = e.sessions.ResetAll(ctx)
	if err != nil {
		return storeError(err)
	}
	e.logger.Warn("all sessions revoked", zap.Int("keys_deleted", deleted))
	return nil
}

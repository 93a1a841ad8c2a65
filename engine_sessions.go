package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cermont-atg/authcore/session"
)

// Logout ends the caller's session. The access token's jti goes on the
// deny-list for its remaining lifetime, the refresh token (when supplied)
// likewise, and the session record is deleted so the refresh chain dies.
// Other sessions of the same user stay valid.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	verified, err := e.Verify(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := e.revocation.Revoke(ctx, verified.JTI, verified.ExpiresAt); err != nil {
		return err
	}

	// A malformed or expired refresh token at logout is not an error; the
	// session deletion below kills the chain regardless.
	if refreshToken != "" {
		if claims, parseErr := e.tokens.ParseRefresh(refreshToken); parseErr == nil {
			if err := e.revocation.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
				return err
			}
		}
	}

	if err := e.sessions.Delete(ctx, verified.SessionID, verified.UserID); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditLogout, true, verified.UserID, verified.SessionID, nil, nil)

	return nil
}

// LogoutAll ends every session of the caller in O(1) for outstanding
// tokens: bumping the version counter makes all of them stale at the next
// check, and the session sweep kills the refresh chains.
func (e *Engine) LogoutAll(ctx context.Context, accessToken string) error {
	verified, err := e.Verify(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := e.invalidateAll(ctx, verified.UserID); err != nil {
		return err
	}

	// The caller's own access token would survive the bump until its next
	// Verify; deny-listing it closes that window.
	if err := e.revocation.Revoke(ctx, verified.JTI, verified.ExpiresAt); err != nil {
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditLogoutAll, true, verified.UserID, verified.SessionID, nil, nil)

	return nil
}

// InvalidateAllTokens force-logs-out a principal without any token, for
// admin use after credential compromise or role changes.
func (e *Engine) InvalidateAllTokens(ctx context.Context, userID string) error {
	if err := e.invalidateAll(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditLogoutAll, true, userID, "", nil, map[string]string{
		"initiator": "admin",
	})

	return nil
}

func (e *Engine) invalidateAll(ctx context.Context, userID string) error {
	if _, err := e.identity.BumpTokenVersion(ctx, userID); err != nil {
		return err
	}
	e.emitAudit(ctx, AuditTokenVersionBumped, true, userID, "", nil, nil)

	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		e.logger.Error("session sweep failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return err
	}

	return nil
}

// ListSessions returns the caller's live sessions, marking the one behind
// the presented access token.
func (e *Engine) ListSessions(ctx context.Context, accessToken string) ([]SessionInfo, error) {
	verified, err := e.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	ids, err := e.sessions.ActiveSessionIDs(ctx, verified.UserID)
	if err != nil {
		return nil, err
	}

	sessions, err := e.sessions.GetManyForUser(ctx, ids)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, SessionInfo{
			SessionID: sess.SessionID,
			Device:    sess.Device,
			IP:        sess.IP,
			UserAgent: sess.UserAgent,
			CreatedAt: time.Unix(sess.CreatedAt, 0),
			ExpiresAt: time.Unix(sess.ExpiresAt, 0),
			IsCurrent: sess.SessionID == verified.SessionID,
		})
	}

	return infos, nil
}

// RevokeSession ends one named session of the caller, e.g. "log out that
// other device". Revoking a session the caller does not own fails without
// revealing whether it exists.
func (e *Engine) RevokeSession(ctx context.Context, accessToken, sessionID string) error {
	verified, err := e.Verify(ctx, accessToken)
	if err != nil {
		return err
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
			return ErrNotSessionOwner
		}
		return err
	}
	if sess.UserID != verified.UserID {
		return ErrNotSessionOwner
	}

	if err := e.sessions.Delete(ctx, sessionID, verified.UserID); err != nil {
		return err
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, AuditSessionRevoked, true, verified.UserID, sessionID, nil, nil)

	return nil
}

// ActiveSessionCount reports how many live sessions the caller holds.
func (e *Engine) ActiveSessionCount(ctx context.Context, accessToken string) (int, error) {
	verified, err := e.Verify(ctx, accessToken)
	if err != nil {
		return 0, err
	}

	return e.sessions.ActiveSessionCount(ctx, verified.UserID)
}

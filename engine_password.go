package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ChangePassword verifies the current password before installing a new one,
// then invalidates every outstanding token and session of the caller. The
// caller logs in again with the new password.
func (e *Engine) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	verified, err := e.Verify(ctx, accessToken)
	if err != nil {
		return err
	}

	user, err := e.identity.GetUserByID(ctx, verified.UserID)
	if err != nil {
		return ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, AuditPasswordChanged, false, user.UserID, verified.SessionID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	// The version bump catches the caller's token at its next check, but
	// deny-listing the jti closes even that window.
	if err := e.revocation.Revoke(ctx, verified.JTI, verified.ExpiresAt); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, AuditPasswordChanged, true, user.UserID, verified.SessionID, nil, nil)

	return nil
}

// RequestPasswordReset opens a reset flow and returns the single-use token
// to hand to the delivery channel. An unknown identifier returns an empty
// token with no error, so the call does not reveal account existence.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) (string, error) {
	user, err := e.identity.GetUserByIdentifier(ctx, normalizeIdentifier(identifier))
	if err != nil || user.Status != AccountActive {
		return "", nil
	}

	resetToken := uuid.NewString()
	if err := e.resetStore.Save(ctx, hashToken(resetToken), user.UserID, e.config.Reset.TokenTTL); err != nil {
		return "", err
	}

	e.metricInc(MetricPasswordResetRequested)
	e.emitAudit(ctx, AuditPasswordResetReq, true, user.UserID, "", nil, map[string]string{
		"expires_in": e.config.Reset.TokenTTL.String(),
	})

	return resetToken, nil
}

// ConfirmPasswordReset consumes a reset token and installs the new
// password. Like any credential change it cuts off every outstanding token
// of the account.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	userID, err := e.resetStore.Consume(ctx, hashToken(resetToken))
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			e.metricInc(MetricPasswordResetRejected)
			e.emitAudit(ctx, AuditPasswordResetDone, false, "", "", ErrResetTokenInvalid, nil)
		}
		return err
	}

	user, err := e.identity.GetUserByID(ctx, userID)
	if err != nil {
		return ErrResetTokenInvalid
	}

	if err := e.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	e.metricInc(MetricPasswordResetConfirmed)
	e.emitAudit(ctx, AuditPasswordResetDone, true, user.UserID, "", nil, nil)

	return nil
}

// setPassword applies policy, stores the new hash, and fences off old
// credentials via the version counter.
func (e *Engine) setPassword(ctx context.Context, user PrincipalRecord, newPassword string) error {
	if len(newPassword) < e.config.Password.MinLength {
		return fmt.Errorf("%w: minimum length %d", ErrPasswordPolicy, e.config.Password.MinLength)
	}

	same, err := e.hasher.Verify(newPassword, user.PasswordHash)
	if err == nil && same {
		return fmt.Errorf("%w: new password must differ from the current one", ErrPasswordPolicy)
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.identity.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		return err
	}

	if err := e.invalidateAll(ctx, user.UserID); err != nil {
		return err
	}

	// A fresh password also clears any standing lockout.
	if err := e.lockout.Reset(ctx, normalizeIdentifier(user.Identifier)); err != nil {
		return err
	}

	return nil
}

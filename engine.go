package authcore

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cermont-atg/authcore/internal"
	"github.com/cermont-atg/authcore/internal/lockout"
	"github.com/cermont-atg/authcore/password"
	"github.com/cermont-atg/authcore/revocation"
	"github.com/cermont-atg/authcore/session"
	"github.com/cermont-atg/authcore/token"
)

// Engine is the authentication core. Build one with [New] and treat it as
// immutable; all methods are safe for concurrent use.
type Engine struct {
	config   Config
	logger   *zap.Logger
	identity IdentityProvider

	keys   *token.Keyring
	tokens *token.Manager

	sessions   *session.Store
	revocation *revocation.Registry
	lockout    *lockout.Limiter
	resetStore *resetStore

	hasher    *password.Hasher
	dummyHash string

	audit   *auditDispatcher
	metrics *Metrics
}

// Close drains the audit dispatcher. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, cause error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}

	e.audit.Emit(ctx, event)
}

// normalizeIdentifier folds an identifier to its canonical form.
// Identifiers are case-insensitive, and the lockout counters key on the
// folded string so case variants share one failure budget.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Login verifies credentials and opens a new session. Unknown identifiers
// and wrong passwords are indistinguishable to the caller, and both walk
// the same hashing path so response timing does not leak account existence.
func (e *Engine) Login(ctx context.Context, identifier, pass string, meta DeviceMeta) (*TokenPair, error) {
	identifier = normalizeIdentifier(identifier)

	locked, retryAfter, err := e.lockout.Check(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, AuditLoginLocked, false, "", "", ErrAccountLocked, map[string]string{
			"identifier": identifier,
		})
		return nil, &LockedError{RetryAfter: retryAfter}
	}

	user, lookupErr := e.identity.GetUserByIdentifier(ctx, identifier)
	if lookupErr != nil {
		// Burn a verification against the sentinel hash so unknown users
		// cost the same as wrong passwords.
		_, _ = e.hasher.Verify(pass, e.dummyHash)
		return nil, e.failLogin(ctx, identifier, "", "user_not_found")
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, identifier, user.UserID, "password_mismatch")
	}

	switch user.Status {
	case AccountDeleted:
		return nil, e.failLogin(ctx, identifier, user.UserID, "account_deleted")
	case AccountDisabled:
		e.metricInc(MetricAccountInactiveRejected)
		e.emitAudit(ctx, AuditLoginFailure, false, user.UserID, "", ErrAccountInactive, map[string]string{
			"identifier": identifier,
			"reason":     "account_disabled",
		})
		return nil, ErrAccountInactive
	}

	if err := e.lockout.Reset(ctx, identifier); err != nil {
		return nil, err
	}

	e.maybeRehash(ctx, user, pass)

	pair, sessionID, err := e.openSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, AuditLoginSuccess, true, user.UserID, sessionID, nil, map[string]string{
		"identifier": identifier,
	})

	return pair, nil
}

// failLogin records one failed attempt, keeping the caller-visible error
// uniform. The attempt that crosses the lockout threshold still reports
// invalid credentials; only later attempts see the lock.
func (e *Engine) failLogin(ctx context.Context, identifier, userID, reason string) error {
	lockedNow, _, err := e.lockout.RecordFailure(ctx, identifier)
	if err != nil {
		return err
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditLoginFailure, false, userID, "", ErrInvalidCredentials, map[string]string{
		"identifier": identifier,
		"reason":     reason,
	})
	if lockedNow {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, AuditLoginLocked, false, userID, "", ErrAccountLocked, map[string]string{
			"identifier": identifier,
		})
	}

	return ErrInvalidCredentials
}

func (e *Engine) maybeRehash(ctx context.Context, user PrincipalRecord, pass string) {
	if !e.config.Password.RehashOnLogin {
		return
	}

	upgrade, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !upgrade {
		return
	}

	newHash, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}
	if err := e.identity.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		e.logger.Warn("password rehash failed",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}
}

func (e *Engine) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return e.config.Token.RememberMeRefreshTTL
	}
	return e.config.Token.RefreshTTL
}

// openSession creates the session record and issues the first token pair.
// The refresh token is issued before the session is saved so its hash can
// be embedded in the record; the raw token is never stored.
func (e *Engine) openSession(ctx context.Context, user PrincipalRecord, meta DeviceMeta) (*TokenPair, string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, "", err
	}
	sessionID := sid.String()
	now := time.Now()

	ttl := e.refreshTTL(meta.RememberMe)

	refreshRaw, _, err := e.tokens.IssueRefresh(token.IssueParams{
		UserID:       user.UserID,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		SessionID:    sessionID,
		TTL:          ttl,
	})
	if err != nil {
		return nil, "", err
	}

	device := meta.Device
	if device == "" {
		device = deviceFromContext(ctx)
	}
	ip := meta.IP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	userAgent := meta.UserAgent
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}

	sess := &session.Session{
		SessionID:    sessionID,
		UserID:       user.UserID,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		RefreshHash:  hashToken(refreshRaw),
		RememberMe:   meta.RememberMe,
		Device:       device,
		IP:           ip,
		UserAgent:    userAgent,
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(ttl).Unix(),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, "", err
	}

	pair, err := e.issueAccess(user, sessionID, refreshRaw)
	if err != nil {
		return nil, "", err
	}

	return pair, sessionID, nil
}

func (e *Engine) issueAccess(user PrincipalRecord, sessionID, refreshRaw string) (*TokenPair, error) {
	accessRaw, accessClaims, err := e.tokens.IssueAccess(token.IssueParams{
		UserID:       user.UserID,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		SessionID:    sessionID,
		TTL:          e.config.Token.AccessTTL,
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessRaw,
		RefreshToken: refreshRaw,
		ExpiresIn:    int64(e.config.Token.AccessTTL.Seconds()),
		ExpiresAt:    accessClaims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a
// new pair is issued against the same session. Presenting a token that was
// already rotated away is treated as theft; the session is destroyed and
// every token of that user is invalidated through a version bump.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	revoked, err := e.revocation.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		e.metricInc(MetricTokenRevokedRejected)
		e.emitAudit(ctx, AuditRefreshFailure, false, claims.Subject, claims.SessionID, ErrTokenRevoked, nil)
		return nil, ErrTokenRevoked
	}

	user, err := e.identity.GetUserByID(ctx, claims.Subject)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrInvalidCredentials
	}
	if claims.TokenVersion != user.TokenVersion {
		e.metricInc(MetricTokenVersionStaleRejected)
		e.emitAudit(ctx, AuditRefreshFailure, false, user.UserID, claims.SessionID, ErrTokenVersionStale, nil)
		return nil, ErrTokenVersionStale
	}
	if user.Status != AccountActive {
		e.metricInc(MetricAccountInactiveRejected)
		return nil, ErrAccountInactive
	}

	// The session carries remember-me, which picks the renewal TTL. A read
	// before the swap is safe: the Lua CAS still decides the winner.
	current, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
			return nil, e.refreshReuse(ctx, user.UserID, claims.SessionID, false)
		}
		return nil, err
	}

	ttl := e.refreshTTL(current.RememberMe)

	newRefreshRaw, _, err := e.tokens.IssueRefresh(token.IssueParams{
		UserID:       user.UserID,
		Role:         user.Role,
		TokenVersion: user.TokenVersion,
		SessionID:    claims.SessionID,
		TTL:          ttl,
	})
	if err != nil {
		return nil, err
	}

	_, err = e.sessions.ConsumeAndReplace(
		ctx,
		claims.SessionID,
		hashToken(refreshToken),
		hashToken(newRefreshRaw),
		time.Now().Add(ttl),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrHashMismatch):
			return nil, e.refreshReuse(ctx, user.UserID, claims.SessionID, true)
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
			return nil, e.refreshReuse(ctx, user.UserID, claims.SessionID, false)
		}
		return nil, err
	}

	pair, err := e.issueAccess(user, claims.SessionID, newRefreshRaw)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditRefreshSuccess, true, user.UserID, claims.SessionID, nil, nil)

	return pair, nil
}

// refreshReuse handles a replayed refresh token. A hash mismatch proves the
// token chain forked, so the user's version counter is bumped to cut off
// every outstanding token; an absent session only reports the reuse, since
// a normal logout leaves the same trace.
func (e *Engine) refreshReuse(ctx context.Context, userID, sessionID string, bump bool) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, AuditRefreshReuse, false, userID, sessionID, ErrTokenReused, map[string]string{
		"version_bumped": boolString(bump),
	})

	if bump {
		if _, err := e.identity.BumpTokenVersion(ctx, userID); err != nil {
			e.logger.Error("token version bump after reuse failed",
				zap.String("user_id", userID),
				zap.Error(err))
		} else {
			e.emitAudit(ctx, AuditTokenVersionBumped, true, userID, sessionID, nil, nil)
		}
		if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
			e.logger.Error("session sweep after reuse failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	return ErrTokenReused
}

// Verify checks an access token without touching the session store: the
// signature, expiry, revocation list, account status, and version counter
// all have to pass.
func (e *Engine) Verify(ctx context.Context, accessToken string) (*VerifiedToken, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricVerifyLatency, time.Since(start))
		}
	}()

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}

	revoked, err := e.revocation.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		e.metricInc(MetricTokenRevokedRejected)
		e.metricInc(MetricVerifyFailure)
		return nil, ErrTokenRevoked
	}

	user, err := e.identity.GetUserByID(ctx, claims.Subject)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, ErrInvalidCredentials
	}
	if user.Status != AccountActive {
		e.metricInc(MetricAccountInactiveRejected)
		e.metricInc(MetricVerifyFailure)
		return nil, ErrAccountInactive
	}
	if claims.TokenVersion != user.TokenVersion {
		e.metricInc(MetricTokenVersionStaleRejected)
		e.metricInc(MetricVerifyFailure)
		return nil, ErrTokenVersionStale
	}

	e.metricInc(MetricVerifySuccess)

	return &VerifiedToken{
		UserID:       claims.Subject,
		Role:         claims.Role,
		SessionID:    claims.SessionID,
		TokenVersion: claims.TokenVersion,
		JTI:          claims.ID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func hashToken(raw string) string {
	sum := internal.HashToken(raw)
	return hex.EncodeToString(sum[:])
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

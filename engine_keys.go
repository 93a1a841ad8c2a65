package authcore

import (
	"context"

	"go.uber.org/zap"

	"github.com/cermont-atg/authcore/token"
)

// RotateSigningKey installs a fresh signing key. Tokens signed by the
// previous key keep verifying until their issue time plus the grace period
// has passed; the key before that is retired outright. A failed rotation
// changes nothing and signing continues on the current key.
func (e *Engine) RotateSigningKey(ctx context.Context) (token.Rotation, error) {
	rot, err := e.keys.Rotate()
	if err != nil {
		e.logger.Error("signing key rotation failed", zap.Error(err))
		return token.Rotation{}, err
	}

	e.metricInc(MetricKeyRotated)
	e.emitAudit(ctx, AuditKeyRotated, true, "", "", nil, map[string]string{
		"new_kid":      rot.NewKID,
		"grace_period": rot.GracePeriod.String(),
	})
	e.logger.Info("signing key rotated",
		zap.String("new_kid", rot.NewKID),
		zap.Duration("grace_period", rot.GracePeriod))

	return rot, nil
}

// PublicKeySet returns the JWKS-style set of currently-verifiable public
// keys, for external services that validate tokens on their own.
func (e *Engine) PublicKeySet() []token.JWK {
	return e.keys.PublicKeys()
}

// CurrentKeyID returns the kid that signs newly issued tokens.
func (e *Engine) CurrentKeyID() string {
	return e.keys.CurrentKID()
}

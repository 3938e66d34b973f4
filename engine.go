package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/lockbridge/authcore/internal/audit"
	"github.com/lockbridge/authcore/internal/metrics"
	"github.com/lockbridge/authcore/internal/rate"
	"github.com/lockbridge/authcore/internal/tokens"
	"github.com/lockbridge/authcore/password"
)

var timeNow = time.Now

// Engine is the authentication core. Construct it through the Builder; all
// methods are safe for concurrent use.
type Engine struct {
	config      Config
	credentials CredentialStore
	hasher      *password.Hasher
	signer      Signer
	mailer      Mailer
	captcha     CaptchaVerifier
	totp        *totpManager
	tokens      *tokens.Store
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	audit       *audit.Dispatcher

	// hashSem bounds concurrent argon2 derivations so a login burst cannot
	// exhaust process memory.
	hashSem chan struct{}

	now func() time.Time
}

// Close drains the audit dispatcher. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.audit.Close()
}

// hashPassword runs an argon2 derivation under the worker pool bound.
func (e *Engine) hashPassword(ctx context.Context, plaintext string, salt []byte) (string, error) {
	select {
	case e.hashSem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-e.hashSem }()
	return e.hasher.Hash(plaintext, salt)
}

// verifyPassword runs an argon2 verification under the worker pool bound.
// Context cancellation while queued counts as a verification failure.
func (e *Engine) verifyPassword(ctx context.Context, plaintext string, salt []byte, encodedHash string) bool {
	select {
	case e.hashSem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-e.hashSem }()
	return e.hasher.Verify(plaintext, salt, encodedHash)
}

func (e *Engine) metricInc(id metrics.MetricID) {
	e.metrics.Inc(id)
}

// MetricsSnapshot returns a point-in-time copy of the engine counters, keyed
// by exporter-facing metric name.
func (e *Engine) MetricsSnapshot() map[string]uint64 {
	snap := e.metrics.Snapshot()
	out := make(map[string]uint64, len(snap.Counters))
	for id, v := range snap.Counters {
		out[metrics.Names[id]] = v
	}
	return out
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, cred *Credential, success bool, failure error, meta map[string]string) {
	event := audit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if cred != nil {
		event.PrincipalID = cred.PrincipalID
		event.Kind = cred.Kind.String()
	}
	if failure != nil {
		event.Error = failure.Error()
	}
	e.audit.Emit(ctx, event)
}

// sendMailAsync fires a best-effort notification. Never blocks, never fails
// the calling operation.
func (e *Engine) sendMailAsync(recipient, templateID string, data map[string]string) {
	if e.mailer == nil || !e.config.Mail.Enabled || recipient == "" {
		return
	}
	e.mailer.SendAsync(recipient, templateID, data)
}

func (e *Engine) checkLimit(ctx context.Context, p rate.Policy, identity string) error {
	err := e.limiter.CheckPolicy(ctx, p, identity)
	switch {
	case err == nil:
		return nil
	case err == rate.ErrLimited:
		return ErrRateLimited
	default:
		return wrapBackendErr(err)
	}
}

// CheckAPILimit throttles general API activity per authenticated principal.
func (e *Engine) CheckAPILimit(ctx context.Context, principalID string) error {
	return e.checkLimit(ctx, e.config.apiPolicy(), principalID)
}

// CheckEmailLimit throttles outbound email triggers per recipient address.
func (e *Engine) CheckEmailLimit(ctx context.Context, emailAddress string) error {
	return e.checkLimit(ctx, e.config.emailPolicy(), emailAddress)
}

// CheckGlobalLimit is the coarse per-IP throttle intended to run ahead of
// all request processing.
func (e *Engine) CheckGlobalLimit(ctx context.Context, clientIP string) error {
	return e.checkLimit(ctx, e.config.globalPolicy(), clientIP)
}

// ResetLoginLimit clears the login throttle for one client IP.
// Administrative override.
func (e *Engine) ResetLoginLimit(ctx context.Context, clientIP string) error {
	if err := e.limiter.ResetPolicy(ctx, e.config.loginPolicy(), clientIP); err != nil {
		return wrapBackendErr(err)
	}
	return nil
}

// VerifyAccessToken validates an access token and returns its claims.
func (e *Engine) VerifyAccessToken(token string) (*Claims, error) {
	claims, err := e.signer.Verify(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func wrapBackendErr(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

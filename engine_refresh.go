package authcore

import (
	"context"
	"errors"

	"github.com/lockbridge/authcore/internal/metrics"
	"github.com/lockbridge/authcore/internal/tokens"
)

// Refresh exchanges a live refresh token for a fresh access/refresh pair.
// Rotation is single-use: of any number of concurrent calls presenting the
// same token, exactly one succeeds. Presenting an already-consumed token is a
// theft signal; the whole token family is revoked and the caller gets the
// same ErrTokenInvalid as for an unknown token.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrValidation
	}

	rec, err := e.tokens.Rotate(ctx, refreshToken, clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		switch {
		case errors.Is(err, tokens.ErrNotFound):
			e.metricInc(metrics.MetricRefreshFailure)
			return nil, ErrTokenInvalid
		case errors.Is(err, tokens.ErrExpired):
			e.metricInc(metrics.MetricRefreshFailure)
			return nil, ErrTokenExpired
		case errors.Is(err, tokens.ErrReused):
			e.metricInc(metrics.MetricRefreshReuseDetected)
			e.handleReuse(ctx, refreshToken)
			return nil, ErrTokenInvalid
		default:
			return nil, wrapBackendErr(err)
		}
	}

	cred, err := e.credentials.GetByPrincipalID(ctx, rec.PrincipalID)
	if err != nil || !cred.Active {
		// The principal vanished or was deactivated after issuance; the
		// just-minted token must not survive.
		if _, rerr := e.tokens.RevokeAll(ctx, rec.PrincipalID, rec.Kind); rerr != nil {
			return nil, wrapBackendErr(rerr)
		}
		if err != nil && !errors.Is(err, ErrCredentialNotFound) {
			return nil, wrapBackendErr(err)
		}
		e.metricInc(metrics.MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	access, err := e.signer.Sign(Claims{
		PrincipalID: cred.PrincipalID,
		Kind:        cred.Kind,
		Tier:        cred.Tier,
	})
	if err != nil {
		return nil, wrapBackendErr(err)
	}

	e.metricInc(metrics.MetricRefreshSuccess)
	e.emitAudit(ctx, "token_refresh", cred, true, nil, nil)
	return &TokenPair{AccessToken: access, RefreshToken: rec.Token}, nil
}

// handleReuse records the security event behind a reuse detection. The
// cascade itself already ran inside the token store.
func (e *Engine) handleReuse(ctx context.Context, refreshToken string) {
	meta := map[string]string{"event": "refresh_token_reuse"}
	var cred *Credential
	if rec, err := e.tokens.Get(ctx, refreshToken); err == nil {
		if c, cerr := e.credentials.GetByPrincipalID(ctx, rec.PrincipalID); cerr == nil {
			cred = c
		}
	}
	e.emitAudit(ctx, "token_reuse_detected", cred, false, ErrTokenInvalid, meta)
	if cred != nil {
		e.sendMailAsync(cred.Identifier, e.config.Mail.ReuseTemplate, map[string]string{
			"principal_id": cred.PrincipalID,
		})
	}
}

// Logout revokes one refresh token. Idempotent: revoking an already-revoked
// or expired token succeeds, and an unknown token reports ErrTokenInvalid.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrValidation
	}
	err := e.tokens.Revoke(ctx, refreshToken)
	switch {
	case err == nil:
		e.metricInc(metrics.MetricLogout)
		e.emitAudit(ctx, "logout", nil, true, nil, nil)
		return nil
	case errors.Is(err, tokens.ErrNotFound):
		return ErrTokenInvalid
	default:
		return wrapBackendErr(err)
	}
}

// LogoutAll revokes every live refresh token of one principal and returns how
// many were revoked.
func (e *Engine) LogoutAll(ctx context.Context, principalID string, kind PrincipalKind) (int, error) {
	if principalID == "" {
		return 0, ErrValidation
	}
	revoked, err := e.tokens.RevokeAll(ctx, principalID, uint8(kind))
	if err != nil {
		return revoked, wrapBackendErr(err)
	}
	e.metricInc(metrics.MetricLogoutAll)
	e.emitAudit(ctx, "logout_all", &Credential{PrincipalID: principalID, Kind: kind}, true, nil, nil)
	return revoked, nil
}

// PurgeRefreshTokens runs the maintenance sweep over stored token rows.
// Intended to be driven by an external scheduler.
func (e *Engine) PurgeRefreshTokens(ctx context.Context) (int, error) {
	deleted, err := e.tokens.Purge(ctx)
	if err != nil {
		return deleted, wrapBackendErr(err)
	}
	if deleted > 0 {
		e.metrics.Add(metrics.MetricTokensPurged, uint64(deleted))
	}
	return deleted, nil
}

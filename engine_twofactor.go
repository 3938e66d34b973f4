package authcore

import (
	"context"
	"errors"

	"github.com/lockbridge/authcore/internal/metrics"
)

// ProvisionTwoFactor starts two-factor enrollment: it generates a fresh
// secret and stores it unconfirmed. Enrollment is two-phase; the secret takes
// effect only after ConfirmTwoFactor proves the authenticator has it.
// Re-provisioning before confirmation replaces the pending secret.
func (e *Engine) ProvisionTwoFactor(ctx context.Context, principalID string) (*TwoFactorProvision, error) {
	cred, err := e.loadCredential(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if cred.TwoFactorEnabled {
		return nil, ErrValidation
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, wrapBackendErr(err)
	}
	cred.TwoFactorSecret = []byte(secret)
	if err := e.credentials.Save(ctx, cred); err != nil {
		return nil, wrapBackendErr(err)
	}

	e.emitAudit(ctx, "twofactor_provision", cred, true, nil, nil)
	return &TwoFactorProvision{
		Secret: secret,
		URI:    e.totp.ProvisionURI(secret, cred.Identifier),
	}, nil
}

// ConfirmTwoFactor completes enrollment by validating a live code against the
// pending secret. Only after this does login demand a challenge.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, principalID, code string) error {
	cred, err := e.loadCredential(ctx, principalID)
	if err != nil {
		return err
	}
	if cred.TwoFactorEnabled {
		return ErrValidation
	}
	if len(cred.TwoFactorSecret) == 0 {
		return ErrTwoFactorNotProvisioned
	}
	if !e.totp.VerifyCode(string(cred.TwoFactorSecret), code) {
		return ErrTwoFactorInvalid
	}

	cred.TwoFactorEnabled = true
	if err := e.credentials.Save(ctx, cred); err != nil {
		return wrapBackendErr(err)
	}
	e.metricInc(metrics.MetricTwoFactorEnabled)
	e.emitAudit(ctx, "twofactor_enabled", cred, true, nil, nil)
	return nil
}

// DisableTwoFactor turns two-factor off. It demands a valid code against the
// currently enabled secret; a pending unconfirmed secret cannot authorize the
// disable.
func (e *Engine) DisableTwoFactor(ctx context.Context, principalID, code string) error {
	cred, err := e.loadCredential(ctx, principalID)
	if err != nil {
		return err
	}
	if !cred.TwoFactorEnabled {
		return ErrTwoFactorNotProvisioned
	}
	if !e.totp.VerifyCode(string(cred.TwoFactorSecret), code) {
		return ErrTwoFactorInvalid
	}

	cred.TwoFactorEnabled = false
	cred.TwoFactorSecret = nil
	cred.ClearChallenge()
	if err := e.credentials.Save(ctx, cred); err != nil {
		return wrapBackendErr(err)
	}
	e.metricInc(metrics.MetricTwoFactorDisabled)
	e.emitAudit(ctx, "twofactor_disabled", cred, true, nil, nil)
	return nil
}

// TwoFactorStatus reports whether two-factor is enabled or mid-enrollment.
func (e *Engine) TwoFactorStatus(ctx context.Context, principalID string) (*TwoFactorStatus, error) {
	cred, err := e.loadCredential(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{
		Enabled: cred.TwoFactorEnabled,
		Pending: !cred.TwoFactorEnabled && len(cred.TwoFactorSecret) > 0,
	}, nil
}

func (e *Engine) loadCredential(ctx context.Context, principalID string) (*Credential, error) {
	if principalID == "" {
		return nil, ErrValidation
	}
	cred, err := e.credentials.GetByPrincipalID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, wrapBackendErr(err)
	}
	return cred, nil
}

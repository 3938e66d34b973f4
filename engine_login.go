package authcore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/lockbridge/authcore/internal/metrics"
)

// Login authenticates one principal with identifier and password. On success
// it either returns an access/refresh token pair, or, for two-factor-enabled
// credentials, a challenge token to be completed via CompleteTwoFactor.
//
// Failure ordering is fixed: unknown identifiers report ErrInvalidCredentials
// before the rate-limit verdict, the rate limit is enforced before any hash
// work, and account-state gates run before the password is ever verified.
// captchaToken is consulted only on the privileged path.
func (e *Engine) Login(ctx context.Context, kind PrincipalKind, identifier, plaintext, captchaToken string) (*LoginResult, error) {
	if identifier == "" || plaintext == "" {
		return nil, ErrValidation
	}

	ip := clientIPFromContext(ctx)
	limited, err := e.hitLoginLimit(ctx, ip)
	if err != nil {
		return nil, err
	}

	cred, err := e.credentials.GetByIdentifier(ctx, kind, identifier)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(metrics.MetricLoginFailure)
			e.emitAudit(ctx, "login", nil, false, ErrInvalidCredentials, map[string]string{"reason": "unknown_identifier"})
			return nil, ErrInvalidCredentials
		}
		return nil, wrapBackendErr(err)
	}

	if limited {
		e.metricInc(metrics.MetricLoginRateLimited)
		e.emitAudit(ctx, "login", cred, false, ErrRateLimited, nil)
		return nil, ErrRateLimited
	}

	if !cred.Active {
		return e.failLogin(ctx, cred, ErrAccountInactive)
	}
	if kind == KindMerchant && (!cred.EmailVerified || !cred.Approved) {
		return e.failLogin(ctx, cred, ErrVerificationPending)
	}
	if kind == KindAdmin && e.config.Captcha.RequireForAdmin {
		ok, cerr := e.captcha.Verify(ctx, captchaToken, ip)
		if cerr != nil || !ok {
			return e.failLogin(ctx, cred, ErrCaptchaFailed)
		}
	}

	now := e.now()
	if cred.LockedAt(now) {
		e.metricInc(metrics.MetricLoginLocked)
		e.emitAudit(ctx, "login", cred, false, ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}
	// An elapsed lockout clears on the next attempt, counter included.
	if cred.LockedUntil != nil {
		cred.LockedUntil = nil
		cred.FailedAttempts = 0
	}

	if !e.verifyPassword(ctx, plaintext, cred.Salt, cred.PasswordHash) {
		return nil, e.recordFailedAttempt(ctx, cred)
	}

	cred.FailedAttempts = 0
	cred.LockedUntil = nil

	if e.config.Password.RehashOnLogin && e.hasher.NeedsRehash(cred.PasswordHash) {
		if rehashed, herr := e.hashPassword(ctx, plaintext, cred.Salt); herr == nil {
			cred.PasswordHash = rehashed
		}
	}

	if cred.TwoFactorEnabled {
		token := uuid.NewString()
		cred.BeginChallenge(token, e.config.TwoFactor.ChallengeTTL, now)
		if err := e.credentials.Save(ctx, cred); err != nil {
			return nil, wrapBackendErr(err)
		}
		e.metricInc(metrics.MetricChallengeIssued)
		e.emitAudit(ctx, "login_challenge", cred, true, nil, nil)
		return &LoginResult{TwoFactorRequired: true, ChallengeToken: token}, nil
	}

	cred.ClearChallenge()
	if err := e.credentials.Save(ctx, cred); err != nil {
		return nil, wrapBackendErr(err)
	}

	pair, err := e.issueTokens(ctx, cred)
	if err != nil {
		return nil, err
	}
	e.metricInc(metrics.MetricLoginSuccess)
	e.emitAudit(ctx, "login", cred, true, nil, nil)
	return &LoginResult{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// CompleteTwoFactor finishes a challenged login. Every failure mode reports
// the same ErrTwoFactorInvalid: a stale or foreign challenge token, an expired
// challenge, a wrong code, and a spent attempt budget are indistinguishable to
// the caller.
func (e *Engine) CompleteTwoFactor(ctx context.Context, kind PrincipalKind, identifier, challengeToken, code string) (*LoginResult, error) {
	if identifier == "" || challengeToken == "" || code == "" {
		return nil, ErrValidation
	}

	cred, err := e.credentials.GetByIdentifier(ctx, kind, identifier)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrTwoFactorInvalid
		}
		return nil, wrapBackendErr(err)
	}

	ch := cred.Challenge
	if ch == nil || !cred.TwoFactorEnabled {
		return e.failChallenge(ctx, cred, "no_challenge")
	}
	// A mismatched token fails without touching any state: it neither
	// consumes the attempt budget nor clears an expired challenge.
	if !ch.Matches(challengeToken) {
		return e.failChallenge(ctx, cred, "token_mismatch")
	}
	if ch.ExpiredAt(e.now()) {
		cred.ClearChallenge()
		if serr := e.credentials.Save(ctx, cred); serr != nil {
			return nil, wrapBackendErr(serr)
		}
		return e.failChallenge(ctx, cred, "expired")
	}

	if !e.totp.VerifyCode(string(cred.TwoFactorSecret), code) {
		ch.Attempts++
		if ch.Attempts >= e.config.TwoFactor.MaxChallengeAttempts {
			cred.ClearChallenge()
		}
		if serr := e.credentials.Save(ctx, cred); serr != nil {
			return nil, wrapBackendErr(serr)
		}
		return e.failChallenge(ctx, cred, "bad_code")
	}

	cred.ClearChallenge()
	cred.FailedAttempts = 0
	cred.LockedUntil = nil
	if err := e.credentials.Save(ctx, cred); err != nil {
		return nil, wrapBackendErr(err)
	}

	pair, err := e.issueTokens(ctx, cred)
	if err != nil {
		return nil, err
	}
	e.metricInc(metrics.MetricChallengeSuccess)
	e.emitAudit(ctx, "login_challenge_complete", cred, true, nil, nil)
	return &LoginResult{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// hitLoginLimit records one login attempt against the per-IP policy and
// reports whether the budget is spent. The verdict is applied after the
// credential lookup so unknown identifiers stay indistinguishable.
func (e *Engine) hitLoginLimit(ctx context.Context, ip string) (bool, error) {
	p := e.config.loginPolicy()
	if p.Max <= 0 || ip == "" {
		return false, nil
	}
	exceeded, err := e.limiter.IsExceeded(ctx, p.Key(ip), p.Max, p.Window)
	if err != nil {
		return false, wrapBackendErr(err)
	}
	return exceeded, nil
}

func (e *Engine) failLogin(ctx context.Context, cred *Credential, sentinel error) (*LoginResult, error) {
	e.metricInc(metrics.MetricLoginFailure)
	e.emitAudit(ctx, "login", cred, false, sentinel, nil)
	return nil, sentinel
}

func (e *Engine) failChallenge(ctx context.Context, cred *Credential, reason string) (*LoginResult, error) {
	e.metricInc(metrics.MetricChallengeFailure)
	e.emitAudit(ctx, "login_challenge", cred, false, ErrTwoFactorInvalid, map[string]string{"reason": reason})
	return nil, ErrTwoFactorInvalid
}

// recordFailedAttempt bumps the failure counter, locking the credential when
// the counter reaches the threshold. The locking attempt itself still reports
// ErrInvalidCredentials; the lockout surfaces from the next attempt on.
func (e *Engine) recordFailedAttempt(ctx context.Context, cred *Credential) error {
	cred.FailedAttempts++
	locked := cred.FailedAttempts >= e.config.Lockout.Threshold
	if locked {
		until := e.now().Add(e.config.Lockout.Duration)
		cred.LockedUntil = &until
	}
	if err := e.credentials.Save(ctx, cred); err != nil {
		return wrapBackendErr(err)
	}

	e.metricInc(metrics.MetricLoginFailure)
	if locked {
		e.metricInc(metrics.MetricLoginLocked)
		e.emitAudit(ctx, "account_locked", cred, false, ErrAccountLocked, nil)
		e.sendMailAsync(cred.Identifier, e.config.Mail.LockoutTemplate, map[string]string{
			"principal_id": cred.PrincipalID,
		})
	} else {
		e.emitAudit(ctx, "login", cred, false, ErrInvalidCredentials, nil)
	}
	return ErrInvalidCredentials
}

// issueTokens mints the access token and a fresh refresh token family member.
func (e *Engine) issueTokens(ctx context.Context, cred *Credential) (*TokenPair, error) {
	access, err := e.signer.Sign(Claims{
		PrincipalID: cred.PrincipalID,
		Kind:        cred.Kind,
		Tier:        cred.Tier,
	})
	if err != nil {
		return nil, wrapBackendErr(err)
	}

	rec, err := e.tokens.Issue(ctx, cred.PrincipalID, uint8(cred.Kind), clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		return nil, wrapBackendErr(err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: rec.Token}, nil
}

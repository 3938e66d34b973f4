package authcore

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/lockbridge/authcore/internal/window"
)

// PrincipalKind distinguishes the three authenticable populations.
type PrincipalKind uint8

const (
	// KindAdmin is the privileged kind: captcha-gated when configured,
	// carries an approved privilege tier in its access claims.
	KindAdmin PrincipalKind = iota + 1
	// KindCustomer is the first ordinary kind.
	KindCustomer
	// KindMerchant is the second ordinary kind; logging in additionally
	// requires a self-verified email and an administrative approval flag.
	KindMerchant
)

func (k PrincipalKind) String() string {
	switch k {
	case KindAdmin:
		return "admin"
	case KindCustomer:
		return "customer"
	case KindMerchant:
		return "merchant"
	default:
		return "unknown"
	}
}

// ParseKind maps the claim-string form back to a kind.
func ParseKind(s string) (PrincipalKind, bool) {
	switch s {
	case "admin":
		return KindAdmin, true
	case "customer":
		return KindCustomer, true
	case "merchant":
		return KindMerchant, true
	default:
		return 0, false
	}
}

// Challenge is the pending two-factor login challenge on a credential.
// A nil *Challenge means no challenge is outstanding; the two states and
// their transitions live here instead of null-checks at every call site.
type Challenge struct {
	Token     string
	ExpiresAt time.Time
	Attempts  int
}

// Matches compares a presented challenge token in constant time.
func (c *Challenge) Matches(token string) bool {
	if c == nil || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Token), []byte(token)) == 1
}

// ExpiredAt reports whether the challenge window has closed.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return c != nil && !window.Until(c.ExpiresAt, now)
}

// Credential is the stored authentication material and security state for
// one principal. Rows are never deleted; state transitions only mutate
// fields. A non-nil TwoFactorSecret with TwoFactorEnabled=false means
// "provisioned but not yet confirmed".
type Credential struct {
	PrincipalID string
	Identifier  string
	Kind        PrincipalKind

	PasswordHash string
	Salt         []byte

	Active bool
	// Tier is the approved privilege tier for admin principals; empty for
	// ordinary kinds. Tier management is a collaborator's concern.
	Tier string
	// EmailVerified and Approved gate merchant logins.
	EmailVerified bool
	Approved      bool

	FailedAttempts int
	LockedUntil    *time.Time

	TwoFactorEnabled bool
	TwoFactorSecret  []byte
	Challenge        *Challenge
}

// BeginChallenge opens a fresh challenge, replacing any outstanding one.
func (c *Credential) BeginChallenge(token string, ttl time.Duration, now time.Time) {
	c.Challenge = &Challenge{
		Token:     token,
		ExpiresAt: now.Add(ttl),
	}
}

// ClearChallenge transitions back to the no-challenge state.
func (c *Credential) ClearChallenge() {
	c.Challenge = nil
}

// LockedAt reports whether a lockout window covers now.
func (c *Credential) LockedAt(now time.Time) bool {
	return c.LockedUntil != nil && window.Until(*c.LockedUntil, now)
}

// CredentialStore is the durable storage collaborator for credentials.
// Implementations return ErrCredentialNotFound for missing rows and must
// persist every field of Credential on Save.
type CredentialStore interface {
	GetByIdentifier(ctx context.Context, kind PrincipalKind, identifier string) (*Credential, error)
	GetByPrincipalID(ctx context.Context, principalID string) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
}

// Claims is the signed, time-boxed claim set inside an access token.
// ExpiresAt is set by Verify from the token itself; Sign implementations
// derive the expiry from their own configured TTL and ignore the field.
type Claims struct {
	PrincipalID string
	Kind        PrincipalKind
	Tier        string
	ExpiresAt   time.Time
}

// Signer is the Signing Authority collaborator. The bundled jwt package
// satisfies it through the builder; hosts may supply their own.
type Signer interface {
	Sign(claims Claims) (string, error)
	Verify(token string) (*Claims, error)
}

// Mailer is the outbound email collaborator. SendAsync is best-effort and
// never awaited by authentication paths.
type Mailer interface {
	SendAsync(recipient, templateID string, data map[string]string)
}

// CaptchaVerifier gates the privileged login path when enabled.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// LoginResult is the terminal outcome of a successful Login or
// CompleteTwoFactor call. Either both tokens are set, or TwoFactorRequired
// is true and ChallengeToken carries the hand-off.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	TwoFactorRequired bool
	ChallengeToken    string
}

// TokenPair is returned by Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TwoFactorProvision holds a freshly provisioned (not yet enabled) secret.
type TwoFactorProvision struct {
	Secret string // base32, the displayable form
	URI    string // otpauth:// URI for authenticator apps
}

// TwoFactorStatus reports a credential's two-factor state.
type TwoFactorStatus struct {
	Enabled bool
	// Pending is true while a secret is provisioned but unconfirmed.
	Pending bool
}

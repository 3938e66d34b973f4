package authcore

import (
	"errors"
	"time"

	"github.com/lockbridge/authcore/internal/rate"
)

// Config is the full engine configuration tree. Zero values fall back to
// the defaults below during Build; Validate rejects combinations that would
// weaken the security invariants.
type Config struct {
	JWT       JWTConfig
	Password  PasswordConfig
	Lockout   LockoutConfig
	TwoFactor TwoFactorConfig
	Tokens    TokensConfig
	RateLimit RateLimitConfig
	Captcha   CaptchaConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Mail      MailConfig
}

// JWTConfig configures the bundled Signing Authority. Ignored when the host
// supplies its own Signer.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PasswordConfig tunes the argon2id hasher and the hashing worker pool.
type PasswordConfig struct {
	Memory      uint32 // KB
	Time        uint32
	Parallelism uint8
	KeyLength   uint32
	// Pepper is the application-wide secret mixed into every hash,
	// distinct from the per-credential salt.
	Pepper []byte
	// MaxConcurrentHashes bounds the hashing worker pool so argon2 work
	// under load cannot starve unrelated requests.
	MaxConcurrentHashes int
	// RehashOnLogin upgrades hashes produced under weaker parameters
	// after a successful verification.
	RehashOnLogin bool
}

// LockoutConfig controls brute-force lockout.
type LockoutConfig struct {
	Threshold int           // failed attempts before locking
	Duration  time.Duration // lockout window
}

// TwoFactorConfig controls TOTP and the login challenge.
type TwoFactorConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds
	Skew      int // accepted steps either side of now
	Algorithm string
	// ChallengeTTL is the named validity window for a pending login
	// challenge.
	ChallengeTTL         time.Duration
	MaxChallengeAttempts int
}

// TokensConfig controls refresh token lifetimes and retention.
type TokensConfig struct {
	RedisPrefix string
	Lifetime    time.Duration
	// RevokedRetention keeps revoked+expired rows for the maintenance
	// purge; PurgeHorizon hard-deletes anything expired that long.
	RevokedRetention time.Duration
	PurgeHorizon     time.Duration
}

// PolicyConfig is one rate-limit budget.
type PolicyConfig struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig names the four throttle policies. Counters default to the
// in-process store; set UseRedis to share them across instances.
type RateLimitConfig struct {
	RedisPrefix string
	UseRedis    bool
	Login       PolicyConfig // keyed per client IP
	API         PolicyConfig // keyed per authenticated principal
	Email       PolicyConfig // keyed per email address
	Global      PolicyConfig // keyed per IP, ahead of all processing
}

// CaptchaConfig gates the privileged login path.
type CaptchaConfig struct {
	RequireForAdmin bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// MailConfig names the best-effort notification templates.
type MailConfig struct {
	Enabled         bool
	LockoutTemplate string
	ReuseTemplate   string
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
		},
		Password: PasswordConfig{
			Memory:              64 * 1024,
			Time:                3,
			Parallelism:         2,
			KeyLength:           32,
			MaxConcurrentHashes: 8,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "authcore",
			Digits:               6,
			Period:               30,
			Skew:                 1,
			Algorithm:            "SHA1",
			ChallengeTTL:         5 * time.Minute,
			MaxChallengeAttempts: 5,
		},
		Tokens: TokensConfig{
			Lifetime:         30 * 24 * time.Hour,
			RevokedRetention: 7 * 24 * time.Hour,
			PurgeHorizon:     30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Login:  PolicyConfig{Max: 10, Window: 15 * time.Minute},
			API:    PolicyConfig{Max: 100, Window: time.Minute},
			Email:  PolicyConfig{Max: 3, Window: time.Hour},
			Global: PolicyConfig{Max: 300, Window: time.Minute},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
		Mail: MailConfig{
			LockoutTemplate: "account-lockout",
			ReuseTemplate:   "token-reuse-detected",
		},
	}
}

// Validate rejects configurations that would break security invariants.
func (c *Config) Validate() error {
	if c.Lockout.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 10 {
		return errors.New("totp digits must be between 6 and 10")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("totp skew must be between 0 and 2")
	}
	if c.TwoFactor.ChallengeTTL <= 0 {
		return errors.New("two-factor challenge TTL must be positive")
	}
	if c.TwoFactor.MaxChallengeAttempts < 1 {
		return errors.New("two-factor challenge attempts must be >= 1")
	}
	if c.Tokens.Lifetime <= 0 {
		return errors.New("refresh token lifetime must be positive")
	}
	if c.Tokens.RevokedRetention < 0 || c.Tokens.PurgeHorizon < 0 {
		return errors.New("token retention horizons must not be negative")
	}
	if c.Tokens.RevokedRetention > c.Tokens.PurgeHorizon {
		return errors.New("revoked retention must not exceed purge horizon")
	}
	if c.Password.MaxConcurrentHashes < 1 {
		return errors.New("password worker pool must allow at least one hash")
	}
	for _, p := range []PolicyConfig{c.RateLimit.Login, c.RateLimit.API, c.RateLimit.Email, c.RateLimit.Global} {
		if p.Max > 0 && p.Window <= 0 {
			return errors.New("rate limit policies with a budget need a window")
		}
	}
	return nil
}

func (c *Config) loginPolicy() rate.Policy {
	return rate.Policy{Scope: "login", Max: c.RateLimit.Login.Max, Window: c.RateLimit.Login.Window}
}

func (c *Config) apiPolicy() rate.Policy {
	return rate.Policy{Scope: "api", Max: c.RateLimit.API.Max, Window: c.RateLimit.API.Window}
}

func (c *Config) emailPolicy() rate.Policy {
	return rate.Policy{Scope: "email", Max: c.RateLimit.Email.Max, Window: c.RateLimit.Email.Window}
}

func (c *Config) globalPolicy() rate.Policy {
	return rate.Policy{Scope: "global", Max: c.RateLimit.Global.Max, Window: c.RateLimit.Global.Window}
}

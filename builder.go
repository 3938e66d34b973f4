package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/lockbridge/authcore/internal/audit"
	"github.com/lockbridge/authcore/internal/metrics"
	"github.com/lockbridge/authcore/internal/rate"
	"github.com/lockbridge/authcore/internal/tokens"
	"github.com/lockbridge/authcore/jwt"
	"github.com/lockbridge/authcore/password"
)

// Builder assembles an Engine from configuration and collaborators.
//
//	engine, err := authcore.New().
//		WithRedis(client).
//		WithCredentialStore(store).
//		Build()
type Builder struct {
	config       Config
	configSet    bool
	redis        redis.UniversalClient
	credentials  CredentialStore
	signer       Signer
	mailer       Mailer
	captcha      CaptchaVerifier
	auditSink    audit.Sink
	counterStore rate.CounterStore
}

// New starts a builder with default configuration.
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration wholesale. Zero-valued
// sections are backfilled with defaults during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configSet = true
	return b
}

// WithRedis supplies the Redis client backing refresh tokens and, when
// RateLimit.UseRedis is set, the shared rate-limit counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore supplies the durable credential storage collaborator.
// Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithSigner replaces the bundled JWT signing authority.
func (b *Builder) WithSigner(signer Signer) *Builder {
	b.signer = signer
	return b
}

// WithMailer supplies the best-effort notification collaborator.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithCaptchaVerifier supplies the verifier gating privileged logins.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithAuditSink supplies the audit event destination.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithCounterStore overrides the rate-limit counter backend, bypassing the
// memory/Redis selection in Build.
func (b *Builder) WithCounterStore(store rate.CounterStore) *Builder {
	b.counterStore = store
	return b
}

// Build validates configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.configSet {
		cfg = defaultConfig()
	} else {
		applyDefaults(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Captcha.RequireForAdmin && b.captcha == nil {
		return nil, errors.New("captcha verifier required when admin captcha is enabled")
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		KeyLength:   cfg.Password.KeyLength,
		Pepper:      cfg.Password.Pepper,
	})
	if err != nil {
		return nil, err
	}

	signer := b.signer
	if signer == nil {
		manager, err := jwt.NewManager(jwt.Config{
			AccessTTL:     cfg.JWT.AccessTTL,
			SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
			PrivateKey:    cfg.JWT.PrivateKey,
			PublicKey:     cfg.JWT.PublicKey,
			Issuer:        cfg.JWT.Issuer,
			Audience:      cfg.JWT.Audience,
			Leeway:        cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
		signer = &jwtSigner{manager: manager}
	}

	counterStore := b.counterStore
	if counterStore == nil {
		if cfg.RateLimit.UseRedis {
			counterStore = rate.NewRedisStore(b.redis, cfg.RateLimit.RedisPrefix)
		} else {
			counterStore = rate.NewMemoryStore()
		}
	}

	tokenStore := tokens.NewStore(b.redis, cfg.Tokens.RedisPrefix, tokens.Config{
		Lifetime:         cfg.Tokens.Lifetime,
		RevokedRetention: cfg.Tokens.RevokedRetention,
		PurgeHorizon:     cfg.Tokens.PurgeHorizon,
	})

	e := &Engine{
		config:      cfg,
		credentials: b.credentials,
		hasher:      hasher,
		signer:      signer,
		mailer:      b.mailer,
		captcha:     b.captcha,
		totp:        newTOTPManager(cfg.TwoFactor),
		tokens:      tokenStore,
		limiter:     rate.NewLimiter(counterStore),
		metrics: metrics.New(metrics.Config{
			Enabled: cfg.Metrics.Enabled,
		}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		hashSem: make(chan struct{}, cfg.Password.MaxConcurrentHashes),
		now:     timeNow,
	}
	return e, nil
}

// applyDefaults backfills zero values in a caller-supplied config.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.JWT.AccessTTL == 0 {
		cfg.JWT.AccessTTL = def.JWT.AccessTTL
	}
	if cfg.JWT.SigningMethod == "" {
		cfg.JWT.SigningMethod = def.JWT.SigningMethod
	}
	if cfg.Password.Memory == 0 {
		cfg.Password.Memory = def.Password.Memory
	}
	if cfg.Password.Time == 0 {
		cfg.Password.Time = def.Password.Time
	}
	if cfg.Password.Parallelism == 0 {
		cfg.Password.Parallelism = def.Password.Parallelism
	}
	if cfg.Password.KeyLength == 0 {
		cfg.Password.KeyLength = def.Password.KeyLength
	}
	if cfg.Password.MaxConcurrentHashes == 0 {
		cfg.Password.MaxConcurrentHashes = def.Password.MaxConcurrentHashes
	}
	if cfg.Lockout.Threshold == 0 {
		cfg.Lockout.Threshold = def.Lockout.Threshold
	}
	if cfg.Lockout.Duration == 0 {
		cfg.Lockout.Duration = def.Lockout.Duration
	}
	if cfg.TwoFactor.Issuer == "" {
		cfg.TwoFactor.Issuer = def.TwoFactor.Issuer
	}
	if cfg.TwoFactor.Digits == 0 {
		cfg.TwoFactor.Digits = def.TwoFactor.Digits
	}
	if cfg.TwoFactor.Period == 0 {
		cfg.TwoFactor.Period = def.TwoFactor.Period
	}
	if cfg.TwoFactor.Algorithm == "" {
		cfg.TwoFactor.Algorithm = def.TwoFactor.Algorithm
	}
	if cfg.TwoFactor.ChallengeTTL == 0 {
		cfg.TwoFactor.ChallengeTTL = def.TwoFactor.ChallengeTTL
	}
	if cfg.TwoFactor.MaxChallengeAttempts == 0 {
		cfg.TwoFactor.MaxChallengeAttempts = def.TwoFactor.MaxChallengeAttempts
	}
	if cfg.Tokens.Lifetime == 0 {
		cfg.Tokens.Lifetime = def.Tokens.Lifetime
	}
	if cfg.Tokens.RevokedRetention == 0 {
		cfg.Tokens.RevokedRetention = def.Tokens.RevokedRetention
	}
	if cfg.Tokens.PurgeHorizon == 0 {
		cfg.Tokens.PurgeHorizon = def.Tokens.PurgeHorizon
	}
	if cfg.RateLimit.Login == (PolicyConfig{}) {
		cfg.RateLimit.Login = def.RateLimit.Login
	}
	if cfg.RateLimit.API == (PolicyConfig{}) {
		cfg.RateLimit.API = def.RateLimit.API
	}
	if cfg.RateLimit.Email == (PolicyConfig{}) {
		cfg.RateLimit.Email = def.RateLimit.Email
	}
	if cfg.RateLimit.Global == (PolicyConfig{}) {
		cfg.RateLimit.Global = def.RateLimit.Global
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}
	if cfg.Mail.LockoutTemplate == "" {
		cfg.Mail.LockoutTemplate = def.Mail.LockoutTemplate
	}
	if cfg.Mail.ReuseTemplate == "" {
		cfg.Mail.ReuseTemplate = def.Mail.ReuseTemplate
	}
}

// jwtSigner adapts the bundled jwt.Manager to the Signer interface.
type jwtSigner struct {
	manager *jwt.Manager
}

func (s *jwtSigner) Sign(claims Claims) (string, error) {
	return s.manager.Sign(claims.PrincipalID, claims.Kind.String(), claims.Tier)
}

func (s *jwtSigner) Verify(token string) (*Claims, error) {
	ac, err := s.manager.Verify(token)
	if err != nil {
		return nil, err
	}
	kind, ok := ParseKind(ac.Kind)
	if !ok {
		return nil, errors.New("unknown principal kind in token")
	}
	claims := &Claims{
		PrincipalID: ac.Subject,
		Kind:        kind,
		Tier:        ac.Tier,
	}
	if ac.ExpiresAt != nil {
		claims.ExpiresAt = ac.ExpiresAt.Time
	}
	return claims, nil
}

package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lockbridge/authcore/password"
)

// memCredentialStore is an in-memory CredentialStore test double.
type memCredentialStore struct {
	mu    sync.Mutex
	byID  map[string]*Credential
	saves int
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{byID: make(map[string]*Credential)}
}

// cloneCredential copies pointer fields too, so engine mutations reach the
// store only through Save.
func cloneCredential(c *Credential) *Credential {
	clone := *c
	if c.Challenge != nil {
		ch := *c.Challenge
		clone.Challenge = &ch
	}
	if c.LockedUntil != nil {
		until := *c.LockedUntil
		clone.LockedUntil = &until
	}
	clone.Salt = append([]byte(nil), c.Salt...)
	clone.TwoFactorSecret = append([]byte(nil), c.TwoFactorSecret...)
	return &clone
}

func (s *memCredentialStore) GetByIdentifier(_ context.Context, kind PrincipalKind, identifier string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.Kind == kind && c.Identifier == identifier {
			return cloneCredential(c), nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (s *memCredentialStore) GetByPrincipalID(_ context.Context, principalID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[principalID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cloneCredential(c), nil
}

func (s *memCredentialStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cred.PrincipalID] = cloneCredential(cred)
	s.saves++
	return nil
}

func TestMemCredentialStoreIsolatesClones(t *testing.T) {
	store := newMemCredentialStore()
	ctx := context.Background()
	until := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, &Credential{
		PrincipalID: "p1",
		Identifier:  "a@example.com",
		Kind:        KindCustomer,
		Challenge:   &Challenge{Token: "tok", ExpiresAt: until},
		LockedUntil: &until,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetByPrincipalID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	got.Challenge.Attempts = 99
	got.LockedUntil = nil

	stored, err := store.GetByPrincipalID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Challenge.Attempts != 0 || stored.LockedUntil == nil {
		t.Fatal("mutation of a returned credential reached the store without Save")
	}
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string // recipient:templateID
}

func (m *recordingMailer) SendAsync(recipient, templateID string, _ map[string]string) {
	m.mu.Lock()
	m.sent = append(m.sent, recipient+":"+templateID)
	m.mu.Unlock()
}

type stubCaptcha struct {
	ok  bool
	err error
}

func (c *stubCaptcha) Verify(context.Context, string, string) (bool, error) {
	return c.ok, c.err
}

type testHarness struct {
	engine *Engine
	store  *memCredentialStore
	mailer *recordingMailer
	mini   *miniredis.Miniredis
	now    time.Time
}

func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.engine.now = func() time.Time { return h.now }
	h.engine.tokens.SetClock(func() time.Time { return h.now })
	h.engine.totp.now = func() time.Time { return h.now }
}

// testConfig keeps argon2 at its validation floor so the suite stays fast.
func testConfig() Config {
	cfg := defaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MaxConcurrentHashes = 4
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Mail.Enabled = true
	return cfg
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemCredentialStore()
	mailer := &recordingMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithMailer(mailer).
		WithCaptchaVerifier(&stubCaptcha{ok: true}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	h := &testHarness{
		engine: engine,
		store:  store,
		mailer: mailer,
		mini:   mr,
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.advance(0)
	return h
}

// seedCredential stores a credential with the given password hashed under the
// engine's parameters.
func (h *testHarness) seedCredential(t *testing.T, kind PrincipalKind, identifier, plaintext string) *Credential {
	t.Helper()
	salt, err := password.GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := h.engine.hasher.Hash(plaintext, salt)
	if err != nil {
		t.Fatal(err)
	}
	cred := &Credential{
		PrincipalID:   "pid-" + identifier,
		Identifier:    identifier,
		Kind:          kind,
		PasswordHash:  hash,
		Salt:          salt,
		Active:        true,
		EmailVerified: true,
		Approved:      true,
	}
	if err := h.store.Save(context.Background(), cred); err != nil {
		t.Fatal(err)
	}
	return cred
}

// enableTwoFactor provisions and confirms a secret for the credential,
// returning the shared secret.
func (h *testHarness) enableTwoFactor(t *testing.T, principalID string) string {
	t.Helper()
	ctx := context.Background()
	prov, err := h.engine.ProvisionTwoFactor(ctx, principalID)
	if err != nil {
		t.Fatal(err)
	}
	code, err := h.engine.totp.CodeAt(prov.Secret, h.now)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.engine.ConfirmTwoFactor(ctx, principalID, code); err != nil {
		t.Fatal(err)
	}
	return prov.Secret
}

func (h *testHarness) codeNow(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.engine.totp.CodeAt(secret, h.now)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

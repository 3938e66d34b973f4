package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func login(t *testing.T, h *testHarness, identifier string) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), KindCustomer, identifier, "hunter2hunter2", "")
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestRefreshRotation(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seedCredential(t, KindCustomer, "alice@example.com", "hunter2hunter2")
	res := login(t, h, "alice@example.com")
	ctx := context.Background()

	pair, err := h.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("pair = %+v", pair)
	}
	if pair.RefreshToken == res.RefreshToken {
		t.Fatal("refresh reissued the same token")
	}

	claims, err := h.engine.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.PrincipalID != "pid-alice@example.com" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	h := newHarness(t, testConfig())

	if _, err := h.engine.Refresh(context.Background(), "bogus"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
	if _, err := h.engine.Refresh(context.Background(), ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty token err = %v, want ErrValidation", err)
	}
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seedCredential(t, KindCustomer, "alice@example.com", "hunter2hunter2")
	res := login(t, h, "alice@example.com")
	ctx := context.Background()

	second, err := h.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}

	// Replaying the consumed token looks like an unknown token to the caller.
	_, reuseErr := h.engine.Refresh(ctx, res.RefreshToken)
	if !errors.Is(reuseErr, ErrTokenInvalid) {
		t.Fatalf("reuse err = %v, want ErrTokenInvalid", reuseErr)
	}
	_, unknownErr := h.engine.Refresh(ctx, "bogus")
	if reuseErr.Error() != unknownErr.Error() {
		t.Fatal("reuse and unknown token must be indistinguishable")
	}

	// But the whole family is gone.
	if _, err := h.engine.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("descendant survived reuse cascade: %v", err)
	}

	snap := h.engine.MetricsSnapshot()
	if snap["authcore_refresh_reuse_detected_total"] == 0 {
		t.Fatal("reuse detection not counted")
	}
	if len(h.mailer.sent) == 0 || h.mailer.sent[0] != "alice@example.com:token-reuse-detected" {
		t.Fatalf("reuse mail = %v", h.mailer.sent)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seedCredential(t, KindCustomer, "alice@example.com", "hunter2hunter2")
	res := login(t, h, "alice@example.com")

	h.advance(31 * 24 * time.Hour)
	fresh := login(t, h, "alice@example.com")

	if _, err := h.engine.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired err = %v, want ErrTokenExpired", err)
	}
	// Expiry is not a security event; the newer session survives.
	if _, err := h.engine.Refresh(context.Background(), fresh.RefreshToken); err != nil {
		t.Fatalf("sibling session revoked on expiry: %v", err)
	}
}

func TestRefreshDeactivatedPrincipal(t *testing.T) {
	h := newHarness(t, testConfig())
	cred := h.seedCredential(t, KindCustomer, "alice@example.com", "hunter2hunter2")
	res := login(t, h, "alice@example.com")
	ctx := context.Background()

	cred.Active = false
	h.store.Save(ctx, cred)

	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("deactivated refresh err = %v", err)
	}
	// The rotation's child must not have survived.
	if _, err := h.engine.tokens.RevokeAll(ctx, cred.PrincipalID, uint8(KindCustomer)); err != nil {
		t.Fatal(err)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seedCredential(t, KindCustomer, "alice@example.com", "hunter2hunter2")
	res := login(t, h, "alice@example.com")
	ctx := context.Background()

	if err := h.engine.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatal(err)
	}
	// Idempotent.
	if err := h.engine.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := h.engine.Logout(ctx, "bogus"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("unknown logout err = %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t, testConfig())
	cred := h.seedCredential(t, KindCustomer, "alice@example.com", "hunter2hunter2")
	ctx := context.Background()

	var sessions []*LoginResult
	for i := 0; i < 3; i++ {
		sessions = append(sessions, login(t, h, "alice@example.com"))
	}

	revoked, err := h.engine.LogoutAll(ctx, cred.PrincipalID, KindCustomer)
	if err != nil {
		t.Fatal(err)
	}
	if revoked != 3 {
		t.Fatalf("revoked = %d, want 3", revoked)
	}
	for _, s := range sessions {
		if _, err := h.engine.Refresh(ctx, s.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("session survived logout-all: %v", err)
		}
	}
}

func TestPurgeRefreshTokens(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seedCredential(t, KindCustomer, "alice@example.com", "hunter2hunter2")
	res := login(t, h, "alice@example.com")
	ctx := context.Background()

	if err := h.engine.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatal(err)
	}

	// Revoked rows are retained until expired past the retention window.
	deleted, err := h.engine.PurgeRefreshTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Fatalf("premature purge deleted %d rows", deleted)
	}

	h.advance(38 * 24 * time.Hour)
	deleted, err = h.engine.PurgeRefreshTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	snap := h.engine.MetricsSnapshot()
	if snap["authcore_tokens_purged_total"] != 1 {
		t.Fatalf("purge counter = %d", snap["authcore_tokens_purged_total"])
	}
}

package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"
)

func hsConfig() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore-test",
	}
}

func TestSignVerifyHS256(t *testing.T) {
	m, err := NewManager(hsConfig())
	if err != nil {
		t.Fatal(err)
	}

	token, err := m.Sign("p1", "admin", "tier-2")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "p1" || claims.Kind != "admin" || claims.Tier != "tier-2" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		t.Fatal("missing or past expiry")
	}
}

func TestSignVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatal(err)
	}

	token, err := m.Sign("p1", "customer", "")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Kind != "customer" || claims.Tier != "" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	m, err := NewManager(hsConfig())
	if err != nil {
		t.Fatal(err)
	}
	token, err := m.Sign("p1", "customer", "")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := m.Verify(tampered); err == nil {
		t.Fatal("tampered signature accepted")
	}
	if _, err := m.Verify("not-a-token"); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	signer, err := NewManager(hsConfig())
	if err != nil {
		t.Fatal(err)
	}
	cfg := hsConfig()
	cfg.Issuer = "someone-else"
	verifier, err := NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}

	token, err := signer.Sign("p1", "customer", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("issuer mismatch accepted")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}); err == nil {
		t.Fatal("hs256 without key accepted")
	}
	if _, err := NewManager(Config{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")}); err == nil {
		t.Fatal("zero TTL accepted")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")}); err == nil {
		t.Fatal("unsupported method accepted")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: []byte("short")}); err == nil {
		t.Fatal("bad ed25519 public key accepted")
	}
}

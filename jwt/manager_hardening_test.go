package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestHandleRoundTripHS256(t *testing.T) {
	m, err := NewManager(Config{TTL: time.Minute, PrivateKey: testSecret, Issuer: "onboard"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, err := m.CreateHandle("sid-1")
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}
	sid, err := m.ParseHandle(tok)
	if err != nil {
		t.Fatalf("parse handle: %v", err)
	}
	if sid != "sid-1" {
		t.Fatalf("expected sid-1, got %q", sid)
	}
}

func TestHandleRoundTripEd25519(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, err := m.CreateHandle("sid-2")
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}
	if sid, err := m.ParseHandle(tok); err != nil || sid != "sid-2" {
		t.Fatalf("expected sid-2, got %q err=%v", sid, err)
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewManager(Config{TTL: time.Minute, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 secret to be rejected")
	}
}

func TestParseHandleRejectsTamperedSignature(t *testing.T) {
	m, err := NewManager(Config{TTL: time.Minute, PrivateKey: testSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, err := m.CreateHandle("sid-1")
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}

	parts := strings.Split(tok, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := m.ParseHandle(tampered); err == nil {
		t.Fatal("expected tampered handle to be rejected")
	}
}

func TestParseHandleRejectsWrongAlgorithm(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := HandleClaims{SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseHandle(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseHandleRejectsExpired(t *testing.T) {
	m, err := NewManager(Config{TTL: time.Minute, PrivateKey: testSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	claims := HandleClaims{SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseHandle(token); err == nil {
		t.Fatal("expected expired handle to be rejected")
	}
}

func TestParseHandleRejectsMissingSID(t *testing.T) {
	m, err := NewManager(Config{TTL: time.Minute, PrivateKey: testSecret})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	claims := HandleClaims{RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseHandle(token); err == nil {
		t.Fatal("expected handle without sid to be rejected")
	}
}

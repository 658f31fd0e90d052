package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const cookieKeyInfo = "onboard session cookie v1"

const minCookieSecretSize = 32

// CookieStore seals the encoded session into the cookie with
// XChaCha20-Poly1305. The cookie name is bound as additional data so a
// value cannot be replayed under another cookie.
type CookieStore struct {
	aead cipher.AEAD
	opts Options
}

// NewCookieStore derives the sealing key from secret with HKDF-SHA256.
func NewCookieStore(secret []byte, opts Options) (*CookieStore, error) {
	if len(secret) < minCookieSecretSize {
		return nil, errors.New("cookie store secret must be at least 32 bytes")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &CookieStore{aead: aead, opts: opts.withDefaults()}, nil
}

// Load opens the cookie. Anything that fails to open or decode is an empty
// Session.
func (s *CookieStore) Load(r *http.Request) (Session, error) {
	raw := s.opts.read(r)
	if raw == "" {
		return Session{}, nil
	}
	sealed, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return Session{}, nil
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(s.opts.CookieName))
	if err != nil {
		return Session{}, nil
	}
	sess, err := Decode(plain)
	if err != nil {
		return Session{}, nil
	}
	return *sess, nil
}

// Save seals the session into the cookie. It returns [ErrSessionTooLarge]
// without writing anything when the value exceeds [MaxCookieSize].
func (s *CookieStore) Save(w http.ResponseWriter, _ *http.Request, sess *Session) error {
	plain, err := Encode(sess)
	if err != nil {
		return err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, plain, []byte(s.opts.CookieName))
	value := base64.RawURLEncoding.EncodeToString(sealed)
	if len(value) > MaxCookieSize {
		return ErrSessionTooLarge
	}

	http.SetCookie(w, s.opts.cookie(value))
	return nil
}

// Destroy expires the cookie.
func (s *CookieStore) Destroy(w http.ResponseWriter, _ *http.Request) error {
	http.SetCookie(w, s.opts.expiredCookie())
	return nil
}

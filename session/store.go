package session

import (
	"errors"
	"net/http"
	"time"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached.
// Callers must fail closed.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrSessionTooLarge is returned by [CookieStore.Save] when the sealed value
// would not fit in a browser cookie.
var ErrSessionTooLarge = errors.New("session too large for cookie")

const (
	// DefaultCookieName is the cookie used when Options.CookieName is empty.
	DefaultCookieName = "onboard_session"
	// DefaultTTL is the session lifetime used when Options.TTL is zero.
	DefaultTTL = 7 * 24 * time.Hour
	// MaxCookieSize bounds the encoded cookie value.
	MaxCookieSize = 4000
)

// Store persists one [Session] per browser client.
//
// Load never fails because of a bad or missing cookie; it returns an empty
// Session instead. Save replaces the whole stored value (last write wins).
type Store interface {
	Load(r *http.Request) (Session, error)
	Save(w http.ResponseWriter, r *http.Request, s *Session) error
	Destroy(w http.ResponseWriter, r *http.Request) error
}

// HandleSigner signs the opaque session handle placed in the cookie by
// [RedisStore]. *jwt.Manager satisfies it.
type HandleSigner interface {
	CreateHandle(sid string) (string, error)
	ParseHandle(token string) (string, error)
}

// Options controls cookie attributes shared by all stores.
type Options struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
	Domain     string
	Path       string
}

func (o Options) withDefaults() Options {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Path == "" {
		o.Path = "/"
	}
	return o
}

func (o Options) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     o.CookieName,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   int(o.TTL / time.Second),
		Expires:  time.Now().Add(o.TTL),
		Secure:   o.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o Options) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     o.CookieName,
		Value:    "",
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   o.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o Options) read(r *http.Request) string {
	c, err := r.Cookie(o.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

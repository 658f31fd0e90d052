package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wastehub/onboard/jwt"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestRedisStore(t *testing.T, rdb *redis.Client) *RedisStore {
	t.Helper()

	signer, err := jwt.NewManager(jwt.Config{TTL: time.Hour, PrivateKey: testSecret})
	if err != nil {
		t.Fatalf("jwt.NewManager failed: %v", err)
	}
	return NewRedisStore(rdb, signer, "", Options{})
}

func newTestCookieStore(t *testing.T) *CookieStore {
	t.Helper()

	s, err := NewCookieStore(testSecret, Options{})
	if err != nil {
		t.Fatalf("NewCookieStore failed: %v", err)
	}
	return s
}

func sampleSession() Session {
	ts := time.Unix(1_700_000_000, 0)
	return Session{
		Role:   RoleFacilityManager,
		Status: StatusUncomplete,
		Tokens: Tokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			SessionID:    "psid-1",
		},
		DeviceID:  "device-0001",
		Phone:     "6281234567890",
		NextStep:  "complete_profile",
		Login:     &LoginContext{Role: RoleFacilityManager, Phase: LoginOTPVerified, PendingPhone: "6281234567890", StartedAt: ts, PendingTokens: &Tokens{AccessToken: "pending"}},
		Pending:   &Challenge{Phone: "6281234567890", DeviceID: "device-0001", SentAt: ts},
		CreatedAt: ts,
		UpdatedAt: ts.Add(time.Minute),
	}
}

func assertSameSession(t *testing.T, want, got Session) {
	t.Helper()

	if got.Role != want.Role || got.Status != want.Status || got.Tokens != want.Tokens {
		t.Fatalf("identity mismatch: want %+v got %+v", want, got)
	}
	if got.DeviceID != want.DeviceID || got.Phone != want.Phone || got.Email != want.Email || got.NextStep != want.NextStep {
		t.Fatalf("contact mismatch: want %+v got %+v", want, got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("timestamps mismatch: want %v/%v got %v/%v", want.CreatedAt, want.UpdatedAt, got.CreatedAt, got.UpdatedAt)
	}
	if (got.Pending == nil) != (want.Pending == nil) {
		t.Fatalf("pending presence mismatch")
	}
	if want.Pending != nil {
		if got.Pending.Phone != want.Pending.Phone || got.Pending.DeviceID != want.Pending.DeviceID || !got.Pending.SentAt.Equal(want.Pending.SentAt) {
			t.Fatalf("pending mismatch: want %+v got %+v", want.Pending, got.Pending)
		}
	}
	if (got.Login == nil) != (want.Login == nil) {
		t.Fatalf("login presence mismatch")
	}
	if want.Login != nil {
		if got.Login.Role != want.Login.Role || got.Login.Phase != want.Login.Phase || got.Login.PendingPhone != want.Login.PendingPhone {
			t.Fatalf("login mismatch: want %+v got %+v", want.Login, got.Login)
		}
		if (got.Login.PendingTokens == nil) != (want.Login.PendingTokens == nil) {
			t.Fatalf("pending tokens presence mismatch")
		}
		if want.Login.PendingTokens != nil && *got.Login.PendingTokens != *want.Login.PendingTokens {
			t.Fatalf("pending tokens mismatch")
		}
	}
}

// roundTrip saves through one response and loads through a request that
// replays the returned cookies.
func roundTrip(t *testing.T, store Store, s Session) (Session, []*http.Cookie) {
	t.Helper()

	rec := httptest.NewRecorder()
	if err := store.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), &s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cookies := rec.Result().Cookies()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	got, err := store.Load(req)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return got, cookies
}

func TestStoresRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	stores := map[string]Store{
		"redis":  newTestRedisStore(t, rdb),
		"cookie": newTestCookieStore(t),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			want := sampleSession()
			got, cookies := roundTrip(t, store, want)
			assertSameSession(t, want, got)

			if len(cookies) != 1 {
				t.Fatalf("expected one cookie, got %d", len(cookies))
			}
			c := cookies[0]
			if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
				t.Fatalf("unexpected cookie attributes: %+v", c)
			}
			for _, secret := range []string{"access-1", "refresh-1", "6281234567890"} {
				if strings.Contains(c.Value, secret) {
					t.Fatalf("cookie value leaks %q", secret)
				}
			}
			if _, err := Decode([]byte(c.Value)); err == nil {
				t.Fatal("cookie value must not decode as a session")
			}
		})
	}
}

func TestStoresTamperedCookieYieldsEmptySession(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	stores := map[string]Store{
		"redis":  newTestRedisStore(t, rdb),
		"cookie": newTestCookieStore(t),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			s := sampleSession()
			rec := httptest.NewRecorder()
			if err := store.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), &s); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			c := rec.Result().Cookies()[0]
			b := []byte(c.Value)
			last := len(b) - 2
			if b[last] == 'A' {
				b[last] = 'B'
			} else {
				b[last] = 'A'
			}
			c.Value = string(b)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(c)
			got, err := store.Load(req)
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if !got.IsZero() {
				t.Fatalf("expected empty session, got %+v", got)
			}
		})
	}
}

func TestStoresMissingCookieYieldsEmptySession(t *testing.T) {
	store := newTestCookieStore(t)
	got, err := store.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || !got.IsZero() {
		t.Fatalf("expected empty session, got %+v err=%v", got, err)
	}
}

func TestRedisStoreDestroyRemovesKey(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	store := newTestRedisStore(t, rdb)

	_, cookies := roundTrip(t, store, sampleSession())
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one stored key, got %v", mr.Keys())
	}

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	if err := store.Destroy(rec, req); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys after destroy, got %v", mr.Keys())
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", c)
	}

	// Idempotent.
	if err := store.Destroy(httptest.NewRecorder(), req); err != nil {
		t.Fatalf("second Destroy failed: %v", err)
	}
}

func TestRedisStoreKeepsHandleAcrossSaves(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	store := newTestRedisStore(t, rdb)

	first, _ := roundTrip(t, store, sampleSession())
	if first.Handle == "" {
		t.Fatal("expected handle after load")
	}
	first.Status = StatusAwaitingApproval
	second, _ := roundTrip(t, store, first)
	if second.Handle != first.Handle {
		t.Fatalf("handle changed: %q -> %q", first.Handle, second.Handle)
	}
	if second.Status != StatusAwaitingApproval {
		t.Fatalf("expected overwritten status, got %v", second.Status)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one key, got %v", mr.Keys())
	}
}

func TestRedisStoreNewHandleDropsOldKey(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	store := newTestRedisStore(t, rdb)

	first, cookies := roundTrip(t, store, sampleSession())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(cookies[0])

	next := first
	next.Handle = ""
	rec := httptest.NewRecorder()
	if err := store.Save(rec, req, &next); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if next.Handle == "" || next.Handle == first.Handle {
		t.Fatalf("expected a new handle, got %q (was %q)", next.Handle, first.Handle)
	}
	if len(mr.Keys()) != 1 || !mr.Exists(DefaultRedisPrefix+":"+next.Handle) {
		t.Fatalf("expected only the new key, got %v", mr.Keys())
	}

	old, err := store.Load(req)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !old.IsZero() {
		t.Fatalf("expected the old cookie to load nothing, got %+v", old)
	}
}

func TestRedisStoreUnavailableFailsClosed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := newTestRedisStore(t, rdb)

	_, cookies := roundTrip(t, store, sampleSession())
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	if _, err := store.Load(req); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRedisStoreExpiredKeyYieldsEmptySession(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	store := newTestRedisStore(t, rdb)

	_, cookies := roundTrip(t, store, sampleSession())
	mr.FastForward(DefaultTTL + time.Second)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	got, err := store.Load(req)
	if err != nil || !got.IsZero() {
		t.Fatalf("expected empty session, got %+v err=%v", got, err)
	}
}

func TestCookieStoreRejectsOversizedSession(t *testing.T) {
	store := newTestCookieStore(t)
	s := sampleSession()
	s.Tokens.AccessToken = strings.Repeat("x", MaxCookieSize)

	rec := httptest.NewRecorder()
	err := store.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), &s)
	if !errors.Is(err, ErrSessionTooLarge) {
		t.Fatalf("expected ErrSessionTooLarge, got %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("oversized session must not set a cookie")
	}
}

func TestCookieStoreBindsCookieName(t *testing.T) {
	a, err := NewCookieStore(testSecret, Options{CookieName: "a"})
	if err != nil {
		t.Fatalf("NewCookieStore failed: %v", err)
	}
	b, err := NewCookieStore(testSecret, Options{CookieName: "b"})
	if err != nil {
		t.Fatalf("NewCookieStore failed: %v", err)
	}

	s := sampleSession()
	rec := httptest.NewRecorder()
	if err := a.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), &s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	c := rec.Result().Cookies()[0]
	c.Name = "b"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	got, err := b.Load(req)
	if err != nil || !got.IsZero() {
		t.Fatalf("expected replayed cookie to be rejected, got %+v err=%v", got, err)
	}
}

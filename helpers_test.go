package onboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
)

const (
	testPhone = "6281234567890"
	testOTP   = "1234"
	testPIN   = "135790"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func tokens(n string) session.Tokens {
	return session.Tokens{
		AccessToken:  "access-" + n,
		RefreshToken: "refresh-" + n,
		TokenType:    "Bearer",
		SessionID:    "sid-" + n,
	}
}

func unauthorized(op string) error {
	return &idp.Error{Op: op, Kind: idp.KindUnauthorized, Status: http.StatusUnauthorized}
}

// fakeProvider counts every call. Each hook falls back to a happy-path
// answer when nil.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	last  map[string]string

	requestOTP    func(idp.OTPRequest) (idp.OTPReceipt, error)
	verifyOTP     func(idp.OTPVerification) (idp.TokenBundle, error)
	createProfile func(token string, p idp.CompanyProfile) (idp.TokenBundle, error)
	status        func(token string) (idp.StatusReport, error)
	createPIN     func(token, pin string) (idp.TokenBundle, error)
	verifyPIN     func(token, pin string) (idp.TokenBundle, error)
	refresh       func(refreshToken string) (idp.TokenBundle, error)
	logout        func(token string) error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: map[string]int{}, last: map[string]string{}}
}

func (p *fakeProvider) record(op, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	p.last[op] = token
}

func (p *fakeProvider) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProvider) lastToken(op string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[op]
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *fakeProvider) RequestOTP(_ context.Context, req idp.OTPRequest) (idp.OTPReceipt, error) {
	p.record("request_otp", "")
	if p.requestOTP != nil {
		return p.requestOTP(req)
	}
	return idp.OTPReceipt{}, nil
}

func (p *fakeProvider) VerifyOTP(_ context.Context, req idp.OTPVerification) (idp.TokenBundle, error) {
	p.record("verify_otp", "")
	if p.verifyOTP != nil {
		return p.verifyOTP(req)
	}
	if req.OTP != testOTP {
		return idp.TokenBundle{}, unauthorized("verify_otp")
	}
	return idp.TokenBundle{Tokens: tokens("1"), Status: session.StatusUncomplete, NextStep: "complete_profile"}, nil
}

func (p *fakeProvider) CreateCompanyProfile(_ context.Context, token string, profile idp.CompanyProfile) (idp.TokenBundle, error) {
	p.record("create_company_profile", token)
	if p.createProfile != nil {
		return p.createProfile(token, profile)
	}
	return idp.TokenBundle{Tokens: tokens("2"), Status: session.StatusAwaitingApproval}, nil
}

func (p *fakeProvider) RegistrationStatus(_ context.Context, token string) (idp.StatusReport, error) {
	p.record("registration_status", token)
	if p.status != nil {
		return p.status(token)
	}
	return idp.StatusReport{Status: session.StatusAwaitingApproval}, nil
}

func (p *fakeProvider) CreatePIN(_ context.Context, token, pin string) (idp.TokenBundle, error) {
	p.record("create_pin", token)
	if p.createPIN != nil {
		return p.createPIN(token, pin)
	}
	return idp.TokenBundle{Tokens: tokens("3"), Status: session.StatusComplete}, nil
}

func (p *fakeProvider) VerifyPIN(_ context.Context, token, pin string) (idp.TokenBundle, error) {
	p.record("verify_pin", token)
	if p.verifyPIN != nil {
		return p.verifyPIN(token, pin)
	}
	if pin != testPIN {
		return idp.TokenBundle{}, unauthorized("verify_pin")
	}
	return idp.TokenBundle{Tokens: tokens("4"), Status: session.StatusComplete}, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (idp.TokenBundle, error) {
	p.record("refresh", refreshToken)
	if p.refresh != nil {
		return p.refresh(refreshToken)
	}
	return idp.TokenBundle{Tokens: tokens("r")}, nil
}

func (p *fakeProvider) Logout(_ context.Context, token string) error {
	p.record("logout", token)
	if p.logout != nil {
		return p.logout(token)
	}
	return nil
}

type testEngine struct {
	*Engine
	provider *fakeProvider
	clock    *testClock
	mr       *miniredis.Miniredis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.Secret = testSecret
	cfg.Session.CookieSecure = false
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEngine(t *testing.T, opts ...func(*Builder)) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	p := newFakeProvider()
	clock := newTestClock()

	b := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithProvider(p).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, provider: p, clock: clock, mr: mr}
}

// registered walks a fresh session through registration OTP verification.
func (te *testEngine) registered(t *testing.T) session.Session {
	t.Helper()
	ctx := context.Background()

	res, err := te.RequestOTP(ctx, session.Session{}, RequestOTPInput{Phone: testPhone})
	if err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	res, err = te.VerifyOTP(ctx, res.Session, VerifyOTPInput{OTP: testOTP})
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	return res.Session
}

func (te *testEngine) atStatus(t *testing.T, status session.RegistrationStatus) session.Session {
	t.Helper()
	s := te.registered(t)
	s.Status = status
	return s
}

// commit saves s through the engine and returns a request carrying the
// resulting cookie.
func commit(t *testing.T, e *Engine, r *http.Request, res StepResult) *http.Request {
	t.Helper()
	w := httptest.NewRecorder()
	if err := e.Commit(w, r, res); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		next.AddCookie(c)
	}
	return next
}

func validProfile() CompanyProfile {
	return CompanyProfile{
		CompanyName:  "PT Bersih Lestari",
		CompanyType:  "pt",
		Address:      "Jl. Merdeka 10",
		Province:     "Jawa Barat",
		City:         "Bandung",
		PostalCode:   "40111",
		CompanyPhone: "0227654321",
		CompanyEmail: "Info@Bersih.co.id",
		Website:      "https://bersih.co.id",
		FoundedDate:  "2015-06-01",
		TaxID:        "01.234.567.8-901.000",
		Description:  "Waste bank operator",
	}
}

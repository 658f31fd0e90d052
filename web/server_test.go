package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
)

const (
	testPhone = "6281234567890"
	testOTP   = "1234"
	testPIN   = "246810"
)

// scriptedProvider answers like a provider holding one account whose
// registration status the test controls.
type scriptedProvider struct {
	mu           sync.Mutex
	status       session.RegistrationStatus
	expired      bool
	unreachable  bool
	statusCalls  int
	refreshCalls int
	// staleToken is answered with 401; profileFields rejects the profile.
	staleToken    string
	profileFields map[string]string
	spent         map[string]bool
}

func (p *scriptedProvider) setStatus(s session.RegistrationStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

func (p *scriptedProvider) bundle(n string) idp.TokenBundle {
	return idp.TokenBundle{
		Tokens: session.Tokens{AccessToken: "access-" + n, RefreshToken: "refresh-" + n, TokenType: "Bearer", SessionID: "sid-" + n},
		Status: p.status,
	}
}

func (p *scriptedProvider) RequestOTP(context.Context, idp.OTPRequest) (idp.OTPReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unreachable {
		return idp.OTPReceipt{}, &idp.Error{Op: "request_otp", Kind: idp.KindTransport}
	}
	return idp.OTPReceipt{}, nil
}

func (p *scriptedProvider) VerifyOTP(_ context.Context, req idp.OTPVerification) (idp.TokenBundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.OTP != testOTP {
		return idp.TokenBundle{}, &idp.Error{Op: "verify_otp", Kind: idp.KindUnauthorized, Status: http.StatusUnauthorized}
	}
	return p.bundle("1"), nil
}

func (p *scriptedProvider) CreateCompanyProfile(_ context.Context, token string, _ idp.CompanyProfile) (idp.TokenBundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token == p.staleToken {
		return idp.TokenBundle{}, &idp.Error{Op: "create_company_profile", Kind: idp.KindUnauthorized, Status: http.StatusUnauthorized}
	}
	if p.profileFields != nil {
		return idp.TokenBundle{}, &idp.Error{
			Op:      "create_company_profile",
			Kind:    idp.KindValidation,
			Status:  http.StatusUnprocessableEntity,
			Message: "tax id already registered",
			Fields:  p.profileFields,
		}
	}
	p.status = session.StatusAwaitingApproval
	return p.bundle("2"), nil
}

func (p *scriptedProvider) RegistrationStatus(context.Context, string) (idp.StatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.expired {
		return idp.StatusReport{}, &idp.Error{Op: "registration_status", Kind: idp.KindUnauthorized, Status: http.StatusUnauthorized}
	}
	return idp.StatusReport{Status: p.status}, nil
}

func (p *scriptedProvider) CreatePIN(context.Context, string, string) (idp.TokenBundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = session.StatusComplete
	return p.bundle("3"), nil
}

func (p *scriptedProvider) VerifyPIN(_ context.Context, _ string, pin string) (idp.TokenBundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pin != testPIN {
		return idp.TokenBundle{}, &idp.Error{Op: "verify_pin", Kind: idp.KindUnauthorized, Status: http.StatusUnauthorized}
	}
	return p.bundle("4"), nil
}

func (p *scriptedProvider) Refresh(_ context.Context, refreshToken string) (idp.TokenBundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	if p.spent == nil {
		p.spent = map[string]bool{}
	}
	if p.expired || p.spent[refreshToken] {
		return idp.TokenBundle{}, &idp.Error{Op: "refresh", Kind: idp.KindUnauthorized, Status: http.StatusUnauthorized}
	}
	p.spent[refreshToken] = true
	return p.bundle("r"), nil
}

func (p *scriptedProvider) Logout(context.Context, string) error { return nil }

type harness struct {
	srv      *Server
	provider *scriptedProvider
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := onboard.DefaultConfig()
	cfg.Session.Secret = []byte("0123456789abcdef0123456789abcdef")
	p := &scriptedProvider{status: session.StatusUncomplete}
	engine, err := onboard.New().WithConfig(cfg).WithRedis(rdb).WithProvider(p).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &harness{srv: NewServer(engine, nil), provider: p, mr: mr}
}

// browser keeps cookies between requests the way a user agent would.
type browser struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func (h *harness) browser(t *testing.T) *browser {
	return &browser{t: t, h: h.srv, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	b.t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	for _, c := range b.cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	b.h.ServeHTTP(w, r)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return w
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(http.MethodGet, path, "", "")
}

func (b *browser) form(path string, values url.Values) *httptest.ResponseRecorder {
	return b.do(http.MethodPost, path, "application/x-www-form-urlencoded", values.Encode())
}

func (b *browser) json(path string, body any) *httptest.ResponseRecorder {
	b.t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		b.t.Fatalf("marshal: %v", err)
	}
	return b.do(http.MethodPost, path, "application/json", string(data))
}

func expectRedirect(t *testing.T, w *httptest.ResponseRecorder, path string) {
	t.Helper()
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 to %s, got %d: %s", path, w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != path {
		t.Fatalf("expected Location %s, got %s", path, loc)
	}
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) View {
	t.Helper()
	var v View
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

func profileForm() map[string]string {
	return map[string]string{
		"company_name":  "PT Bersih Lestari",
		"company_type":  "pt",
		"address":       "Jl. Merdeka 10",
		"province":      "Jawa Barat",
		"city":          "Bandung",
		"postal_code":   "40111",
		"company_phone": "0227654321",
		"company_email": "info@bersih.co.id",
		"website":       "https://bersih.co.id",
		"founded_date":  "2015-06-01",
		"tax_id":        "012345678901000",
		"description":   "Waste bank operator",
	}
}

func TestRegistrationThroughHTTP(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	expectRedirect(t, b.form("/register/request-otp", url.Values{"phone": {testPhone}}), "/register/verify-otp")

	w := b.get("/register/verify-otp")
	if w.Code != http.StatusOK {
		t.Fatalf("expected verify view, got %d", w.Code)
	}
	v := decodeView(t, w)
	if v.Contact != onboard.MaskPhone(testPhone) || v.OTP == nil || v.OTP.ExpiresIn <= 0 || v.OTP.ResendIn <= 0 {
		t.Fatalf("unexpected verify view %+v", v)
	}

	w = b.form("/register/verify-otp", url.Values{"otp": {"9999"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong code, got %d", w.Code)
	}
	if v := decodeView(t, w); v.Error == nil || v.Error.Kind != "unauthorized" || v.Position != "facility_manager/otp_pending" {
		t.Fatalf("unexpected error view %+v", v)
	}

	expectRedirect(t, b.form("/register/verify-otp/resend", nil), "/register/verify-otp")
	expectRedirect(t, b.form("/register/verify-otp", url.Values{"otp": {testOTP}}), "/register/complete-profile")

	w = b.json("/register/complete-profile", map[string]string{"company_name": "PT Bersih"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for incomplete profile, got %d", w.Code)
	}
	if v := decodeView(t, w); v.Error == nil || len(v.Error.Fields) != 11 {
		t.Fatalf("expected 11 field errors, got %+v", v.Error)
	}

	expectRedirect(t, b.json("/register/complete-profile", profileForm()), "/register/await-approval")

	if w := b.get("/register/await-approval"); w.Code != http.StatusOK {
		t.Fatalf("expected await view while pending, got %d", w.Code)
	}

	h.provider.setStatus(session.StatusApproved)
	expectRedirect(t, b.get("/register/await-approval"), "/register/create-pin")

	w = b.form("/register/create-pin", url.Values{"pin": {testPIN}, "pin_confirmation": {"111111"}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for mismatched PIN, got %d", w.Code)
	}
	expectRedirect(t, b.form("/register/create-pin", url.Values{"pin": {testPIN}, "pin_confirmation": {testPIN}}), "/pengelola/dashboard")

	w = b.get("/pengelola/dashboard")
	if w.Code != http.StatusOK {
		t.Fatalf("expected dashboard, got %d", w.Code)
	}
	var d DashboardView
	if err := json.NewDecoder(w.Body).Decode(&d); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if d.Role != "facility_manager" || d.Contact != testPhone || d.Status != "complete" {
		t.Fatalf("unexpected dashboard %+v", d)
	}
	if b.get("/pengelola/reports").Code != http.StatusOK {
		t.Fatal("expected dashboard subtree to be reachable")
	}

	expectRedirect(t, b.form("/logout", nil), "/login")
	expectRedirect(t, b.get("/pengelola/dashboard"), "/login")
}

func TestLoginThroughHTTPRequiresPIN(t *testing.T) {
	h := newHarness(t)
	h.provider.setStatus(session.StatusComplete)
	b := h.browser(t)

	expectRedirect(t, b.form("/login", url.Values{"phone": {"081234567890"}}), "/login/verify-otp")
	expectRedirect(t, b.form("/login/verify-otp", url.Values{"otp": {testOTP}}), "/login/verify-pin")
	expectRedirect(t, b.get("/pengelola/dashboard"), "/login/verify-pin")

	if w := b.form("/login/verify-pin", url.Values{"pin": {"000000"}}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong PIN, got %d", w.Code)
	}
	expectRedirect(t, b.form("/login/verify-pin", url.Values{"pin": {testPIN}}), "/pengelola/dashboard")
	if w := b.get("/pengelola/dashboard"); w.Code != http.StatusOK {
		t.Fatalf("expected dashboard, got %d", w.Code)
	}
	expectRedirect(t, b.get("/login"), "/pengelola/dashboard")
}

func TestAdministratorCannotReachFacilityManagerPages(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	expectRedirect(t, b.form("/admin/login", url.Values{"email": {"ops@wastehub.id"}}), "/admin/login/verify-otp")
	expectRedirect(t, b.form("/admin/login/verify-otp", url.Values{"otp": {testOTP}}), "/admin/dashboard")

	expectRedirect(t, b.get("/pengelola/dashboard"), "/admin/dashboard")
	expectRedirect(t, b.get("/register/complete-profile"), "/admin/dashboard")
	if w := b.get("/admin/dashboard"); w.Code != http.StatusOK {
		t.Fatalf("expected admin dashboard, got %d", w.Code)
	}
}

func TestWrongRouteNavigationRedirects(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	for _, path := range []string{"/pengelola/dashboard", "/register/create-pin", "/login/verify-pin", "/admin/dashboard", "/"} {
		expectRedirect(t, b.get(path), "/login")
	}

	expectRedirect(t, b.form("/register/request-otp", url.Values{"phone": {testPhone}}), "/register/verify-otp")
	for _, path := range []string{"/login", "/register/request-otp", "/register/complete-profile", "/pengelola/dashboard", "/"} {
		expectRedirect(t, b.get(path), "/register/verify-otp")
	}
	expectRedirect(t, b.form("/register/create-pin", url.Values{"pin": {testPIN}, "pin_confirmation": {testPIN}}), "/register/verify-otp")
}

func TestExpiredProviderSessionSignsOut(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	expectRedirect(t, b.form("/register/request-otp", url.Values{"phone": {testPhone}}), "/register/verify-otp")
	expectRedirect(t, b.form("/register/verify-otp", url.Values{"otp": {testOTP}}), "/register/complete-profile")
	expectRedirect(t, b.json("/register/complete-profile", profileForm()), "/register/await-approval")

	h.provider.mu.Lock()
	h.provider.expired = true
	h.provider.mu.Unlock()

	expectRedirect(t, b.get("/register/await-approval"), "/login")
	if h.provider.refreshCalls != 1 {
		t.Fatalf("expected one refresh attempt, got %d", h.provider.refreshCalls)
	}
	if len(h.mr.Keys()) != 0 {
		t.Fatalf("expected session destroyed, got keys %v", h.mr.Keys())
	}
	expectRedirect(t, b.get("/register/await-approval"), "/login")
}

func TestProviderFieldErrorAfterRefreshKeepsSession(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	expectRedirect(t, b.form("/register/request-otp", url.Values{"phone": {testPhone}}), "/register/verify-otp")
	expectRedirect(t, b.form("/register/verify-otp", url.Values{"otp": {testOTP}}), "/register/complete-profile")

	h.provider.mu.Lock()
	h.provider.staleToken = "access-1"
	h.provider.profileFields = map[string]string{"tax_id": "already registered"}
	h.provider.mu.Unlock()

	w := b.json("/register/complete-profile", profileForm())
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); v.Error == nil || v.Error.Fields["tax_id"] == "" {
		t.Fatalf("expected provider field error, got %+v", v.Error)
	}

	h.provider.mu.Lock()
	h.provider.profileFields = nil
	h.provider.mu.Unlock()

	expectRedirect(t, b.json("/register/complete-profile", profileForm()), "/register/await-approval")
	if h.provider.refreshCalls != 1 {
		t.Fatalf("expected one refresh, got %d", h.provider.refreshCalls)
	}
}

func TestProviderOutageAnswersBadGateway(t *testing.T) {
	h := newHarness(t)
	h.provider.unreachable = true
	b := h.browser(t)

	w := b.form("/register/request-otp", url.Values{"phone": {testPhone}})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	v := decodeView(t, w)
	if v.Error == nil || v.Error.Kind != "transport" || v.Position != "none/unauthenticated" {
		t.Fatalf("unexpected view %+v", v)
	}
	if len(h.mr.Keys()) != 0 {
		t.Fatal("a failed step must not save a session")
	}
}

func TestMalformedBodyIsRejected(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	w := b.do(http.MethodPost, "/register/request-otp", "application/json", "{not json")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestStoreOutageAnswersServiceUnavailable(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)
	expectRedirect(t, b.form("/register/request-otp", url.Values{"phone": {testPhone}}), "/register/verify-otp")

	h.mr.Close()
	if w := b.get("/register/verify-otp"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w := b.form("/logout", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on logout, got %d", w.Code)
	}
}

package onboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
)

func TestCommitAndLoadRoundTrip(t *testing.T) {
	te := newTestEngine(t)
	s := te.registered(t)

	r := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), StepResult{Session: s})
	loaded, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.Tokens != s.Tokens || loaded.Status != s.Status || loaded.Phone != s.Phone {
		t.Fatalf("expected round trip, got %+v", loaded)
	}
	if loaded.Handle == "" {
		t.Fatal("expected store handle to be assigned")
	}
}

func TestLoadSessionDropsExpiredLoginContext(t *testing.T) {
	te := newTestEngine(t)
	res, err := te.LoginRequestOTP(context.Background(), session.Session{}, RequestOTPInput{Phone: testPhone})
	if err != nil {
		t.Fatalf("LoginRequestOTP failed: %v", err)
	}
	r := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), res)

	te.clock.Advance(11 * time.Minute)

	loaded, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.Login != nil {
		t.Fatal("expected expired login context to be dropped")
	}
	if flow.Locate(loaded) != flow.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %s", flow.Locate(loaded))
	}
	if te.metrics.Value(MetricLoginContextExpired) != 1 || te.metrics.Value(MetricSessionReset) != 1 {
		t.Fatal("expected expiry metrics")
	}

	again, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if again.Login != nil {
		t.Fatal("expected cleaned session to have been saved")
	}
}

func TestLoadSessionKeepsFreshLoginContext(t *testing.T) {
	te := newTestEngine(t)
	res, err := te.LoginRequestOTP(context.Background(), session.Session{}, RequestOTPInput{Phone: testPhone})
	if err != nil {
		t.Fatalf("LoginRequestOTP failed: %v", err)
	}
	r := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), res)
	te.clock.Advance(9 * time.Minute)

	loaded, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.Login == nil {
		t.Fatal("expected login context inside its window to survive")
	}
}

func TestLoadSessionResetsInconsistentSession(t *testing.T) {
	te := newTestEngine(t)
	bad := session.Session{
		Role:   session.RoleAdministrator,
		Status: session.StatusAwaitingApproval,
		Tokens: tokens("x"),
	}
	r := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), StepResult{Session: bad})

	loaded, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if !loaded.IsZero() {
		t.Fatalf("expected inconsistent session reset, got %+v", loaded)
	}
}

func TestLoadSessionDropsAbandonedChallenge(t *testing.T) {
	te := newTestEngine(t)
	res, err := te.RequestOTP(context.Background(), session.Session{}, RequestOTPInput{Phone: testPhone})
	if err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	r := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), res)
	te.clock.Advance(31 * time.Minute)

	loaded, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.Pending != nil {
		t.Fatal("expected abandoned challenge dropped")
	}
	if loaded.DeviceID == "" {
		t.Fatal("expected device id kept")
	}
}

func TestCommitDestroyRemovesSession(t *testing.T) {
	te := newTestEngine(t)
	s := te.registered(t)
	r := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), StepResult{Session: s})

	res, err := te.Logout(context.Background(), s)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	w := httptest.NewRecorder()
	if err := te.Commit(w, r, res); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(te.mr.Keys()) != 0 {
		t.Fatalf("expected no stored sessions, got %v", te.mr.Keys())
	}

	loaded, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if !loaded.IsZero() {
		t.Fatal("expected empty session after logout")
	}
}

func TestLoadSessionFailsClosedWhenStoreIsDown(t *testing.T) {
	te := newTestEngine(t)
	s := te.registered(t)
	r := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), StepResult{Session: s})

	te.mr.Close()

	_, err := te.LoadSession(httptest.NewRecorder(), r)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if KindOf(err) != KindUnavailable || KindOf(err).HTTPStatus() != http.StatusServiceUnavailable {
		t.Fatalf("expected unavailable/503, got %s", KindOf(err))
	}
	if te.metrics.Value(MetricStoreUnavailable) == 0 {
		t.Fatal("expected store unavailable metric")
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.RequestOTP(context.Background(), session.Session{}, RequestOTPInput{Phone: testPhone}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.LoadSession(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
}

func TestLoginIssuesNewStoreHandle(t *testing.T) {
	te := newTestEngine(t)
	te.provider.verifyOTP = func(idp.OTPVerification) (idp.TokenBundle, error) {
		return idp.TokenBundle{Tokens: tokens("1"), Status: session.StatusComplete}, nil
	}
	ctx := context.Background()

	res, err := te.LoginRequestOTP(ctx, session.Session{}, RequestOTPInput{Phone: testPhone})
	if err != nil {
		t.Fatalf("LoginRequestOTP failed: %v", err)
	}
	planted := commit(t, te.Engine, httptest.NewRequest(http.MethodPost, "/", nil), res)
	s, err := te.LoadSession(httptest.NewRecorder(), planted)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	before := s.Handle

	res, err = te.LoginVerifyOTP(ctx, s, VerifyOTPInput{OTP: testOTP})
	if err != nil {
		t.Fatalf("LoginVerifyOTP failed: %v", err)
	}
	r := commit(t, te.Engine, planted, res)
	if s, err = te.LoadSession(httptest.NewRecorder(), r); err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	res, err = te.LoginVerifyPIN(ctx, s, VerifyPINInput{PIN: testPIN})
	if err != nil {
		t.Fatalf("LoginVerifyPIN failed: %v", err)
	}
	r = commit(t, te.Engine, r, res)
	after, err := te.LoadSession(httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}

	if after.Handle == "" || after.Handle == before {
		t.Fatalf("expected a new handle after login, before=%q after=%q", before, after.Handle)
	}
	if flow.Locate(after).Stage != flow.StageComplete {
		t.Fatalf("expected a signed-in session, got %s", flow.Locate(after))
	}
	old, err := te.LoadSession(httptest.NewRecorder(), planted)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if !old.IsZero() {
		t.Fatalf("expected the pre-login handle to be dead, got %+v", old)
	}
	if len(te.mr.Keys()) != 1 {
		t.Fatalf("expected one stored session, got %v", te.mr.Keys())
	}
}

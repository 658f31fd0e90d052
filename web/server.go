package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/middleware"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

// Server routes the onboarding flows to an [onboard.Engine].
type Server struct {
	engine *onboard.Engine
	cfg    onboard.Config
	logger *zap.Logger
	mux    *http.ServeMux
	now    func() time.Time
}

type step func(ctx context.Context, s session.Session, in map[string]string) (onboard.StepResult, error)

// NewServer registers every route on a fresh mux.
func NewServer(engine *onboard.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		cfg:    engine.Config(),
		logger: logger,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	e := s.engine

	s.page(flow.RouteRequestOTP, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.RequestOTP(ctx, sess, onboard.RequestOTPInput{Phone: in["phone"], DeviceID: in["device_id"]})
	})
	s.page(flow.RouteVerifyOTP, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.VerifyOTP(ctx, sess, onboard.VerifyOTPInput{OTP: in["otp"]})
	})
	s.action(flow.RouteResendOTP, func(ctx context.Context, sess session.Session, _ map[string]string) (onboard.StepResult, error) {
		return e.ResendOTP(ctx, sess)
	})
	s.page(flow.RouteCompleteProfile, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.CompleteProfile(ctx, sess, onboard.CompleteProfileInput{Profile: profileFrom(in)})
	})
	s.page(flow.RouteCreatePIN, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.CreatePIN(ctx, sess, onboard.CreatePINInput{PIN: in["pin"], Confirmation: in["pin_confirmation"]})
	})

	refresh := func(ctx context.Context, sess session.Session, _ map[string]string) (onboard.StepResult, error) {
		return e.RefreshApproval(ctx, sess)
	}
	s.mux.Handle("GET "+flow.RouteAwaitApproval.Path(), s.guard(flow.RouteAwaitApproval, s.poll(flow.RouteAwaitApproval, refresh)))
	s.action(flow.RouteAwaitApproval, refresh)

	s.page(flow.RouteLoginRequestOTP, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.LoginRequestOTP(ctx, sess, onboard.RequestOTPInput{Phone: in["phone"], DeviceID: in["device_id"]})
	})
	s.page(flow.RouteLoginVerifyOTP, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.LoginVerifyOTP(ctx, sess, onboard.VerifyOTPInput{OTP: in["otp"]})
	})
	s.action(flow.RouteLoginResendOTP, func(ctx context.Context, sess session.Session, _ map[string]string) (onboard.StepResult, error) {
		return e.LoginResendOTP(ctx, sess)
	})
	s.page(flow.RouteLoginVerifyPIN, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.LoginVerifyPIN(ctx, sess, onboard.VerifyPINInput{PIN: in["pin"]})
	})

	s.page(flow.RouteAdminRequestOTP, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.AdminRequestOTP(ctx, sess, onboard.AdminRequestOTPInput{Email: in["email"], DeviceID: in["device_id"]})
	})
	s.page(flow.RouteAdminVerifyOTP, func(ctx context.Context, sess session.Session, in map[string]string) (onboard.StepResult, error) {
		return e.AdminVerifyOTP(ctx, sess, onboard.VerifyOTPInput{OTP: in["otp"]})
	})

	manager := middleware.RequireFacilityManager(e)(http.HandlerFunc(s.dashboard))
	s.mux.Handle("GET "+flow.RouteManagerDashboard.Path(), manager)
	s.mux.Handle("GET /pengelola/", manager)
	admin := middleware.RequireAdministrator(e)(http.HandlerFunc(s.dashboard))
	s.mux.Handle("GET "+flow.RouteAdminDashboard.Path(), admin)
	s.mux.Handle("GET /admin/dashboard/", admin)

	s.mux.HandleFunc("POST "+flow.RouteLogout.Path(), s.logout)
	s.mux.HandleFunc("GET /{$}", s.home)
}

// page registers the GET view and the POST step of route.
func (s *Server) page(route flow.Route, fn step) {
	s.mux.Handle("GET "+route.Path(), s.guard(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := middleware.SessionFromContext(r.Context())
		writeJSON(w, http.StatusOK, s.view(route, sess))
	})))
	s.action(route, fn)
}

// action registers only the POST step of route.
func (s *Server) action(route flow.Route, fn step) {
	s.mux.Handle("POST "+route.Path(), s.guard(route, s.run(route, fn)))
}

func (s *Server) guard(route flow.Route, h http.Handler) http.Handler {
	return middleware.Guard(s.engine, route)(h)
}

func (s *Server) run(route flow.Route, fn step) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := middleware.SessionFromContext(r.Context())

		in, err := readFields(w, r)
		if err != nil {
			s.fail(w, r, route, sess, &onboard.StepError{
				Step:    string(route),
				Kind:    onboard.KindValidation,
				Message: "the request could not be read",
				Err:     err,
			})
			return
		}

		res, err := fn(r.Context(), sess, in)
		if err != nil {
			s.fail(w, r, route, sess, err)
			return
		}
		s.commit(w, r, res)
	})
}

// poll runs fn on GET and redirects only when the position changed.
func (s *Server) poll(route flow.Route, fn step) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := middleware.SessionFromContext(r.Context())

		res, err := fn(r.Context(), sess, nil)
		if err != nil {
			s.fail(w, r, route, sess, err)
			return
		}
		if err := s.engine.Commit(w, r, res); err != nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if res.Redirect != route {
			middleware.Redirect(w, r, res.Redirect)
			return
		}
		writeJSON(w, http.StatusOK, s.view(route, res.Session))
	})
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request, res onboard.StepResult) {
	if err := s.engine.Commit(w, r, res); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	middleware.Redirect(w, r, res.Redirect)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, route flow.Route, sess session.Session, err error) {
	var se *onboard.StepError
	if !errors.As(err, &se) {
		status := http.StatusInternalServerError
		if onboard.KindOf(err) == onboard.KindUnavailable {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("step failed", zap.String("route", string(route)), zap.Error(err),
			zap.String("request_id", onboard.RequestIDFromContext(r.Context())))
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch se.Kind {
	case onboard.KindOutOfOrder:
		middleware.Redirect(w, r, se.Redirect)
		return
	case onboard.KindSessionExpired:
		if err := s.engine.Destroy(w, r); err != nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		middleware.Redirect(w, r, se.Redirect)
		return
	}

	if err := s.engine.CommitFailed(w, r, sess, se); err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	v := s.view(route, sess)
	v.Error = &ErrorView{Kind: se.Kind.String(), Message: se.Message, Fields: se.Fields}
	writeJSON(w, se.Kind.HTTPStatus(), v)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	v := DashboardView{
		Role:      sess.Role.String(),
		Contact:   sess.Phone,
		SessionID: sess.Tokens.SessionID,
	}
	if sess.Role == session.RoleAdministrator {
		v.Contact = sess.Email
	} else {
		v.Status = sess.Status.String()
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.LoadSession(w, r)
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	res, err := s.engine.Logout(r.Context(), sess)
	if err != nil {
		s.fail(w, r, flow.RouteLogout, sess, err)
		return
	}
	s.commit(w, r, res)
}

// home sends the caller to wherever the session currently belongs.
func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.LoadSession(w, r)
	if err != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	middleware.Redirect(w, r, flow.Canonical(flow.Locate(sess)))
}

func profileFrom(in map[string]string) onboard.CompanyProfile {
	return onboard.CompanyProfile{
		CompanyName:  in["company_name"],
		CompanyType:  in["company_type"],
		Address:      in["address"],
		Province:     in["province"],
		City:         in["city"],
		PostalCode:   in["postal_code"],
		CompanyPhone: in["company_phone"],
		CompanyEmail: in["company_email"],
		Website:      in["website"],
		FoundedDate:  in["founded_date"],
		TaxID:        in["tax_id"],
		Description:  in["description"],
		LogoURL:      in["logo_url"],
	}
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/session"
)

type sessionContextKey struct{}

// SessionFromContext returns the session a [Guard] authorized for this
// request.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(session.Session)
	return s, ok
}

// WithSession stores s in ctx the way [Guard] does. Handlers behind a
// guard never need it; it exists for tests and custom guards.
func WithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// Guard admits a request to route only when the caller's session sits at a
// position the route accepts. Other sessions are sent to their canonical
// route with 303 See Other. A session store failure answers 503 and never
// admits the request.
func Guard(engine *onboard.Engine, route flow.Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			s, err := engine.LoadSession(w, r)
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			d := engine.Authorize(r.Context(), s, route)
			if !d.Allowed {
				Redirect(w, r, d.Redirect)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// Redirect sends the client to route with 303 See Other. htmx requests
// also get HX-Redirect so the whole page navigates; JSON clients get the
// target in the body.
func Redirect(w http.ResponseWriter, r *http.Request, route flow.Route) {
	path := route.Path()
	if path == "" {
		path = flow.RouteLoginRequestOTP.Path()
	}

	w.Header().Set("Location", path)
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", path)
	}
	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusSeeOther)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"redirect": path,
			"route":    string(route),
		})
		return
	}
	w.WriteHeader(http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

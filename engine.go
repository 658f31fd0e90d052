package onboard

import (
	"context"
	"net/http"
	"time"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

// Engine runs the facility manager registration and login flows and the
// administrator login against an identity provider.
//
// Engine holds no per-user state. Every step receives the caller's
// [session.Session] by value and returns a new one; the caller persists it
// with [Engine.Commit]. Engine methods are safe for concurrent use after
// [Builder.Build].
type Engine struct {
	config   Config
	store    session.Store
	provider idp.Client
	logger   *zap.Logger
	audit    *auditDispatcher
	metrics  *Metrics
	clock    func() time.Time
}

// Close stops the audit dispatcher after draining queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

// AuditDropped reports how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.provider != nil
}

// LoadSession reads the caller's session and cleans it: an inconsistent
// session is reset, an expired login context or abandoned registration
// challenge is dropped. A cleaned session is saved before it is returned.
// Store failures are returned wrapped in [ErrStoreUnavailable]; callers
// must fail closed.
func (e *Engine) LoadSession(w http.ResponseWriter, r *http.Request) (session.Session, error) {
	if !e.ready() {
		return session.Session{}, ErrEngineNotReady
	}

	s, err := e.store.Load(r)
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.Error("session load failed", zap.Error(err), zap.String("request_id", requestIDFromContext(r.Context())))
		return session.Session{}, err
	}

	cleaned, reason := e.sanitize(s)
	if reason == "" {
		return s, nil
	}

	e.metricInc(MetricSessionReset)
	e.emitAudit(r.Context(), auditEventSessionReset, true, s, "", nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	if err := e.store.Save(w, r, &cleaned); err != nil {
		e.metricInc(MetricStoreUnavailable)
		return session.Session{}, err
	}
	return cleaned, nil
}

// sanitize returns the cleaned session and why it changed, or "" when s
// is usable as is.
func (e *Engine) sanitize(s session.Session) (session.Session, string) {
	if _, ok := flow.Check(s); !ok {
		return s.Reset(), "inconsistent"
	}

	now := e.now()
	if s.Login != nil && s.Login.Expired(now, e.config.Flow.LoginContextTTL) {
		e.metricInc(MetricLoginContextExpired)
		out := s.ClearLogin()
		out.UpdatedAt = now
		return out, "login_expired"
	}
	if s.Pending != nil && now.Sub(s.Pending.SentAt) > e.config.Flow.PendingChallengeTTL {
		out := s.ClearPending()
		out.UpdatedAt = now
		return out, "challenge_abandoned"
	}
	return s, ""
}

// Commit persists the result of a step: it saves the new session, or
// destroys it when the result asks for that.
func (e *Engine) Commit(w http.ResponseWriter, r *http.Request, res StepResult) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if res.Destroy {
		return e.Destroy(w, r)
	}
	s := res.Session
	if err := e.store.Save(w, r, &s); err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.Error("session save failed", zap.Error(err), zap.String("request_id", requestIDFromContext(r.Context())))
		return err
	}
	return nil
}

// Destroy removes the caller's session.
func (e *Engine) Destroy(w http.ResponseWriter, r *http.Request) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.store.Destroy(w, r); err != nil {
		e.metricInc(MetricStoreUnavailable)
		return err
	}
	return nil
}

// Authorize locates s and decides whether it may use route, recording the
// decision.
func (e *Engine) Authorize(ctx context.Context, s session.Session, route flow.Route) flow.Decision {
	pos := flow.Locate(s)
	d := flow.Authorize(pos, route)
	if d.Allowed {
		e.metricInc(MetricGuardAllowed)
		return d
	}

	e.metricInc(MetricGuardRedirect)
	e.emitAudit(ctx, auditEventGuardRedirect, false, s, route, nil, func() map[string]string {
		return map[string]string{
			"position": pos.String(),
			"redirect": string(d.Redirect),
		}
	})
	return d
}

// require checks that s may run the step behind route.
func (e *Engine) require(ctx context.Context, step string, s session.Session, route flow.Route) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	d := flow.Authorize(flow.Locate(s), route)
	if d.Allowed {
		return nil
	}
	e.logger.Debug("step out of order",
		zap.String("step", step),
		zap.String("position", flow.Locate(s).String()),
		zap.String("request_id", requestIDFromContext(ctx)),
	)
	return &StepError{
		Step:     step,
		Kind:     KindOutOfOrder,
		Message:  "this step is not available right now",
		Redirect: d.Redirect,
		Err:      ErrStepNotAllowed,
	}
}

// advance stamps next and pairs it with its canonical route.
func (e *Engine) advance(next session.Session) StepResult {
	now := e.now()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	return StepResult{Session: next, Redirect: flow.Canonical(flow.Locate(next))}
}

// fresh returns an empty session that keeps the store handle, creation
// time and device id of s.
func fresh(s session.Session) session.Session {
	out := s.Reset()
	out.DeviceID = s.DeviceID
	return out
}

// elevated is fresh without the store handle. Every step that grants
// provider tokens starts from it, so the store issues a new handle and
// drops the one the client arrived with.
func elevated(s session.Session) session.Session {
	out := fresh(s)
	out.Handle = ""
	return out
}

package onboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wastehub/onboard/flow"
	"github.com/wastehub/onboard/idp"
	"github.com/wastehub/onboard/session"
	"go.uber.org/zap"
)

const (
	msgIncorrectCode = "incorrect code"
	msgIncorrectPIN  = "incorrect PIN"
	msgRateLimited   = "too many attempts, try again later"
	msgLocked        = "account locked, contact support"
	msgTransport     = "the identity service is unavailable, please try again"
	msgExpired       = "your session has expired, please sign in again"
)

// stepMessages are the user-facing defaults a step uses when the provider
// gives no message of its own.
type stepMessages struct {
	rejected     string
	unauthorized string
}

var (
	otpMessages     = stepMessages{rejected: "the code could not be sent", unauthorized: msgIncorrectCode}
	verifyMessages  = stepMessages{rejected: "the code was not accepted", unauthorized: msgIncorrectCode}
	profileMessages = stepMessages{rejected: "the company profile was not accepted", unauthorized: msgExpired}
	pinMessages     = stepMessages{rejected: "the PIN was not accepted", unauthorized: msgIncorrectPIN}
	statusMessages  = stepMessages{rejected: "registration status is unavailable", unauthorized: msgExpired}
)

// errTokensRejected marks a token-bearing call whose tokens the provider
// refused even after a refresh.
var errTokensRejected = errors.New("provider rejected session tokens")

// mapProviderError converts every provider failure into a StepError. It is
// the only place provider kinds are interpreted.
func (e *Engine) mapProviderError(ctx context.Context, step string, msgs stepMessages, err error) *StepError {
	if errors.Is(err, errTokensRejected) {
		e.metricInc(MetricSessionExpired)
		e.logger.Info("provider session expired", zap.String("step", step), zap.String("request_id", requestIDFromContext(ctx)))
		return &StepError{
			Step:     step,
			Kind:     KindSessionExpired,
			Message:  msgExpired,
			Redirect: flow.RouteLoginRequestOTP,
			Err:      ErrSessionExpired,
		}
	}

	var pe *idp.Error
	_ = errors.As(err, &pe)
	status := 0
	providerMsg := ""
	var fields map[string]string
	if pe != nil {
		status = pe.Status
		providerMsg = pe.Message
		fields = pe.Fields
	}

	kind := idp.KindOf(err)
	e.logger.Warn("identity provider call failed",
		zap.String("step", step),
		zap.String("kind", kind.String()),
		zap.Int("status", status),
		zap.String("request_id", requestIDFromContext(ctx)),
	)

	out := &StepError{Step: step, Err: err}
	switch kind {
	case idp.KindValidation:
		e.metricInc(MetricProviderRejected)
		out.Kind = KindValidation
		out.Fields = fields
		out.Message = firstNonEmpty(providerMsg, msgs.rejected)
	case idp.KindRejected:
		e.metricInc(MetricProviderRejected)
		out.Kind = KindRejected
		out.Message = firstNonEmpty(providerMsg, msgs.rejected)
	case idp.KindUnauthorized:
		e.metricInc(MetricProviderUnauthorized)
		out.Kind = KindUnauthorized
		out.Message = msgs.unauthorized
	case idp.KindLocked:
		e.metricInc(MetricProviderLocked)
		out.Kind = KindLocked
		out.Message = msgLocked
	case idp.KindRateLimited:
		e.metricInc(MetricProviderRateLimited)
		out.Kind = KindRateLimited
		out.Message = msgRateLimited
	default:
		e.metricInc(MetricProviderTransport)
		out.Kind = KindTransport
		out.Message = msgTransport
	}
	return out
}

// contractError reports a provider answer the engine cannot use.
func (e *Engine) contractError(ctx context.Context, step, detail string) *StepError {
	return e.mapProviderError(ctx, step, stepMessages{}, &idp.Error{
		Op:      step,
		Kind:    idp.KindUnknown,
		Message: detail,
		Err:     ErrProviderContract,
	})
}

// timed runs fn and records its latency in the provider histogram.
func (e *Engine) timed(fn func() error) error {
	start := time.Now()
	err := fn()
	if e.metrics != nil {
		e.metrics.Observe(MetricProviderLatency, time.Since(start))
	}
	return err
}

// withTokens runs a token-bearing provider call. When the provider answers
// 401 it refreshes the tokens once and retries. It returns the tokens the
// last call used, also when that call failed; they differ from s.Tokens
// after a refresh. errTokensRejected means the session cannot be
// recovered.
func (e *Engine) withTokens(ctx context.Context, step string, s session.Session, call func(accessToken string) error) (session.Tokens, error) {
	tokens := s.Tokens
	err := e.timed(func() error { return call(tokens.AccessToken) })
	if err == nil || idp.KindOf(err) != idp.KindUnauthorized {
		return tokens, err
	}
	if tokens.RefreshToken == "" {
		return tokens, errTokensRejected
	}

	var bundle idp.TokenBundle
	refreshErr := e.timed(func() error {
		var err error
		bundle, err = e.provider.Refresh(ctx, tokens.RefreshToken)
		return err
	})
	if refreshErr != nil {
		switch idp.KindOf(refreshErr) {
		case idp.KindUnauthorized, idp.KindRejected, idp.KindValidation, idp.KindLocked:
			return tokens, errTokensRejected
		default:
			return tokens, refreshErr
		}
	}

	e.metricInc(MetricTokenRefreshed)
	e.emitAudit(ctx, auditEventTokenRefreshed, true, s, "", nil, func() map[string]string {
		return map[string]string{"step": step}
	})

	tokens = bundle.Tokens
	err = e.timed(func() error { return call(tokens.AccessToken) })
	if err != nil && idp.KindOf(err) == idp.KindUnauthorized {
		return tokens, errTokensRejected
	}
	return tokens, err
}

// keepRotated attaches tokens obtained by a refresh to a failed step. The
// provider spends a refresh token on use, so the caller must persist them
// even though the step failed.
func keepRotated(se *StepError, s session.Session, used session.Tokens) *StepError {
	if se.Kind == KindSessionExpired || used.Empty() || used == s.Tokens {
		return se
	}
	t := used
	se.Tokens = &t
	return se
}

// CommitFailed persists what a failed step still changed: the rotated
// tokens carried by a [StepError]. Every other field of s is kept. It does
// nothing for other errors.
func (e *Engine) CommitFailed(w http.ResponseWriter, r *http.Request, s session.Session, err error) error {
	var se *StepError
	if !errors.As(err, &se) || se.Tokens == nil {
		return nil
	}
	next := s.WithTokens(*se.Tokens)
	next.UpdatedAt = e.now()
	return e.Commit(w, r, StepResult{Session: next})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// fail records a failed step and returns err unchanged.
func (e *Engine) fail(ctx context.Context, s session.Session, route flow.Route, eventType string, err *StepError) error {
	switch err.Kind {
	case KindValidation:
		var pe *idp.Error
		if !errors.As(err.Err, &pe) {
			e.metricInc(MetricValidationFailure)
		}
	case KindSessionExpired:
		eventType = auditEventSessionExpired
	}
	e.emitAudit(ctx, eventType, false, s, route, err, nil)
	return err
}

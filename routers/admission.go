package routers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"verifychain/events"
	"verifychain/handlers"
	"verifychain/identity"
	"verifychain/logger"
	"verifychain/ratelimit"
)

// Admission gates requests through the rate limiter, keyed by the caller
// network address.
type Admission struct {
	limiter  *ratelimit.Limiter
	identity *identity.Resolver
	handler  *handlers.Handler
}

func NewAdmission(l *ratelimit.Limiter, id *identity.Resolver, h *handlers.Handler) *Admission {
	return &Admission{limiter: l, identity: id, handler: h}
}

// Middleware sets the rate-limit headers on every response and rejects
// requests over the limit with 429. A failing limiter store rejects with 503.
func (a *Admission) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := a.identity.NetworkAddress(r)
		d, err := a.limiter.Check(r.Context(), caller)
		if err != nil {
			logger.Logger.Error("Rate limiter unavailable", zap.String("identity", string(caller)), zap.Error(err))
			handlers.WriteJSON(w, http.StatusServiceUnavailable, handlers.Response{Success: false, Error: "rate limiter unavailable"})
			return
		}

		a.handler.Emit(r.Context(), events.Admission{
			Identity:  caller,
			Allowed:   d.Allowed,
			Limit:     d.Limit,
			Remaining: d.Remaining,
			ResetAt:   d.ResetAt,
		})

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			handlers.WriteRateLimited(w, d.ResetAt, a.limiter.Now())
			return
		}
		next.ServeHTTP(w, r)
	})
}

package routers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"verifychain/handlers"
	"verifychain/logger"
)

// Operator guards the ledger registry writes with a shared bearer token.
type Operator struct {
	token []byte
}

// NewOperator builds the guard. An empty token rejects every request.
func NewOperator(token string) *Operator {
	return &Operator{token: []byte(token)}
}

// Middleware rejects requests without the operator bearer token.
func (o *Operator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(o.token) == 0 {
			handlers.WriteJSON(w, http.StatusForbidden, handlers.Response{Success: false, Error: "operator endpoints are disabled"})
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), o.token) != 1 {
			logger.Logger.Warn("Rejected operator request", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
			handlers.WriteJSON(w, http.StatusUnauthorized, handlers.Response{Success: false, Error: "operator token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

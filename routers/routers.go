package routers

import (
	"net/http"

	"github.com/gorilla/mux"

	"verifychain/handlers"
)

// RegisterRoutes sets up all the HTTP routes of the service. Verification
// requests pass through admission first when it is not nil. Ledger writes
// always pass through operator.
func RegisterRoutes(r *mux.Router, h *handlers.Handler, admission *Admission, operator *Operator) {
	api := r.PathPrefix("/api").Subrouter()

	// Product verdicts, rate limited per caller
	var verify http.Handler = http.HandlerFunc(h.Verify)
	if admission != nil {
		verify = admission.Middleware(verify)
	}
	api.Handle("/verify", verify).Methods("GET", "POST")

	// Liveness and readiness probes
	api.HandleFunc("/health", h.Health).Methods("GET")

	// Counterfeit report lifecycle
	api.HandleFunc("/disputes", h.OpenReport).Methods("POST")
	api.HandleFunc("/disputes/{id}", h.GetReport).Methods("GET")
	api.HandleFunc("/disputes/{id}/votes", h.CastVote).Methods("POST")
	api.HandleFunc("/disputes/{id}/resolve", h.ResolveReport).Methods("POST")

	// Operator registry of the ledger
	if operator == nil {
		operator = NewOperator("")
	}
	ops := r.PathPrefix("/ledger").Subrouter()
	ops.Handle("/manufacturers", operator.Middleware(http.HandlerFunc(h.RegisterManufacturer))).Methods("POST")
	ops.Handle("/products", operator.Middleware(http.HandlerFunc(h.RegisterProduct))).Methods("POST")
	ops.Handle("/products/{id}/transfers", operator.Middleware(http.HandlerFunc(h.AppendTransfer))).Methods("POST")
	ops.Handle("/stakes", operator.Middleware(http.HandlerFunc(h.DepositStake))).Methods("POST")
	ops.HandleFunc("/journal/verify", h.VerifyJournal).Methods("GET")
}

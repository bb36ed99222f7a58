package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"verifychain/dispute"
	"verifychain/events"
	"verifychain/identity"
	"verifychain/ledger"
	"verifychain/logger"
	"verifychain/metrics"
	"verifychain/models"
	"verifychain/oracle"
	"verifychain/repository"
)

// Handler contains the HTTP handlers for the verification, dispute and registry endpoints
type Handler struct {
	oracle     *oracle.Oracle
	disputes   *dispute.Engine
	registry   repository.RegistryInterface
	identity   *identity.Resolver
	sink       events.Sink
	metrics    *metrics.Metrics
	production bool
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Sink    events.Sink
	Metrics *metrics.Metrics
	// Production withholds internal error detail from responses.
	Production bool
}

// NewHandler creates and returns a new Handler instance
func NewHandler(o *oracle.Oracle, d *dispute.Engine, reg repository.RegistryInterface, id *identity.Resolver, opts Options) *Handler {
	sink := opts.Sink
	if sink == nil {
		sink = events.Discard{}
	}
	return &Handler{
		oracle:     o,
		disputes:   d,
		registry:   reg,
		identity:   id,
		sink:       sink,
		metrics:    opts.Metrics,
		production: opts.Production,
	}
}

// Emit forwards an event to the configured sinks, logging failures.
func (h *Handler) Emit(ctx context.Context, e events.Event) {
	if err := h.sink.Emit(ctx, e); err != nil {
		logger.Logger.Warn("Failed to emit event", zap.String("kind", e.Kind()), zap.Error(err))
	}
}

func (h *Handler) countFailure(err error) {
	if h.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ledger.ErrUnavailable):
		h.metrics.LedgerErrors.WithLabelValues("unavailable").Inc()
	case errors.Is(err, oracle.ErrScoring):
		h.metrics.LedgerErrors.WithLabelValues("inconsistent").Inc()
	default:
		h.metrics.LedgerErrors.WithLabelValues("internal").Inc()
	}
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errPayloadTooLarge
		}
		return errInvalidPayload
	}
	return nil
}

// Verify handles GET and POST requests for a product verdict
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req models.VerificationRequest
	if r.Method == http.MethodPost {
		if err := decode(w, r, &req); err != nil {
			h.writeError(w, "Failed to decode verification request", err)
			return
		}
	} else {
		req.ProductID = r.URL.Query().Get("productId")
		req.WalletAddress = r.URL.Query().Get("walletAddress")
	}

	requester := identity.Normalize(req.WalletAddress)
	if requester.IsZero() {
		requester = h.identity.Wallet(r)
	}

	result, err := h.oracle.Verify(r.Context(), req.ProductID, requester)
	if err != nil {
		h.writeError(w, "Failed to verify product", err)
		return
	}
	h.Emit(r.Context(), events.Verdict{Result: result})
	writeData(w, http.StatusOK, result)
}

// Health handles GET requests for liveness and readiness checks
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("check") {
	case "liveness":
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	case "readiness":
		if err := h.registry.Ping(r.Context()); err != nil {
			logger.Logger.Warn("Readiness check failed", zap.Error(err))
			WriteJSON(w, http.StatusServiceUnavailable, Response{Success: false, Error: "ledger not ready"})
			return
		}
		writeData(w, http.StatusOK, map[string]string{"status": "ready"})
	default:
		WriteJSON(w, http.StatusBadRequest, Response{Success: false, Error: "check must be liveness or readiness"})
	}
}

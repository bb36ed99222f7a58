package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verifychain/dispute"
	"verifychain/ledger"
	"verifychain/logger"
	"verifychain/oracle"
	"verifychain/repository"
)

// Response is the envelope of every API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RateLimitedResponse is returned with status 429
type RateLimitedResponse struct {
	Success           bool      `json:"success"`
	Error             string    `json:"error"`
	RetryAfter        time.Time `json:"retryAfter"`
	RetryAfterSeconds int64     `json:"retryAfterSeconds"`
}

var (
	errInvalidPayload  = errors.New("invalid request payload")
	errPayloadTooLarge = errors.New("request payload too large")
)

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{Success: true, Data: data})
}

// WriteRateLimited writes the 429 response for a request rejected at admission.
func WriteRateLimited(w http.ResponseWriter, resetAt, now time.Time) {
	wait := resetAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	// whole seconds, rounded up
	seconds := int64((wait + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	WriteJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
		Success:           false,
		Error:             "rate limit exceeded",
		RetryAfter:        resetAt.UTC(),
		RetryAfterSeconds: seconds,
	})
}

// statusFor maps a domain error to its HTTP status and client message.
// Internal failures are reported generically when detail is false.
func statusFor(err error, detail bool) (int, string) {
	switch {
	case errors.Is(err, errInvalidPayload),
		errors.Is(err, oracle.ErrInvalidInput),
		errors.Is(err, dispute.ErrInvalidChoice),
		errors.Is(err, dispute.ErrInvalidReport),
		errors.Is(err, repository.ErrInvalidRecord):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, dispute.ErrMissingIdentity):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, dispute.ErrInsufficientStake),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, dispute.ErrDuplicateVote),
		errors.Is(err, dispute.ErrVotingClosed),
		errors.Is(err, dispute.ErrVotingOpen),
		errors.Is(err, dispute.ErrReportOpen),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ledger.ErrUnavailable):
		return http.StatusServiceUnavailable, "ledger unavailable, retry later"
	}
	if detail {
		return http.StatusInternalServerError, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status, text := statusFor(err, !h.production)
	if status >= http.StatusInternalServerError {
		logger.Logger.Error(msg, zap.Error(err))
		h.countFailure(err)
	} else {
		logger.Logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	}
	WriteJSON(w, status, Response{Success: false, Error: text})
}

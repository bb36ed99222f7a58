package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"verifychain/dispute"
	"verifychain/events"
	"verifychain/logger"
	"verifychain/models"
)

type openReportRequest struct {
	ProductID string `json:"productId"`
	Stake     uint64 `json:"stake"`
	Reason    string `json:"reason,omitempty"`
}

type voteRequest struct {
	Choice models.VoteChoice `json:"choice"`
}

// OpenReport handles POST requests opening a counterfeit report for the calling wallet
func (h *Handler) OpenReport(w http.ResponseWriter, r *http.Request) {
	var req openReportRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, "Failed to decode report", err)
		return
	}

	report, err := h.disputes.Open(r.Context(), dispute.OpenRequest{
		ProductID: req.ProductID,
		Reporter:  h.identity.Wallet(r),
		Stake:     req.Stake,
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeError(w, "Failed to open report", err)
		return
	}

	h.Emit(r.Context(), events.DisputeOpened{Report: report})
	writeData(w, http.StatusCreated, report)
}

// GetReport handles GET requests for a report with its votes and tally
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	view, err := h.disputes.Report(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, "Failed to load report", err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// CastVote handles POST requests casting the calling wallet's vote on a report
func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, "Failed to decode vote", err)
		return
	}

	vote, err := h.disputes.CastVote(r.Context(), mux.Vars(r)["id"], h.identity.Wallet(r), req.Choice)
	if err != nil {
		h.writeError(w, "Failed to cast vote", err)
		return
	}

	h.Emit(r.Context(), events.VoteCast{Vote: vote})
	writeData(w, http.StatusCreated, vote)
}

// ResolveReport handles POST requests settling a report whose voting window has elapsed
func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.disputes.Resolve(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to resolve report", err)
		return
	}

	logger.Logger.Info("Resolved report on request", zap.String("report_id", id))
	h.Emit(r.Context(), events.Resolved{Resolution: res})
	writeData(w, http.StatusOK, res)
}

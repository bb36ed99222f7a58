package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"verifychain/identity"
	"verifychain/logger"
	"verifychain/models"
	"verifychain/repository"
)

type depositRequest struct {
	Identity string `json:"identity"`
	Amount   uint64 `json:"amount"`
}

type balanceResponse struct {
	Identity models.Identity `json:"identity"`
	Balance  uint64          `json:"balance"`
}

// RegisterManufacturer handles POST requests adding a manufacturer to the ledger
func (h *Handler) RegisterManufacturer(w http.ResponseWriter, r *http.Request) {
	var m models.Manufacturer
	if err := decode(w, r, &m); err != nil {
		h.writeError(w, "Failed to decode manufacturer", err)
		return
	}
	if err := h.registry.RegisterManufacturer(r.Context(), &m); err != nil {
		h.writeError(w, "Failed to register manufacturer", err)
		return
	}

	logger.Logger.Info("Registered manufacturer", zap.String("address", string(m.Address)))
	writeData(w, http.StatusCreated, m)
}

// RegisterProduct handles POST requests adding a product to the ledger
func (h *Handler) RegisterProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := decode(w, r, &p); err != nil {
		h.writeError(w, "Failed to decode product", err)
		return
	}
	if err := h.registry.RegisterProduct(r.Context(), &p); err != nil {
		h.writeError(w, "Failed to register product", err)
		return
	}

	logger.Logger.Info("Registered product", zap.String("product_id", p.ID), zap.String("manufacturer", string(p.Manufacturer)))
	writeData(w, http.StatusCreated, p)
}

// AppendTransfer handles POST requests recording a custody transfer of a product
func (h *Handler) AppendTransfer(w http.ResponseWriter, r *http.Request) {
	var t models.Transfer
	if err := decode(w, r, &t); err != nil {
		h.writeError(w, "Failed to decode transfer", err)
		return
	}
	t.ProductID = mux.Vars(r)["id"]

	stored, err := h.registry.AppendTransfer(r.Context(), &t)
	if err != nil {
		h.writeError(w, "Failed to append transfer", err)
		return
	}

	logger.Logger.Info("Appended transfer", zap.String("product_id", stored.ProductID), zap.Uint64("seq", stored.Seq))
	writeData(w, http.StatusCreated, stored)
}

// DepositStake handles POST requests crediting stake to an identity
func (h *Handler) DepositStake(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, "Failed to decode deposit", err)
		return
	}

	id := identity.Normalize(req.Identity)
	balance, err := h.registry.DepositStake(r.Context(), id, req.Amount)
	if err != nil {
		h.writeError(w, "Failed to deposit stake", err)
		return
	}
	writeData(w, http.StatusOK, balanceResponse{Identity: id, Balance: balance})
}

// VerifyJournal handles GET requests recomputing the ledger journal hash chain
func (h *Handler) VerifyJournal(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.VerifyJournal(r.Context())
	if errors.Is(err, repository.ErrJournalCorrupt) {
		logger.Logger.Error("Ledger journal failed verification", zap.Uint64("broken_at", status.BrokenAt))
		WriteJSON(w, http.StatusConflict, Response{Success: false, Data: status, Error: err.Error()})
		return
	}
	if err != nil {
		h.writeError(w, "Failed to verify journal", err)
		return
	}
	writeData(w, http.StatusOK, status)
}

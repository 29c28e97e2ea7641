package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/diewo77/go-ledger/internal/httpx"
	"github.com/diewo77/go-ledger/internal/services"
)

type PurchaseHandler struct {
	svc *services.Orchestrator
	log zerolog.Logger
}

func NewPurchaseHandler(svc *services.Orchestrator, log zerolog.Logger) *PurchaseHandler {
	return &PurchaseHandler{svc: svc, log: log}
}

func (h *PurchaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.PurchaseInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.CreatePurchase(r.Context(), in)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetPurchase(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// Delete reverses the purchase and returns it in its cancelled state.
func (h *PurchaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.DeletePurchase(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase": p})
}

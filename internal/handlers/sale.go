package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/diewo77/go-ledger/internal/httpx"
	"github.com/diewo77/go-ledger/internal/services"
)

type SaleHandler struct {
	svc *services.Orchestrator
	log zerolog.Logger
}

func NewSaleHandler(svc *services.Orchestrator, log zerolog.Logger) *SaleHandler {
	return &SaleHandler{svc: svc, log: log}
}

func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.SaleInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.CreateSale(r.Context(), in)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := h.svc.GetSale(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

func (h *SaleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := h.svc.DeleteSale(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": s})
}

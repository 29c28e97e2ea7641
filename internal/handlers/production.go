package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/diewo77/go-ledger/internal/httpx"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/production"
)

type ProductionHandler struct {
	svc *production.Service
	log zerolog.Logger
}

func NewProductionHandler(svc *production.Service, log zerolog.Logger) *ProductionHandler {
	return &ProductionHandler{svc: svc, log: log}
}

func (h *ProductionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in production.CreateInput
	if !decode(w, r, &in) {
		return
	}
	o, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *ProductionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), models.ProductionStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": list, "total": len(list)})
}

func (h *ProductionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Get)
}

func (h *ProductionHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Start)
}

func (h *ProductionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

func (h *ProductionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *ProductionHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uint) (*models.ProductionOrder, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	o, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

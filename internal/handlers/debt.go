package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/diewo77/go-ledger/internal/debts"
	"github.com/diewo77/go-ledger/internal/httpx"
	"github.com/diewo77/go-ledger/internal/models"
	"github.com/diewo77/go-ledger/internal/services"
)

type DebtHandler struct {
	svc *services.Orchestrator
	log zerolog.Logger
}

func NewDebtHandler(svc *services.Orchestrator, log zerolog.Logger) *DebtHandler {
	return &DebtHandler{svc: svc, log: log}
}

// List accepts ?kind=payable|receivable, ?counterparty= and ?open=true.
func (h *DebtHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := debts.Filter{
		Kind:         models.DebtKind(q.Get("kind")),
		Counterparty: q.Get("counterparty"),
	}
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"open": "invalid"})
			return
		}
		f.OpenOnly = open
	}
	list, err := h.svc.ListDebts(r.Context(), f)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": list, "total": len(list)})
}

func (h *DebtHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetDebt(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

// Pay records one payment. Repeating the call records a second payment.
func (h *DebtHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p debts.Payment
	if !decode(w, r, &p) {
		return
	}
	res, err := h.svc.PayDebt(r.Context(), id, p)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/diewo77/go-ledger/internal/accounts"
	"github.com/diewo77/go-ledger/internal/httpx"
)

type AccountHandler struct {
	store *accounts.Store
	log   zerolog.Logger
}

func NewAccountHandler(store *accounts.Store, log zerolog.Logger) *AccountHandler {
	return &AccountHandler{store: store, log: log}
}

// List hides inactive accounts unless ?all=true.
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	list, err := h.store.List(r.Context(), all)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": list, "total": len(list)})
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in accounts.CreateInput
	if !decode(w, r, &in) {
		return
	}
	acc, err := h.store.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acc, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	txs, err := h.store.Transactions(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account": acc, "transactions": txs})
}

type transferRequest struct {
	To          uint            `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *AccountHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.store.Transfer(r.Context(), id, req.To, req.Amount, req.Description)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

type deactivateRequest struct {
	TransferTo *uint `json:"transfer_to,omitempty"`
}

// Deactivate accepts an optional body naming the account that receives the
// remaining balance.
func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req deactivateRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	acc, err := h.store.Deactivate(r.Context(), id, req.TransferTo)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *AccountHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.store.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

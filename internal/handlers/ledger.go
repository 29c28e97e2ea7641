package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/diewo77/go-ledger/internal/httpx"
	"github.com/diewo77/go-ledger/internal/ledger"
	"github.com/diewo77/go-ledger/internal/services"
)

type LedgerHandler struct {
	svc *services.Orchestrator
	log zerolog.Logger
	now func() time.Time
}

func NewLedgerHandler(svc *services.Orchestrator, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, log: log, now: time.Now}
}

// CreateEntry records a manual income or expense.
func (h *LedgerHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var in ledger.EntryInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.svc.RecordEntry(r.Context(), in)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Ledger().Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *LedgerHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.DeleteEntry(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry": e})
}

func (h *LedgerHandler) CorrectEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var c ledger.Correction
	if !decode(w, r, &c) {
		return
	}
	e, err := h.svc.CorrectEntry(r.Context(), id, c)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

// Summary totals entries in [from, to). Dates are YYYY-MM-DD or RFC 3339;
// the default range is the current month.
func (h *LedgerHandler) Summary(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	bad := map[string]string{}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			bad["from"] = "invalid_date"
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			bad["to"] = "invalid_date"
		}
		to = t
	}
	if len(bad) == 0 && !to.After(from) {
		bad["to"] = "must_be_after_from"
	}
	if len(bad) > 0 {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", bad)
		return
	}
	s, err := h.svc.Ledger().Summary(r.Context(), from, to)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"summary":   s,
		"formatted": map[string]string{"income": h.svc.Ledger().Format(s.Income), "expense": h.svc.Ledger().Format(s.Expense), "net": h.svc.Ledger().Format(s.Net)},
	})
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

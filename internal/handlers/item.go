package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/diewo77/go-ledger/internal/catalog"
	"github.com/diewo77/go-ledger/internal/httpx"
	"github.com/diewo77/go-ledger/internal/models"
)

type ItemHandler struct {
	items *catalog.Resolver
	log   zerolog.Logger
}

func NewItemHandler(items *catalog.Resolver, log zerolog.Logger) *ItemHandler {
	return &ItemHandler{items: items, log: log}
}

// List supports ?q=, ?kind= and ?low_stock=N. stock_value is the listed
// items' on-hand quantity valued at last cost.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		Kind:  models.ItemKind(q.Get("kind")),
		Query: strings.TrimSpace(q.Get("q")),
	}
	if f.Kind != "" && !f.Kind.Valid() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"kind": "invalid"})
		return
	}
	if v := q.Get("low_stock"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"low_stock": "invalid"})
			return
		}
		f.LowStock = n
	}
	list, err := h.items.List(r.Context(), f)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	value := decimal.Zero
	for i := range list {
		value = value.Add(list[i].StockValue())
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": list, "total": len(list), "stock_value": value})
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	it, err := h.items.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, it)
}

// Create registers an item explicitly. Existing items with a similar name
// are returned alongside so the caller can review them.
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var ref catalog.ItemRef
	if !decode(w, r, &ref) {
		return
	}
	it, err := h.items.Create(r.Context(), ref)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	dups, err := h.items.NearDuplicates(r.Context(), it.Name)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	similar := make([]models.Item, 0, len(dups))
	for _, d := range dups {
		if d.ID != it.ID {
			similar = append(similar, d)
		}
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"item": it, "similar": similar})
}

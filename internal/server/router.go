// Package server wires the HTTP routes and middlewares.
package server

import (
	"net/http"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/diewo77/go-ledger/internal/catalog"
	"github.com/diewo77/go-ledger/internal/handlers"
	"github.com/diewo77/go-ledger/internal/httpx"
	"github.com/diewo77/go-ledger/internal/production"
	"github.com/diewo77/go-ledger/internal/services"
)

// Deps are the services the routes dispatch to.
type Deps struct {
	DB         *gorm.DB
	Ledger     *services.Orchestrator
	Items      *catalog.Resolver
	Production *production.Service
	Log        zerolog.Logger
}

// New constructs the root http.Handler with all routes and middlewares applied.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	log := d.Log

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.DB.WithContext(r.Context()).Exec("SELECT 1").Error; err != nil {
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	ph := handlers.NewPurchaseHandler(d.Ledger, log)
	mux.HandleFunc("POST /purchases", ph.Create)
	mux.HandleFunc("GET /purchases/{id}", ph.Get)
	mux.HandleFunc("DELETE /purchases/{id}", ph.Delete)

	sh := handlers.NewSaleHandler(d.Ledger, log)
	mux.HandleFunc("POST /sales", sh.Create)
	mux.HandleFunc("GET /sales/{id}", sh.Get)
	mux.HandleFunc("DELETE /sales/{id}", sh.Delete)

	dh := handlers.NewDebtHandler(d.Ledger, log)
	mux.HandleFunc("GET /debts", dh.List)
	mux.HandleFunc("GET /debts/{id}", dh.Get)
	mux.HandleFunc("POST /debts/{id}/payments", dh.Pay)

	lh := handlers.NewLedgerHandler(d.Ledger, log)
	mux.HandleFunc("POST /ledger/entries", lh.CreateEntry)
	mux.HandleFunc("GET /ledger/entries/{id}", lh.GetEntry)
	mux.HandleFunc("PATCH /ledger/entries/{id}", lh.CorrectEntry)
	mux.HandleFunc("DELETE /ledger/entries/{id}", lh.DeleteEntry)
	mux.HandleFunc("GET /ledger/summary", lh.Summary)

	ah := handlers.NewAccountHandler(d.Ledger.Accounts(), log)
	mux.HandleFunc("GET /accounts", ah.List)
	mux.HandleFunc("POST /accounts", ah.Create)
	mux.HandleFunc("GET /accounts/{id}", ah.Get)
	mux.HandleFunc("POST /accounts/{id}/transfers", ah.Transfer)
	mux.HandleFunc("POST /accounts/{id}/deactivate", ah.Deactivate)
	mux.HandleFunc("GET /accounts/{id}/reconcile", ah.Reconcile)

	ih := handlers.NewItemHandler(d.Items, log)
	mux.HandleFunc("GET /items", ih.List)
	mux.HandleFunc("POST /items", ih.Create)
	mux.HandleFunc("GET /items/{id}", ih.Get)

	if d.Production != nil {
		prh := handlers.NewProductionHandler(d.Production, log)
		mux.HandleFunc("GET /production-orders", prh.List)
		mux.HandleFunc("POST /production-orders", prh.Create)
		mux.HandleFunc("GET /production-orders/{id}", prh.Get)
		mux.HandleFunc("POST /production-orders/{id}/start", prh.Start)
		mux.HandleFunc("POST /production-orders/{id}/complete", prh.Complete)
		mux.HandleFunc("POST /production-orders/{id}/cancel", prh.Cancel)
	}

	return withRequestID(withLogging(log, withRecover(log, mux)))
}

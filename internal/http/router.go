package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"kitchenledger/internal/telemetry"
)

type RouterOptions struct {
	Metrics        *telemetry.Metrics
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(handler *Handler, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	if opts.Metrics != nil {
		r.Use(Metrics(opts.Metrics))
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", idempotencyHeader},
	}).Handler)

	r.Get("/healthz", handler.Health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Change streams stay open; the request timeout applies to the rest.
		r.Get("/inventory/stream", handler.StreamInventory)
		r.Get("/recipes/stream", handler.StreamRecipes)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			r.Get("/inventory", handler.ListInventory)
			r.Post("/inventory", handler.CreateInventoryItem)
			r.Get("/inventory/summary", handler.InventorySummary)
			r.Get("/inventory/low-stock", handler.LowStock)
			r.Post("/inventory/import-excel", handler.ImportInventoryExcel)
			r.Get("/inventory/{id}", handler.GetInventoryItem)
			r.Patch("/inventory/{id}", handler.PatchInventoryItem)
			r.Delete("/inventory/{id}", handler.DeleteInventoryItem)

			r.Get("/recipes", handler.ListRecipes)
			r.Post("/recipes", handler.CreateRecipe)
			r.Get("/recipes/{id}", handler.GetRecipe)
			r.Patch("/recipes/{id}", handler.PatchRecipe)
			r.Delete("/recipes/{id}", handler.DeleteRecipe)

			r.Get("/purchases", handler.ListPurchases)
			r.Post("/purchases", handler.RecordPurchase)
			r.Get("/waste", handler.ListWaste)
			r.Post("/waste", handler.RecordWaste)
			r.Get("/production", handler.ListUsageLogs)
			r.Post("/production", handler.ExecuteProduction)
			r.Post("/production/preview", handler.PreviewProduction)
			r.Post("/sales", handler.RecordSale)

			r.Get("/ledger", handler.Ledger)
			r.Get("/ledger/export", handler.ExportLedger)
			r.Get("/analytics/categories", handler.CategoryBreakdown)
			r.Get("/analytics/item-sales", handler.ItemSales)
			r.Get("/analytics/item-sales/collisions", handler.ItemSalesCollisions)
			r.Get("/analytics/daily", handler.DailyMetrics)
			r.Get("/analytics/daily/summary", handler.DailySummary)
		})
	})

	return r
}

// Package api is the HTTP surface of the storefront: checkout and portal
// session creation, the payment webhook sink and the download redirect.
// Authentication is terminated upstream; the authenticated user id arrives
// in the X-User-ID header set by the fronting session layer.
package api

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bibliolivre/storefront/checkout"
	"github.com/bibliolivre/storefront/download"
	"github.com/bibliolivre/storefront/fulfillment"
	"github.com/bibliolivre/storefront/pkg/i18n"
	"github.com/bibliolivre/storefront/pkg/requestid"
)

//go:embed locales
var localeFS embed.FS

// Headers of the upstream auth contract.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

// Deps carries the collaborators the router needs.
type Deps struct {
	Checkout  *checkout.Service
	Processor *fulfillment.Processor
	Downloads *download.Service
	Log       *slog.Logger

	// Healthcheck reports readiness of backing services. Optional; when nil
	// the health endpoint always answers 200.
	Healthcheck func(context.Context) error

	// Production suppresses the diagnostic dev field in error responses.
	Production bool

	// DownloadLimiter rate-limits the download endpoint per client IP.
	// Optional; nil disables limiting.
	DownloadLimiter func(http.Handler) http.Handler
}

// NewRouter builds the HTTP handler tree.
func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Checkout == nil || deps.Processor == nil || deps.Downloads == nil {
		return nil, fmt.Errorf("api: checkout, processor and downloads are required")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	translator, err := i18n.NewTranslator(localeFS, "locales", i18n.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("api: load locales: %w", err)
	}

	h := &handlers{
		checkout:   deps.Checkout,
		processor:  deps.Processor,
		downloads:  deps.Downloads,
		translator: translator,
		log:        log,
		production: deps.Production,
		health:     deps.Healthcheck,
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.healthcheck)
	r.Post("/checkout", h.createCheckout)
	r.Post("/subscription/portal", h.createPortal)
	r.Post("/webhooks/payment", h.paymentWebhook)
	r.Group(func(r chi.Router) {
		if deps.DownloadLimiter != nil {
			r.Use(deps.DownloadLimiter)
		}
		r.Get("/download/{linkId}", h.downloadRedirect)
	})
	return r, nil
}

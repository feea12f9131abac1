package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliolivre/storefront/billing"
	"github.com/bibliolivre/storefront/checkout"
	"github.com/bibliolivre/storefront/download"
	"github.com/bibliolivre/storefront/fulfillment"
	"github.com/bibliolivre/storefront/pkg/i18n"
)

// Every locale must define a message for every error code, no more and no
// less. Clients branch on the code and show the message; a hole in either
// direction ships a raw code or a dead translation to users.
func TestLocaleCompleteness(t *testing.T) {
	t.Parallel()

	translator, err := i18n.NewTranslator(localeFS, "locales")
	require.NoError(t, err)

	var want []string
	for _, code := range Codes() {
		want = append(want, string(code))
	}
	sort.Strings(want)

	langs := translator.SupportedLanguages()
	require.Contains(t, langs, "en")
	require.Contains(t, langs, "pt")

	for _, lang := range langs {
		keys := translator.Keys(lang)
		sort.Strings(keys)
		assert.Equal(t, want, keys, "locale %s diverges from the error-code enum", lang)
	}
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	newHandlers := func(check func(context.Context) error) *handlers {
		return &handlers{log: slog.Default(), health: check}
	}

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		h := newHandlers(func(context.Context) error { return nil })
		h.healthcheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		h := newHandlers(func(context.Context) error { return errors.New("connection refused") })
		h.healthcheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
	})

	t.Run("no check configured", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		h := newHandlers(nil)
		h.healthcheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   Code
	}{
		{"checkout unauthenticated", checkout.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthorized},
		{"download unauthenticated", download.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthorized},
		{"invalid request", checkout.ErrInvalidRequest, http.StatusBadRequest, CodeInvalidRequest},
		{"no billing account", checkout.ErrNoBillingAccount, http.StatusBadRequest, CodeNoBillingAccount},
		{"bad webhook signature", fulfillment.ErrBadSignature, http.StatusBadRequest, CodeInvalidRequest},
		{"download not found", download.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"foreign link", download.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{"expired link", download.ErrExpired, http.StatusGone, CodeLinkExpired},
		{"quota exhausted", download.ErrLimitReached, http.StatusForbidden, CodeDownloadLimitReached},
		{"asset misconfigured", download.ErrAssetUnavailable, http.StatusInternalServerError, CodeInternalError},
		{"stripe disabled", billing.ErrNotConfigured, http.StatusServiceUnavailable, CodeStripeNotConfigured},
		{"price missing", billing.ErrPriceNotConfigured, http.StatusServiceUnavailable, CodeStripeNotConfigured},
		{"stripe failure", billing.ErrProvider, http.StatusInternalServerError, CodeStripeError},
		{"unclassified", assert.AnError, http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

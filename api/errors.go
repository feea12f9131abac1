package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bibliolivre/storefront/billing"
	"github.com/bibliolivre/storefront/checkout"
	"github.com/bibliolivre/storefront/download"
	"github.com/bibliolivre/storefront/fulfillment"
	"github.com/bibliolivre/storefront/storage"
)

// Code is a machine-readable error code. The enumeration is closed: clients
// branch on these values, so new failure modes must reuse an existing code
// or extend the enum together with every locale dictionary.
type Code string

const (
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeNotFound             Code = "NOT_FOUND"
	CodeLinkExpired          Code = "LINK_EXPIRED"
	CodeDownloadLimitReached Code = "DOWNLOAD_LIMIT_REACHED"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeNoBillingAccount     Code = "NO_BILLING_ACCOUNT"
	CodeStripeNotConfigured  Code = "STRIPE_NOT_CONFIGURED"
	CodeStripeError          Code = "STRIPE_ERROR"
	CodeDatabaseError        Code = "DATABASE_ERROR"
	CodeInternalError        Code = "INTERNAL_ERROR"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
)

// Codes lists every defined error code. Locale dictionaries are validated
// against this set.
func Codes() []Code {
	return []Code{
		CodeUnauthorized,
		CodeForbidden,
		CodeNotFound,
		CodeLinkExpired,
		CodeDownloadLimitReached,
		CodeInvalidRequest,
		CodeNoBillingAccount,
		CodeStripeNotConfigured,
		CodeStripeError,
		CodeDatabaseError,
		CodeInternalError,
		CodeServiceUnavailable,
	}
}

// classify maps a service error onto an HTTP status and error code.
// Sentinels are matched first; anything carrying a Postgres error surfaces
// as a database fault; the rest is internal.
func classify(err error) (int, Code) {
	switch {
	case errors.Is(err, checkout.ErrUnauthenticated),
		errors.Is(err, download.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, checkout.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, checkout.ErrNoBillingAccount):
		return http.StatusBadRequest, CodeNoBillingAccount
	case errors.Is(err, fulfillment.ErrBadSignature):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, download.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, download.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, download.ErrExpired):
		return http.StatusGone, CodeLinkExpired
	case errors.Is(err, download.ErrLimitReached):
		return http.StatusForbidden, CodeDownloadLimitReached
	case errors.Is(err, download.ErrAssetUnavailable),
		errors.Is(err, storage.ErrSignFailed):
		return http.StatusInternalServerError, CodeInternalError
	case errors.Is(err, billing.ErrNotConfigured),
		errors.Is(err, billing.ErrPriceNotConfigured):
		return http.StatusServiceUnavailable, CodeStripeNotConfigured
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, billing.ErrProvider):
		return http.StatusInternalServerError, CodeStripeError
	case isDatabaseError(err):
		return http.StatusInternalServerError, CodeDatabaseError
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

func isDatabaseError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

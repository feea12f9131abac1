package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bibliolivre/storefront/checkout"
	"github.com/bibliolivre/storefront/download"
	"github.com/bibliolivre/storefront/fulfillment"
	"github.com/bibliolivre/storefront/pkg/clientip"
	"github.com/bibliolivre/storefront/pkg/i18n"
	"github.com/bibliolivre/storefront/pkg/logger"
	"github.com/bibliolivre/storefront/store"
)

// maxWebhookBody bounds webhook payload reads. Stripe events are small;
// anything bigger is not a legitimate event.
const maxWebhookBody = 1 << 20

type handlers struct {
	checkout   *checkout.Service
	processor  *fulfillment.Processor
	downloads  *download.Service
	translator *i18n.Translator
	log        *slog.Logger
	production bool
	health     func(context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *handlers) healthcheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.log.LogAttrs(r.Context(), slog.LevelError, "healthcheck failed", logger.Error(err))
			h.respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	h.respondJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// caller extracts the upstream-authenticated identity. Zero UserID means
// the request is anonymous.
func (h *handlers) caller(r *http.Request) checkout.Caller {
	var c checkout.Caller
	if raw := r.Header.Get(HeaderUserID); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			c.UserID = id
		}
	}
	c.Email = r.Header.Get(HeaderUserEmail)
	return c
}

type checkoutRequest struct {
	Type       string `json:"type"`
	Currency   string `json:"currency"`
	PlanType   string `json:"planType"`
	ProductID  string `json:"productId"`
	GuestEmail string `json:"guestEmail"`
	GuestName  string `json:"guestName"`
	Lang       string `json:"lang"`
}

type sessionResponse struct {
	URL string `json:"url"`
}

func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	lang := h.translator.Normalize(r.URL.Query().Get("lang"))
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, lang, fmt.Errorf("%w: malformed body", checkout.ErrInvalidRequest))
		return
	}
	if req.Lang != "" {
		lang = h.translator.Normalize(req.Lang)
	}

	var productID uuid.UUID
	if req.ProductID != "" {
		id, err := uuid.Parse(req.ProductID)
		if err != nil {
			h.respondError(w, r, lang, fmt.Errorf("%w: invalid product id", checkout.ErrInvalidRequest))
			return
		}
		productID = id
	}

	sess, err := h.checkout.CreateSession(r.Context(), h.caller(r), checkout.Request{
		Type:       store.ProductType(req.Type),
		Currency:   req.Currency,
		PlanType:   store.PlanType(req.PlanType),
		EbookID:    productID,
		GuestEmail: req.GuestEmail,
		GuestName:  req.GuestName,
		Lang:       lang,
	})
	if err != nil {
		h.respondError(w, r, lang, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sessionResponse{URL: sess.URL})
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl"`
	Lang      string `json:"lang"`
}

func (h *handlers) createPortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	lang := h.translator.Normalize(r.URL.Query().Get("lang"))
	// An empty body is fine; both fields are optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.respondError(w, r, lang, fmt.Errorf("%w: malformed body", checkout.ErrInvalidRequest))
		return
	}
	if req.Lang != "" {
		lang = h.translator.Normalize(req.Lang)
	}

	sess, err := h.checkout.PortalURL(r.Context(), h.caller(r), req.ReturnURL, lang)
	if err != nil {
		h.respondError(w, r, lang, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sessionResponse{URL: sess.URL})
}

func (h *handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.respondError(w, r, i18n.DefaultLanguage, fmt.Errorf("%w: unreadable body", fulfillment.ErrBadSignature))
		return
	}
	if err := h.processor.Process(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		// Non-signature failures answer 500 so the provider redelivers.
		h.respondError(w, r, i18n.DefaultLanguage, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) downloadRedirect(w http.ResponseWriter, r *http.Request) {
	lang := h.translator.Normalize(r.URL.Query().Get("lang"))

	var userID uuid.UUID
	if raw := r.Header.Get(HeaderUserID); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			userID = id
		}
	}

	url, err := h.downloads.Authorize(r.Context(), userID, chi.URLParam(r, "linkId"), clientip.GetIP(r))
	if err != nil {
		h.respondError(w, r, lang, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

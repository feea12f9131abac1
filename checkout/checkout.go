// Package checkout builds hosted payment sessions. It validates the
// request, resolves or creates the billing customer, picks the configured
// price and hands off to the payment gateway. No entitlement is written
// here; orders exist only after the provider confirms payment via webhook.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/bibliolivre/storefront/billing"
	"github.com/bibliolivre/storefront/pkg/logger"
	"github.com/bibliolivre/storefront/store"
)

var (
	// ErrUnauthenticated means the operation requires a signed-in caller.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidRequest covers malformed or unsupported request fields.
	ErrInvalidRequest = errors.New("invalid checkout request")
	// ErrNoBillingAccount means the caller has no billing customer yet,
	// so there is nothing for the portal to manage.
	ErrNoBillingAccount = errors.New("no billing account")
)

// Config carries site-level checkout settings.
type Config struct {
	// SiteURL is the public base URL success and cancel pages live under.
	SiteURL string `env:"SITE_URL" envDefault:"http://localhost:3000"`
	// EbookCheckoutEnabled gates the legacy one-time ebook purchase path.
	EbookCheckoutEnabled bool `env:"CHECKOUT_EBOOK_ENABLED" envDefault:"false"`
}

// gateway is the slice of the payment provider the service calls.
type gateway interface {
	Enabled() bool
	Prices() billing.PriceTable
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*billing.PortalSession, error)
}

// repository is the slice of the entitlement store the service reads.
type repository interface {
	Profile(ctx context.Context, userID uuid.UUID) (*store.Profile, error)
	SetStripeCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (bool, error)
	ProductByID(ctx context.Context, id uuid.UUID) (*store.Product, error)
}

// Caller identifies who is checking out. A zero UserID means a guest.
type Caller struct {
	UserID uuid.UUID
	Email  string
}

func (c Caller) authenticated() bool { return c.UserID != uuid.Nil }

// Request is a checkout session request as received from the client.
type Request struct {
	Type     store.ProductType
	Currency string
	PlanType store.PlanType
	// EbookID names the product for one-time ebook purchases.
	EbookID uuid.UUID
	// Guest contact, used only on the ebook path when unauthenticated.
	GuestEmail string
	GuestName  string
	Lang       string
}

// Session is the created hosted session the client redirects to.
type Session struct {
	URL string
}

// Service builds checkout and portal sessions.
type Service struct {
	cfg     Config
	gateway gateway
	repo    repository
	log     *slog.Logger
}

// New creates the checkout service. Panics on nil collaborators since the
// service cannot degrade without them.
func New(cfg Config, gw gateway, repo repository, log *slog.Logger) *Service {
	if gw == nil || repo == nil {
		panic("checkout: gateway and repository are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, gateway: gw, repo: repo, log: log}
}

// CreateSession validates the request and opens a hosted checkout session.
func (s *Service) CreateSession(ctx context.Context, caller Caller, req Request) (*Session, error) {
	if !s.gateway.Enabled() {
		return nil, billing.ErrNotConfigured
	}
	switch req.Type {
	case store.ProductTypeSubscription:
		return s.subscriptionSession(ctx, caller, req)
	case store.ProductTypeEbook:
		return s.ebookSession(ctx, caller, req)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, req.Type)
	}
}

func (s *Service) subscriptionSession(ctx context.Context, caller Caller, req Request) (*Session, error) {
	if !caller.authenticated() {
		return nil, ErrUnauthenticated
	}
	currency := strings.ToLower(req.Currency)
	if currency != "usd" && currency != "brl" {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalidRequest, req.Currency)
	}
	if req.PlanType != store.PlanMonthly && req.PlanType != store.PlanYearly {
		return nil, fmt.Errorf("%w: unsupported plan %q", ErrInvalidRequest, req.PlanType)
	}
	priceID, err := s.gateway.Prices().PriceID(req.PlanType, currency)
	if err != nil {
		return nil, err
	}

	customerID := s.resolveCustomer(ctx, caller)
	lang := normalizeLang(req.Lang)

	sess, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		Mode:          billing.ModeSubscription,
		PriceID:       priceID,
		Quantity:      1,
		CustomerID:    customerID,
		CustomerEmail: caller.Email,
		SuccessURL:    s.pageURL(lang, "checkout/success") + "?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.pageURL(lang, "pricing"),
		Metadata: map[string]string{
			"user_id":   caller.UserID.String(),
			"type":      string(store.ProductTypeSubscription),
			"plan_type": string(req.PlanType),
			"currency":  currency,
		},
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "checkout session created",
		slog.String("session_id", sess.ID),
		logger.UserID(caller.UserID),
		slog.String("plan_type", string(req.PlanType)),
		slog.String("currency", currency),
	)
	return &Session{URL: sess.URL}, nil
}

func (s *Service) ebookSession(ctx context.Context, caller Caller, req Request) (*Session, error) {
	if !s.cfg.EbookCheckoutEnabled {
		return nil, fmt.Errorf("%w: ebook checkout is disabled", ErrInvalidRequest)
	}
	if req.EbookID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing product id", ErrInvalidRequest)
	}
	product, err := s.repo.ProductByID(ctx, req.EbookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown product", ErrInvalidRequest)
		}
		return nil, err
	}
	if product.Type != store.ProductTypeEbook || product.StripePriceID == "" {
		return nil, fmt.Errorf("%w: product is not purchasable", ErrInvalidRequest)
	}

	metadata := map[string]string{
		"type":       string(store.ProductTypeEbook),
		"product_id": product.ID.String(),
	}
	var customerID, email string
	if caller.authenticated() {
		customerID = s.resolveCustomer(ctx, caller)
		email = caller.Email
		metadata["user_id"] = caller.UserID.String()
	} else {
		if _, err := mail.ParseAddress(req.GuestEmail); err != nil {
			return nil, fmt.Errorf("%w: valid email required for guest checkout", ErrInvalidRequest)
		}
		email = req.GuestEmail
		metadata["guest_email"] = req.GuestEmail
		if req.GuestName != "" {
			metadata["guest_name"] = req.GuestName
		}
	}

	lang := normalizeLang(req.Lang)
	sess, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		Mode:          billing.ModePayment,
		PriceID:       product.StripePriceID,
		Quantity:      1,
		CustomerID:    customerID,
		CustomerEmail: email,
		SuccessURL:    s.pageURL(lang, "checkout/success") + "?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.pageURL(lang, "store"),
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "ebook checkout session created",
		slog.String("session_id", sess.ID),
		slog.String("product_id", product.ID.String()),
		slog.Bool("guest", !caller.authenticated()),
	)
	return &Session{URL: sess.URL}, nil
}

// PortalURL opens a billing portal session for an existing customer.
func (s *Service) PortalURL(ctx context.Context, caller Caller, returnURL, lang string) (*Session, error) {
	if !s.gateway.Enabled() {
		return nil, billing.ErrNotConfigured
	}
	if !caller.authenticated() {
		return nil, ErrUnauthenticated
	}
	profile, err := s.repo.Profile(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoBillingAccount
		}
		return nil, err
	}
	if profile.StripeCustomerID == nil || *profile.StripeCustomerID == "" {
		return nil, ErrNoBillingAccount
	}
	if returnURL == "" {
		returnURL = s.pageURL(normalizeLang(lang), "account")
	}
	sess, err := s.gateway.CreatePortalSession(ctx, *profile.StripeCustomerID, returnURL)
	if err != nil {
		return nil, err
	}
	return &Session{URL: sess.URL}, nil
}

// resolveCustomer returns the caller's billing customer id, creating one
// upstream when none is stored yet. Persistence failures are logged and
// swallowed; the worst case is a duplicate provider customer later.
func (s *Service) resolveCustomer(ctx context.Context, caller Caller) string {
	profile, err := s.repo.Profile(ctx, caller.UserID)
	if err == nil && profile.StripeCustomerID != nil && *profile.StripeCustomerID != "" {
		return *profile.StripeCustomerID
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.WarnContext(ctx, "profile lookup failed, proceeding without customer",
			logger.UserID(caller.UserID), logger.Error(err))
		return ""
	}
	customerID, err := s.gateway.CreateCustomer(ctx, caller.Email, caller.UserID.String())
	if err != nil {
		s.log.WarnContext(ctx, "billing customer creation failed, proceeding without customer",
			logger.UserID(caller.UserID), logger.Error(err))
		return ""
	}
	applied, err := s.repo.SetStripeCustomerID(ctx, caller.UserID, customerID)
	switch {
	case err != nil:
		s.log.WarnContext(ctx, "failed to persist billing customer reference",
			logger.UserID(caller.UserID),
			slog.String("customer_id", customerID), logger.Error(err))
	case !applied:
		// Zero rows means the profile row is missing or raced another write.
		// The session still proceeds, but each checkout mints a fresh
		// provider customer until the profile exists.
		s.log.WarnContext(ctx, "billing customer reference not persisted, profile row missing",
			logger.UserID(caller.UserID),
			slog.String("customer_id", customerID))
	}
	return customerID
}

func (s *Service) pageURL(lang, page string) string {
	base := strings.TrimSuffix(s.cfg.SiteURL, "/")
	u, err := url.JoinPath(base, lang, page)
	if err != nil {
		return base + "/" + lang + "/" + page
	}
	return u
}

func normalizeLang(lang string) string {
	switch strings.ToLower(lang) {
	case "pt", "pt-br":
		return "pt"
	default:
		return "en"
	}
}

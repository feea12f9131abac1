package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	portalsession "github.com/stripe/stripe-go/v83/billingportal/session"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"
)

// Stripe is the payment gateway client. The zero configuration (no secret
// key) produces a disabled gateway: Enabled reports false and every call
// returns ErrNotConfigured, letting the HTTP layer answer 503 instead of
// the process refusing to start.
type Stripe struct {
	cfg    Config
	prices PriceTable
}

// NewStripe builds the gateway and sets the SDK's global API key.
func NewStripe(cfg Config) *Stripe {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	return &Stripe{cfg: cfg, prices: NewPriceTable(cfg)}
}

// Enabled reports whether a secret key is configured.
func (s *Stripe) Enabled() bool { return s.cfg.SecretKey != "" }

// Prices exposes the plan→price configuration table.
func (s *Stripe) Prices() PriceTable { return s.prices }

// CreateCustomer creates a provider customer carrying the local user id in
// metadata so webhook handlers can map back without a lookup table.
func (s *Stripe) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return "", wrapProviderErr("create customer", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession opens a hosted checkout session for either a
// one-time payment or a subscription.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(req.Mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(quantity),
		}},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = req.Metadata
	}
	sess, err := session.New(params)
	if err != nil {
		return nil, wrapProviderErr("create checkout session", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession opens a customer portal session where the customer
// manages their subscription and payment methods.
func (s *Stripe) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return nil, wrapProviderErr("create portal session", err)
	}
	return &PortalSession{URL: sess.URL}, nil
}

// ParseEvent verifies the webhook signature and returns the event with its
// raw payload attached. Any verification or decoding failure maps to
// ErrInvalidSignature so callers answer 400 without retry semantics.
func (s *Stripe) ParseEvent(payload []byte, sigHeader string) (*Event, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	return NewEvent(event.ID, string(event.Type), time.Unix(event.Created, 0).UTC(), event.Data.Raw), nil
}

// ListLineItems re-queries the line items of a completed checkout session
// with products expanded, since webhook payloads carry only a summary.
func (s *Stripe) ListLineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx
	params.AddExpand("data.price.product")

	var items []LineItem
	iter := session.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		item := LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			AmountTotal: li.AmountTotal,
			Currency:    strings.ToLower(string(li.Currency)),
		}
		if li.Price != nil {
			item.UnitAmount = li.Price.UnitAmount
			if li.Price.Product != nil {
				item.StripeProductID = li.Price.Product.ID
			}
		}
		items = append(items, item)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapProviderErr("list line items", err)
	}
	return items, nil
}

// SubscriptionState fetches the current subscription snapshot from the
// provider. Used after checkout completion, where the session payload only
// carries the subscription id.
func (s *Stripe) SubscriptionState(ctx context.Context, subscriptionID string) (*SubscriptionData, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapProviderErr("get subscription", err)
	}
	data := &SubscriptionData{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		data.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			data.Items.Data = append(data.Items.Data, struct {
				CurrentPeriodEnd int64 `json:"current_period_end"`
			}{CurrentPeriodEnd: item.CurrentPeriodEnd})
		}
	}
	return data, nil
}

func wrapProviderErr(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s: %s (%s)", ErrProvider, op, stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("%w: %s: %v", ErrProvider, op, err)
}

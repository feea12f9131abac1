// Package billing wraps the Stripe API behind a narrow gateway used by the
// checkout and fulfillment services. It owns customer creation, hosted
// checkout and portal sessions, webhook signature verification and the
// static plan→price configuration table. No entitlement state lives here.
package billing

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotConfigured means the Stripe secret key is absent at runtime.
	ErrNotConfigured = errors.New("stripe is not configured")
	// ErrInvalidSignature means webhook signature verification failed.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrPriceNotConfigured means no price id exists for a plan+currency
	// combination. A service misconfiguration, not a client error.
	ErrPriceNotConfigured = errors.New("no price configured for plan and currency")
	// ErrProvider wraps upstream Stripe call failures.
	ErrProvider = errors.New("stripe provider error")
)

// Config carries Stripe credentials and the subscription price table.
// Price ids are plain configuration so pricing changes don't require code
// changes; a new plan/currency combination does.
type Config struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	MonthlyPriceUSD string `env:"STRIPE_MONTHLY_PRICE_USD"`
	MonthlyPriceBRL string `env:"STRIPE_MONTHLY_PRICE_BRL"`
	YearlyPriceUSD  string `env:"STRIPE_YEARLY_PRICE_USD"`
	YearlyPriceBRL  string `env:"STRIPE_YEARLY_PRICE_BRL"`
}

// CheckoutMode selects between one-time payment and subscription sessions.
type CheckoutMode string

const (
	ModePayment      CheckoutMode = "payment"
	ModeSubscription CheckoutMode = "subscription"
)

// CheckoutRequest contains data needed to create a hosted checkout session.
type CheckoutRequest struct {
	Mode          CheckoutMode
	PriceID       string
	Quantity      int64
	CustomerID    string // Provider customer id; empty for guest checkout
	CustomerEmail string // Pre-fills billing email when no customer id is set
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// CheckoutSession is a hosted checkout session the client is redirected to.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a pre-authenticated customer portal link.
type PortalSession struct {
	URL string
}

// LineItem is one line of a completed checkout session, re-queried from the
// provider since webhook payloads don't carry full line-item detail.
type LineItem struct {
	StripeProductID string
	Description     string
	Quantity        int64
	UnitAmount      int64 // minor units
	AmountTotal     int64 // minor units
	Currency        string
}

// Event is a verified webhook event. The payload stays raw until a handler
// asks for a typed view, so unhandled event types cost nothing to ack.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time
	payload   json.RawMessage
}

// CheckoutSessionData is the slice of a checkout.session.completed payload
// the fulfillment pipeline consumes. Expandable references arrive as plain
// ids in webhook payloads.
type CheckoutSessionData struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	AmountSubtotal  int64             `json:"amount_subtotal"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	PaymentIntentID string            `json:"payment_intent"`
	SubscriptionID  string            `json:"subscription"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

// ChargeData is the slice of a charge.refunded payload the processor needs.
type ChargeData struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent"`
}

// SubscriptionData is a provider subscription snapshot, parsed from event
// payloads or fetched from the API. Newer Stripe API versions report the
// period end on subscription items, older payloads at the top level; both
// are captured and PeriodEnd picks whichever is present.
type SubscriptionData struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CustomerID       string            `json:"customer"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// PeriodEnd returns the subscription's current period end, or the zero time
// when the payload carried none.
func (s *SubscriptionData) PeriodEnd() time.Time {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

// CheckoutSession parses the event payload as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSessionData, error) {
	var data CheckoutSessionData
	if err := json.Unmarshal(e.payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Charge parses the event payload as a charge.
func (e *Event) Charge() (*ChargeData, error) {
	var data ChargeData
	if err := json.Unmarshal(e.payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Subscription parses the event payload as a subscription snapshot.
func (e *Event) Subscription() (*SubscriptionData, error) {
	var data SubscriptionData
	if err := json.Unmarshal(e.payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// NewEvent builds an Event from already-verified parts. Exported for tests
// that exercise the fulfillment pipeline without Stripe's signing scheme.
func NewEvent(id, eventType string, createdAt time.Time, payload []byte) *Event {
	return &Event{ID: id, Type: eventType, CreatedAt: createdAt, payload: payload}
}

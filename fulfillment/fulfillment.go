// Package fulfillment turns verified payment webhook events into durable
// entitlements. Every handler is re-entrant: the provider redelivers events
// on non-2xx responses and may reorder them, so each handler either detects
// prior work and skips, or converges on the latest-timestamped state.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibliolivre/storefront/billing"
	"github.com/bibliolivre/storefront/pkg/logger"
	"github.com/bibliolivre/storefront/store"
)

// ErrBadSignature means signature verification failed. The HTTP layer must
// answer 400; redelivery of an unverifiable payload is pointless.
var ErrBadSignature = errors.New("webhook signature rejected")

// gateway is the slice of the payment provider the processor queries.
type gateway interface {
	ParseEvent(payload []byte, sigHeader string) (*billing.Event, error)
	ListLineItems(ctx context.Context, sessionID string) ([]billing.LineItem, error)
	SubscriptionState(ctx context.Context, subscriptionID string) (*billing.SubscriptionData, error)
}

// repository is the slice of the entitlement store the processor mutates.
type repository interface {
	OrderBySessionRef(ctx context.Context, sessionRef string) (*store.Order, error)
	OrderByPaymentRef(ctx context.Context, paymentRef string) (*store.Order, error)
	MarkOrderRefunded(ctx context.Context, orderID uuid.UUID) (bool, error)
	ProductByStripeID(ctx context.Context, stripeID string) (*store.Product, error)
	Fulfill(ctx context.Context, order *store.Order, items []store.OrderItem, links []store.DownloadLink) error
	UpsertSubscription(ctx context.Context, sub *store.Subscription) error
	SubscriptionByProviderID(ctx context.Context, stripeSubID string) (*store.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, stripeSubID string, status store.SubscriptionStatus, periodEnd, eventTime time.Time) (bool, error)
}

// Processor verifies and dispatches webhook events.
type Processor struct {
	gateway gateway
	repo    repository
	log     *slog.Logger
}

// New creates the webhook processor. Panics on nil collaborators.
func New(gw gateway, repo repository, log *slog.Logger) *Processor {
	if gw == nil || repo == nil {
		panic("fulfillment: gateway and repository are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{gateway: gw, repo: repo, log: log}
}

// Process verifies the payload signature and runs the handler for its event
// type. A nil return acknowledges the event; ErrBadSignature means the
// payload never reached a handler; any other error asks the provider to
// redeliver.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := p.gateway.ParseEvent(payload, sigHeader)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return errors.Join(ErrBadSignature, err)
		}
		return err
	}
	log := p.log.With(logger.EventID(event.ID), logger.EventType(event.Type))

	switch event.Type {
	case "checkout.session.completed":
		return p.checkoutCompleted(ctx, log, event)
	case "charge.refunded":
		return p.chargeRefunded(ctx, log, event)
	case "customer.subscription.updated":
		return p.subscriptionChanged(ctx, log, event, false)
	case "customer.subscription.deleted":
		return p.subscriptionChanged(ctx, log, event, true)
	case "invoice.payment_failed":
		// The subscription status moves to past_due via its own
		// subscription.updated event; nothing to change here.
		log.WarnContext(ctx, "invoice payment failed")
		return nil
	default:
		log.DebugContext(ctx, "ignoring unhandled event type")
		return nil
	}
}

func (p *Processor) checkoutCompleted(ctx context.Context, log *slog.Logger, event *billing.Event) error {
	sess, err := event.CheckoutSession()
	if err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	// Detect-then-skip guard. The unique session/payment reference
	// constraints in the store catch the remaining race. Replays still
	// re-run the subscription upsert below in case the first delivery
	// fulfilled the order but failed before recording the subscription.
	if existing, err := p.repo.OrderBySessionRef(ctx, sess.ID); err == nil {
		log.InfoContext(ctx, "session already fulfilled",
			logger.OrderID(existing.ID))
		if sess.Mode == "subscription" && sess.SubscriptionID != "" {
			return p.recordSubscription(ctx, log, event, sess)
		}
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("order lookup: %w", err)
	}

	order := &store.Order{
		ID:         uuid.New(),
		UserID:     metadataUserID(sess.Metadata),
		Email:      orderEmail(sess),
		Status:     store.OrderStatusPaid,
		Currency:   sess.Currency,
		Subtotal:   sess.AmountSubtotal,
		Total:      sess.AmountTotal,
		PaymentRef: sess.PaymentIntentID,
		SessionRef: sess.ID,
	}

	lineItems, err := p.gateway.ListLineItems(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("list line items: %w", err)
	}

	var (
		items []store.OrderItem
		links []store.DownloadLink
	)
	for _, li := range lineItems {
		product, err := p.repo.ProductByStripeID(ctx, li.StripeProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.WarnContext(ctx, "line item does not match any product, skipping",
					slog.String("stripe_product_id", li.StripeProductID),
					slog.String("description", li.Description))
				continue
			}
			return fmt.Errorf("product lookup: %w", err)
		}
		items = append(items, store.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			ProductType: product.Type,
			Quantity:    int32(li.Quantity),
			UnitPrice:   li.UnitAmount,
		})
		if product.Type == store.ProductTypeEbook {
			links = append(links, store.DownloadLink{
				UserID:    order.UserID,
				ProductID: product.ID,
				OrderID:   order.ID,
			})
		}
	}

	if err := p.repo.Fulfill(ctx, order, items, links); err != nil {
		if errors.Is(err, store.ErrOrderExists) {
			log.InfoContext(ctx, "concurrent fulfillment detected, skipping")
			return nil
		}
		return fmt.Errorf("fulfill order: %w", err)
	}
	log.InfoContext(ctx, "order fulfilled",
		logger.OrderID(order.ID),
		slog.Int("items", len(items)),
		slog.Int("download_links", len(links)),
	)

	if sess.Mode == "subscription" && sess.SubscriptionID != "" {
		return p.recordSubscription(ctx, log, event, sess)
	}
	return nil
}

// recordSubscription materializes the local subscription row after a
// subscription-mode checkout. The session payload only names the
// subscription, so current state is fetched from the provider.
func (p *Processor) recordSubscription(ctx context.Context, log *slog.Logger, event *billing.Event, sess *billing.CheckoutSessionData) error {
	userID := metadataUserID(sess.Metadata)
	if !userID.Valid {
		log.ErrorContext(ctx, "subscription session without user metadata, cannot record subscription",
			slog.String("subscription_id", sess.SubscriptionID))
		return nil
	}
	state, err := p.gateway.SubscriptionState(ctx, sess.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetch subscription state: %w", err)
	}
	sub := &store.Subscription{
		ID:                   uuid.New(),
		UserID:               userID.UUID,
		StripeSubscriptionID: state.ID,
		PlanType:             planTypeFromMetadata(sess.Metadata),
		Status:               MapSubscriptionStatus(state.Status),
		CurrentPeriodEnd:     state.PeriodEnd(),
		UpdatedAt:            event.CreatedAt,
	}
	if err := p.repo.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	log.InfoContext(ctx, "subscription recorded",
		slog.String("subscription_id", state.ID),
		slog.String("status", string(sub.Status)),
	)
	return nil
}

func (p *Processor) chargeRefunded(ctx context.Context, log *slog.Logger, event *billing.Event) error {
	charge, err := event.Charge()
	if err != nil {
		return fmt.Errorf("decode charge: %w", err)
	}
	if charge.PaymentIntentID == "" {
		log.WarnContext(ctx, "refunded charge carries no payment intent, ignoring",
			slog.String("charge_id", charge.ID))
		return nil
	}
	order, err := p.repo.OrderByPaymentRef(ctx, charge.PaymentIntentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Refund for a payment this system never fulfilled.
			log.WarnContext(ctx, "refund for unknown payment reference, ignoring",
				slog.String("payment_ref", charge.PaymentIntentID))
			return nil
		}
		return fmt.Errorf("order lookup: %w", err)
	}
	applied, err := p.repo.MarkOrderRefunded(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}
	if !applied {
		log.InfoContext(ctx, "order already refunded", logger.OrderID(order.ID))
		return nil
	}
	log.InfoContext(ctx, "order refunded", logger.OrderID(order.ID))
	return nil
}

func (p *Processor) subscriptionChanged(ctx context.Context, log *slog.Logger, event *billing.Event, deleted bool) error {
	data, err := event.Subscription()
	if err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}
	status := store.SubscriptionStatusCanceled
	if !deleted {
		status = MapSubscriptionStatus(data.Status)
	}
	applied, err := p.repo.UpdateSubscriptionStatus(ctx, data.ID, status, data.PeriodEnd(), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	if !applied {
		// Either the row doesn't exist yet (checkout fulfillment still in
		// flight) or a newer event already won. Both resolve themselves.
		if _, lookErr := p.repo.SubscriptionByProviderID(ctx, data.ID); lookErr != nil {
			if errors.Is(lookErr, store.ErrNotFound) {
				log.InfoContext(ctx, "subscription not recorded yet, awaiting checkout fulfillment",
					slog.String("subscription_id", data.ID),
					slog.String("status", string(status)))
				return nil
			}
			return fmt.Errorf("lookup subscription: %w", lookErr)
		}
		log.InfoContext(ctx, "stale subscription event ignored",
			slog.String("subscription_id", data.ID),
			slog.String("status", string(status)))
		return nil
	}
	log.InfoContext(ctx, "subscription status updated",
		slog.String("subscription_id", data.ID),
		slog.String("status", string(status)))
	return nil
}

// MapSubscriptionStatus collapses the provider's status vocabulary onto the
// internal tri-state. Anything outside the two live states, including
// values added by future provider API versions, reads as canceled so access
// fails closed.
func MapSubscriptionStatus(providerStatus string) store.SubscriptionStatus {
	switch providerStatus {
	case "active":
		return store.SubscriptionStatusActive
	case "past_due":
		return store.SubscriptionStatusPastDue
	default:
		return store.SubscriptionStatusCanceled
	}
}

func metadataUserID(metadata map[string]string) uuid.NullUUID {
	raw, ok := metadata["user_id"]
	if !ok {
		return uuid.NullUUID{}
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: id, Valid: true}
}

func planTypeFromMetadata(metadata map[string]string) store.PlanType {
	if store.PlanType(metadata["plan_type"]) == store.PlanYearly {
		return store.PlanYearly
	}
	return store.PlanMonthly
}

func orderEmail(sess *billing.CheckoutSessionData) string {
	if sess.CustomerDetails.Email != "" {
		return sess.CustomerDetails.Email
	}
	return sess.Metadata["guest_email"]
}

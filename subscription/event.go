package subscription

import (
	"encoding/json"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// ErrBadSignature is returned when the webhook payload fails signature
// verification. The caller must reject the delivery and must not act on
// the payload.
var ErrBadSignature = fmt.Errorf("webhook payload failed signature verification")

// Kind classifies an inbound billing lifecycle event
type Kind string

// Handled event kinds. Everything else normalizes to KindIgnored
const (
	KindCheckoutCompleted   Kind = "CheckoutCompleted"
	KindPaymentSucceeded    Kind = "PaymentSucceeded"
	KindPaymentFailed       Kind = "PaymentFailed"
	KindSubscriptionDeleted Kind = "SubscriptionDeleted"
	KindIgnored             Kind = "Ignored"
)

// The metadata key carrying our account id on Checkout Sessions
const metadataAccountID = "accountId"

// Event is a normalized billing lifecycle event carrying exactly the
// fields the Reconciler needs
type Event struct {
	Kind           Kind
	ExternalType   string // the provider's own event type, for logging
	AccountID      string // from Checkout Session metadata; only on KindCheckoutCompleted
	CustomerID     string // Stripe Customer reference
	SubscriptionID string // Stripe Subscription reference
	OccurredAt     time.Time
}

// Normalizer verifies the authenticity of raw webhook deliveries and
// classifies them into typed Events. It performs no I/O.
type Normalizer struct {
	endpointSecret string
}

// NewNormalizer returns a Normalizer verifying against the given endpoint secret
func NewNormalizer(endpointSecret string) (*Normalizer, error) {
	if len(endpointSecret) == 0 {
		return nil, fmt.Errorf("empty endpointSecret is invalid")
	}
	return &Normalizer{
		endpointSecret: endpointSecret,
	}, nil
}

// Normalize verifies the signature header against the raw payload, then
// classifies the event. A signature failure returns ErrBadSignature.
// Unhandled event types return an Event with KindIgnored and no error.
func (n *Normalizer) Normalize(payload []byte, sigHeader string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, sigHeader, n.endpointSecret)
	if err != nil {
		return nil, extErrors.Wrap(ErrBadSignature, err.Error())
	}

	ev := &Event{
		ExternalType: stripeEvent.Type,
		OccurredAt:   time.Unix(stripeEvent.Created, 0).UTC(),
	}

	switch stripeEvent.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
			return nil, extErrors.Wrap(err, "Cannot parse checkout session payload")
		}
		ev.Kind = KindCheckoutCompleted
		ev.AccountID = session.Metadata[metadataAccountID]
		if session.Customer != nil {
			ev.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			ev.SubscriptionID = session.Subscription.ID
		}
	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &invoice); err != nil {
			return nil, extErrors.Wrap(err, "Cannot parse invoice payload")
		}
		ev.Kind = KindPaymentSucceeded
		if invoice.Customer != nil {
			ev.CustomerID = invoice.Customer.ID
		}
	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &invoice); err != nil {
			return nil, extErrors.Wrap(err, "Cannot parse invoice payload")
		}
		ev.Kind = KindPaymentFailed
		if invoice.Customer != nil {
			ev.CustomerID = invoice.Customer.ID
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, extErrors.Wrap(err, "Cannot parse subscription payload")
		}
		ev.Kind = KindSubscriptionDeleted
		ev.SubscriptionID = sub.ID
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
	default:
		ev.Kind = KindIgnored
	}

	return ev, nil
}

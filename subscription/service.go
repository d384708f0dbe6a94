package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/zllovesuki/bmc/auth"
	resp "github.com/zllovesuki/bmc/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// CheckoutAPI is the slice of Stripe's checkout session client the
// Service needs. *session.Client (client.API.CheckoutSessions) satisfies it.
type CheckoutAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// PortalAPI is the slice of Stripe's billing portal client the Service
// needs. *billingportal session.Client (client.API.BillingPortalSessions) satisfies it.
type PortalAPI interface {
	New(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

// EventApplier applies a normalized billing event to persisted state
type EventApplier interface {
	Apply(ctx context.Context, ev *Event) error
}

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	SubscriptionManager *Manager
	Normalizer          *Normalizer
	Reconciler          EventApplier
	CheckoutAPI         CheckoutAPI
	PortalAPI           PortalAPI
	SiteURL             string
	Logger              *zap.Logger
}

// Service is the subscription API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Normalizer == nil {
		return nil, fmt.Errorf("nil Normalizer is invalid")
	}
	if option.Reconciler == nil {
		return nil, fmt.Errorf("nil Reconciler is invalid")
	}
	if option.CheckoutAPI == nil {
		return nil, fmt.Errorf("nil CheckoutAPI is invalid")
	}
	if option.PortalAPI == nil {
		return nil, fmt.Errorf("nil PortalAPI is invalid")
	}
	if len(option.SiteURL) == 0 {
		return nil, fmt.Errorf("empty SiteURL is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CheckoutRequest is the model of user request for starting a checkout
type CheckoutRequest struct {
	PriceID string `json:"priceId" validate:"required"`
}

func (s *Service) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("AccountID", claims.ID))

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("priceId is required"))
		return
	}
	if len(claims.ID) == 0 || len(claims.Email) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Account id and email are required"))
		return
	}

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:    stripe.String(s.SiteURL + "/billing?success=true"),
		CancelURL:     stripe.String(s.SiteURL + "/billing?canceled=true"),
		CustomerEmail: stripe.String(claims.Email),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataAccountID: claims.ID,
			},
		},
	}
	params.AddMetadata(metadataAccountID, claims.ID)

	session, err := s.CheckoutAPI.New(params)
	if err != nil {
		logger.Error("Unable to create checkout session in Stripe",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}

	resp.WriteResponse(w, r, struct {
		SessionID string `json:"sessionId"`
	}{
		SessionID: session.ID,
	})
}

func (s *Service) createPortal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("AccountID", claims.ID))

	rec, err := s.SubscriptionManager.GetActiveByAccountID(ctx, claims.ID)
	if err != nil {
		logger.Error("Unable to query subscription records",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if rec == nil || len(rec.CustomerID) == 0 {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No active subscription found"))
		return
	}

	session, err := s.PortalAPI.New(&stripe.BillingPortalSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer:  stripe.String(rec.CustomerID),
		ReturnURL: stripe.String(s.SiteURL + "/billing"),
	})
	if err != nil {
		logger.Error("Unable to create billing portal session in Stripe",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to open billing portal"))
		return
	}

	resp.WriteResponse(w, r, struct {
		URL string `json:"url"`
	}{
		URL: session.URL,
	})
}

func (s *Service) listRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	before := r.URL.Query().Get("before")

	var parsedTime time.Time
	if before != "" {
		var err error
		parsedTime, err = time.Parse(time.RFC3339Nano, before)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid before param"))
			return
		}
	}

	results, err := s.SubscriptionManager.List(ctx, ListOption{
		AccountID: claims.ID,
		Before:    parsedTime,
		Limit:     10,
	})
	if err != nil {
		s.Logger.Error("Unable to list subscription records",
			zap.String("AccountID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, results)
}

const maxWebhookBodyBytes = 65536

// WebhookHandler returns the handler for inbound billing events. It is
// mounted outside the auth middleware: authenticity comes from the
// signature, not from a bearer token. A bad signature is rejected with
// 400 and the Reconciler is never invoked; a reconciliation failure is
// answered with 500 so the provider's redelivery can recover.
func (s *Service) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
		payload, err := ioutil.ReadAll(r.Body)
		if err != nil {
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Cannot read request body"))
			return
		}

		ev, err := s.Normalizer.Normalize(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, ErrBadSignature) {
				s.Logger.Warn("Webhook signature verification failed",
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid signature"))
				return
			}
			s.Logger.Error("Unable to parse verified webhook payload",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Malformed payload"))
			return
		}

		logger := s.Logger.With(zap.String("ExternalType", ev.ExternalType))

		if ev.Kind == KindIgnored {
			logger.Info("Ignoring unhandled event type")
			resp.WriteResponse(w, r, struct {
				Received bool `json:"received"`
			}{Received: true})
			return
		}

		if err := s.Reconciler.Apply(ctx, ev); err != nil {
			logger.Error("Unable to reconcile billing event",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Reconciliation failed"))
			return
		}

		resp.WriteResponse(w, r, struct {
			Received bool `json:"received"`
		}{Received: true})
	}
}

// Router will return the authenticated routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listRecords)
	r.Post("/checkout", s.createCheckout)
	r.Post("/portal", s.createPortal)

	return r
}

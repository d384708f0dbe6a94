package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zllovesuki/bmc/account"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionAPI is the slice of Stripe's subscription client the
// Reconciler needs. *sub.Client (client.API.Subscriptions) satisfies it.
type SubscriptionAPI interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// ReconcilerOptions contains the configuration for the Reconciler
type ReconcilerOptions struct {
	DB              *gorm.DB
	Catalog         *Catalog
	SubscriptionAPI SubscriptionAPI
	Logger          *zap.Logger
}

// Reconciler applies normalized billing events to the authoritative
// Account/Record state. Each handler runs its reads and writes in a
// single transaction so Account.Plan and the Record cannot diverge on a
// partial failure. Failures propagate to the webhook boundary, which
// decides the HTTP-level response policy.
//
// Events carry no idempotency key and no ordering guarantee; handlers
// are last-write-wins on the fields they touch, except that a cancelled
// Record is terminal.
type Reconciler struct {
	ReconcilerOptions
}

// NewReconciler returns a Reconciler applying events against the database
func NewReconciler(option ReconcilerOptions) (*Reconciler, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.SubscriptionAPI == nil {
		return nil, fmt.Errorf("nil SubscriptionAPI is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Reconciler{
		ReconcilerOptions: option,
	}, nil
}

// Apply will apply one normalized event to persisted state
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("nil Event is invalid")
	}
	switch ev.Kind {
	case KindCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, ev)
	case KindPaymentSucceeded:
		return r.applyPaymentStatus(ctx, ev, StatusActive)
	case KindPaymentFailed:
		return r.applyPaymentStatus(ctx, ev, StatusInactive)
	case KindSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, ev)
	case KindIgnored:
		return nil
	default:
		return fmt.Errorf("unhandled event kind %q", ev.Kind)
	}
}

// applyCheckoutCompleted resolves the purchased tier and records the new
// subscription. This is the only path that moves Account.Plan upward.
func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev *Event) error {
	logger := r.Logger.With(
		zap.String("ExternalType", ev.ExternalType),
		zap.String("SubscriptionID", ev.SubscriptionID),
	)

	if len(ev.AccountID) == 0 {
		// no account reference in metadata, nothing to reconcile against
		logger.Warn("Checkout completed event without account metadata")
		return nil
	}
	if len(ev.SubscriptionID) == 0 {
		logger.Warn("Checkout completed event without subscription reference")
		return nil
	}

	stripeSub, err := r.SubscriptionAPI.Get(ev.SubscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot fetch subscription details from Stripe")
	}

	var priceID string
	if stripeSub.Items != nil && len(stripeSub.Items.Data) > 0 && stripeSub.Items.Data[0].Price != nil {
		priceID = stripeSub.Items.Data[0].Price.ID
	}
	tier := r.Catalog.TierForPrice(priceID)

	customerID := ev.CustomerID
	if len(customerID) == 0 && stripeSub.Customer != nil {
		customerID = stripeSub.Customer.ID
	}

	rec := Record{
		ID:         ev.SubscriptionID,
		AccountID:  ev.AccountID,
		CustomerID: customerID,
		Plan:       tier,
		Status:     StatusActive,
		StartedAt:  time.Unix(stripeSub.StartDate, 0).UTC(),
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&account.Account{}).
			Where("id = ?", ev.AccountID).
			Update("plan", tier).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"account_id", "customer_id", "plan", "status", "started_at",
			}),
		}).Create(&rec).Error
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot reconcile checkout completion")
	}

	logger.Info("Reconciled checkout completion",
		zap.String("AccountID", ev.AccountID),
		zap.String("Plan", string(tier)),
	)
	return nil
}

// applyPaymentStatus marks the customer's Records with the given status.
// A cancelled Record is terminal and is never transitioned away.
func (r *Reconciler) applyPaymentStatus(ctx context.Context, ev *Event, status Status) error {
	logger := r.Logger.With(
		zap.String("ExternalType", ev.ExternalType),
		zap.String("CustomerID", ev.CustomerID),
	)

	if len(ev.CustomerID) == 0 {
		logger.Warn("Payment event without customer reference")
		return nil
	}

	result := r.DB.WithContext(ctx).Model(&Record{}).
		Where("customer_id = ?", ev.CustomerID).
		Where("status <> ?", StatusCancelled).
		Update("status", status)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot reconcile payment status")
	}
	if result.RowsAffected == 0 {
		logger.Warn("Payment event matched no subscription records")
	}
	return nil
}

// applySubscriptionDeleted downgrades the owning account to the free
// tier and closes the Record
func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, ev *Event) error {
	logger := r.Logger.With(
		zap.String("ExternalType", ev.ExternalType),
		zap.String("SubscriptionID", ev.SubscriptionID),
	)

	if len(ev.SubscriptionID) == 0 {
		logger.Warn("Subscription deleted event without subscription reference")
		return nil
	}

	now := ev.OccurredAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		result := tx.First(&rec, "id = ?", ev.SubscriptionID)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			logger.Warn("Subscription deleted event matched no record")
			return nil
		}
		if result.Error != nil {
			return result.Error
		}
		if err := tx.Model(&account.Account{}).
			Where("id = ?", rec.AccountID).
			Update("plan", account.PlanFree).Error; err != nil {
			return err
		}
		return tx.Model(&Record{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"status":   StatusCancelled,
				"ended_at": now,
			}).Error
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot reconcile subscription deletion")
	}
	return nil
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
)

// Outcome describes what reconciliation did with an event.
type Outcome struct {
	// Ignored is true for event kinds that carry no business effect.
	Ignored bool
	// UserIDs lists users whose access state may have changed.
	UserIDs []uint
}

// Reconciler applies an event's business effect to local state. Every write
// is a single upsert, insert or update statement.
type Reconciler struct {
	repo     Repository
	resolver *Resolver
}

// NewReconciler creates a reconciler.
func NewReconciler(repo Repository, resolver *Resolver) *Reconciler {
	return &Reconciler{repo: repo, resolver: resolver}
}

// Apply dispatches ev to its handler. Any returned error aborts the event.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) (Outcome, error) {
	switch ev.Kind {
	case EventCheckoutCompleted:
		return r.checkoutCompleted(ctx, ev)
	case EventSubscriptionUpserted:
		return r.subscriptionUpserted(ctx, ev)
	case EventSubscriptionDeleted:
		return r.subscriptionDeleted(ctx, ev)
	case EventPaymentSucceeded:
		return r.invoicePayment(ctx, ev, models.PaymentSucceeded)
	case EventPaymentFailed:
		return r.invoicePayment(ctx, ev, models.PaymentFailed)
	case EventUnknown:
		log.Infof("[Billing] Ignoring %s event %s of type %s", ev.Provider, ev.ID, ev.Type)
		return Outcome{Ignored: true}, nil
	}
	return Outcome{}, fmt.Errorf("unhandled event kind %d", ev.Kind)
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev *Event) (Outcome, error) {
	co := ev.Checkout
	if co == nil {
		return Outcome{}, fmt.Errorf("%w: checkout payload missing", ErrInvalidPayload)
	}
	if co.UserID == 0 || co.PlanID == "" {
		return Outcome{}, fmt.Errorf("%w: checkout %s lacks user_id/plan_id metadata", ErrInvalidPayload, co.SessionID)
	}

	user, err := r.repo.GetUserByID(ctx, co.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("user %d: %w", co.UserID, err)
	}
	plan, err := r.repo.GetPlan(ctx, co.PlanID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrPlanNotFound, co.PlanID)
		}
		return Outcome{}, err
	}

	if co.CustomerID != "" && ev.Provider == models.BillingProviderStripe && user.CustomerID() == "" {
		if _, err := r.repo.SetCustomerIDIfEmpty(ctx, user.ID, co.CustomerID); err != nil {
			return Outcome{}, fmt.Errorf("failed to link customer %s: %w", co.CustomerID, err)
		}
	}

	var subID *uint
	switch plan.BillingCycle {
	case models.BillingCycleLifetime:
		sub := &models.BillingSubscription{
			UserID:             user.ID,
			PlanID:             plan.ID,
			SubscriptionKey:    models.LifetimeSubscriptionKey(ev.Provider, user.ID, plan.ID),
			Provider:           ev.Provider,
			ProviderCustomerID: co.CustomerID,
			Status:             models.BillingStatusActive,
		}
		if err := r.repo.UpsertSubscription(ctx, sub); err != nil {
			return Outcome{}, fmt.Errorf("failed to upsert lifetime subscription: %w", err)
		}
		if err := r.repo.UpdateUserSubscription(ctx, user.ID, models.SubscriptionLifetime, nil); err != nil {
			return Outcome{}, fmt.Errorf("failed to grant lifetime access: %w", err)
		}
		subID = &sub.ID
	case models.BillingCycleMonthly, models.BillingCycleYearly:
		// Recurring access is granted by the subscription events. Only make
		// sure the row exists without overwriting fresher subscription state.
		if co.SubscriptionID != "" {
			providerID := co.SubscriptionID
			sub := &models.BillingSubscription{
				UserID:                 user.ID,
				PlanID:                 plan.ID,
				SubscriptionKey:        co.SubscriptionID,
				Provider:               ev.Provider,
				ProviderSubscriptionID: &providerID,
				ProviderCustomerID:     co.CustomerID,
				Status:                 models.BillingStatusActive,
			}
			if err := r.repo.InsertSubscriptionIfAbsent(ctx, sub); err != nil {
				return Outcome{}, fmt.Errorf("failed to record subscription %s: %w", co.SubscriptionID, err)
			}
			subID = &sub.ID
		}
	default:
		return Outcome{}, fmt.Errorf("%w: plan %s has cycle %q", ErrInvalidPlan, plan.ID, plan.BillingCycle)
	}

	rec := &models.PaymentRecord{
		UserID:                  user.ID,
		SubscriptionID:          subID,
		Provider:                ev.Provider,
		Amount:                  co.Amount,
		Currency:                currencyOrDefault(co.Currency),
		Status:                  models.PaymentSucceeded,
		ProviderPaymentIntentID: firstNonEmpty(co.PaymentIntentID, co.SessionID),
		Description:             fmt.Sprintf("Checkout for %s", plan.Name),
		Metadata: datatypes.JSON(metadataJSON(map[string]interface{}{
			"event_id":   ev.ID,
			"session_id": co.SessionID,
			"plan_id":    plan.ID,
		})),
	}
	if err := r.repo.CreatePaymentRecord(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("failed to record checkout payment: %w", err)
	}

	log.Infof("[Billing] Checkout %s completed for user %d plan %s", co.SessionID, user.ID, plan.ID)
	return Outcome{UserIDs: []uint{user.ID}}, nil
}

func (r *Reconciler) subscriptionUpserted(ctx context.Context, ev *Event) (Outcome, error) {
	sc := ev.Subscription
	if sc == nil {
		return Outcome{}, fmt.Errorf("%w: subscription payload missing", ErrInvalidPayload)
	}

	user, err := r.resolver.resolveUser(ctx, sc.CustomerID, sc.UserID)
	if err != nil {
		return Outcome{}, err
	}
	ref, err := r.resolver.DerivePlanFromSubscription(ctx, ev.Provider, sc)
	if err != nil {
		return Outcome{}, fmt.Errorf("subscription %s plan: %w", sc.ID, err)
	}

	providerID := sc.ID
	sub := &models.BillingSubscription{
		UserID:                 user.ID,
		PlanID:                 ref.ID,
		SubscriptionKey:        sc.ID,
		Provider:               ev.Provider,
		ProviderSubscriptionID: &providerID,
		ProviderCustomerID:     sc.CustomerID,
		Status:                 localSubscriptionStatus(sc.Status),
		CurrentPeriodStart:     sc.CurrentPeriodStart,
		CurrentPeriodEnd:       sc.CurrentPeriodEnd,
	}
	if err := r.repo.UpsertSubscription(ctx, sub); err != nil {
		return Outcome{}, fmt.Errorf("failed to upsert subscription %s: %w", sc.ID, err)
	}

	if sc.Status == ProviderStatusActive {
		if err := r.repo.UpdateUserSubscription(ctx, user.ID, ref.Status, sc.CurrentPeriodEnd); err != nil {
			return Outcome{}, fmt.Errorf("failed to update user %d access: %w", user.ID, err)
		}
	}

	log.Infof("[Billing] Subscription %s for user %d is %s (plan %s)", sc.ID, user.ID, sc.Status, ref.ID)
	return Outcome{UserIDs: []uint{user.ID}}, nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, ev *Event) (Outcome, error) {
	sc := ev.Subscription
	if sc == nil {
		return Outcome{}, fmt.Errorf("%w: subscription payload missing", ErrInvalidPayload)
	}

	sub, err := r.repo.GetSubscriptionByKey(ctx, sc.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("subscription %s: %w", sc.ID, err)
	}
	if err := r.repo.CancelSubscription(ctx, sc.ID); err != nil {
		return Outcome{}, fmt.Errorf("failed to cancel subscription %s: %w", sc.ID, err)
	}
	if err := r.repo.ClearSubscriptionOwner(ctx, sc.ID); err != nil {
		return Outcome{}, fmt.Errorf("failed to clear access for subscription %s: %w", sc.ID, err)
	}

	log.Infof("[Billing] Subscription %s canceled, user %d access cleared", sc.ID, sub.UserID)
	return Outcome{UserIDs: []uint{sub.UserID}}, nil
}

func (r *Reconciler) invoicePayment(ctx context.Context, ev *Event, status models.PaymentStatus) (Outcome, error) {
	inv := ev.Payment
	if inv == nil {
		return Outcome{}, fmt.Errorf("%w: invoice payload missing", ErrInvalidPayload)
	}

	var subID *uint
	ownerID := inv.UserID
	if inv.SubscriptionID != "" {
		sub, err := r.repo.GetSubscriptionByKey(ctx, inv.SubscriptionID)
		switch {
		case err == nil:
			subID = &sub.ID
			if ownerID == 0 {
				ownerID = sub.UserID
			}
		case !errors.Is(err, ErrNotFound):
			return Outcome{}, err
		}
	}

	// PayPal sales carry no customer; the subscription row names the owner.
	user, err := r.resolver.resolveUser(ctx, inv.CustomerID, ownerID)
	if err != nil {
		return Outcome{}, err
	}

	desc := inv.Description
	if desc == "" {
		desc = fmt.Sprintf("Invoice %s", inv.ID)
	}
	rec := &models.PaymentRecord{
		UserID:                  user.ID,
		SubscriptionID:          subID,
		Provider:                ev.Provider,
		Amount:                  inv.Amount,
		Currency:                currencyOrDefault(inv.Currency),
		Status:                  status,
		ProviderPaymentIntentID: firstNonEmpty(inv.PaymentIntentID, inv.ID),
		Description:             desc,
		Metadata: datatypes.JSON(metadataJSON(map[string]interface{}{
			"event_id":        ev.ID,
			"invoice_id":      inv.ID,
			"subscription_id": inv.SubscriptionID,
		})),
	}
	if err := r.repo.CreatePaymentRecord(ctx, rec); err != nil {
		return Outcome{}, fmt.Errorf("failed to record payment: %w", err)
	}

	if status == models.PaymentFailed && inv.SubscriptionID != "" {
		n, err := r.repo.MarkSubscriptionPastDue(ctx, inv.SubscriptionID)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to mark subscription %s past due: %w", inv.SubscriptionID, err)
		}
		if n == 0 {
			log.Warnf("[Billing] Payment failed for unknown or canceled subscription %s", inv.SubscriptionID)
		}
	}

	log.Infof("[Billing] Recorded %s payment %s for user %d", status, inv.ID, user.ID)
	return Outcome{UserIDs: []uint{user.ID}}, nil
}

func currencyOrDefault(c string) string {
	if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
		return c
	}
	return "usd"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

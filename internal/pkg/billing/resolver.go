package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// CustomerGateway creates customer records at a payment provider.
type CustomerGateway interface {
	CreateCustomer(ctx context.Context, user *models.User) (string, error)
}

// PlanRef is the outcome of mapping a provider subscription to the catalog.
// Plan is nil when the catalog has no row for the derived cycle.
type PlanRef struct {
	ID     string
	Cycle  models.BillingCycle
	Status models.SubscriptionStatus
	Plan   *models.SubscriptionPlan
}

// Resolver maps provider identifiers onto local users and plans.
type Resolver struct {
	repo      Repository
	customers CustomerGateway
}

// NewResolver creates a resolver. customers may be nil when the caller never
// needs to create provider customers (webhook processing).
func NewResolver(repo Repository, customers CustomerGateway) *Resolver {
	return &Resolver{repo: repo, customers: customers}
}

// ResolveUserByCustomerID returns the user linked to a provider customer id.
func (r *Resolver) ResolveUserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, fmt.Errorf("%w: empty customer id", ErrNotFound)
	}
	user, err := r.repo.GetUserByCustomerID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user for customer %s: %w", id, err)
	}
	return user, nil
}

// resolveUser prefers the customer link and falls back to an explicit user id
// carried in provider metadata.
func (r *Resolver) resolveUser(ctx context.Context, customerID string, userID uint) (*models.User, error) {
	if strings.TrimSpace(customerID) != "" {
		user, err := r.ResolveUserByCustomerID(ctx, customerID)
		if err == nil || !errors.Is(err, ErrNotFound) || userID == 0 {
			return user, err
		}
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: event carries neither customer nor user id", ErrNotFound)
	}
	user, err := r.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, err)
	}
	return user, nil
}

// GetOrCreateProviderCustomer returns the user's provider customer id,
// creating one on first use. When two requests race, the first stored id
// wins and the other created customer is left as an unused orphan.
func (r *Resolver) GetOrCreateProviderCustomer(ctx context.Context, user *models.User) (string, error) {
	if id := user.CustomerID(); id != "" {
		return id, nil
	}
	if r.customers == nil {
		return "", fmt.Errorf("%w: no customer gateway", ErrConfiguration)
	}

	created, err := r.customers.CreateCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	won, err := r.repo.SetCustomerIDIfEmpty(ctx, user.ID, created)
	if err != nil {
		return "", fmt.Errorf("failed to store customer id for user %d: %w", user.ID, err)
	}
	if won {
		user.ProviderCustomerID = &created
		return created, nil
	}

	stored, err := r.repo.GetUserByID(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("failed to re-read user %d: %w", user.ID, err)
	}
	winner := stored.CustomerID()
	if winner == "" {
		return "", fmt.Errorf("customer id for user %d vanished after conditional write", user.ID)
	}
	if winner != created {
		log.Warnf("[Billing] Customer %s for user %d lost the race to %s and is unused", created, user.ID, winner)
	}
	user.ProviderCustomerID = &winner
	return winner, nil
}

// DerivePlanFromSubscription maps a provider subscription to a local plan.
// Order: explicit price mapping, plan id echoed in metadata, price heuristic.
func (r *Resolver) DerivePlanFromSubscription(ctx context.Context, provider string, sub *SubscriptionChange) (*PlanRef, error) {
	var first SubscriptionItem
	if len(sub.Items) > 0 {
		first = sub.Items[0]
	}

	if first.PriceID != "" {
		m, err := r.repo.FindPlanMapping(ctx, provider, first.PriceID)
		switch {
		case err == nil:
			plan, err := r.repo.GetPlan(ctx, m.PlanID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, fmt.Errorf("%w: mapping for %s points at %s", ErrPlanNotFound, first.PriceID, m.PlanID)
				}
				return nil, err
			}
			return planRef(plan), nil
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	if sub.PlanID != "" {
		plan, err := r.repo.GetPlan(ctx, sub.PlanID)
		if err == nil && plan.BillingCycle.Recurring() {
			return planRef(plan), nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	cycle := cycleFromPrice(first.Interval, first.UnitAmount)
	plan, err := r.repo.GetPlanByCycle(ctx, cycle)
	switch {
	case err == nil:
		return planRef(plan), nil
	case errors.Is(err, ErrNotFound):
		// The cycle name doubles as the plan id when the catalog has no row.
		return &PlanRef{ID: string(cycle), Cycle: cycle, Status: cycle.SubscriptionStatus()}, nil
	default:
		return nil, err
	}
}

func planRef(plan *models.SubscriptionPlan) *PlanRef {
	return &PlanRef{
		ID:     plan.ID,
		Cycle:  plan.BillingCycle,
		Status: plan.BillingCycle.SubscriptionStatus(),
		Plan:   plan,
	}
}

// Package billing applies Stripe subscription events to the entitlement
// engine.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/store"
)

const planMetadataKey = "plan"

var (
	ErrNoPrice      = errors.New("no price configured for plan")
	ErrInvalidEvent = errors.New("invalid webhook event")
)

// PlanSetter is the part of the entitlement engine billing drives.
type PlanSetter interface {
	State() model.SubscriptionState
	UpgradePlan(plan model.Plan) error
	CancelSubscription()
}

type Persister interface {
	Load(key string, v any) (bool, error)
	Save(key string, v any) error
}

// Account links the local subscription to its Stripe records.
type Account struct {
	CustomerID     string     `json:"customer_id"`
	SubscriptionID string     `json:"subscription_id"`
	Plan           model.Plan `json:"plan"`
}

type Service struct {
	mu      sync.Mutex
	account Account
	client  *Client
	plans   PlanSetter
	kv      Persister
	logger  *slog.Logger
}

// NewService creates a billing service. kv may be nil for an in-memory service.
func NewService(client *Client, plans PlanSetter, kv Persister, logger *slog.Logger) *Service {
	return &Service{client: client, plans: plans, kv: kv, logger: logger}
}

func (s *Service) Load() error {
	if s.kv == nil {
		return nil
	}
	var acct Account
	if _, err := s.kv.Load(store.KeyBilling, &acct); err != nil {
		return fmt.Errorf("load billing account: %w", err)
	}
	s.mu.Lock()
	s.account = acct
	s.mu.Unlock()
	return nil
}

// persist caller holds s.mu.
func (s *Service) persist() {
	if s.kv == nil {
		return
	}
	if err := s.kv.Save(store.KeyBilling, s.account); err != nil {
		s.logger.Error("persist billing account", "error", err)
	}
}

func (s *Service) Account() Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Checkout starts a Stripe checkout for a paid plan.
func (s *Service) Checkout(email string, plan model.Plan) (string, error) {
	if plan == model.PlanFree || !plan.Valid() {
		return "", fmt.Errorf("%w: %q", ErrNoPrice, plan)
	}
	return s.client.CreateCheckoutSession(email, plan)
}

// HandleWebhook verifies and applies a Stripe webhook payload.
func (s *Service) HandleWebhook(payload []byte, sigHeader string) error {
	event, err := s.client.ConstructWebhookEvent(payload, sigHeader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return s.apply(event)
}

func (s *Service) apply(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.checkoutCompleted(event)
	case "invoice.paid":
		return s.invoicePaid(event)
	case "customer.subscription.deleted":
		return s.subscriptionDeleted(event)
	default:
		s.logger.Debug("ignoring webhook event", "type", event.Type)
		return nil
	}
}

func (s *Service) checkoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}
	plan := model.Plan(sess.Metadata[planMetadataKey])
	if plan == model.PlanFree || !plan.Valid() {
		return fmt.Errorf("%w: checkout %s has no plan", ErrInvalidEvent, sess.ID)
	}
	if err := s.plans.UpgradePlan(plan); err != nil {
		return err
	}

	s.mu.Lock()
	s.account.Plan = plan
	if sess.Customer != nil {
		s.account.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		s.account.SubscriptionID = sess.Subscription.ID
	}
	s.persist()
	s.mu.Unlock()

	s.logger.Info("checkout completed", "plan", plan, "session_id", sess.ID)
	return nil
}

func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

// invoicePaid renews the current plan for another billing period.
func (s *Service) invoicePaid(event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	acct := s.Account()
	if acct.SubscriptionID == "" || subscriptionIDFromInvoice(invoice) != acct.SubscriptionID {
		return nil
	}
	plan := s.plans.State().Plan
	if plan == model.PlanFree {
		plan = acct.Plan
	}
	if err := s.plans.UpgradePlan(plan); err != nil {
		return err
	}
	s.logger.Info("subscription renewed", "plan", plan, "invoice_id", invoice.ID)
	return nil
}

func (s *Service) subscriptionDeleted(event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	s.mu.Lock()
	if s.account.SubscriptionID == "" || sub.ID != s.account.SubscriptionID {
		s.mu.Unlock()
		return nil
	}
	s.account.SubscriptionID = ""
	s.account.Plan = model.PlanFree
	s.persist()
	s.mu.Unlock()

	s.plans.CancelSubscription()
	s.logger.Info("subscription deleted", "subscription_id", sub.ID)
	return nil
}

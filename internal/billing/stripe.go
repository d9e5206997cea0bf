package billing

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/earmark/internal/model"
)

type Config struct {
	SecretKey      string
	WebhookSecret  string
	ProPriceID     string
	PremiumPriceID string
	SuccessURL     string
	CancelURL      string
}

// Enabled reports whether checkout and webhooks can run.
func (c Config) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

// Client wraps the Stripe API calls the app makes.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// PriceID returns the Stripe price for a paid plan.
func (c *Client) PriceID(plan model.Plan) (string, bool) {
	var id string
	switch plan {
	case model.PlanPro:
		id = c.cfg.ProPriceID
	case model.PlanPremium:
		id = c.cfg.PremiumPriceID
	}
	return id, id != ""
}

// CreateCheckoutSession creates a subscription checkout for plan and returns
// its URL. The plan is carried in metadata so the webhook can apply it.
func (c *Client) CreateCheckoutSession(email string, plan model.Plan) (string, error) {
	priceID, ok := c.PriceID(plan)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoPrice, plan)
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata(planMetadataKey, string(plan))

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}

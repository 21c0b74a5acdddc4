package stripeapi

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
)

// Client is the provider surface this engine depends on. Everything else
// Stripe offers (checkout creation, customer portal, price catalog) lives
// outside the reconciliation boundary.
type Client interface {
	RetrieveSubscription(id string) (*stripe.Subscription, error)
	UpdateSubscriptionQuantity(id string, quantity int64) (*stripe.Subscription, error)
	CreateCustomer(email string, metadata map[string]string) (*stripe.Customer, error)
	ListCheckoutSessionsByPaymentIntent(paymentIntentID string) ([]*stripe.CheckoutSession, error)
	CreatePreviewInvoice(customerID, subscriptionID string) (*stripe.Invoice, error)
}

// apiClient wraps a stripe client.API constructed once at process start and
// passed by reference; no package-global stripe.Key anywhere.
type apiClient struct {
	api *client.API
}

func New(secretKey string) Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &apiClient{api: api}
}

func (c *apiClient) RetrieveSubscription(id string) (*stripe.Subscription, error) {
	return c.api.Subscriptions.Get(id, nil)
}

func (c *apiClient) UpdateSubscriptionQuantity(id string, quantity int64) (*stripe.Subscription, error) {
	sub, err := c.api.Subscriptions.Get(id, nil)
	if err != nil {
		return nil, err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items", id)
	}

	return c.api.Subscriptions.Update(id, &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:       stripe.String(sub.Items.Data[0].ID),
				Quantity: stripe.Int64(quantity),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	})
}

func (c *apiClient) CreateCustomer(email string, metadata map[string]string) (*stripe.Customer, error) {
	return c.api.Customers.New(&stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: metadata,
	})
}

func (c *apiClient) ListCheckoutSessionsByPaymentIntent(paymentIntentID string) ([]*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.AddExpand("data.line_items")

	var sessions []*stripe.CheckoutSession
	it := c.api.CheckoutSessions.List(params)
	for it.Next() {
		sessions = append(sessions, it.CheckoutSession())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *apiClient) CreatePreviewInvoice(customerID, subscriptionID string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceUpcomingParams{
		Customer: stripe.String(customerID),
	}
	if subscriptionID != "" {
		params.Subscription = stripe.String(subscriptionID)
	}
	return c.api.Invoices.Upcoming(params)
}

// IsNotFound reports whether err is Stripe telling us the resource is gone.
func IsNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/customer"
	"github.com/stripe/stripe-go/v83/paymentmethod"
)

// StripeClient resolves card details through the Stripe API.
type StripeClient struct{}

// NewStripeClient configures the Stripe SDK with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// DefaultCardForCustomer returns the customer's default card, falling back
// to the most recently attached card when no default is set. A customer with
// no cards on file yields nil without error.
func (c *StripeClient) DefaultCardForCustomer(ctx context.Context, customerID string) (*CardDetails, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("invoice_settings.default_payment_method")

	cust, err := customer.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve stripe customer %s: %w", customerID, err)
	}

	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		if card := cust.InvoiceSettings.DefaultPaymentMethod.Card; card != nil {
			return &CardDetails{
				Fingerprint: card.Fingerprint,
				Brand:       string(card.Brand),
				Last4:       card.Last4,
			}, nil
		}
	}

	listParams := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := paymentmethod.List(listParams)
	for iter.Next() {
		if card := iter.PaymentMethod().Card; card != nil {
			return &CardDetails{
				Fingerprint: card.Fingerprint,
				Brand:       string(card.Brand),
				Last4:       card.Last4,
			}, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payment methods for customer %s: %w", customerID, err)
	}

	return nil, nil
}

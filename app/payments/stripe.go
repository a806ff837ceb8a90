package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/models"

	log "github.com/sirupsen/logrus"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/webhook"
	"github.com/valyala/fasthttp"
)

const (
	ExternalReferenceKey = "external_reference"
	AppIDKey             = "app_id"
)

type StripeProvider struct{}

func (s *StripeProvider) Name() models.ProviderName {
	return models.StripeProviderName
}

func (s *StripeProvider) CreateCheckout(ctx context.Context, user *models.MongoUser, ref Reference) (*models.CheckoutResponse, error) {
	customerId := user.StripeCustomerId
	if customerId == "" {
		c, err := stripeCreateCustomer(user)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrProviderAuth, err)
		}
		customerId = c.ID
		if err = mongo.MongoDBClient.UpdateUserStripeCustomerId(ctx, customerId); err != nil {
			log.Errorf("Failed to persist stripe customer id for %s: %v", user.ID, err)
		}
	}

	params := &stripe.CheckoutSessionParams{
		CancelURL:         stripe.String(config.CONFIG.AppUrl + "/checkout/cancelled"),
		SuccessURL:        stripe.String(config.CONFIG.AppUrl + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		ClientReferenceID: stripe.String(user.ID),
		Customer:          stripe.String(customerId),
	}
	params.AddMetadata(ExternalReferenceKey, EncodeReference(ref))
	params.AddMetadata(AppIDKey, config.CONFIG.AppName)

	switch ref.PurchaseType {
	case models.SubscriptionPurchase:
		plan, ok := models.PlanByID(ref.ItemID)
		if !ok || plan.StripePriceId == "" {
			return nil, fmt.Errorf("%w: plan %q", models.ErrNotFound, ref.ItemID)
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(plan.StripePriceId), Quantity: stripe.Int64(1)},
		}
		// carried onto the subscription object so cancellation webhooks
		// can be correlated without a customer lookup
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				ExternalReferenceKey: EncodeReference(ref),
				AppIDKey:             config.CONFIG.AppName,
			},
		}
	case models.CreditPurchase:
		pack, ok := models.CreditPackages[ref.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: credit package %q", models.ErrNotFound, ref.ItemID)
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(pack.StripePriceId), Quantity: stripe.Int64(1)},
		}
	case models.GiftPurchase:
		gift, ok := models.GiftCatalog[ref.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: gift %q", models.ErrNotFound, ref.ItemID)
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(gift.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(gift.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		}
	}

	s2, err := session.New(params)
	if err != nil {
		log.Errorf("StripeCreateCheckout: %v", err)
		return nil, fmt.Errorf("%w: %v", models.ErrProviderAuth, err)
	}
	return &models.CheckoutResponse{URL: s2.URL, PaymentID: s2.ID}, nil
}

func stripeCreateCustomer(user *models.MongoUser) (*stripe.Customer, error) {
	name := config.CONFIG.AppName + ":" + user.ID
	if user.FullName != "" {
		name = user.FullName
	}
	params := &stripe.CustomerParams{
		Name:  stripe.String(name),
		Email: stripe.String(user.Email),
	}
	params.AddMetadata("user_id", user.ID)
	params.AddMetadata(AppIDKey, config.CONFIG.AppName)
	return customer.New(params)
}

func (s *StripeProvider) VerifyWebhook(ctx *fasthttp.RequestCtx) error {
	signatureHeaders := ctx.Request.Header.PeekAll("Stripe-Signature")
	if len(signatureHeaders) == 0 {
		return fmt.Errorf("%w: missing Stripe-Signature header", models.ErrWebhookAuth)
	}
	_, err := webhook.ConstructEvent(ctx.Request.Body(), string(signatureHeaders[0]), config.CONFIG.StripeEndpointSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWebhookAuth, err)
	}
	return nil
}

func (s *StripeProvider) ParseSettlement(body []byte) (*models.SettlementEvent, error) {
	event := stripe.Event{}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("parsing stripe event: %w", err)
	}
	config.CONFIG.DataDogClient.Incr("stripe.webhook", []string{"event_type:" + string(event.Type)}, 1)

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("parsing %s payload: %w", event.Type, err)
		}
		return stripeSessionToSettlement(&sess), nil
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("parsing %s payload: %w", event.Type, err)
		}
		if sub.Metadata[AppIDKey] != config.CONFIG.AppName && sub.Metadata[AppIDKey] != "" {
			log.Infof("Ignoring subscription %s for app %s", sub.ID, sub.Metadata[AppIDKey])
			return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
		}
		return &models.SettlementEvent{
			Provider:  models.StripeProviderName,
			PaymentID: "sub_deleted:" + sub.ID,
			Kind:      models.SettlementCancelled,
			Reference: sub.Metadata[ExternalReferenceKey],
		}, nil
	case "checkout.session.expired", "invoice.payment_succeeded", "payment_intent.succeeded", "customer.subscription.created":
		return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
	default:
		log.Warnf("Unhandled Stripe event type: %s", event.Type)
		return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
	}
}

func stripeSessionToSettlement(sess *stripe.CheckoutSession) *models.SettlementEvent {
	if sess.Metadata[AppIDKey] != config.CONFIG.AppName && sess.Metadata[AppIDKey] != "" {
		log.Infof("Ignoring checkout session %s for app %s", sess.ID, sess.Metadata[AppIDKey])
		return &models.SettlementEvent{Kind: models.SettlementIgnored}
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.Infof("Checkout session %s payment status is %s, ignoring", sess.ID, sess.PaymentStatus)
		return &models.SettlementEvent{Kind: models.SettlementIgnored}
	}
	return &models.SettlementEvent{
		Provider:    models.StripeProviderName,
		PaymentID:   sess.ID,
		Kind:        models.SettlementPaid,
		Reference:   sess.Metadata[ExternalReferenceKey],
		AmountCents: sess.AmountTotal,
	}
}

// StripePollSession is the client-driven fallback for webhook delays: the
// success-redirect page polls the session until paid. Reconciliation is
// idempotent, so racing the webhook is safe.
func StripePollSession(ctx context.Context, sessionID string) (paid bool, err error) {
	sess, err := session.Get(sessionID, nil)
	if err != nil {
		return false, fmt.Errorf("StripePollSession: %w", err)
	}
	event := stripeSessionToSettlement(sess)
	if event.Kind != models.SettlementPaid {
		return false, nil
	}
	if err := Reconcile(ctx, event); err != nil {
		return false, err
	}
	return true, nil
}

package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"gopkg.in/cenkalti/backoff.v1"
)

// PaypalProvider talks to the PayPal REST API directly: oauth token,
// order creation for one-off purchases, billing subscriptions for plans,
// and the verify-webhook-signature endpoint for listener authentication.
type PaypalProvider struct {
	httpClient *http.Client
}

func NewPaypalProvider() *PaypalProvider {
	return &PaypalProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PaypalProvider) Name() models.ProviderName {
	return models.PaypalProviderName
}

// getAccessToken is retried with exponential backoff, unlike checkout
// creation which must run at most once per invocation.
func (p *PaypalProvider) getAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(config.CONFIG.PaypalClientID + ":" + config.CONFIG.PaypalClientSecret),
	)

	var token string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			config.CONFIG.PaypalBaseURL+"/v1/oauth2/token",
			bytes.NewBufferString("grant_type=client_credentials"))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Basic "+auth)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(fmt.Errorf("paypal auth rejected: %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("paypal token endpoint: %d", resp.StatusCode)
		}

		var res struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return err
		}
		token = res.AccessToken
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrProviderAuth, err)
	}
	return token, nil
}

func (p *PaypalProvider) post(ctx context.Context, token, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal paypal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.CONFIG.PaypalBaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("paypal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("paypal error %d: %s", resp.StatusCode, string(b))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode paypal response: %w", err)
		}
	}
	return nil
}

type paypalLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

func extractLink(links []paypalLink, rel string) string {
	for _, link := range links {
		if link.Rel == rel {
			return link.Href
		}
	}
	return ""
}

func (p *PaypalProvider) CreateCheckout(ctx context.Context, user *models.MongoUser, ref Reference) (*models.CheckoutResponse, error) {
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	if ref.PurchaseType == models.SubscriptionPurchase {
		return p.createSubscription(ctx, token, ref)
	}

	var amountCents int64
	switch ref.PurchaseType {
	case models.CreditPurchase:
		pack, ok := models.CreditPackages[ref.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: credit package %q", models.ErrNotFound, ref.ItemID)
		}
		amountCents = pack.PriceCents
	case models.GiftPurchase:
		gift, ok := models.GiftCatalog[ref.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: gift %q", models.ErrNotFound, ref.ItemID)
		}
		amountCents = gift.PriceCents
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"custom_id": EncodeReference(ref),
				"amount": map[string]string{
					"currency_code": "USD",
					"value":         fmt.Sprintf("%d.%02d", amountCents/100, amountCents%100),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": config.CONFIG.AppUrl + "/checkout/success",
			"cancel_url": config.CONFIG.AppUrl + "/checkout/cancelled",
		},
	}

	var result struct {
		ID     string       `json:"id"`
		Links  []paypalLink `json:"links"`
		Status string       `json:"status"`
	}
	if err := p.post(ctx, token, "/v2/checkout/orders", payload, &result); err != nil {
		return nil, err
	}

	approveURL := extractLink(result.Links, "approve")
	if approveURL == "" {
		return nil, fmt.Errorf("paypal order %s has no approve link", result.ID)
	}
	return &models.CheckoutResponse{URL: approveURL, PaymentID: result.ID}, nil
}

func (p *PaypalProvider) createSubscription(ctx context.Context, token string, ref Reference) (*models.CheckoutResponse, error) {
	plan, ok := models.PlanByID(ref.ItemID)
	if !ok || plan.PaypalPlanId == "" {
		return nil, fmt.Errorf("%w: plan %q", models.ErrNotFound, ref.ItemID)
	}

	payload := map[string]interface{}{
		"plan_id":   plan.PaypalPlanId,
		"custom_id": EncodeReference(ref),
		"application_context": map[string]string{
			"return_url": config.CONFIG.AppUrl + "/checkout/success",
			"cancel_url": config.CONFIG.AppUrl + "/checkout/cancelled",
		},
	}

	var result struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := p.post(ctx, token, "/v1/billing/subscriptions", payload, &result); err != nil {
		return nil, err
	}

	approveURL := extractLink(result.Links, "approve")
	if approveURL == "" {
		return nil, fmt.Errorf("paypal subscription %s has no approve link", result.ID)
	}
	return &models.CheckoutResponse{URL: approveURL, PaymentID: result.ID}, nil
}

// VerifyWebhook delegates to PayPal's verify-webhook-signature endpoint,
// which checks the transmission signature against PayPal's cert chain.
func (p *PaypalProvider) VerifyWebhook(ctx *fasthttp.RequestCtx) error {
	header := func(name string) string { return string(ctx.Request.Header.Peek(name)) }
	payload := map[string]interface{}{
		"auth_algo":         header("Paypal-Auth-Algo"),
		"cert_url":          header("Paypal-Cert-Url"),
		"transmission_id":   header("Paypal-Transmission-Id"),
		"transmission_sig":  header("Paypal-Transmission-Sig"),
		"transmission_time": header("Paypal-Transmission-Time"),
		"webhook_id":        config.CONFIG.PaypalWebhookID,
		"webhook_event":     json.RawMessage(ctx.Request.Body()),
	}

	token, err := p.getAccessToken(context.Background())
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrWebhookAuth, err)
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.post(context.Background(), token, "/v1/notifications/verify-webhook-signature", payload, &result); err != nil {
		return fmt.Errorf("%w: %v", models.ErrWebhookAuth, err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification status %s", models.ErrWebhookAuth, result.VerificationStatus)
	}
	return nil
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string `json:"id"`
		CustomID string `json:"custom_id"`
		Amount   struct {
			Value string `json:"value"`
		} `json:"amount"`
	} `json:"resource"`
}

func (p *PaypalProvider) ParseSettlement(body []byte) (*models.SettlementEvent, error) {
	var event paypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode paypal webhook payload: %w", err)
	}
	config.CONFIG.DataDogClient.Incr("paypal.webhook", []string{"event_type:" + event.EventType}, 1)

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		return &models.SettlementEvent{
			Provider:    models.PaypalProviderName,
			PaymentID:   event.Resource.ID,
			Kind:        models.SettlementPaid,
			Reference:   event.Resource.CustomID,
			AmountCents: parseDollarsToCents(event.Resource.Amount.Value),
		}, nil
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		return &models.SettlementEvent{
			Provider:  models.PaypalProviderName,
			PaymentID: "sub_activated:" + event.Resource.ID,
			Kind:      models.SettlementPaid,
			Reference: event.Resource.CustomID,
		}, nil
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return &models.SettlementEvent{
			Provider:  models.PaypalProviderName,
			PaymentID: "sub_cancelled:" + event.Resource.ID,
			Kind:      models.SettlementCancelled,
			Reference: event.Resource.CustomID,
		}, nil
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		return &models.SettlementEvent{
			Provider:  models.PaypalProviderName,
			PaymentID: "sub_suspended:" + event.Resource.ID,
			Kind:      models.SettlementSuspended,
			Reference: event.Resource.CustomID,
		}, nil
	default:
		log.Infof("Ignoring PayPal event type %s", event.EventType)
		return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
	}
}

// parseDollarsToCents converts PayPal's decimal amount strings. The
// fraction is a fixed two-digit field: "10" and "10.5" mean 1000 and
// 1050 cents, not 0 and 1005.
func parseDollarsToCents(value string) int64 {
	parts := strings.SplitN(value, ".", 2)
	dollars, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0
	}
	var cents int64
	if len(parts) == 2 {
		frac := parts[1]
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0
		}
	}
	return dollars*100 + cents
}

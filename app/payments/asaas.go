package payments

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"
	"amoura/m/v2/app/util"

	qrcodegen "github.com/skip2/go-qrcode"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// AsaasProvider creates PIX charges. The checkout response is a QR
// payload rather than a redirect URL, and the initiator requires buyer
// KYC (full name + CPF) up front.
type AsaasProvider struct {
	httpClient *http.Client
}

func NewAsaasProvider() *AsaasProvider {
	return &AsaasProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *AsaasProvider) Name() models.ProviderName {
	return models.AsaasProviderName
}

func (a *AsaasProvider) request(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal asaas payload: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, config.CONFIG.AsaasBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("asaas request: %w", err)
	}
	req.Header.Set("access_token", config.CONFIG.AsaasAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("asaas request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: asaas rejected api key (%d)", models.ErrProviderAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("asaas error %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode asaas response: %w", err)
		}
	}
	return nil
}

func (a *AsaasProvider) CreateCheckout(ctx context.Context, user *models.MongoUser, ref Reference) (*models.CheckoutResponse, error) {
	if user.FullName == "" || !util.ValidCPF(user.CPF) {
		return nil, fmt.Errorf("%w: PIX requires full name and a valid CPF", models.ErrMissingBuyerInfo)
	}

	priceCents, err := priceFor(ref)
	if err != nil {
		return nil, err
	}

	var customer struct {
		ID string `json:"id"`
	}
	err = a.request(ctx, http.MethodPost, "/v3/customers", map[string]string{
		"name":              user.FullName,
		"cpfCnpj":           util.SanitizeDocument(user.CPF),
		"externalReference": user.ID,
	}, &customer)
	if err != nil {
		return nil, err
	}

	var payment struct {
		ID string `json:"id"`
	}
	err = a.request(ctx, http.MethodPost, "/v3/payments", map[string]interface{}{
		"customer":          customer.ID,
		"billingType":       "PIX",
		"value":             float64(priceCents) / 100,
		"dueDate":           time.Now().Add(24 * time.Hour).Format("2006-01-02"),
		"description":       fmt.Sprintf("Amoura %s %s", ref.PurchaseType, ref.ItemID),
		"externalReference": EncodeReference(ref),
	}, &payment)
	if err != nil {
		return nil, err
	}

	var qr struct {
		EncodedImage string `json:"encodedImage"`
		Payload      string `json:"payload"`
	}
	err = a.request(ctx, http.MethodGet, "/v3/payments/"+payment.ID+"/pixQrCode", nil, &qr)
	if err != nil {
		return nil, err
	}

	image := qr.EncodedImage
	if image == "" {
		// some sandbox responses omit the rendered image, build it from
		// the copy-paste payload
		png, genErr := qrcodegen.Encode(qr.Payload, qrcodegen.Medium, 256)
		if genErr != nil {
			log.Errorf("Failed to render PIX QR for payment %s: %v", payment.ID, genErr)
		} else {
			image = base64.StdEncoding.EncodeToString(png)
		}
	}

	return &models.CheckoutResponse{
		QRCodeImage:   image,
		CopyPasteCode: qr.Payload,
		PaymentID:     payment.ID,
	}, nil
}

func priceFor(ref Reference) (int64, error) {
	switch ref.PurchaseType {
	case models.SubscriptionPurchase:
		plan, ok := models.PlanByID(ref.ItemID)
		if !ok {
			return 0, fmt.Errorf("%w: plan %q", models.ErrNotFound, ref.ItemID)
		}
		return plan.PriceCents, nil
	case models.CreditPurchase:
		pack, ok := models.CreditPackages[ref.ItemID]
		if !ok {
			return 0, fmt.Errorf("%w: credit package %q", models.ErrNotFound, ref.ItemID)
		}
		return pack.PriceCents, nil
	case models.GiftPurchase:
		gift, ok := models.GiftCatalog[ref.ItemID]
		if !ok {
			return 0, fmt.Errorf("%w: gift %q", models.ErrNotFound, ref.ItemID)
		}
		return gift.PriceCents, nil
	}
	return 0, fmt.Errorf("%w: purchase type %q", models.ErrValidation, ref.PurchaseType)
}

// VerifyWebhook compares the shared webhook token in constant time.
func (a *AsaasProvider) VerifyWebhook(ctx *fasthttp.RequestCtx) error {
	token := ctx.Request.Header.Peek("asaas-access-token")
	expected := []byte(config.CONFIG.AsaasWebhookToken)
	if len(expected) == 0 {
		return fmt.Errorf("%w: asaas webhook token not configured", models.ErrWebhookAuth)
	}
	if subtle.ConstantTimeCompare(token, expected) != 1 {
		return fmt.Errorf("%w: asaas-access-token mismatch", models.ErrWebhookAuth)
	}
	return nil
}

type asaasWebhookEvent struct {
	Event   string `json:"event"`
	Payment struct {
		ID                string  `json:"id"`
		ExternalReference string  `json:"externalReference"`
		Value             float64 `json:"value"`
	} `json:"payment"`
}

func (a *AsaasProvider) ParseSettlement(body []byte) (*models.SettlementEvent, error) {
	var event asaasWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode asaas webhook payload: %w", err)
	}
	config.CONFIG.DataDogClient.Incr("asaas.webhook", []string{"event_type:" + event.Event}, 1)

	switch event.Event {
	case "PAYMENT_RECEIVED", "PAYMENT_CONFIRMED":
		return &models.SettlementEvent{
			Provider:    models.AsaasProviderName,
			PaymentID:   event.Payment.ID,
			Kind:        models.SettlementPaid,
			Reference:   event.Payment.ExternalReference,
			AmountCents: int64(math.Round(event.Payment.Value * 100)),
		}, nil
	case "PAYMENT_REFUNDED", "PAYMENT_OVERDUE", "PAYMENT_DELETED":
		return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
	default:
		log.Infof("Ignoring Asaas event type %s", event.Event)
		return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
	}
}

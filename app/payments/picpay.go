package payments

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"
	"amoura/m/v2/app/util"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// PicpayProvider creates hosted-checkout payments. The referenceId sent
// to PicPay is "{encodedReference}|{uuid}" so each payment stays unique
// while still round-tripping the purchase tuple; the webhook only echoes
// the referenceId back, so settlement confirms the paid status with a
// follow-up status lookup.
type PicpayProvider struct {
	httpClient *http.Client
}

func NewPicpayProvider() *PicpayProvider {
	return &PicpayProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PicpayProvider) Name() models.ProviderName {
	return models.PicpayProviderName
}

func (p *PicpayProvider) CreateCheckout(ctx context.Context, user *models.MongoUser, ref Reference) (*models.CheckoutResponse, error) {
	if user.FullName == "" || !util.ValidCPF(user.CPF) {
		return nil, fmt.Errorf("%w: PicPay requires full name and a valid CPF", models.ErrMissingBuyerInfo)
	}

	priceCents, err := priceFor(ref)
	if err != nil {
		return nil, err
	}

	firstName, lastName := splitName(user.FullName)
	referenceId := EncodeReference(ref) + "|" + uuid.NewString()
	payload := map[string]interface{}{
		"referenceId": referenceId,
		"callbackUrl": config.CONFIG.AppUrl + "/webhooks/picpay",
		"returnUrl":   config.CONFIG.AppUrl + "/checkout/success",
		"value":       fmt.Sprintf("%d.%02d", priceCents/100, priceCents%100),
		"buyer": map[string]string{
			"firstName": firstName,
			"lastName":  lastName,
			"document":  util.SanitizeDocument(user.CPF),
			"email":     user.Email,
			"phone":     user.Phone,
		},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal picpay payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.CONFIG.PicpayBaseURL+"/ecommerce/public/payments", bytes.NewBuffer(raw))
	if err != nil {
		return nil, fmt.Errorf("picpay request: %w", err)
	}
	req.Header.Set("x-picpay-token", config.CONFIG.PicpayToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("picpay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: picpay rejected token (%d)", models.ErrProviderAuth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("picpay error %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		PaymentURL string `json:"paymentUrl"`
		QRCode     struct {
			Content string `json:"content"`
			Base64  string `json:"base64"`
		} `json:"qrcode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode picpay response: %w", err)
	}

	return &models.CheckoutResponse{
		URL:           result.PaymentURL,
		QRCodeImage:   strings.TrimPrefix(result.QRCode.Base64, "data:image/png;base64,"),
		CopyPasteCode: result.QRCode.Content,
		PaymentID:     referenceId,
	}, nil
}

func splitName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// VerifyWebhook checks the x-seller-token header in constant time.
// PicPay callbacks carry no signature, the shared seller token is the
// only thing standing between the reconciler and a forged settlement.
func (p *PicpayProvider) VerifyWebhook(ctx *fasthttp.RequestCtx) error {
	token := ctx.Request.Header.Peek("x-seller-token")
	expected := []byte(config.CONFIG.PicpaySellerToken)
	if len(expected) == 0 {
		return fmt.Errorf("%w: picpay seller token not configured", models.ErrWebhookAuth)
	}
	if subtle.ConstantTimeCompare(token, expected) != 1 {
		return fmt.Errorf("%w: x-seller-token mismatch", models.ErrWebhookAuth)
	}
	return nil
}

type picpayCallback struct {
	ReferenceID     string `json:"referenceId"`
	AuthorizationID string `json:"authorizationId"`
}

func (p *PicpayProvider) ParseSettlement(body []byte) (*models.SettlementEvent, error) {
	var callback picpayCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		return nil, fmt.Errorf("decode picpay callback: %w", err)
	}
	config.CONFIG.DataDogClient.Incr("picpay.webhook", nil, 1)

	// webhook parsing has no request-scoped context, bound the lookup
	// separately from the listener's timeout
	statusCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	status, err := p.paymentStatus(statusCtx, callback.ReferenceID)
	if err != nil {
		return nil, err
	}
	reference := callback.ReferenceID
	if idx := strings.LastIndex(reference, "|"); idx > 0 {
		reference = reference[:idx]
	}

	switch status {
	case "paid", "completed":
		return &models.SettlementEvent{
			Provider:  models.PicpayProviderName,
			PaymentID: callback.ReferenceID,
			Kind:      models.SettlementPaid,
			Reference: reference,
		}, nil
	case "refunded", "chargeback":
		log.Warnf("PicPay payment %s reported %s, not applying", callback.ReferenceID, status)
		return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
	default:
		// created/expired/analysis callbacks are acked and dropped
		return &models.SettlementEvent{Kind: models.SettlementIgnored}, nil
	}
}

func (p *PicpayProvider) paymentStatus(ctx context.Context, referenceId string) (string, error) {
	// referenceIds contain "|" and must be escaped into the path
	statusURL := config.CONFIG.PicpayBaseURL + "/ecommerce/public/payments/" + url.PathEscape(referenceId) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", fmt.Errorf("picpay status request: %w", err)
	}
	req.Header.Set("x-picpay-token", config.CONFIG.PicpayToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("picpay status lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("picpay status lookup: %d", resp.StatusCode)
	}
	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode picpay status: %w", err)
	}
	return result.Status, nil
}

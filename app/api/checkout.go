package api

import (
	"encoding/json"
	"net/http"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"
	"amoura/m/v2/app/payments"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type checkoutRequest struct {
	PurchaseType string `json:"purchaseType"`
	ItemID       string `json:"itemId"`
}

// CreateCheckout handles POST /checkout/{provider}. One call creates
// exactly one provider-side payment object; ambiguous failures are
// surfaced to the client as a retry prompt, never retried here.
func CreateCheckout(ctx *fasthttp.RequestCtx) {
	providerName := models.ProviderName(ctx.UserValue("provider").(string))
	provider, ok := payments.Providers[providerName]
	if !ok {
		writeError(ctx, http.StatusNotFound, "unknown payment provider")
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		writeError(ctx, http.StatusBadRequest, "invalid request body")
		return
	}

	user, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	ref := payments.Reference{
		UserID:       user.ID,
		PurchaseType: models.PurchaseType(req.PurchaseType),
		ItemID:       req.ItemID,
	}
	if _, err := payments.ParseReference(payments.EncodeReference(ref)); err != nil {
		writeError(ctx, http.StatusBadRequest, "invalid purchase")
		return
	}

	response, err := provider.CreateCheckout(reqCtx, user, ref)
	if err != nil {
		log.Errorf("Checkout creation failed for %s via %s: %v", user.ID, providerName, err)
		config.CONFIG.DataDogClient.Incr("checkout.failure", []string{"provider:" + string(providerName)}, 1)
		writeError(ctx, statusForError(err), err.Error())
		return
	}

	config.CONFIG.DataDogClient.Incr("checkout.created", []string{
		"provider:" + string(providerName),
		"purchase_type:" + req.PurchaseType,
	}, 1)
	writeJSON(ctx, http.StatusOK, response)
}

// PollStripeSession handles GET /payments/stripe/poll?session_id=...,
// the redirect-triggered fallback while the webhook is in flight.
func PollStripeSession(ctx *fasthttp.RequestCtx) {
	sessionID := string(ctx.QueryArgs().Peek("session_id"))
	if sessionID == "" {
		writeError(ctx, http.StatusBadRequest, "missing session_id")
		return
	}

	_, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	paid, err := payments.StripePollSession(reqCtx, sessionID)
	if err != nil {
		log.Errorf("Stripe poll failed for session %s: %v", sessionID, err)
		writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
		return
	}
	writeJSON(ctx, http.StatusOK, map[string]bool{"paid": paid})
}

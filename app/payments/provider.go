package payments

import (
	"context"
	"errors"
	"net/http"

	"amoura/m/v2/app/config"
	"amoura/m/v2/app/models"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// Provider is implemented once per payment rail. CreateCheckout has the
// side effect of creating exactly one provider-side object; callers must
// not retry blindly. VerifyWebhook runs before the payload is trusted,
// ParseSettlement after.
type Provider interface {
	Name() models.ProviderName
	CreateCheckout(ctx context.Context, user *models.MongoUser, ref Reference) (*models.CheckoutResponse, error)
	VerifyWebhook(ctx *fasthttp.RequestCtx) error
	ParseSettlement(body []byte) (*models.SettlementEvent, error)
}

var Providers = map[models.ProviderName]Provider{}

func Register(p Provider) {
	Providers[p.Name()] = p
}

// WebhookHandler is the single settlement listener shared by all four
// rails: authenticate, normalize, reconcile. Status codes follow the
// retry contract — 401 terminal auth failure, 200 ack (including
// intentionally ignored kinds and malformed references), 500 only for
// persistence failures the provider should redeliver.
func WebhookHandler(p Provider) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		provider := string(p.Name())
		config.CONFIG.DataDogClient.Incr("webhook.received", []string{"provider:" + provider}, 1)

		if err := p.VerifyWebhook(ctx); err != nil {
			log.Errorf("Webhook authentication failed for %s: %v", provider, err)
			config.CONFIG.DataDogClient.Incr("webhook.auth_failure", []string{"provider:" + provider}, 1)
			SendSecurityAlert(provider, ctx.RemoteIP().String(), err)
			ctx.Response.Header.SetStatusCode(http.StatusUnauthorized)
			return
		}

		event, err := p.ParseSettlement(ctx.Request.Body())
		if err != nil {
			log.Errorf("Webhook parse failed for %s: %v", provider, err)
			ctx.Response.Header.SetStatusCode(http.StatusBadRequest)
			return
		}
		if event == nil || event.Kind == models.SettlementIgnored {
			ctx.Response.Header.SetStatusCode(http.StatusOK)
			return
		}

		err = Reconcile(context.Background(), event)
		switch {
		case err == nil:
			ctx.Response.Header.SetStatusCode(http.StatusOK)
		case errors.Is(err, models.ErrMalformedReference):
			// terminal, ack so the provider stops redelivering
			log.Errorf("Dropping settlement %s/%s: %v", provider, event.PaymentID, err)
			ctx.Response.Header.SetStatusCode(http.StatusOK)
		default:
			log.Errorf("Reconciliation failed for %s/%s, provider will retry: %v", provider, event.PaymentID, err)
			ctx.Response.Header.SetStatusCode(http.StatusInternalServerError)
		}
	}
}

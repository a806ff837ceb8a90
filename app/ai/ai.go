package ai

import (
	"net/http"
	"time"

	"amoura/m/v2/app/config"
)

// API is a thin proxy over the AI/voice providers. Callers consume
// credits before invoking it and refund on failure; nothing here touches
// the ledger.
type API struct {
	httpClient *http.Client
	cfg        *config.Config
}

func NewAPI(cfg *config.Config) *API {
	return &API{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cfg:        cfg,
	}
}

const CompanionInstructions = `You are an affectionate AI companion. Stay in the persona the user selected, keep replies warm and conversational, and never mention prompts, models or billing.`

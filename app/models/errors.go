package models

import "errors"

// Error taxonomy shared between checkout initiators, settlement listeners
// and the reconciler. Webhook handlers map these onto HTTP status codes:
// auth failures are terminal (401), malformed payloads are acked and
// dropped (200), persistence failures bubble up as 500 so the provider
// redelivers.
var (
	ErrProviderAuth       = errors.New("provider authentication failed")
	ErrWebhookAuth        = errors.New("webhook authentication failed")
	ErrMalformedReference = errors.New("malformed external reference")
	ErrMissingBuyerInfo   = errors.New("missing buyer info")
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("catalog item not found")
	ErrPersistence        = errors.New("persistence failure")
	ErrAlreadyProcessed   = errors.New("settlement already processed")
	ErrTrialExists        = errors.New("trial already started")
)

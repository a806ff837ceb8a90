package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"amoura/m/v2/app/credits"
	"amoura/m/v2/app/models"
	"amoura/m/v2/app/trial"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// GetCreditBalance handles GET /credits/balance.
func GetCreditBalance(ctx *fasthttp.RequestCtx) {
	_, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	balance, err := credits.Balance(reqCtx)
	if err != nil {
		log.Errorf("Failed to read credit balance: %v", err)
		writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
		return
	}
	writeJSON(ctx, http.StatusOK, map[string]int64{"credits": balance})
}

type consumeRequest struct {
	Amount int64 `json:"amount"`
}

// ConsumeCredits handles POST /credits/consume. Insufficient balance is a
// 200 with ok=false, the client answers it with an upsell.
func ConsumeCredits(ctx *fasthttp.RequestCtx) {
	var req consumeRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		writeError(ctx, http.StatusBadRequest, "invalid request body")
		return
	}

	_, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	consumed, err := credits.Consume(reqCtx, req.Amount)
	if err != nil {
		writeError(ctx, statusForError(err), err.Error())
		return
	}
	writeJSON(ctx, http.StatusOK, map[string]bool{"ok": consumed})
}

// GetTrialStatus handles GET /trial/status.
func GetTrialStatus(ctx *fasthttp.RequestCtx) {
	_, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	status, err := trial.GetStatus(reqCtx)
	if err != nil {
		log.Errorf("Failed to resolve trial status: %v", err)
		writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
		return
	}
	writeJSON(ctx, http.StatusOK, status)
}

// StartTrial handles POST /trial/start.
func StartTrial(ctx *fasthttp.RequestCtx) {
	_, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	started, err := trial.Start(reqCtx)
	if err != nil {
		if errors.Is(err, models.ErrTrialExists) {
			writeError(ctx, http.StatusConflict, "trial already used")
			return
		}
		log.Errorf("Failed to start trial: %v", err)
		writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
		return
	}
	writeJSON(ctx, http.StatusOK, map[string]interface{}{
		"trialEnd": started.TrialEnd,
	})
}

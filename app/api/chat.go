package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"amoura/m/v2/app/ai"
	"amoura/m/v2/app/config"
	"amoura/m/v2/app/credits"
	"amoura/m/v2/app/trial"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// AI is the proxy to the model providers, injected from main.
var AI *ai.API

// companionReply is a var so tests can swap the model call out.
var companionReply = func(ctx context.Context, persona string, history []string, message string) (string, error) {
	return AI.ChatReply(ctx, persona, history, message)
}

type chatRequest struct {
	Persona string   `json:"persona"`
	History []string `json:"history"`
	Message string   `json:"message"`
}

// entitled reports whether the user may chat without spending credits:
// an active trial or a paid plan covers text and audio messages.
func entitled(reqCtx context.Context) (bool, error) {
	status, err := trial.GetStatus(reqCtx)
	if err != nil {
		return false, err
	}
	return status.Active || status.HasPaidPlan, nil
}

// chargeFor spends credits for one gated action unless the user is
// entitled. It returns the charge id to refund with if the action fails
// downstream, "" when nothing was charged.
func chargeFor(reqCtx context.Context, cost int64) (string, bool, error) {
	covered, err := entitled(reqCtx)
	if err != nil {
		return "", false, err
	}
	if covered {
		return "", true, nil
	}
	ok, err := credits.Consume(reqCtx, cost)
	if err != nil || !ok {
		return "", ok, err
	}
	return "msg:" + uuid.NewString(), true, nil
}

func refundCharge(reqCtx context.Context, chargeID string, cost int64) {
	if chargeID == "" {
		return
	}
	if err := credits.Refund(reqCtx, chargeID, cost); err != nil {
		log.Errorf("Failed to refund charge %s: %v", chargeID, err)
	}
}

// ChatMessage handles POST /chat/message.
func ChatMessage(ctx *fasthttp.RequestCtx) {
	var req chatRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil || req.Message == "" {
		writeError(ctx, http.StatusBadRequest, "invalid request body")
		return
	}

	user, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	chargeID, allowed, err := chargeFor(reqCtx, credits.CostTextMessage)
	if err != nil {
		log.Errorf("Failed to charge %s for a message: %v", user.ID, err)
		writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
		return
	}
	if !allowed {
		writeError(ctx, http.StatusPaymentRequired, "insufficient credits")
		return
	}

	reply, err := companionReply(reqCtx, req.Persona, req.History, req.Message)
	if err != nil {
		refundCharge(reqCtx, chargeID, credits.CostTextMessage)
		log.Errorf("Chat reply failed for %s: %v", user.ID, err)
		writeError(ctx, http.StatusBadGateway, "companion is unavailable, please retry")
		return
	}

	config.CONFIG.DataDogClient.Incr("chat.message", []string{"kind:text"}, 1)
	writeJSON(ctx, http.StatusOK, map[string]string{"reply": reply})
}

// ChatAudio handles POST /chat/audio: multipart audio in, transcript plus
// a spoken reply out.
func ChatAudio(ctx *fasthttp.RequestCtx) {
	fileHeader, err := ctx.FormFile("audio")
	if err != nil {
		writeError(ctx, http.StatusBadRequest, "missing audio file")
		return
	}
	persona := string(ctx.FormValue("persona"))

	user, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	chargeID, allowed, err := chargeFor(reqCtx, credits.CostAudioMessage)
	if err != nil {
		log.Errorf("Failed to charge %s for an audio message: %v", user.ID, err)
		writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
		return
	}
	if !allowed {
		writeError(ctx, http.StatusPaymentRequired, "insufficient credits")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		refundCharge(reqCtx, chargeID, credits.CostAudioMessage)
		writeError(ctx, http.StatusBadRequest, "unreadable audio file")
		return
	}
	defer file.Close()

	transcript, err := AI.Transcribe(reqCtx, file, fileHeader.Filename)
	if err != nil {
		refundCharge(reqCtx, chargeID, credits.CostAudioMessage)
		log.Errorf("Transcription failed for %s: %v", user.ID, err)
		writeError(ctx, http.StatusBadGateway, "companion is unavailable, please retry")
		return
	}

	reply, err := companionReply(reqCtx, persona, nil, transcript)
	if err != nil {
		refundCharge(reqCtx, chargeID, credits.CostAudioMessage)
		log.Errorf("Chat reply failed for %s: %v", user.ID, err)
		writeError(ctx, http.StatusBadGateway, "companion is unavailable, please retry")
		return
	}

	speech, err := AI.CreateSpeech(reqCtx, reply)
	if err != nil {
		// the text reply already succeeded, degrade to text-only
		log.Warnf("Speech synthesis failed for %s: %v", user.ID, err)
		speech = nil
	}

	config.CONFIG.DataDogClient.Incr("chat.message", []string{"kind:audio"}, 1)
	response := map[string]string{
		"transcript": transcript,
		"reply":      reply,
	}
	if len(speech) > 0 {
		response["replyAudio"] = base64.StdEncoding.EncodeToString(speech)
	}
	writeJSON(ctx, http.StatusOK, response)
}

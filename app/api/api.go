package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"amoura/m/v2/app/lib"
	"amoura/m/v2/app/models"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// The auth gateway in front of this service verifies the session and
// injects the user identity; handlers only trust that header.
const userIDHeader = "X-User-Id"

func userContext(ctx *fasthttp.RequestCtx) (*models.MongoUser, context.Context, context.CancelFunc, bool) {
	userId := string(ctx.Request.Header.Peek(userIDHeader))
	if userId == "" {
		writeError(ctx, http.StatusUnauthorized, "missing user identity")
		return nil, nil, nil, false
	}
	user, reqCtx, cancel, err := lib.SetupUserAndContext(userId, lib.WebClientName)
	if err != nil {
		if err == lib.ErrUserBanned {
			writeError(ctx, http.StatusForbidden, "account disabled")
			return nil, nil, nil, false
		}
		log.Errorf("Failed to set up user context for %s: %v", userId, err)
		writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
		return nil, nil, nil, false
	}
	return user, reqCtx, cancel, true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.Response.Header.SetStatusCode(status)
	if err := json.NewEncoder(ctx.Response.BodyWriter()).Encode(payload); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, map[string]string{"error": message})
}

// statusForError maps the payment error taxonomy onto user-facing codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrMissingBuyerInfo), errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrProviderAuth):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

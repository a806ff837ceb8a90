package api

import (
	"encoding/json"
	"net/http"

	"amoura/m/v2/app/db/mongo"
	"amoura/m/v2/app/util"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type profileRequest struct {
	FullName  string `json:"fullName"`
	Phone     string `json:"phone"`
	CPF       string `json:"cpf"`
	AvatarURL string `json:"avatarUrl"`
}

// UpdateProfile handles POST /profile: KYC fields for the PIX initiators
// plus the avatar. Plan and credit fields are not writable here.
func UpdateProfile(ctx *fasthttp.RequestCtx) {
	var req profileRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		writeError(ctx, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CPF != "" && !util.ValidCPF(req.CPF) {
		writeError(ctx, http.StatusBadRequest, "CPF must contain 11 digits")
		return
	}

	user, reqCtx, cancel, ok := userContext(ctx)
	if !ok {
		return
	}
	defer cancel()

	if req.FullName != "" || req.Phone != "" || req.CPF != "" {
		fullName, phone, cpf := req.FullName, req.Phone, util.SanitizeDocument(req.CPF)
		if fullName == "" {
			fullName = user.FullName
		}
		if phone == "" {
			phone = user.Phone
		}
		if cpf == "" {
			cpf = user.CPF
		}
		if err := mongo.MongoDBClient.UpdateUserContacts(reqCtx, fullName, phone, cpf); err != nil {
			log.Errorf("Failed to update contacts for %s: %v", user.ID, err)
			writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
			return
		}
	}
	if req.AvatarURL != "" {
		if err := mongo.MongoDBClient.UpdateUserAvatar(reqCtx, req.AvatarURL); err != nil {
			log.Errorf("Failed to update avatar for %s: %v", user.ID, err)
			writeError(ctx, http.StatusInternalServerError, "temporary failure, please retry")
			return
		}
	}

	writeJSON(ctx, http.StatusOK, map[string]bool{"ok": true})
}

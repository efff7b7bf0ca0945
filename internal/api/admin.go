package api

import (
	"net/http"

	"github.com/HanTheDev/reqnest-engine/internal/accounts"
	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.CreateUser"

	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Tier  string `json:"tier"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		apierr.EncodeHTTP(w, err)
		return
	}

	if req.Email == "" {
		apierr.EncodeHTTP(w, apierr.New(apierr.EBadRequest, op, "email is required"))
		return
	}
	if req.Tier == "" {
		req.Tier = models.TierFree
	}
	if !accounts.ValidTier(req.Tier) {
		apierr.EncodeHTTP(w, apierr.Errorf(apierr.EBadRequest, op, "unknown tier %q", req.Tier))
		return
	}

	apiKey, err := accounts.GenerateAPIKey()
	if err != nil {
		apierr.EncodeHTTP(w, apierr.Wrap(apierr.EInternal, op, err, "failed to generate API key"))
		return
	}

	user := &models.User{
		Email:  req.Email,
		Name:   req.Name,
		APIKey: apiKey,
		Tier:   req.Tier,
	}
	if err := h.Accounts.CreateUser(r.Context(), user); err != nil {
		apierr.EncodeHTTP(w, storeError(op, err, "user"))
		return
	}

	h.log.Info("user created", zap.String("user", user.Email), zap.String("tier", user.Tier))
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	const op = "api.RotateAPIKey"
	email := mux.Vars(r)["email"]

	user, err := h.Accounts.GetUserByEmail(r.Context(), email)
	if err != nil {
		apierr.EncodeHTTP(w, storeError(op, err, "user"))
		return
	}

	newAPIKey, err := accounts.GenerateAPIKey()
	if err != nil {
		apierr.EncodeHTTP(w, apierr.Wrap(apierr.EInternal, op, err, "failed to generate API key"))
		return
	}

	if err := h.Accounts.RotateAPIKey(r.Context(), email, newAPIKey); err != nil {
		apierr.EncodeHTTP(w, storeError(op, err, "user"))
		return
	}
	h.Limiter.Forget(user.APIKey)

	writeJSON(w, http.StatusOK, map[string]string{
		"api_key": newAPIKey,
		"status":  "rotated",
	})
}

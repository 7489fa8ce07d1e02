package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

type TokenAPI struct {
	Registry dispatch.Registry
	Logger   *slog.Logger
}

func NewTokenAPI(registry dispatch.Registry, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Registry: registry,
		Logger:   logger.With("component", "TokenAPI"),
	}
}

type RegisterTokenRequest struct {
	Token    string `json:"token"`
	Gateway  string `json:"gateway"`
	DeviceID string `json:"deviceId"`
}

// Register handles PUT /tokens.
func (api *TokenAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	gateway, err := push.ParseGateway(req.Gateway)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := api.Registry.Register(ctx, userID, gateway, req.DeviceID, req.Token); err != nil {
		if errors.Is(err, push.ErrInvalidToken) || errors.Is(err, push.ErrInvalidGateway) {
			WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("failed to register token", "gateway", gateway, "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Register: Token registered", "user", userID, "gateway", gateway, "device", req.DeviceID)

	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Remove handles DELETE /tokens/{deviceId}.
func (api *TokenAPI) Remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	deviceID := chi.URLParam(r, "deviceId")
	if deviceID == "" {
		WriteJSONError(w, http.StatusBadRequest, "missing device id")
		return
	}

	removed, err := api.Registry.Remove(ctx, userID, deviceID)
	if err != nil {
		api.Logger.Warn("failed to remove device", "device", deviceID, "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// List handles GET /tokens.
func (api *TokenAPI) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := GetUserIDFromContext(ctx)
	if !ok {
		WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	set, err := api.Registry.List(ctx, userID)
	if err != nil {
		api.Logger.Error("failed to list tokens", "err", err)
		WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	WriteJSON(w, http.StatusOK, set)
}

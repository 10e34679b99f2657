package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// InstallationHandler keeps the user directory snapshot current. The external
// chat adapter calls these hooks when the app is installed or removed from a
// personal scope.
type InstallationHandler struct {
	users  repository.UserRepository
	logger zerolog.Logger
}

func NewInstallationHandler(users repository.UserRepository, logger zerolog.Logger) *InstallationHandler {
	return &InstallationHandler{
		users:  users,
		logger: logger.With().Str("handler", "installation").Logger(),
	}
}

func (h *InstallationHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var payload models.UserInstallation
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.UserID) == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := h.users.Upsert(r.Context(), payload); err != nil {
		h.logger.Error().Err(err).Str("user_id", payload.UserID).Msg("failed to upsert installation")
		http.Error(w, "Failed to record installation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *InstallationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	if err := h.users.Delete(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to delete installation")
		http.Error(w, "Failed to delete installation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

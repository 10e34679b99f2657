package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/pipeline"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// NotificationHandler is the authoring surface: draft CRUD, duplication, the
// send kick-off and read access to sent broadcasts and their per-recipient
// delivery records.
type NotificationHandler struct {
	notifications repository.NotificationRepository
	recipients    repository.RecipientRepository
	orchestrator  *pipeline.Orchestrator
	logger        zerolog.Logger
}

func NewNotificationHandler(
	notifications repository.NotificationRepository,
	recipients repository.RecipientRepository,
	orchestrator *pipeline.Orchestrator,
	logger zerolog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		recipients:    recipients,
		orchestrator:  orchestrator,
		logger:        logger.With().Str("handler", "notification").Logger(),
	}
}

type draftPayload struct {
	AllUsers      bool     `json:"all_users"`
	TeamIDs       []string `json:"team_ids"`
	RosterTeamIDs []string `json:"roster_team_ids"`
	GroupIDs      []string `json:"group_ids"`
	Title         string   `json:"title"`
	ImageLink     string   `json:"image_link"`
	Summary       string   `json:"summary"`
	Author        string   `json:"author"`
	ButtonTitle   string   `json:"button_title"`
	ButtonLink    string   `json:"button_link"`
	ChannelID     string   `json:"channel_id"`
	CreatedBy     string   `json:"created_by"`
}

func (p draftPayload) toModel(id string) models.Notification {
	return models.Notification{
		ID:            id,
		AllUsers:      p.AllUsers,
		TeamIDs:       pq.StringArray(p.TeamIDs),
		RosterTeamIDs: pq.StringArray(p.RosterTeamIDs),
		GroupIDs:      pq.StringArray(p.GroupIDs),
		Title:         p.Title,
		ImageLink:     p.ImageLink,
		Summary:       p.Summary,
		Author:        p.Author,
		ButtonTitle:   p.ButtonTitle,
		ButtonLink:    p.ButtonLink,
		ChannelID:     p.ChannelID,
		CreatedBy:     p.CreatedBy,
	}
}

func (h *NotificationHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var payload draftPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Title) == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}

	draft, err := h.notifications.CreateDraft(r.Context(), payload.toModel(uuid.NewString()))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create draft")
		http.Error(w, "Failed to create draft", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (h *NotificationHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	draftID := mux.Vars(r)["notificationID"]

	var payload draftPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	draft, err := h.notifications.UpdateDraft(r.Context(), payload.toModel(draftID))
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			http.Error(w, "Draft not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("notification_id", draftID).Msg("failed to update draft")
		http.Error(w, "Failed to update draft", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *NotificationHandler) DuplicateDraft(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["notificationID"]

	source, err := h.notifications.Get(r.Context(), sourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			http.Error(w, "Notification not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("notification_id", sourceID).Msg("failed to load notification for duplication")
		http.Error(w, "Failed to duplicate notification", http.StatusInternalServerError)
		return
	}

	copyOf := source
	copyOf.ID = uuid.NewString()
	copyOf.Title = source.Title + " (copy)"

	draft, err := h.notifications.CreateDraft(r.Context(), copyOf)
	if err != nil {
		h.logger.Error().Err(err).Str("notification_id", sourceID).Msg("failed to duplicate notification")
		http.Error(w, "Failed to duplicate notification", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (h *NotificationHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	draftID := mux.Vars(r)["notificationID"]

	if err := h.notifications.DeleteDraft(r.Context(), draftID); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			http.Error(w, "Draft not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("notification_id", draftID).Msg("failed to delete draft")
		http.Error(w, "Failed to delete draft", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.notifications.ListDrafts(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list drafts")
		http.Error(w, "Failed to list drafts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drafts": drafts})
}

// ListDraftsByChannel scopes the draft listing to one authoring channel, so
// each channel's tab only shows its own drafts.
func (h *NotificationHandler) ListDraftsByChannel(w http.ResponseWriter, r *http.Request) {
	channelID := mux.Vars(r)["channelID"]

	drafts, err := h.notifications.ListDraftsByChannel(r.Context(), channelID)
	if err != nil {
		h.logger.Error().Err(err).Str("channel_id", channelID).Msg("failed to list drafts for channel")
		http.Error(w, "Failed to list drafts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drafts": drafts})
}

// Send moves a draft into the sent partition under a freshly minted
// time-sortable id and kicks off the delivery pipeline.
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	draftID := mux.Vars(r)["notificationID"]

	sentID := newSortableID()
	notif, err := h.notifications.MoveDraftToSending(r.Context(), draftID, sentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			http.Error(w, "Draft not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("notification_id", draftID).Msg("failed to move draft to sending")
		http.Error(w, "Failed to send notification", http.StatusInternalServerError)
		return
	}

	// The send outlives the HTTP request; the sweeper resumes it if this
	// process dies mid-flight.
	go func() {
		if err := h.orchestrator.Run(context.Background(), sentID); err != nil {
			h.logger.Error().Err(err).Str("notification_id", sentID).Msg("send pipeline failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, notif)
}

func (h *NotificationHandler) ListSent(w http.ResponseWriter, r *http.Request) {
	limit := 25
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	sent, err := h.notifications.ListSent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sent notifications")
		http.Error(w, "Failed to list sent notifications", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": sent})
}

func (h *NotificationHandler) GetSent(w http.ResponseWriter, r *http.Request) {
	notifID := mux.Vars(r)["notificationID"]

	notif, err := h.notifications.Get(r.Context(), notifID)
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			http.Error(w, "Notification not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("notification_id", notifID).Msg("failed to load notification")
		http.Error(w, "Failed to load notification", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, notif)
}

func (h *NotificationHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	notifID := mux.Vars(r)["notificationID"]

	deliveries, err := h.recipients.ListByNotification(r.Context(), notifID)
	if err != nil {
		h.logger.Error().Err(err).Str("notification_id", notifID).Msg("failed to list deliveries")
		http.Error(w, "Failed to list deliveries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

// newSortableID mints a time-ordered id so sent notifications list newest
// first by primary key. Falls back to a random v4 if v7 generation fails.
func newSortableID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/repository"
)

type draftListingStub struct {
	repository.NotificationRepository
	drafts []models.Notification
}

func (s *draftListingStub) ListDraftsByChannel(ctx context.Context, channelID string) ([]models.Notification, error) {
	var out []models.Notification
	for _, d := range s.drafts {
		if d.ChannelID == channelID {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestListDraftsByChannelScopesToChannel(t *testing.T) {
	repo := &draftListingStub{drafts: []models.Notification{
		{ID: "d1", ChannelID: "ch-1", Title: "quarterly update"},
		{ID: "d2", ChannelID: "ch-2", Title: "offboarding note"},
		{ID: "d3", ChannelID: "ch-1", Title: "town hall"},
	}}
	handler := NewNotificationHandler(repo, nil, nil, zerolog.Nop())

	router := mux.NewRouter()
	router.HandleFunc("/api/notifications/channels/{channelID}/drafts", handler.ListDraftsByChannel).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/channels/ch-1/drafts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Drafts []models.Notification `json:"drafts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Drafts, 2)
	for _, d := range body.Drafts {
		assert.Equal(t, "ch-1", d.ChannelID)
	}
}

func TestListDraftsByChannelUnknownChannelIsEmpty(t *testing.T) {
	repo := &draftListingStub{drafts: []models.Notification{
		{ID: "d1", ChannelID: "ch-1", Title: "quarterly update"},
	}}
	handler := NewNotificationHandler(repo, nil, nil, zerolog.Nop())

	router := mux.NewRouter()
	router.HandleFunc("/api/notifications/channels/{channelID}/drafts", handler.ListDraftsByChannel).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/channels/ch-9/drafts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Drafts []models.Notification `json:"drafts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Empty(t, body.Drafts)
}

package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teamcast/broadcast-api/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(notif *handlers.NotificationHandler, install *handlers.InstallationHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check and metrics
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Draft authoring
	router.HandleFunc("/api/notifications/drafts", notif.CreateDraft).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/drafts", notif.ListDrafts).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/channels/{channelID}/drafts", notif.ListDraftsByChannel).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/drafts/{notificationID}", notif.UpdateDraft).Methods(http.MethodPut)
	router.HandleFunc("/api/notifications/drafts/{notificationID}", notif.DeleteDraft).Methods(http.MethodDelete)
	router.HandleFunc("/api/notifications/drafts/{notificationID}/duplicate", notif.DuplicateDraft).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/drafts/{notificationID}/send", notif.Send).Methods(http.MethodPost)

	// Sent notifications
	router.HandleFunc("/api/notifications/sent", notif.ListSent).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/sent/{notificationID}", notif.GetSent).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/sent/{notificationID}/deliveries", notif.ListDeliveries).Methods(http.MethodGet)

	// Chat adapter hooks for the user directory snapshot
	router.HandleFunc("/api/installations", install.Upsert).Methods(http.MethodPost)
	router.HandleFunc("/api/installations/{userID}", install.Delete).Methods(http.MethodDelete)

	return router
}

package models

// UserInstallation is one row of the tenant directory snapshot: a user the bot
// has a personal conversation with. Recorded by the external chat adapter when
// the app is installed; read-only input for audience resolution.
type UserInstallation struct {
	UserID         string `json:"user_id" db:"user_id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	ServiceURL     string `json:"service_url" db:"service_url"`
	TenantID       string `json:"tenant_id" db:"tenant_id"`
	UserType       string `json:"user_type" db:"user_type"`
}

// Member is a single membership entry returned by the external membership
// provider for a team roster or directory group. ConversationID may be empty
// when the user has not installed the app yet.
type Member struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	ServiceURL     string `json:"service_url,omitempty"`
}

package cards

import (
	"encoding/json"

	"github.com/teamcast/broadcast-api/internal/models"
)

const adaptiveCardSchema = "http://adaptivecards.io/schemas/adaptive-card.json"

type element struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type action struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type adaptiveCard struct {
	Schema  string    `json:"$schema"`
	Type    string    `json:"type"`
	Version string    `json:"version"`
	Body    []element `json:"body"`
	Actions []action  `json:"actions,omitempty"`
}

// Render builds the adaptive-card payload for one notification's content
// fields. Pure: same input, same card, no external state.
func Render(n models.Notification) (json.RawMessage, error) {
	card := adaptiveCard{
		Schema:  adaptiveCardSchema,
		Type:    "AdaptiveCard",
		Version: "1.2",
		Body: []element{
			{Type: "TextBlock", Text: n.Title, Size: "ExtraLarge", Weight: "Bolder", Wrap: true},
		},
	}
	if n.ImageLink != "" {
		card.Body = append(card.Body, element{Type: "Image", URL: n.ImageLink, Size: "Stretch"})
	}
	if n.Summary != "" {
		card.Body = append(card.Body, element{Type: "TextBlock", Text: n.Summary, Wrap: true})
	}
	if n.Author != "" {
		card.Body = append(card.Body, element{Type: "TextBlock", Text: n.Author, Size: "Small", Weight: "Lighter", Wrap: true})
	}
	if n.ButtonTitle != "" && n.ButtonLink != "" {
		card.Actions = append(card.Actions, action{Type: "Action.OpenUrl", Title: n.ButtonTitle, URL: n.ButtonLink})
	}
	return json.Marshal(card)
}

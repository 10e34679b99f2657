package cards

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcast/broadcast-api/internal/models"
)

func renderToMap(t *testing.T, n models.Notification) map[string]interface{} {
	t.Helper()
	raw, err := Render(n)
	require.NoError(t, err)
	var card map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &card))
	return card
}

func TestRenderTitleOnly(t *testing.T) {
	card := renderToMap(t, models.Notification{Title: "service maintenance"})

	body := card["body"].([]interface{})
	require.Len(t, body, 1)
	title := body[0].(map[string]interface{})
	assert.Equal(t, "TextBlock", title["type"])
	assert.Equal(t, "service maintenance", title["text"])
	assert.NotContains(t, card, "actions")
}

func TestRenderFullContent(t *testing.T) {
	card := renderToMap(t, models.Notification{
		Title:       "release notes",
		ImageLink:   "https://cdn/img.png",
		Summary:     "what changed this week",
		Author:      "platform team",
		ButtonTitle: "Read more",
		ButtonLink:  "https://wiki/releases",
	})

	body := card["body"].([]interface{})
	require.Len(t, body, 4)
	image := body[1].(map[string]interface{})
	assert.Equal(t, "Image", image["type"])
	assert.Equal(t, "https://cdn/img.png", image["url"])

	actions := card["actions"].([]interface{})
	require.Len(t, actions, 1)
	button := actions[0].(map[string]interface{})
	assert.Equal(t, "Action.OpenUrl", button["type"])
	assert.Equal(t, "Read more", button["title"])
	assert.Equal(t, "https://wiki/releases", button["url"])
}

func TestRenderButtonNeedsTitleAndLink(t *testing.T) {
	card := renderToMap(t, models.Notification{Title: "t", ButtonTitle: "Read more"})
	assert.NotContains(t, card, "actions", "a button without a link is dropped")

	card = renderToMap(t, models.Notification{Title: "t", ButtonLink: "https://wiki"})
	assert.NotContains(t, card, "actions", "a link without a title is dropped")
}

func TestRenderIsDeterministic(t *testing.T) {
	n := models.Notification{Title: "t", Summary: "s"}
	first, err := Render(n)
	require.NoError(t, err)
	second, err := Render(n)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

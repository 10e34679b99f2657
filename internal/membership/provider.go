package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/teamcast/broadcast-api/internal/models"
)

// Provider resolves team rosters and directory groups to their members. Calls
// may fail per id (authorization, throttling); callers isolate those failures.
type Provider interface {
	GetTeamRoster(ctx context.Context, serviceURL, teamID string) ([]models.Member, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]models.Member, error)
}

// HTTPProvider talks to the membership sidecar that fronts the chat platform's
// roster and directory APIs.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) GetTeamRoster(ctx context.Context, serviceURL, teamID string) ([]models.Member, error) {
	endpoint := fmt.Sprintf("%s/v1/teams/%s/roster?service_url=%s",
		p.baseURL, url.PathEscape(teamID), url.QueryEscape(serviceURL))
	return p.fetchMembers(ctx, endpoint)
}

func (p *HTTPProvider) GetGroupMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	endpoint := fmt.Sprintf("%s/v1/groups/%s/members", p.baseURL, url.PathEscape(groupID))
	return p.fetchMembers(ctx, endpoint)
}

func (p *HTTPProvider) fetchMembers(ctx context.Context, endpoint string) ([]models.Member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build membership request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call membership provider")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("membership provider returned %s", resp.Status)
	}

	var payload struct {
		Members []models.Member `json:"members"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode membership response")
	}
	return payload.Members, nil
}

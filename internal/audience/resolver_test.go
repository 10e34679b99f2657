package audience

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcast/broadcast-api/internal/models"
)

type fakeUserRepo struct {
	users []models.UserInstallation
	err   error
}

func (f *fakeUserRepo) List(ctx context.Context) ([]models.UserInstallation, error) {
	return f.users, f.err
}

func (f *fakeUserRepo) Upsert(ctx context.Context, user models.UserInstallation) error { return nil }
func (f *fakeUserRepo) Delete(ctx context.Context, userID string) error                { return nil }

type fakeProvider struct {
	rosters map[string][]models.Member
	groups  map[string][]models.Member
	failing map[string]bool
}

func (f *fakeProvider) GetTeamRoster(ctx context.Context, serviceURL, teamID string) ([]models.Member, error) {
	if f.failing[teamID] {
		return nil, errors.New("roster lookup forbidden")
	}
	return f.rosters[teamID], nil
}

func (f *fakeProvider) GetGroupMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	if f.failing[groupID] {
		return nil, errors.New("group lookup throttled")
	}
	return f.groups[groupID], nil
}

func newTestResolver(users *fakeUserRepo, provider *fakeProvider) *Resolver {
	return NewResolver(users, provider, zerolog.Nop())
}

func TestResolveRequiresSelector(t *testing.T) {
	resolver := newTestResolver(&fakeUserRepo{}, &fakeProvider{})

	_, err := resolver.Resolve(context.Background(), models.Notification{})
	assert.ErrorIs(t, err, ErrInvalidAudience)
}

func TestResolveAllUsersSkipsUninstalled(t *testing.T) {
	users := &fakeUserRepo{users: []models.UserInstallation{
		{UserID: "u1", ConversationID: "c1", ServiceURL: "https://svc"},
		{UserID: "u2"}, // no conversation yet
		{UserID: "u3", ConversationID: "c3", ServiceURL: "https://svc"},
	}}
	resolver := newTestResolver(users, &fakeProvider{})

	resolved, err := resolver.Resolve(context.Background(), models.Notification{AllUsers: true})
	require.NoError(t, err)

	assert.Equal(t, 2, resolved.Total())
	require.Len(t, resolved.Warnings, 1)
	assert.Contains(t, resolved.Warnings[0], "skipped 1 users")
}

func TestResolveRostersDeduplicatesAcrossTeams(t *testing.T) {
	provider := &fakeProvider{rosters: map[string][]models.Member{
		"T1": {{ID: "u1", ConversationID: "c1"}, {ID: "u2", ConversationID: "c2"}},
		"T2": {{ID: "u2", ConversationID: "c2"}, {ID: "u3", ConversationID: "c3"}},
	}}
	resolver := newTestResolver(&fakeUserRepo{}, provider)

	resolved, err := resolver.Resolve(context.Background(), models.Notification{
		RosterTeamIDs: []string{"T1", "T2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, resolved.Total())
	seen := map[string]int{}
	for _, rec := range resolved.Recipients {
		seen[rec.ID]++
	}
	for id, count := range seen {
		assert.Equalf(t, 1, count, "recipient %s appears %d times", id, count)
	}
}

func TestResolveRostersIsolatesPerTeamFailure(t *testing.T) {
	provider := &fakeProvider{
		rosters: map[string][]models.Member{
			"T1": {{ID: "u1"}},
			"T2": {{ID: "u2"}},
			"T3": {{ID: "u3"}},
		},
		failing: map[string]bool{"T2": true},
	}
	resolver := newTestResolver(&fakeUserRepo{}, provider)

	resolved, err := resolver.Resolve(context.Background(), models.Notification{
		RosterTeamIDs: []string{"T1", "T2", "T3"},
	})
	require.NoError(t, err, "one team failing must not abort the resolve")

	assert.Equal(t, 2, resolved.Total())
	require.Len(t, resolved.Warnings, 1)
	assert.Contains(t, resolved.Warnings[0], "T2")
}

func TestResolveGroupsDeduplicates(t *testing.T) {
	provider := &fakeProvider{groups: map[string][]models.Member{
		"G1": {{ID: "u1"}, {ID: "u2"}},
		"G2": {{ID: "u1"}, {ID: "u2"}},
	}}
	resolver := newTestResolver(&fakeUserRepo{}, provider)

	resolved, err := resolver.Resolve(context.Background(), models.Notification{
		GroupIDs: []string{"G1", "G2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resolved.Total())
}

func TestResolveGeneralChannelIsOnePseudoRecipient(t *testing.T) {
	// T1 has 3 roster members, but a general-channel send targets the
	// channel itself: exactly one recipient whose identity is the team id.
	provider := &fakeProvider{rosters: map[string][]models.Member{
		"T1": {{ID: "u1"}, {ID: "u2"}, {ID: "u3"}},
	}}
	resolver := newTestResolver(&fakeUserRepo{}, provider)

	resolved, err := resolver.Resolve(context.Background(), models.Notification{
		TeamIDs: []string{"T1"},
	})
	require.NoError(t, err)

	require.Equal(t, 1, resolved.Total())
	assert.Equal(t, "T1", resolved.Recipients[0].ID)
}

func TestResolveSelectorPrecedence(t *testing.T) {
	users := &fakeUserRepo{users: []models.UserInstallation{
		{UserID: "u1", ConversationID: "c1"},
	}}
	provider := &fakeProvider{rosters: map[string][]models.Member{
		"T1": {{ID: "m1"}, {ID: "m2"}},
	}}
	resolver := newTestResolver(users, provider)

	// AllUsers wins over any team selector also present.
	resolved, err := resolver.Resolve(context.Background(), models.Notification{
		AllUsers: true,
		TeamIDs:  []string{"T1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resolved.Total())
	assert.Equal(t, "u1", resolved.Recipients[0].ID)
}

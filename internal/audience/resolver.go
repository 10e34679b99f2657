package audience

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/membership"
	"github.com/teamcast/broadcast-api/internal/models"
	"github.com/teamcast/broadcast-api/internal/repository"
)

// ErrInvalidAudience means the notification carries no usable audience
// selector. This aborts the whole send.
var ErrInvalidAudience = errors.New("notification has no valid audience selector")

// Recipient is one resolved delivery target. ID is the dedup key: a stable
// directory id, or the team id for a general-channel pseudo-recipient.
type Recipient struct {
	ID             string
	ConversationID string
	ServiceURL     string
}

// ResolvedAudience is the deduplicated recipient set for one broadcast plus
// the non-fatal trouble met while building it.
type ResolvedAudience struct {
	Recipients []Recipient
	Warnings   []string
}

func (a ResolvedAudience) Total() int { return len(a.Recipients) }

type Resolver struct {
	users    repository.UserRepository
	provider membership.Provider
	logger   zerolog.Logger
}

func NewResolver(users repository.UserRepository, provider membership.Provider, logger zerolog.Logger) *Resolver {
	return &Resolver{
		users:    users,
		provider: provider,
		logger:   logger.With().Str("component", "audience_resolver").Logger(),
	}
}

// Resolve expands the notification's audience selector into a deduplicated
// recipient set. Selector precedence: all users, then team rosters, then
// groups, then team general channels. Failures scoped to a single team or
// group become warnings; an invalid selector is fatal.
func (r *Resolver) Resolve(ctx context.Context, n models.Notification) (ResolvedAudience, error) {
	switch {
	case n.AllUsers:
		return r.resolveAllUsers(ctx)
	case len(n.RosterTeamIDs) > 0:
		return r.resolveMemberships(ctx, n.RosterTeamIDs, "team", func(ctx context.Context, id string) ([]models.Member, error) {
			return r.provider.GetTeamRoster(ctx, "", id)
		})
	case len(n.GroupIDs) > 0:
		return r.resolveMemberships(ctx, n.GroupIDs, "group", r.provider.GetGroupMembers)
	case len(n.TeamIDs) > 0:
		return r.resolveGeneralChannels(n.TeamIDs), nil
	default:
		return ResolvedAudience{}, ErrInvalidAudience
	}
}

func (r *Resolver) resolveAllUsers(ctx context.Context) (ResolvedAudience, error) {
	users, err := r.users.List(ctx)
	if err != nil {
		return ResolvedAudience{}, errors.Wrap(err, "load user directory snapshot")
	}

	dedup := newDedupSet()
	skipped := 0
	for _, u := range users {
		if u.ConversationID == "" {
			// Not yet installed; nothing to deliver to.
			skipped++
			continue
		}
		dedup.add(Recipient{ID: u.UserID, ConversationID: u.ConversationID, ServiceURL: u.ServiceURL})
	}

	audience := ResolvedAudience{Recipients: dedup.recipients}
	if skipped > 0 {
		audience.Warnings = append(audience.Warnings,
			fmt.Sprintf("skipped %d users without a known conversation", skipped))
	}
	return audience, nil
}

// resolveMemberships fans out one membership lookup per id, in parallel. A
// failure for one id is recorded as a warning and that id is skipped; the
// rest of the audience still resolves.
func (r *Resolver) resolveMemberships(ctx context.Context, ids []string, kind string, fetch func(context.Context, string) ([]models.Member, error)) (ResolvedAudience, error) {
	type result struct {
		id      string
		members []models.Member
		err     error
	}

	results := make([]result, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			members, err := fetch(ctx, id)
			results[i] = result{id: id, members: members, err: err}
		}(i, id)
	}
	wg.Wait()

	dedup := newDedupSet()
	var warnings []string
	for _, res := range results {
		if res.err != nil {
			r.logger.Warn().Err(res.err).Str(kind+"_id", res.id).Msg("membership lookup failed")
			warnings = append(warnings,
				fmt.Sprintf("failed to resolve members of %s %s: %v", kind, res.id, res.err))
			continue
		}
		for _, m := range res.members {
			dedup.add(Recipient{ID: m.ID, ConversationID: m.ConversationID, ServiceURL: m.ServiceURL})
		}
	}
	return ResolvedAudience{Recipients: dedup.recipients, Warnings: warnings}, nil
}

// resolveGeneralChannels maps each team to exactly one pseudo-recipient whose
// identity is the team id: the message goes to the channel, not the members.
func (r *Resolver) resolveGeneralChannels(teamIDs []string) ResolvedAudience {
	dedup := newDedupSet()
	for _, teamID := range teamIDs {
		dedup.add(Recipient{ID: teamID})
	}
	return ResolvedAudience{Recipients: dedup.recipients}
}

// dedupSet keeps at most one recipient per identity; first occurrence wins.
type dedupSet struct {
	seen       map[string]struct{}
	recipients []Recipient
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: map[string]struct{}{}}
}

func (s *dedupSet) add(rec Recipient) {
	if _, ok := s.seen[rec.ID]; ok {
		return
	}
	s.seen[rec.ID] = struct{}{}
	s.recipients = append(s.recipients, rec)
}

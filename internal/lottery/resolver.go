package lottery

import (
	"context"
	"log/slog"
	"sort"

	"github.com/forumkit/lotteryd/internal/domain"
)

// Resolver computes the eligible participant set for a lottery from its host
// topic's reply stream. Participants are never persisted; every draw
// recomputes them.
type Resolver struct {
	topics domain.TopicReader
	users  domain.UserDirectory
	groups domain.GroupDirectory
	cfg    Config
	logger *slog.Logger
}

// NewResolver wires a Resolver.
func NewResolver(topics domain.TopicReader, users domain.UserDirectory, groups domain.GroupDirectory, cfg Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		topics: topics,
		users:  users,
		groups: groups,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "participant_resolver")),
	}
}

// Eligible returns the ordered, de-duplicated eligible participants for l.
// degraded reports that directory lookups failed and the simplified filter
// was used instead. A failed draw is worse than an imperfect one: directory
// errors degrade, only a reply-stream failure yields an empty set.
func (r *Resolver) Eligible(ctx context.Context, l *domain.Lottery) (participants []domain.Participant, degraded bool) {
	replies, err := r.topics.Replies(ctx, l.TopicID)
	if err != nil {
		r.logger.ErrorContext(ctx, "reply stream unavailable, treating as zero participants",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	basic := basicFilter(replies, l.CreatorUserID)
	if len(basic) == 0 {
		return nil, false
	}

	eligible, err := r.applyDirectoryFilters(ctx, basic)
	if err != nil {
		r.logger.WarnContext(ctx, "degraded participant resolution: directory filters skipped",
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
		return dedupeAndSort(basic), true
	}

	return dedupeAndSort(eligible), false
}

// basicFilter applies the filters that need no external lookups: drop the
// opening post, the creator's replies, and deleted or hidden replies.
func basicFilter(replies []domain.Reply, creatorID int64) []domain.Reply {
	var out []domain.Reply
	for _, rep := range replies {
		if rep.Position <= 1 {
			continue
		}
		if rep.AuthorID == creatorID {
			continue
		}
		if rep.Deleted || rep.Hidden {
			continue
		}
		out = append(out, rep)
	}
	return out
}

// applyDirectoryFilters drops replies by inactive or suspended authors and by
// members of excluded groups. Any lookup error aborts the whole pass so the
// caller can fall back to the basic filter.
func (r *Resolver) applyDirectoryFilters(ctx context.Context, replies []domain.Reply) ([]domain.Reply, error) {
	ids := make([]int64, 0, len(replies))
	seen := make(map[int64]bool, len(replies))
	for _, rep := range replies {
		if !seen[rep.AuthorID] {
			seen[rep.AuthorID] = true
			ids = append(ids, rep.AuthorID)
		}
	}

	users, err := r.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	excluded := map[int64]bool{}
	if len(r.cfg.ExcludedGroupIDs) > 0 {
		excluded, err = r.groups.MembersOf(ctx, r.cfg.ExcludedGroupIDs)
		if err != nil {
			return nil, err
		}
	}

	var out []domain.Reply
	for _, rep := range replies {
		u, ok := users[rep.AuthorID]
		if !ok || !u.Active || u.Suspended {
			continue
		}
		if excluded[rep.AuthorID] {
			continue
		}
		out = append(out, rep)
	}
	return out, nil
}

// dedupeAndSort keeps each author's earliest eligible reply and orders the
// result by participation time.
func dedupeAndSort(replies []domain.Reply) []domain.Participant {
	first := make(map[int64]domain.Reply, len(replies))
	for _, rep := range replies {
		prev, ok := first[rep.AuthorID]
		if !ok || rep.CreatedAt.Before(prev.CreatedAt) {
			first[rep.AuthorID] = rep
		}
	}

	out := make([]domain.Participant, 0, len(first))
	for _, rep := range first {
		out = append(out, domain.Participant{
			UserID:        rep.AuthorID,
			ReplyPosition: rep.Position,
			JoinedAt:      rep.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ReplyPosition < out[j].ReplyPosition
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

package discourse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/forumkit/lotteryd/internal/domain"
)

const groupMembersPageSize = 200

// Groups implements domain.GroupDirectory over the host API.
type Groups struct {
	client *Client
}

// NewGroups creates a Groups directory on the shared client.
func NewGroups(client *Client) *Groups {
	return &Groups{client: client}
}

// MembersOf returns the union of member user IDs across the given groups.
// A group that no longer exists is skipped.
func (g *Groups) MembersOf(ctx context.Context, groupIDs []int64) (map[int64]bool, error) {
	members := map[int64]bool{}
	for _, groupID := range groupIDs {
		if err := g.collectMembers(ctx, groupID, members); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				g.client.logger.WarnContext(ctx, "excluded group missing on host",
					slog.Int64("group_id", groupID))
				continue
			}
			return nil, err
		}
	}
	return members, nil
}

func (g *Groups) collectMembers(ctx context.Context, groupID int64, into map[int64]bool) error {
	// Resolve the group name first; the members endpoint is name-keyed.
	var group struct {
		Group struct {
			Name string `json:"name"`
		} `json:"group"`
	}
	if err := g.client.get(ctx, fmt.Sprintf("/groups/by-id/%d.json", groupID), &group); err != nil {
		return err
	}

	for offset := 0; ; offset += groupMembersPageSize {
		var page struct {
			Members []struct {
				ID int64 `json:"id"`
			} `json:"members"`
			Meta struct {
				Total int `json:"total"`
			} `json:"meta"`
		}
		path := fmt.Sprintf("/groups/%s/members.json?limit=%d&offset=%d",
			group.Group.Name, groupMembersPageSize, offset)
		if err := g.client.get(ctx, path, &page); err != nil {
			return err
		}

		for _, m := range page.Members {
			into[m.ID] = true
		}
		if len(page.Members) < groupMembersPageSize {
			return nil
		}
	}
}

var _ domain.GroupDirectory = (*Groups)(nil)

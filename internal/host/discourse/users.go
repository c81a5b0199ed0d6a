package discourse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/forumkit/lotteryd/internal/domain"
)

// Users implements domain.UserDirectory over the host admin API.
type Users struct {
	client *Client
}

// NewUsers creates a Users directory on the shared client.
func NewUsers(client *Client) *Users {
	return &Users{client: client}
}

type apiUser struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	Active      bool    `json:"active"`
	Suspended   bool    `json:"suspended"`
	SuspendedAt *string `json:"suspended_at"`
}

func (u apiUser) toDomain() domain.User {
	return domain.User{
		ID:        u.ID,
		Username:  u.Username,
		Active:    u.Active,
		Suspended: u.Suspended || u.SuspendedAt != nil,
	}
}

// GetUser fetches one user by ID.
func (u *Users) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var raw apiUser
	if err := u.client.get(ctx, fmt.Sprintf("/admin/users/%d.json", id), &raw); err != nil {
		return domain.User{}, err
	}
	return raw.toDomain(), nil
}

// GetUsers fetches users one by one; the host has no bulk lookup by ID.
// Missing users are left out of the result, any other failure aborts so the
// caller can fall back to degraded filtering.
func (u *Users) GetUsers(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	out := make(map[int64]domain.User, len(ids))
	for _, id := range ids {
		usr, err := u.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				u.client.logger.DebugContext(ctx, "user vanished from host", slog.Int64("user_id", id))
				continue
			}
			return nil, err
		}
		out[id] = usr
	}
	return out, nil
}

var _ domain.UserDirectory = (*Users)(nil)

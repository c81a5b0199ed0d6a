package discourse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forumkit/lotteryd/internal/domain"
)

// postStreamChunk is the largest post_ids batch /t/{id}/posts.json accepts.
const postStreamChunk = 100

// Topics implements domain.TopicReader over the host REST API.
type Topics struct {
	client *Client
}

// NewTopics creates a Topics reader on the shared client.
func NewTopics(client *Client) *Topics {
	return &Topics{client: client}
}

type apiPost struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	PostNumber  int       `json:"post_number"`
	CreatedAt   time.Time `json:"created_at"`
	UserDeleted bool      `json:"user_deleted"`
	Hidden      bool      `json:"hidden"`
	DeletedAt   *string   `json:"deleted_at"`
}

type apiTopic struct {
	ID         int64    `json:"id"`
	CategoryID int64    `json:"category_id"`
	Tags       []string `json:"tags"`
	PostStream struct {
		Posts  []apiPost `json:"posts"`
		Stream []int64   `json:"stream"`
	} `json:"post_stream"`
}

// GetTopic fetches topic metadata. The first post ID comes from the head of
// the post stream.
func (t *Topics) GetTopic(ctx context.Context, topicID int64) (domain.Topic, error) {
	var raw apiTopic
	if err := t.client.get(ctx, fmt.Sprintf("/t/%d.json", topicID), &raw); err != nil {
		return domain.Topic{}, err
	}

	topic := domain.Topic{ID: raw.ID, CategoryID: raw.CategoryID}
	if len(raw.PostStream.Stream) > 0 {
		topic.FirstPostID = raw.PostStream.Stream[0]
	} else if len(raw.PostStream.Posts) > 0 {
		topic.FirstPostID = raw.PostStream.Posts[0].ID
	}
	return topic, nil
}

// Replies fetches the full reply stream of a topic. The topic payload only
// inlines the first chunk of posts; the rest are loaded in batches by ID.
func (t *Topics) Replies(ctx context.Context, topicID int64) ([]domain.Reply, error) {
	var raw apiTopic
	if err := t.client.get(ctx, fmt.Sprintf("/t/%d.json", topicID), &raw); err != nil {
		return nil, err
	}

	loaded := make(map[int64]bool, len(raw.PostStream.Posts))
	posts := make([]apiPost, 0, len(raw.PostStream.Stream))
	for _, p := range raw.PostStream.Posts {
		loaded[p.ID] = true
		posts = append(posts, p)
	}

	var missing []int64
	for _, id := range raw.PostStream.Stream {
		if !loaded[id] {
			missing = append(missing, id)
		}
	}

	for start := 0; start < len(missing); start += postStreamChunk {
		end := start + postStreamChunk
		if end > len(missing) {
			end = len(missing)
		}
		chunk, err := t.fetchPosts(ctx, topicID, missing[start:end])
		if err != nil {
			return nil, err
		}
		posts = append(posts, chunk...)
	}

	replies := make([]domain.Reply, 0, len(posts))
	for _, p := range posts {
		replies = append(replies, domain.Reply{
			ID:        p.ID,
			AuthorID:  p.UserID,
			Position:  p.PostNumber,
			CreatedAt: p.CreatedAt,
			Deleted:   p.DeletedAt != nil || p.UserDeleted,
			Hidden:    p.Hidden,
		})
	}
	return replies, nil
}

func (t *Topics) fetchPosts(ctx context.Context, topicID int64, ids []int64) ([]apiPost, error) {
	params := make([]string, len(ids))
	for i, id := range ids {
		params[i] = "post_ids[]=" + strconv.FormatInt(id, 10)
	}

	var raw struct {
		PostStream struct {
			Posts []apiPost `json:"posts"`
		} `json:"post_stream"`
	}
	path := fmt.Sprintf("/t/%d/posts.json?%s", topicID, strings.Join(params, "&"))
	if err := t.client.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return raw.PostStream.Posts, nil
}

var _ domain.TopicReader = (*Topics)(nil)

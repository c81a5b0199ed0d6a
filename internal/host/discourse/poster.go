package discourse

import (
	"context"
	"fmt"

	"github.com/forumkit/lotteryd/internal/domain"
)

// Lifecycle tags managed by this service. ReplaceTag swaps among these and
// leaves any other tags on the topic alone.
var lifecycleTags = map[string]bool{
	"抽奖中": true,
	"已开奖": true,
	"已取消": true,
}

// Poster implements domain.Forum: announcements, private messages, tag
// changes, and post/topic moderation, all as the system API user.
type Poster struct {
	client *Client
	users  *Users
}

// NewPoster creates a Poster on the shared client.
func NewPoster(client *Client, users *Users) *Poster {
	return &Poster{client: client, users: users}
}

// PostToTopic creates a reply on the topic.
func (p *Poster) PostToTopic(ctx context.Context, topicID int64, raw string) error {
	payload := map[string]any{
		"topic_id": topicID,
		"raw":      raw,
	}
	if err := p.client.post(ctx, "/posts.json", payload, nil); err != nil {
		return fmt.Errorf("discourse: post to topic %d: %w", topicID, err)
	}
	return nil
}

// SendPrivateMessage starts a private message thread with the user. The
// messaging API is username-keyed, so the recipient is resolved first.
func (p *Poster) SendPrivateMessage(ctx context.Context, userID int64, title, raw string) error {
	user, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("discourse: resolve message recipient %d: %w", userID, err)
	}

	payload := map[string]any{
		"title":             title,
		"raw":               raw,
		"archetype":         "private_message",
		"target_recipients": user.Username,
	}
	if err := p.client.post(ctx, "/posts.json", payload, nil); err != nil {
		return fmt.Errorf("discourse: message user %s: %w", user.Username, err)
	}
	return nil
}

// ReplaceTag swaps the topic's lifecycle tag, preserving unrelated tags.
func (p *Poster) ReplaceTag(ctx context.Context, topicID int64, tag string) error {
	var raw apiTopic
	if err := p.client.get(ctx, fmt.Sprintf("/t/%d.json", topicID), &raw); err != nil {
		return fmt.Errorf("discourse: load tags for topic %d: %w", topicID, err)
	}

	tags := []string{tag}
	for _, t := range raw.Tags {
		if !lifecycleTags[t] && t != tag {
			tags = append(tags, t)
		}
	}

	payload := map[string]any{"tags": tags}
	if err := p.client.put(ctx, fmt.Sprintf("/t/-/%d.json", topicID), payload, nil); err != nil {
		return fmt.Errorf("discourse: retag topic %d: %w", topicID, err)
	}
	return nil
}

// LockPost locks a post against further edits.
func (p *Poster) LockPost(ctx context.Context, postID int64) error {
	payload := map[string]any{"locked": true}
	if err := p.client.put(ctx, fmt.Sprintf("/posts/%d/locked.json", postID), payload, nil); err != nil {
		return fmt.Errorf("discourse: lock post %d: %w", postID, err)
	}
	return nil
}

// CloseTopic closes the topic to further replies.
func (p *Poster) CloseTopic(ctx context.Context, topicID int64) error {
	payload := map[string]any{
		"status":  "closed",
		"enabled": "true",
	}
	if err := p.client.put(ctx, fmt.Sprintf("/t/%d/status.json", topicID), payload, nil); err != nil {
		return fmt.Errorf("discourse: close topic %d: %w", topicID, err)
	}
	return nil
}

var _ domain.Forum = (*Poster)(nil)

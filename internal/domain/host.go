package domain

import "context"

// TopicReader exposes read access to host forum topics.
type TopicReader interface {
	// GetTopic returns topic metadata, or ErrNotFound.
	GetTopic(ctx context.Context, topicID int64) (Topic, error)
	// Replies returns the ordered reply stream of a topic, opening post
	// included at position 1.
	Replies(ctx context.Context, topicID int64) ([]Reply, error)
}

// Topic is host topic metadata relevant to lottery prerequisites.
type Topic struct {
	ID          int64
	CategoryID  int64
	FirstPostID int64
}

// UserDirectory exposes the host user directory.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (User, error)
	GetUsers(ctx context.Context, userIDs []int64) (map[int64]User, error)
}

// GroupDirectory answers group-membership queries used by the participant
// exclusion rules.
type GroupDirectory interface {
	// MembersOf returns the union of user ids across the given groups.
	MembersOf(ctx context.Context, groupIDs []int64) (map[int64]bool, error)
}

// Forum is the write side of the host: announcement posts, private messages,
// topic tags and locks. All calls are best-effort from the engine's point of
// view; callers decide which failures are fatal.
type Forum interface {
	// PostToTopic creates a new reply on the topic as the system user.
	PostToTopic(ctx context.Context, topicID int64, raw string) error
	// SendPrivateMessage delivers a direct message to one user.
	SendPrivateMessage(ctx context.Context, userID int64, title, raw string) error
	// ReplaceTag swaps the lottery status tag on the topic.
	ReplaceTag(ctx context.Context, topicID int64, tag string) error
	// LockPost marks a post as edit-locked.
	LockPost(ctx context.Context, postID int64) error
	// CloseTopic closes the topic to further replies.
	CloseTopic(ctx context.Context, topicID int64) error
}

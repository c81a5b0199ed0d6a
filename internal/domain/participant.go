package domain

import "time"

// Reply is one entry in a topic's reply stream as supplied by the host forum.
// Position 1 is the opening post.
type Reply struct {
	ID        int64
	AuthorID  int64
	Position  int
	CreatedAt time.Time
	Deleted   bool
	Hidden    bool
}

// Participant is a distinct reply author eligible for a draw. It is derived
// from the reply stream at draw time and never persisted.
type Participant struct {
	UserID        int64
	ReplyPosition int       // position of the author's first eligible reply
	JoinedAt      time.Time // created time of that reply
}

// User is the subset of the host user directory the engine cares about.
type User struct {
	ID        int64
	Username  string
	Active    bool
	Suspended bool
}

package lottery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/forumkit/lotteryd/internal/domain"
)

// Real-time event types published on the topic channel.
const (
	EventCreated    = "lottery_created"
	EventUpdated    = "lottery_updated"
	EventCompleted  = "lottery_completed"
	EventCancelled  = "lottery_cancelled"
	EventPostLocked = "lottery_post_locked"
)

// TopicChannel returns the signal-bus channel for a topic's lottery events.
func TopicChannel(topicID int64) string {
	return fmt.Sprintf("lottery:topic:%d", topicID)
}

// event is the wire shape of a real-time lottery event.
type event struct {
	Type      string `json:"type"`
	LotteryID int64  `json:"lottery_id"`
	TopicID   int64  `json:"topic_id"`
	Status    string `json:"status,omitempty"`
}

// publishEvent sends a lottery event on the topic channel. Publish failures
// are logged and swallowed: real-time updates are best-effort.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, typ string, l *domain.Lottery) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(event{
		Type:      typ,
		LotteryID: l.ID,
		TopicID:   l.TopicID,
		Status:    string(l.Status),
	})
	if err != nil {
		return
	}
	if err := bus.Publish(ctx, TopicChannel(l.TopicID), payload); err != nil {
		logger.WarnContext(ctx, "lottery: event publish failed",
			slog.String("event", typ),
			slog.Int64("lottery_id", l.ID),
			slog.String("error", err.Error()),
		)
	}
}

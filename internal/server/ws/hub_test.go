package ws

import (
	"testing"

	"github.com/forumkit/lotteryd/internal/lottery"
)

func TestClientSubscriptionMatching(t *testing.T) {
	c := &client{subs: map[string]bool{}}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"lottery:topic:*"}})
	if !c.isSubscribed("lottery:topic:42") {
		t.Error("wildcard subscription did not match topic channel")
	}
	if !c.isSubscribed("lottery:topic:9001") {
		t.Error("wildcard subscription did not match other topic channel")
	}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"lottery:topic:*"}})
	if c.isSubscribed("lottery:topic:42") {
		t.Error("still subscribed after unsubscribe")
	}
}

func TestClientSubscribesByTopicID(t *testing.T) {
	c := &client{subs: map[string]bool{}}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Topics: []int64{42}})
	if !c.isSubscribed(lottery.TopicChannel(42)) {
		t.Error("topic subscription did not match its channel")
	}
	if c.isSubscribed(lottery.TopicChannel(43)) {
		t.Error("subscription leaked to another topic")
	}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Topics: []int64{42}})
	if c.isSubscribed(lottery.TopicChannel(42)) {
		t.Error("still subscribed after topic unsubscribe")
	}
}

package rbac

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// RoleMembershipChanged is emitted after a committed change to a user's roles.
type RoleMembershipChanged struct {
	EventID string    `json:"event_id"`
	UserID  int64     `json:"user_id"`
	Added   []int64   `json:"added,omitempty"`
	Removed []int64   `json:"removed,omitempty"`
	At      time.Time `json:"at"`
}

// EventPublisher delivers role membership events.
type EventPublisher interface {
	PublishRoleMembershipChanged(ctx context.Context, evt RoleMembershipChanged) error
}

// MessageSender writes one keyed message to a broker topic.
type MessageSender interface {
	Send(ctx context.Context, key, value []byte) error
}

// BrokerPublisher encodes events as JSON keyed by user id, so every change
// for one user lands on the same partition.
type BrokerPublisher struct {
	sender MessageSender
}

// NewBrokerPublisher wraps a broker sender.
func NewBrokerPublisher(sender MessageSender) *BrokerPublisher {
	return &BrokerPublisher{sender: sender}
}

// PublishRoleMembershipChanged implements EventPublisher.
func (p *BrokerPublisher) PublishRoleMembershipChanged(ctx context.Context, evt RoleMembershipChanged) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.sender.Send(ctx, []byte(strconv.FormatInt(evt.UserID, 10)), body)
}

type noopPublisher struct{}

func (noopPublisher) PublishRoleMembershipChanged(context.Context, RoleMembershipChanged) error {
	return nil
}

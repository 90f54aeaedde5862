package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	key, value []byte
	err        error
}

func (s *fakeSender) Send(ctx context.Context, key, value []byte) error {
	s.key, s.value = key, value
	return s.err
}

func TestBrokerPublisherKeysByUser(t *testing.T) {
	sender := &fakeSender{}
	pub := NewBrokerPublisher(sender)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := pub.PublishRoleMembershipChanged(context.Background(), RoleMembershipChanged{
		EventID: "evt-1",
		UserID:  42,
		Added:   []int64{3},
		At:      at,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", string(sender.key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(sender.value, &decoded))
	assert.Equal(t, "evt-1", decoded["event_id"])
	assert.EqualValues(t, 42, decoded["user_id"])
	assert.Equal(t, []any{float64(3)}, decoded["added"])
	assert.NotContains(t, decoded, "removed")
	assert.Equal(t, "2024-05-01T10:00:00Z", decoded["at"])
}

func TestBrokerPublisherReturnsSendError(t *testing.T) {
	boom := errors.New("leader not available")
	pub := NewBrokerPublisher(&fakeSender{err: boom})

	err := pub.PublishRoleMembershipChanged(context.Background(), RoleMembershipChanged{UserID: 1})
	assert.ErrorIs(t, err, boom)
}

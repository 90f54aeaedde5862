package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestProducer(w messageWriter) *Producer {
	return &Producer{l: slog.New(slog.NewTextHandler(io.Discard, nil)), w: w, topic: "portal.roles"}
}

func TestProducerSendWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.Send(context.Background(), []byte("42"), []byte(`{"user_id":42}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"user_id":42}`, string(w.msgs[0].Value))

	p.Close()
	assert.True(t, w.closed)
}

func TestProducerSendWrapsWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := newTestProducer(&fakeWriter{err: boom})

	err := p.Send(context.Background(), []byte("1"), []byte("{}"))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "portal.roles")
}

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInMemoryDispatcher_DeliversToSubscribers(t *testing.T) {
	d := NewInMemoryDispatcher(zaptest.NewLogger(t))

	var got []string
	d.Subscribe(EventUserRegistered, func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.ID)
		return errors.New("boom")
	})
	d.Subscribe(EventUserRegistered, func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.ID)
		return nil
	})
	d.Subscribe(EventUserDeleted, func(context.Context, Event) error {
		t.Fatal("unrelated handler invoked")
		return nil
	})

	event := New(EventUserRegistered, 7, UserRegisteredPayload{Email: "a@x.com"})
	require.NoError(t, d.Publish(context.Background(), event))

	assert.Equal(t, []string{"first:" + event.ID, "second:" + event.ID}, got)
	assert.Equal(t, int64(7), event.UserID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestInMemoryDispatcher_NoSubscribers(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	require.NoError(t, d.Publish(context.Background(), New(EventPasswordChanged, 1, nil)))
}

package bus

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New[int](quietLogger())

	var order []string
	b.Subscribe(func(int) { order = append(order, "first") })
	b.Subscribe(func(int) { order = append(order, "second") })
	b.Subscribe(func(int) { order = append(order, "third") })

	b.Publish(1)

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublishDeliversToAll(t *testing.T) {
	b := New[string](quietLogger())

	var got []string
	b.Subscribe(func(s string) { got = append(got, s) })
	b.Subscribe(func(s string) { got = append(got, s) })

	b.Publish("ping")
	b.Publish("pong")

	assert.Equal(t, []string{"ping", "ping", "pong", "pong"}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New[int](quietLogger())

	calls := 0
	token := b.Subscribe(func(int) { calls++ })
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish(1)
	b.Unsubscribe(token)
	b.Publish(2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestUnsubscribeUnknownTokenIsNoop(t *testing.T) {
	b := New[int](quietLogger())
	b.Subscribe(func(int) {})

	b.Unsubscribe(Token("no-such-token"))

	assert.Equal(t, 1, b.SubscriberCount())
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New[int](quietLogger())

	var got []int
	b.Subscribe(func(int) { panic("subscriber bug") })
	b.Subscribe(func(v int) { got = append(got, v) })

	require.NotPanics(t, func() { b.Publish(42) })

	assert.Equal(t, []int{42}, got, "later subscribers still receive the event")
}

func TestRecentReplaysBufferedEvents(t *testing.T) {
	b := New[int](quietLogger())

	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	assert.Equal(t, []int{1, 2, 3}, b.Recent())
	assert.Empty(t, b.Recent(), "the replay buffer drains on read")
}

func TestRecentOverwritesOldestWhenFull(t *testing.T) {
	b := New[int](quietLogger())

	total := DefaultReplayCapacity + 8
	for i := 0; i < total; i++ {
		b.Publish(i)
	}

	recent := b.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, total-1, recent[len(recent)-1], "newest event is always retained")
	assert.LessOrEqual(t, len(recent), DefaultReplayCapacity)
}

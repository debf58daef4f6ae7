package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, NewEvent(BatchStarted, "b", nil)))
	require.NoError(t, r.Publish(ctx, NewEvent(Pruned, "b", map[string]any{"racing": []int{0}})))
	require.NoError(t, r.Publish(ctx, NewEvent(BatchFinished, "b", nil)))

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, BatchStarted, events[0].Type)
	assert.False(t, events[0].Time.IsZero())
	assert.Len(t, r.OfType(Pruned), 1)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Publish(context.Background(), NewEvent(BatchStarted, "b", nil)))
	assert.NoError(t, n.Close())
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), "://bad", DialOptions{})
	assert.Error(t, err)
}

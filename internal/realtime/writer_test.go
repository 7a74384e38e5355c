package realtime

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/logger"
)

func TestWriter_RunsTasksInOrder(t *testing.T) {
	w := NewWriter(logger.Discard(), 16, time.Second)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, w.Enqueue("op", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestWriter_DropsWhenQueueFull(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(logger.NewWithWriter(&buf, "debug", "text"), 1, time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, w.Enqueue("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.True(t, w.Enqueue("queued", func(context.Context) error { return nil }))
	assert.False(t, w.Enqueue("dropped", func(context.Context) error { return nil }, "user_id", "u1"))

	close(release)
	require.NoError(t, w.Close(context.Background()))
	assert.Contains(t, buf.String(), "Persistence queue full")
	assert.Contains(t, buf.String(), "op=dropped")
}

func TestWriter_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(logger.NewWithWriter(&buf, "debug", "text"), 4, time.Second)

	ran := false
	w.Enqueue("set_online", func(context.Context) error { return errors.New("db down") }, "user_id", "u1")
	w.Enqueue("after", func(context.Context) error { ran = true; return nil })
	require.NoError(t, w.Close(context.Background()))

	assert.True(t, ran, "a failed write must not stop later writes")
	assert.Contains(t, buf.String(), "Persistence write failed")
	assert.Contains(t, buf.String(), "db down")
}

func TestWriter_AppliesTimeout(t *testing.T) {
	w := NewWriter(logger.Discard(), 4, 20*time.Millisecond)

	var deadline bool
	w.Enqueue("slow", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, w.Close(context.Background()))
	assert.True(t, deadline)
}

func TestWriter_RejectsAfterClose(t *testing.T) {
	w := NewWriter(logger.Discard(), 4, time.Second)
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	assert.False(t, w.Enqueue("late", func(context.Context) error { return nil }))
}

func TestWriter_CloseHonoursContext(t *testing.T) {
	w := NewWriter(logger.Discard(), 4, time.Second)
	release := make(chan struct{})
	defer close(release)
	w.Enqueue("block", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Close(ctx), context.DeadlineExceeded)
}

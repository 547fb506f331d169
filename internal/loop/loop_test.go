package loop

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManualFiresTimersInOrder(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	m := NewManual()
	var fired []string
	m.AfterFunc(4*time.Second, func() { fired = append(fired, "b") })
	m.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	m.AfterFunc(4*time.Second, func() { fired = append(fired, "c") })
	stopped := m.AfterFunc(2*time.Second, func() { fired = append(fired, "stopped") })
	assert.True(stopped.Stop())
	assert.False(stopped.Stop())

	start := m.Now()
	m.Advance(3 * time.Second)
	assert.Equal([]string{"a"}, fired)
	assert.Equal(2, m.Pending())

	m.Advance(time.Second)
	assert.Equal([]string{"a", "b", "c"}, fired)
	assert.Equal(0, m.Pending())
	assert.Equal(4*time.Second, m.Now().Sub(start))
}

func TestManualTimerScheduledFromTimer(t *testing.T) {
	t.Parallel()

	m := NewManual()
	count := 0
	m.AfterFunc(time.Second, func() {
		count++
		m.AfterFunc(time.Second, func() { count++ })
	})
	m.Advance(2 * time.Second)
	assert.Equal(t, 2, count)
}

func TestReactorTimerPostsToLoop(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := clock.NewMock()
	r := NewReactor(ctx, zaptest.NewLogger(t), mock, 2)
	defer r.Stop()

	ran := make(chan struct{})
	r.AfterFunc(time.Second, func() { close(ran) })
	mock.Add(time.Second)

	select {
	case task := <-r.Tasks():
		r.Exec("timer", task)
	case <-time.After(time.Second):
		require.Fail("timer task was not posted")
	}

	select {
	case <-ran:
	default:
		require.Fail("timer task did not run")
	}
}

func TestReactorBackgroundTaskRecovers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReactor(ctx, zaptest.NewLogger(t), nil, 1)
	done := make(chan struct{})
	r.Go(func(context.Context) { panic("boom") })
	r.Go(func(ctx context.Context) {
		r.Post(func() { close(done) })
	})

	select {
	case task := <-r.Tasks():
		r.Exec("continuation", task)
	case <-time.After(time.Second):
		t.Fatal("continuation was not posted")
	}
	<-done

	r.Stop()
	// Submitting after stop must not panic.
	r.Go(func(context.Context) {})
}

func TestReactorExecRecovers(t *testing.T) {
	t.Parallel()

	r := NewReactor(context.Background(), zaptest.NewLogger(t), nil, 1)
	defer r.Stop()

	assert.NotPanics(t, func() {
		r.Exec("panicking", func() { panic("handler failure") })
	})
}

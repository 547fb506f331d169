package loop

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Manual is a deterministic Loop for tests: posted and background work runs
// inline and timers only fire when the clock is advanced.
type Manual struct {
	Clock *clock.Mock

	mu     sync.Mutex
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	owner   *Manual
	when    time.Time
	seq     int
	fn      func()
	fired   bool
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a manual loop whose clock starts at a fixed instant.
func NewManual() *Manual {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))
	return &Manual{
		Clock: mock,
	}
}

func (m *Manual) Post(fn func()) {
	fn()
}

func (m *Manual) Go(task func(ctx context.Context)) {
	task(context.Background())
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{
		owner: m,
		when:  m.Clock.Now().Add(d),
		seq:   m.seq,
		fn:    fn,
	}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Now() time.Time {
	return m.Clock.Now()
}

// Advance moves the clock forward by d, firing every due timer in order.
func (m *Manual) Advance(d time.Duration) {
	target := m.Clock.Now().Add(d)
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.Clock.Set(t.when)
		t.fn()
	}
	m.Clock.Set(target)
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.timers {
		if !t.fired && !t.stopped {
			count++
		}
	}
	return count
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].when.Equal(m.timers[j].when) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].when.Before(m.timers[j].when)
	})
	for _, t := range m.timers {
		if t.fired || t.stopped {
			continue
		}
		if t.when.After(target) {
			return nil
		}
		t.fired = true
		return t
	}
	return nil
}

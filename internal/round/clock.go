package round

import (
	"sync"
	"time"
)

const (
	StandardDuration = 240 * time.Second
	LearningDuration = 1200 * time.Second
)

// Clock counts down a round's trading phase. Expired is closed exactly once,
// either when the deadline passes or when Stop is called.
type Clock struct {
	duration time.Duration
	now      func() time.Time

	mu       sync.Mutex
	deadline time.Time
	timer    *time.Timer
	expired  chan struct{}
	once     sync.Once
}

// NewClock creates a stopped clock. now may be nil to use time.Now.
func NewClock(duration time.Duration, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{
		duration: duration,
		now:      now,
		expired:  make(chan struct{}),
	}
}

// Start arms the timer and returns the deadline. Calling it again returns the
// existing deadline.
func (c *Clock) Start() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		return c.deadline
	}
	c.deadline = c.now().Add(c.duration)
	c.timer = time.AfterFunc(c.duration, c.expire)
	return c.deadline
}

func (c *Clock) expire() {
	c.once.Do(func() { close(c.expired) })
}

func (c *Clock) Expired() <-chan struct{} {
	return c.expired
}

func (c *Clock) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// Remaining is the time left before the deadline, never negative
func (c *Clock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return c.duration
	}
	if d := c.deadline.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

// Stop ends the countdown early
func (c *Clock) Stop() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	c.expire()
}

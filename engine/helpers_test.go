package engine

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/ramory-l/sioclient/internal/siotest"
	"github.com/rs/zerolog"
)

const waitTimeout = 5 * time.Second

type fakeTask struct {
	delay   time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTask) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTask) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeScheduler records scheduled callbacks; tests fire them by hand.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*fakeTask
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &fakeTask{delay: d, f: f}
	s.tasks = append(s.tasks, task)
	return task
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.delay)
	}
	return out
}

// runLast fires the most recently scheduled callback on the test goroutine.
func (s *fakeScheduler) runLast(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		t.Fatalf("no scheduled task")
	}
	task := s.tasks[len(s.tasks)-1]
	s.mu.Unlock()

	if task.isStopped() {
		t.Fatalf("last task was cancelled")
	}
	task.f()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSubscriber struct {
	notifications chan Notification
}

func (s *recordingSubscriber) Publish(n Notification) {
	s.notifications <- n
}

func (s *recordingSubscriber) next(t *testing.T) Notification {
	t.Helper()
	select {
	case n := <-s.notifications:
		return n
	case <-time.After(waitTimeout):
		t.Fatalf("no notification within %v", waitTimeout)
		return Notification{}
	}
}

type fakeRegistry struct {
	mu      sync.Mutex
	subs    map[string]*recordingSubscriber
	removed []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{subs: make(map[string]*recordingSubscriber)}
}

func (r *fakeRegistry) subscribe(uri string) *recordingSubscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := &recordingSubscriber{notifications: make(chan Notification, 16)}
	r.subs[uri] = sub
	return sub
}

func (r *fakeRegistry) Lookup(uri string) (Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[uri]
	if !ok {
		return nil, false
	}
	return sub, true
}

func (r *fakeRegistry) Remove(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, uri)
}

func (r *fakeRegistry) removals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	conn      *Conn
	server    *siotest.Server
	scheduler *fakeScheduler
	clock     *fakeClock
	registry  *fakeRegistry
	root      *recordingSubscriber
	logs      *syncBuffer
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		server:    siotest.New(t),
		scheduler: &fakeScheduler{},
		clock:     newFakeClock(),
		registry:  newFakeRegistry(),
		logs:      &syncBuffer{},
	}

	config := DefaultConfig()
	config.OpenRetryInterval = 10 * time.Millisecond
	config.Logger = zerolog.New(h.logs).Level(zerolog.DebugLevel)
	config.Clock = h.clock
	config.Scheduler = h.scheduler
	if mutate != nil {
		mutate(config)
	}

	h.conn = Open(h.server.Host(), h.server.Port(), "", h.registry, config)
	h.root = h.registry.subscribe(h.conn.URI())
	t.Cleanup(func() {
		for h.conn.Refs() > 0 {
			h.conn.Release()
		}
	})
	return h
}

// connect fires the pending attempt and waits until the server greeting
// has been dispatched.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.scheduler.runLast(t)
	h.server.WaitConnected(t, waitTimeout)
	if h.conn.State() != StateConnected {
		t.Fatalf("state got=%v, logs:\n%s", h.conn.State(), h.logs.String())
	}
	if n := h.root.next(t); n.Type != NotificationConnect {
		t.Fatalf("expected greeting, got=%+v", n)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

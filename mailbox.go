package sioclient

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/ramory-l/sioclient/engine"
)

// mailbox is an unbounded FIFO of notifications. The receive loop pushes
// without blocking; the client's pump goroutine pops.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{items: queue.New()}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) push(n engine.Notification) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.items.Add(n)
	m.cond.Signal()
	return true
}

// pop blocks until a notification is available. It returns false once
// the mailbox is closed and drained.
func (m *mailbox) pop() (engine.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.items.Length() == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.items.Length() == 0 {
		return engine.Notification{}, false
	}
	return m.items.Remove().(engine.Notification), true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Length()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

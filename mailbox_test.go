package sioclient

import (
	"testing"
	"time"

	"github.com/ramory-l/sioclient/engine"
)

func TestMailboxFIFO(t *testing.T) {
	m := newMailbox()
	for _, data := range []string{"a", "b", "c"} {
		if !m.push(engine.Notification{Type: engine.NotificationMessage, Data: data}) {
			t.Fatalf("push refused")
		}
	}
	if m.len() != 3 {
		t.Fatalf("len got=%d", m.len())
	}
	for _, want := range []string{"a", "b", "c"} {
		n, ok := m.pop()
		if !ok || n.Data != want {
			t.Fatalf("pop got=%q ok=%v want=%q", n.Data, ok, want)
		}
	}
}

func TestMailboxCloseDrains(t *testing.T) {
	m := newMailbox()
	m.push(engine.Notification{Data: "last"})
	m.close()

	if m.push(engine.Notification{Data: "late"}) {
		t.Fatalf("push accepted after close")
	}
	if n, ok := m.pop(); !ok || n.Data != "last" {
		t.Fatalf("pending notification lost: %q ok=%v", n.Data, ok)
	}
	if _, ok := m.pop(); ok {
		t.Fatalf("pop succeeded on drained mailbox")
	}
}

func TestMailboxPopBlocksUntilPush(t *testing.T) {
	m := newMailbox()
	got := make(chan string, 1)
	go func() {
		n, _ := m.pop()
		got <- n.Data
	}()

	time.Sleep(20 * time.Millisecond)
	m.push(engine.Notification{Data: "wake"})

	select {
	case data := <-got:
		if data != "wake" {
			t.Fatalf("got=%q", data)
		}
	case <-time.After(time.Second):
		t.Fatalf("pop did not wake")
	}
}

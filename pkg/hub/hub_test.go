package hub

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-hullwatch/internal/log"
)

func newClient(h *Hub, buffer int) *Client {
	return &Client{hub: h, send: make(chan Message, buffer)}
}

// startHub runs h until the test ends and returns its cancel func.
func startHub(t *testing.T, h *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	waitFor(t, h.IsRunning)
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// closedWithin reports whether c is closed (after draining buffered
// messages) before the timeout.
func closedWithin(c chan Message, d time.Duration) bool {
	timeout := time.After(d)
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	tests := []struct {
		name string
		send func(h *Hub)
		want Message
	}{
		{
			name: "json",
			send: func(h *Hub) { h.BroadcastJSON(map[string]int{"frame": 7}) },
			want: NewJSONMessage([]byte(`{"frame":7}`)),
		},
		{
			name: "binary",
			send: func(h *Hub) { h.BroadcastBinary([]byte{0xff, 0xd8}) },
			want: NewBinaryMessage([]byte{0xff, 0xd8}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New("test", log.Discard())
			startHub(t, h)

			a, b := newClient(h, 4), newClient(h, 4)
			if !h.join(a) || !h.join(b) {
				t.Fatal("join failed on a running hub")
			}
			waitFor(t, func() bool { return h.ClientCount() == 2 })

			tt.send(h)
			for i, c := range []*Client{a, b} {
				select {
				case msg := <-c.send:
					if msg.Type != tt.want.Type || string(msg.Data) != string(tt.want.Data) {
						t.Errorf("client %d got %+v, want %+v", i, msg, tt.want)
					}
				case <-time.After(time.Second):
					t.Fatalf("client %d received nothing", i)
				}
			}
		})
	}
}

func TestHub_SlowClientEvicted(t *testing.T) {
	h := New("test", log.Discard())
	startHub(t, h)

	slow := newClient(h, 0)
	fast := newClient(h, 8)
	h.join(slow)
	h.join(fast)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	h.BroadcastBinary([]byte("frame"))

	// Nobody reads slow.send, so the hub cannot hand it the message.
	waitFor(t, func() bool { return h.ClientCount() == 1 })
	if _, ok := <-slow.send; ok {
		t.Fatal("slow client queue should be closed")
	}

	select {
	case <-fast.send:
	case <-time.After(time.Second):
		t.Fatal("fast client should still receive the message")
	}
}

func TestHub_LeaveRemovesClient(t *testing.T) {
	h := New("test", log.Discard())
	startHub(t, h)

	c := newClient(h, 1)
	h.join(c)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.leave(c)
	if !closedWithin(c.send, time.Second) {
		t.Fatal("leave should close the client queue")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", h.ClientCount())
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	h := New("test", log.Discard())
	cancel := startHub(t, h)

	clients := []*Client{newClient(h, 1), newClient(h, 1), newClient(h, 1)}
	for _, c := range clients {
		h.join(c)
	}
	waitFor(t, func() bool { return h.ClientCount() == len(clients) })

	cancel()
	for i, c := range clients {
		if !closedWithin(c.send, time.Second) {
			t.Errorf("client %d not closed on stop", i)
		}
	}
	waitFor(t, func() bool { return !h.IsRunning() })
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after stop", h.ClientCount())
	}
}

func TestHub_JoinAndLeaveAfterStop(t *testing.T) {
	h := New("test", log.Discard())
	cancel := startHub(t, h)
	cancel()
	waitFor(t, func() bool { return !h.IsRunning() })

	done := make(chan bool, 1)
	go func() {
		c := newClient(h, 1)
		joined := h.join(c)
		h.leave(c)
		done <- joined
	}()

	select {
	case joined := <-done:
		if joined {
			t.Error("join should fail on a stopped hub")
		}
	case <-time.After(time.Second):
		t.Fatal("join/leave blocked on a stopped hub")
	}
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	h := New("test", log.Discard())

	capacity := cap(h.broadcast)
	for i := 0; i < capacity+3; i++ {
		h.BroadcastBinary([]byte{byte(i)})
	}
	if h.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", h.Dropped())
	}
}

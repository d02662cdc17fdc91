package relay

import (
	"sync"
	"testing"
)

func TestClient_SendAfterClose(t *testing.T) {
	c := testClient()
	c.Close()
	c.Close()

	// A broadcast landing after the connection dropped is discarded, not fatal.
	c.SendRaw([]byte(`{"type":"event"}`))
}

func TestClient_SendCloseRace(t *testing.T) {
	// Both peers of a session dropping at once: each drop path notifies the
	// other connection while that connection is closing itself.
	for i := 0; i < 200; i++ {
		c := testClient()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.SendRaw([]byte("x"))
		}()
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()
	}
}

func TestClient_SendBufferFullDrops(t *testing.T) {
	c := &Client{id: "test", send: make(chan []byte, 1), done: make(chan struct{})}
	c.SendRaw([]byte("first"))
	c.SendRaw([]byte("overflow")) // no write pump draining; must not block
	if len(c.send) != 1 {
		t.Errorf("queued = %d, want 1", len(c.send))
	}
}

package live

import (
	"errors"
	"sync"
	"testing"

	"vidloop-live/internal/models"
)

func newDetachedClient(g *Gateway) *client {
	c := &client{gateway: g, send: make(chan []byte, 4), done: make(chan struct{})}
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	return c
}

func TestEnqueueAfterCloseIsSafe(t *testing.T) {
	g := NewGateway(GatewayConfig{})
	c := newDetachedClient(g)

	c.close()
	c.close()

	if !c.isClosed() {
		t.Fatal("expected client to report closed")
	}
	for i := 0; i < 64; i++ {
		c.enqueue([]byte(`{"type":"viewer-count"}`))
	}
}

func TestEnqueueRacingCloseIsSafe(t *testing.T) {
	g := NewGateway(GatewayConfig{})
	c := newDetachedClient(g)
	payload := []byte(`{"type":"like-animation"}`)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.enqueue(payload)
			}
		}()
	}
	c.close()
	wg.Wait()

	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, present := g.clients[c]; present {
		t.Fatal("closed client should be dropped from the gateway")
	}
}

func TestDeliverGiftRejectedAfterTeardown(t *testing.T) {
	store := &fakeLedgerStore{}
	g := NewGateway(GatewayConfig{Ledger: NewLedger(store, nil)})
	c := newDetachedClient(g)

	session := newLedgerSession()
	session.ended = true

	_, err := c.deliverGift(session, models.User{ID: "s1", Username: "ben"}, "rose")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if len(store.transfers) != 0 {
		t.Fatalf("no transfer may settle into an ended session, got %d", len(store.transfers))
	}
	if len(session.gifts) != 0 {
		t.Fatalf("ended session must not record gifts, got %d", len(session.gifts))
	}
}

func TestDeliverGiftAccumulatesRoomTotals(t *testing.T) {
	store := &fakeLedgerStore{}
	g := NewGateway(GatewayConfig{Ledger: NewLedger(store, nil)})
	c := newDetachedClient(g)

	session := newLedgerSession()
	record, err := c.deliverGift(session, models.User{ID: "s1", Username: "ben"}, "star")
	if err != nil {
		t.Fatalf("deliverGift: %v", err)
	}
	if record.Diamonds != 10 {
		t.Fatalf("unexpected diamonds: %d", record.Diamonds)
	}
	if session.diamonds != 10 || len(session.gifts) != 1 {
		t.Fatalf("room totals not updated: diamonds=%d gifts=%d", session.diamonds, len(session.gifts))
	}
	if len(store.transfers) != 1 {
		t.Fatalf("expected 1 settled transfer, got %d", len(store.transfers))
	}
}

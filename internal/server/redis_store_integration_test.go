package server

import (
	"testing"
	"time"

	"vidloop-live/internal/testsupport/redisstub"
)

func TestRedisStoreAllow(t *testing.T) {
	srv, err := redisstub.Start(redisstub.Options{Password: "secret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
	})

	store := newRedisStore(srv.Addr(), "secret", time.Second)
	t.Cleanup(func() {
		_ = store.Close()
	})

	allowed, retry, err := store.Allow("auth:test", 2, time.Second)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("first allow unexpected: allowed=%v retry=%v err=%v", allowed, retry, err)
	}
	allowed, _, err = store.Allow("auth:test", 2, time.Second)
	if err != nil || !allowed {
		t.Fatalf("second allow unexpected: allowed=%v err=%v", allowed, err)
	}
	allowed, retry, err = store.Allow("auth:test", 2, time.Second)
	if err != nil {
		t.Fatalf("third allow err: %v", err)
	}
	if allowed {
		t.Fatalf("expected throttle on third attempt")
	}
	if retry < 0 {
		t.Fatalf("expected non-negative retry, got %v", retry)
	}
}

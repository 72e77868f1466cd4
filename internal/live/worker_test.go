package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"vidloop-live/internal/models"
)

type fakeArchiver struct {
	mu      sync.Mutex
	records []models.GiftRecord
}

func (f *fakeArchiver) RecordGift(record models.GiftRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestWorkerArchivesGifts(t *testing.T) {
	queue := NewMemoryQueue(8)
	archive := &fakeArchiver{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewWorker(archive, queue, nil).Run(ctx)

	events := []Event{
		{Type: EventTypeSessionStarted, Session: &SessionEvent{SessionID: "live-1"}},
		{Type: EventTypeGift, Gift: &models.GiftRecord{ID: "g1", SessionID: "live-1", Kind: "rose"}},
		{Type: EventTypeComment, Comment: &CommentRecord{ID: "c1", SessionID: "live-1", Text: "hi"}},
		{Type: EventTypeGift, Gift: &models.GiftRecord{ID: "g2", SessionID: "live-1", Kind: "star"}},
		{Type: EventTypeSessionEnded, Session: &SessionEvent{SessionID: "live-1"}},
	}
	for _, evt := range events {
		if err := queue.Publish(context.Background(), evt); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if archive.count() == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 2 archived gifts, got %d", archive.count())
}

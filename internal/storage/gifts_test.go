package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"vidloop-live/internal/models"
)

func TestApplyGiftTransfer(t *testing.T) {
	store := newTestStorage(t)
	sender, err := store.CreateUser(CreateUserParams{Username: "sender", Balance: models.MustParseMoney("10")})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	broadcaster := mustCreateUser(t, store, "broadcaster")

	price := models.MustParseMoney("4")
	if err := store.ApplyGiftTransfer(sender.ID, broadcaster.ID, price, price.Half()); err != nil {
		t.Fatalf("ApplyGiftTransfer: %v", err)
	}

	updatedSender, _ := store.GetUser(sender.ID)
	updatedBroadcaster, _ := store.GetUser(broadcaster.ID)
	if updatedSender.Balance.DecimalString() != "6" {
		t.Fatalf("expected sender balance 6, got %s", updatedSender.Balance.DecimalString())
	}
	if updatedBroadcaster.RewardBalance.DecimalString() != "2" {
		t.Fatalf("expected reward balance 2, got %s", updatedBroadcaster.RewardBalance.DecimalString())
	}
}

func TestApplyGiftTransferInsufficientBalance(t *testing.T) {
	store := newTestStorage(t)
	sender, err := store.CreateUser(CreateUserParams{Username: "sender", Balance: models.MustParseMoney("1")})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	broadcaster := mustCreateUser(t, store, "broadcaster")

	price := models.MustParseMoney("5")
	if err := store.ApplyGiftTransfer(sender.ID, broadcaster.ID, price, price.Half()); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Neither account may change on a rejected transfer.
	updatedSender, _ := store.GetUser(sender.ID)
	updatedBroadcaster, _ := store.GetUser(broadcaster.ID)
	if updatedSender.Balance.DecimalString() != "1" {
		t.Fatalf("sender balance changed: %s", updatedSender.Balance.DecimalString())
	}
	if !updatedBroadcaster.RewardBalance.IsZero() {
		t.Fatalf("broadcaster reward changed: %s", updatedBroadcaster.RewardBalance.DecimalString())
	}
}

func TestApplyGiftTransferUnknownUsers(t *testing.T) {
	store := newTestStorage(t)
	sender := mustCreateUser(t, store, "sender")

	price := models.MustParseMoney("1")
	if err := store.ApplyGiftTransfer(sender.ID, "missing", price, price.Half()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := store.ApplyGiftTransfer("missing", sender.ID, price, price.Half()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRecordGiftHistoryBounded(t *testing.T) {
	store := newTestStorage(t)
	broadcaster := mustCreateUser(t, store, "broadcaster")

	total := giftHistoryLimit + 5
	for i := 0; i < total; i++ {
		record := models.GiftRecord{
			ID:        fmt.Sprintf("gift-%04d", i),
			SessionID: "session-1",
			TargetID:  broadcaster.ID,
			Kind:      "rose",
			Diamonds:  10,
			Price:     models.MustParseMoney("1"),
			Reward:    models.MustParseMoney("0.5"),
			CreatedAt: time.Now().UTC(),
		}
		if err := store.RecordGift(record); err != nil {
			t.Fatalf("RecordGift %d: %v", i, err)
		}
	}

	history := store.ListGiftRecords(broadcaster.ID)
	if len(history) != giftHistoryLimit {
		t.Fatalf("expected history capped at %d, got %d", giftHistoryLimit, len(history))
	}
	if history[0].ID != fmt.Sprintf("gift-%04d", total-giftHistoryLimit) {
		t.Fatalf("expected oldest entries dropped, first is %s", history[0].ID)
	}
}

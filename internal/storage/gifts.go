package storage

import (
	"vidloop-live/internal/models"
)

// ApplyGiftTransfer atomically debits the full gift price from the sender and
// credits the broadcaster's reward balance. On ErrInsufficientBalance neither
// account changes.
func (s *Storage) ApplyGiftTransfer(senderID, broadcasterID string, price, reward models.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.data.Users[senderID]
	if !ok {
		return ErrUserNotFound
	}
	broadcaster, ok := s.data.Users[broadcasterID]
	if !ok {
		return ErrUserNotFound
	}
	if sender.Balance.Cmp(price) < 0 {
		return ErrInsufficientBalance
	}

	updated := cloneDataset(s.data)
	sender.Balance = sender.Balance.Sub(price)
	broadcaster.RewardBalance = broadcaster.RewardBalance.Add(reward)
	updated.Users[senderID] = sender
	updated.Users[broadcasterID] = broadcaster
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// RecordGift appends a delivered gift to the broadcaster's earnings history,
// dropping the oldest entries past the retention cap.
func (s *Storage) RecordGift(record models.GiftRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[record.TargetID]; !ok {
		return ErrUserNotFound
	}

	updated := cloneDataset(s.data)
	history := append(updated.GiftRecords[record.TargetID], record)
	if len(history) > giftHistoryLimit {
		history = history[len(history)-giftHistoryLimit:]
	}
	updated.GiftRecords[record.TargetID] = history
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// ListGiftRecords returns the broadcaster's earnings history, oldest first.
func (s *Storage) ListGiftRecords(broadcasterID string) []models.GiftRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.GiftRecord(nil), s.data.GiftRecords[broadcasterID]...)
}

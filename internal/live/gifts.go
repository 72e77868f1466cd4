package live

import (
	"time"

	"vidloop-live/internal/models"

	"github.com/google/uuid"
)

// Gift is a catalog entry. Price is debited from the sender in full; the
// broadcaster's reward is half of it. Diamonds are the display credit added
// to the room's running total.
type Gift struct {
	Kind     string       `json:"kind"`
	Diamonds int          `json:"diamonds"`
	Price    models.Money `json:"price"`
}

// Reward returns the broadcaster's share of the gift price.
func (g Gift) Reward() models.Money {
	return g.Price.Half()
}

// DefaultCatalog lists the gifts available in every room.
func DefaultCatalog() map[string]Gift {
	return map[string]Gift{
		"rose":   {Kind: "rose", Diamonds: 1, Price: models.MustParseMoney("0.01")},
		"heart":  {Kind: "heart", Diamonds: 5, Price: models.MustParseMoney("0.05")},
		"star":   {Kind: "star", Diamonds: 10, Price: models.MustParseMoney("0.1")},
		"rocket": {Kind: "rocket", Diamonds: 100, Price: models.MustParseMoney("1")},
		"crown":  {Kind: "crown", Diamonds: 500, Price: models.MustParseMoney("5")},
	}
}

// LedgerStore is the wallet surface the gift ledger requires.
type LedgerStore interface {
	ApplyGiftTransfer(senderID, broadcasterID string, price, reward models.Money) error
}

// Ledger resolves gift kinds against the catalog and settles the transfer
// through the datastore in a single atomic step.
type Ledger struct {
	store   LedgerStore
	catalog map[string]Gift
}

// NewLedger initialises a gift ledger. A nil catalog falls back to the
// default one.
func NewLedger(store LedgerStore, catalog map[string]Gift) *Ledger {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Ledger{store: store, catalog: catalog}
}

// Catalog returns the available gifts.
func (l *Ledger) Catalog() map[string]Gift {
	out := make(map[string]Gift, len(l.catalog))
	for kind, gift := range l.catalog {
		out[kind] = gift
	}
	return out
}

// Send settles a gift from the sender to the session's broadcaster and
// returns the delivered record. The sender is debited the full price and the
// broadcaster credited the reward, or neither on error.
func (l *Ledger) Send(sender models.User, session *Session, kind string) (models.GiftRecord, error) {
	gift, ok := l.catalog[kind]
	if !ok {
		return models.GiftRecord{}, ErrUnknownGift
	}
	if err := l.store.ApplyGiftTransfer(sender.ID, session.BroadcasterID(), gift.Price, gift.Reward()); err != nil {
		return models.GiftRecord{}, err
	}
	return models.GiftRecord{
		ID:        uuid.NewString(),
		SessionID: session.ID(),
		SenderID:  sender.ID,
		Sender:    sender.Username,
		TargetID:  session.BroadcasterID(),
		Kind:      gift.Kind,
		Diamonds:  gift.Diamonds,
		Price:     gift.Price,
		Reward:    gift.Reward(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	moneyFractionDigits = 8
	moneyScale          = int64(100000000)
)

// Money represents a currency amount stored in minor units (1e-8 of the major
// currency) to avoid floating point rounding issues. JSON encoding and string
// formatting expose the canonical decimal representation while all internal
// operations use the fixed-precision integer value.
type Money struct {
	minorUnits int64
}

// NewMoneyFromMinorUnits constructs a Money value from its minor-unit
// representation.
func NewMoneyFromMinorUnits(units int64) Money {
	return Money{minorUnits: units}
}

// MinorUnits exposes the internal integer representation scaled by 1e-8.
func (m Money) MinorUnits() int64 {
	return m.minorUnits
}

// Add returns the sum of two Money values.
func (m Money) Add(other Money) Money {
	return Money{minorUnits: m.minorUnits + other.minorUnits}
}

// Sub returns the difference of two Money values.
func (m Money) Sub(other Money) Money {
	return Money{minorUnits: m.minorUnits - other.minorUnits}
}

// Half returns the amount divided by two, truncating toward zero.
func (m Money) Half() Money {
	return Money{minorUnits: m.minorUnits / 2}
}

// Cmp compares two amounts and returns -1, 0, or 1.
func (m Money) Cmp(other Money) int {
	switch {
	case m.minorUnits < other.minorUnits:
		return -1
	case m.minorUnits > other.minorUnits:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.minorUnits == 0
}

// DecimalString returns the canonical decimal representation with up to eight
// fractional digits.
func (m Money) DecimalString() string {
	return formatMinorUnits(m.minorUnits)
}

// String implements fmt.Stringer.
func (m Money) String() string {
	return m.DecimalString()
}

// MarshalJSON encodes the fixed-precision amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.DecimalString()), nil
}

// UnmarshalJSON decodes a JSON number or string into the fixed-precision minor
// unit representation. A JSON null resets the value to zero.
func (m *Money) UnmarshalJSON(data []byte) error {
	if m == nil {
		return fmt.Errorf("models: cannot decode into nil Money pointer")
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*m = Money{}
		return nil
	}
	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode money string: %w", err)
		}
	} else {
		raw = trimmed
	}
	money, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = money
	return nil
}

// ParseMoney parses a human-readable decimal string into a Money value with up
// to eight fractional digits.
func ParseMoney(value string) (Money, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Money{}, fmt.Errorf("invalid money amount")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return Money{}, fmt.Errorf("invalid money amount")
	}
	rat.Mul(rat, big.NewRat(moneyScale, 1))
	if !rat.IsInt() {
		return Money{}, fmt.Errorf("amount supports up to %d decimal places", moneyFractionDigits)
	}
	numerator := rat.Num()
	if !numerator.IsInt64() {
		return Money{}, fmt.Errorf("money amount out of range")
	}
	return Money{minorUnits: numerator.Int64()}, nil
}

// MustParseMoney panics if the value cannot be parsed. It is intended for
// tests and static initialisation.
func MustParseMoney(value string) Money {
	money, err := ParseMoney(value)
	if err != nil {
		panic(err)
	}
	return money
}

func formatMinorUnits(units int64) string {
	negative := units < 0
	if negative {
		units = -units
	}
	major := units / moneyScale
	minor := units % moneyScale
	var builder strings.Builder
	if negative {
		builder.WriteByte('-')
	}
	builder.WriteString(fmt.Sprintf("%d", major))
	if minor == 0 {
		return builder.String()
	}
	builder.WriteByte('.')
	fraction := fmt.Sprintf("%0*d", moneyFractionDigits, minor)
	fraction = strings.TrimRight(fraction, "0")
	builder.WriteString(fraction)
	return builder.String()
}

// User is a social-video account. Followers, Following, and VideosCount are
// denormalised counters maintained by the storage layer. CanBroadcast flips
// true exactly once, when the follower count first reaches the live threshold,
// and never flips back.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	AvatarURL     string    `json:"avatar"`
	Followers     int       `json:"followers"`
	Following     int       `json:"following"`
	VideosCount   int       `json:"videosCount"`
	TotalLikes    int       `json:"totalLikes"`
	CanBroadcast  bool      `json:"canGoLive"`
	IsLive        bool      `json:"isLive"`
	Balance       Money     `json:"balance"`
	RewardBalance Money     `json:"rewardBalance"`
	PasswordHash  string    `json:"passwordHash,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// UserSummary is the public projection embedded in feed items and live
// directory entries.
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar"`
	Followers int    `json:"followers"`
	IsLive    bool   `json:"isLive"`
}

// Summary returns the public projection of the user.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Followers: u.Followers,
		IsLive:    u.IsLive,
	}
}

// Video is a published short-video feed entry.
type Video struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"userId"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Likes       int       `json:"likes"`
	Comments    int       `json:"comments"`
	Shares      int       `json:"shares"`
	Views       int       `json:"views"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VideoComment is a persisted comment attached to a feed video.
type VideoComment struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// GiftRecord is a delivered virtual gift archived per broadcaster for
// earnings history. Price is the amount debited from the sender; Reward is
// the share credited to the broadcaster.
type GiftRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"liveId"`
	SenderID  string    `json:"senderId"`
	Sender    string    `json:"sender"`
	TargetID  string    `json:"targetId"`
	Kind      string    `json:"kind"`
	Diamonds  int       `json:"diamonds"`
	Price     Money     `json:"price"`
	Reward    Money     `json:"reward"`
	CreatedAt time.Time `json:"createdAt"`
}

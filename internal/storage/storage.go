package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vidloop-live/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000

	// DefaultLiveThreshold is the follower count at which an account earns
	// broadcast rights.
	DefaultLiveThreshold = 300

	// giftHistoryLimit bounds the per-broadcaster earnings history retained in
	// the datastore.
	giftHistoryLimit = 500
)

type dataset struct {
	Users         map[string]models.User           `json:"users"`
	Videos        map[string]models.Video          `json:"videos"`
	VideoComments map[string][]models.VideoComment `json:"videoComments"`
	Follows       map[string]map[string]time.Time  `json:"follows"`
	GiftRecords   map[string][]models.GiftRecord   `json:"giftRecords"`
}

type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	liveThreshold   int
}

func newDataset() dataset {
	return dataset{
		Users:         make(map[string]models.User),
		Videos:        make(map[string]models.Video),
		VideoComments: make(map[string][]models.VideoComment),
		Follows:       make(map[string]map[string]time.Time),
		GiftRecords:   make(map[string][]models.GiftRecord),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	if s.data.VideoComments == nil {
		s.data.VideoComments = make(map[string][]models.VideoComment)
	}
	if s.data.Follows == nil {
		s.data.Follows = make(map[string]map[string]time.Time)
	}
	if s.data.GiftRecords == nil {
		s.data.GiftRecords = make(map[string][]models.GiftRecord)
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath:      path,
		liveThreshold: DefaultLiveThreshold,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if store.liveThreshold <= 0 {
		store.liveThreshold = DefaultLiveThreshold
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := dataset{}

	if src.Users != nil {
		clone.Users = make(map[string]models.User, len(src.Users))
		for id, user := range src.Users {
			clone.Users[id] = user
		}
	}

	if src.Videos != nil {
		clone.Videos = make(map[string]models.Video, len(src.Videos))
		for id, video := range src.Videos {
			clone.Videos[id] = video
		}
	}

	if src.VideoComments != nil {
		clone.VideoComments = make(map[string][]models.VideoComment, len(src.VideoComments))
		for videoID, comments := range src.VideoComments {
			clone.VideoComments[videoID] = append([]models.VideoComment(nil), comments...)
		}
	}

	if src.Follows != nil {
		clone.Follows = make(map[string]map[string]time.Time, len(src.Follows))
		for followerID, targets := range src.Follows {
			if targets == nil {
				clone.Follows[followerID] = nil
				continue
			}
			followed := make(map[string]time.Time, len(targets))
			for targetID, followedAt := range targets {
				followed[targetID] = followedAt
			}
			clone.Follows[followerID] = followed
		}
	}

	if src.GiftRecords != nil {
		clone.GiftRecords = make(map[string][]models.GiftRecord, len(src.GiftRecords))
		for targetID, records := range src.GiftRecords {
			clone.GiftRecords[targetID] = append([]models.GiftRecord(nil), records...)
		}
	}

	return clone
}

// Ping reports datastore health. The JSON store is always reachable once
// loaded.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// LiveThreshold returns the follower count required for broadcast rights.
func (s *Storage) LiveThreshold() int {
	return s.liveThreshold
}

// User operations

// CreateUserParams captures the attributes that can be set when creating a
// user account.
type CreateUserParams struct {
	Username  string
	AvatarURL string
	Password  string
	Balance   models.Money
}

func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}

	var passwordHash string
	if params.Password != "" {
		hashed, err := hashPassword(params.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = hashed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	folded := strings.ToLower(username)
	for _, user := range s.data.Users {
		if strings.ToLower(user.Username) == folded {
			return models.User{}, ErrUsernameTaken
		}
	}

	avatar := strings.TrimSpace(params.AvatarURL)
	if avatar == "" {
		avatar = fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", username)
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           generateID(),
		Username:     username,
		AvatarURL:    avatar,
		Balance:      params.Balance,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}

	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated

	return user, nil
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

// FindUserByUsername looks up a user by their username, ignoring case.
func (s *Storage) FindUserByUsername(username string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folded := strings.ToLower(strings.TrimSpace(username))
	for _, user := range s.data.Users {
		if strings.ToLower(user.Username) == folded {
			return user, true
		}
	}
	return models.User{}, false
}

// SetUserLive flips the live flag on a user profile. Callers own the session
// lifecycle; this only mirrors it into the directory.
func (s *Storage) SetUserLive(id string, live bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return ErrUserNotFound
	}
	if user.IsLive == live {
		return nil
	}

	updated := cloneDataset(s.data)
	user.IsLive = live
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// CreditBalance adds funds to a user's spendable wallet.
func (s *Storage) CreditBalance(id string, amount models.Money) (models.User, error) {
	if amount.Cmp(models.Money{}) <= 0 {
		return models.User{}, errors.New("amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	updated := cloneDataset(s.data)
	user.Balance = user.Balance.Add(amount)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

package storage

import (
	"errors"
	"sort"
	"strings"
	"time"

	"vidloop-live/internal/models"
)

// CreateVideoParams captures the attributes of a published video.
type CreateVideoParams struct {
	OwnerID     string
	URL         string
	Description string
}

// FeedItem joins a video with the public projection of its owner.
type FeedItem struct {
	models.Video
	User models.UserSummary `json:"user"`
}

func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	url := strings.TrimSpace(params.URL)
	if url == "" {
		return models.Video{}, errors.New("video url is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.data.Users[params.OwnerID]
	if !ok {
		return models.Video{}, ErrUserNotFound
	}

	video := models.Video{
		ID:          generateID(),
		OwnerID:     owner.ID,
		URL:         url,
		Description: strings.TrimSpace(params.Description),
		CreatedAt:   time.Now().UTC(),
	}

	updated := cloneDataset(s.data)
	updated.Videos[video.ID] = video
	owner.VideosCount++
	updated.Users[owner.ID] = owner
	if err := s.persistDataset(updated); err != nil {
		return models.Video{}, err
	}
	s.data = updated

	return video, nil
}

// ListVideos returns the feed, newest first, with owner summaries joined in.
func (s *Storage) ListVideos() []FeedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]FeedItem, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		item := FeedItem{Video: video}
		if owner, ok := s.data.Users[video.OwnerID]; ok {
			item.User = owner.Summary()
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

// LikeVideo increments the like counter on a video and the owner's
// accumulated total.
func (s *Storage) LikeVideo(id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}

	updated := cloneDataset(s.data)
	video.Likes++
	updated.Videos[id] = video
	if owner, ok := updated.Users[video.OwnerID]; ok {
		owner.TotalLikes++
		updated.Users[owner.ID] = owner
	}
	if err := s.persistDataset(updated); err != nil {
		return models.Video{}, err
	}
	s.data = updated

	return video, nil
}

func (s *Storage) AddVideoComment(videoID, userID, text string) (models.VideoComment, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return models.VideoComment{}, errors.New("comment text is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[videoID]
	if !ok {
		return models.VideoComment{}, ErrVideoNotFound
	}
	author, ok := s.data.Users[userID]
	if !ok {
		return models.VideoComment{}, ErrUserNotFound
	}

	comment := models.VideoComment{
		ID:        generateID(),
		VideoID:   video.ID,
		UserID:    author.ID,
		Username:  author.Username,
		Text:      content,
		CreatedAt: time.Now().UTC(),
	}

	updated := cloneDataset(s.data)
	updated.VideoComments[video.ID] = append(updated.VideoComments[video.ID], comment)
	video.Comments++
	updated.Videos[video.ID] = video
	if err := s.persistDataset(updated); err != nil {
		return models.VideoComment{}, err
	}
	s.data = updated

	return comment, nil
}

func (s *Storage) ListVideoComments(videoID string) ([]models.VideoComment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, ErrVideoNotFound
	}
	return append([]models.VideoComment(nil), s.data.VideoComments[videoID]...), nil
}

// RecordVideoView bumps the view counter. Views are best effort and not
// deduplicated per user.
func (s *Storage) RecordVideoView(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return ErrVideoNotFound
	}

	updated := cloneDataset(s.data)
	video.Views++
	updated.Videos[id] = video
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

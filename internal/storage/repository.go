package storage

import (
	"context"

	"vidloop-live/internal/models"
)

// Repository exposes the datastore operations required by API handlers and
// the live session coordinator.
type Repository interface {
	Ping(ctx context.Context) error
	LiveThreshold() int

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(username, password string) (models.User, error)
	FindUserByUsername(username string) (models.User, bool)
	ListUsers() []models.User
	GetUser(id string) (models.User, bool)
	SetUserPassword(id, password string) (models.User, error)
	SetUserLive(id string, live bool) error
	CreditBalance(id string, amount models.Money) (models.User, error)

	ToggleFollow(followerID, followingID string) (FollowResult, error)
	IsFollowing(followerID, followingID string) bool
	CanBroadcast(userID string) bool
	ListFollowers(userID string) []models.User
	SuggestedUsers(forUserID string, limit int) []models.User
	SearchUsers(query string) []models.User
	Leaderboard(limit int) []models.User

	CreateVideo(params CreateVideoParams) (models.Video, error)
	ListVideos() []FeedItem
	GetVideo(id string) (models.Video, bool)
	LikeVideo(id string) (models.Video, error)
	AddVideoComment(videoID, userID, text string) (models.VideoComment, error)
	ListVideoComments(videoID string) ([]models.VideoComment, error)
	RecordVideoView(id string) error

	ApplyGiftTransfer(senderID, broadcasterID string, price, reward models.Money) error
	RecordGift(record models.GiftRecord) error
	ListGiftRecords(broadcasterID string) []models.GiftRecord
}

var _ Repository = (*Storage)(nil)

package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"vidloop-live/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	timeout := r.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) LiveThreshold() int {
	return r.cfg.LiveThreshold
}

const userColumns = "id, username, avatar_url, followers, following, videos_count, total_likes, can_go_live, is_live, balance::text, reward_balance::text, password_hash, created_at"

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	var balance, reward string
	err := row.Scan(&user.ID, &user.Username, &user.AvatarURL, &user.Followers, &user.Following, &user.VideosCount, &user.TotalLikes, &user.CanBroadcast, &user.IsLive, &balance, &reward, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	if user.Balance, err = models.ParseMoney(balance); err != nil {
		return models.User{}, fmt.Errorf("decode balance: %w", err)
	}
	if user.RewardBalance, err = models.ParseMoney(reward); err != nil {
		return models.User{}, fmt.Errorf("decode reward balance: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
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
	avatar := strings.TrimSpace(params.AvatarURL)
	if avatar == "" {
		avatar = fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", username)
	}

	user := models.User{
		ID:           generateID(),
		Username:     username,
		AvatarURL:    avatar,
		Balance:      params.Balance,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx,
		"INSERT INTO users (id, username, avatar_url, balance, password_hash, created_at) VALUES ($1, $2, $3, $4::numeric, $5, $6)",
		user.ID, user.Username, user.AvatarURL, user.Balance.DecimalString(), user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) AuthenticateUser(username, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := r.FindUserByUsername(username)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return models.User{}, ErrPasswordLoginUnsupported
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *postgresRepository) FindUserByUsername(username string) (models.User, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE lower(username) = lower($1)", strings.TrimSpace(username))
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) ListUsers() []models.User {
	ctx, cancel := r.opContext()
	defer cancel()
	users, err := r.queryUsers(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at")
	if err != nil {
		return nil
	}
	return users
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	row := r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "UPDATE users SET password_hash = $2 WHERE id = $1", id, hashed)
	if err != nil {
		return models.User{}, fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrUserNotFound
	}
	user, _ := r.GetUser(id)
	return user, nil
}

func (r *postgresRepository) SetUserLive(id string, live bool) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "UPDATE users SET is_live = $2 WHERE id = $1", id, live)
	if err != nil {
		return fmt.Errorf("update live flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *postgresRepository) CreditBalance(id string, amount models.Money) (models.User, error) {
	if amount.Cmp(models.Money{}) <= 0 {
		return models.User{}, errors.New("amount must be positive")
	}
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "UPDATE users SET balance = balance + $2::numeric WHERE id = $1", id, amount.DecimalString())
	if err != nil {
		return models.User{}, fmt.Errorf("credit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrUserNotFound
	}
	user, _ := r.GetUser(id)
	return user, nil
}

func (r *postgresRepository) ToggleFollow(followerID, followingID string) (FollowResult, error) {
	if followerID == followingID {
		return FollowResult{}, ErrSelfFollow
	}

	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return FollowResult{}, fmt.Errorf("begin follow transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	var exists bool
	for _, id := range []string{followerID, followingID} {
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists); err != nil {
			return FollowResult{}, fmt.Errorf("check user %s: %w", id, err)
		}
		if !exists {
			return FollowResult{}, ErrUserNotFound
		}
	}

	var following bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND following_id = $2)", followerID, followingID).Scan(&following); err != nil {
		return FollowResult{}, fmt.Errorf("check follow edge: %w", err)
	}

	result := FollowResult{}
	if following {
		if _, err := tx.Exec(ctx, "DELETE FROM follows WHERE follower_id = $1 AND following_id = $2", followerID, followingID); err != nil {
			return FollowResult{}, fmt.Errorf("delete follow edge: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE users SET following = greatest(following - 1, 0) WHERE id = $1", followerID); err != nil {
			return FollowResult{}, fmt.Errorf("decrement following: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE users SET followers = greatest(followers - 1, 0) WHERE id = $1", followingID); err != nil {
			return FollowResult{}, fmt.Errorf("decrement followers: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx, "INSERT INTO follows (follower_id, following_id, followed_at) VALUES ($1, $2, $3)", followerID, followingID, time.Now().UTC()); err != nil {
			return FollowResult{}, fmt.Errorf("insert follow edge: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE users SET following = following + 1 WHERE id = $1", followerID); err != nil {
			return FollowResult{}, fmt.Errorf("increment following: %w", err)
		}
		var followers int
		var canBroadcast bool
		if err := tx.QueryRow(ctx, "SELECT followers, can_go_live FROM users WHERE id = $1 FOR UPDATE", followingID).Scan(&followers, &canBroadcast); err != nil {
			return FollowResult{}, fmt.Errorf("lock target: %w", err)
		}
		followers++
		if followers >= r.cfg.LiveThreshold && !canBroadcast {
			canBroadcast = true
			result.ReachedGoal = true
		}
		if _, err := tx.Exec(ctx, "UPDATE users SET followers = $2, can_go_live = $3 WHERE id = $1", followingID, followers, canBroadcast); err != nil {
			return FollowResult{}, fmt.Errorf("increment followers: %w", err)
		}
		result.Following = true
	}

	row := tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", followingID)
	target, err := scanUser(row)
	if err != nil {
		return FollowResult{}, fmt.Errorf("reload target: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return FollowResult{}, fmt.Errorf("commit follow transaction: %w", err)
	}

	result.Followers = target.Followers
	result.Target = target
	return result, nil
}

func (r *postgresRepository) IsFollowing(followerID, followingID string) bool {
	ctx, cancel := r.opContext()
	defer cancel()
	var following bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND following_id = $2)", followerID, followingID).Scan(&following)
	return err == nil && following
}

func (r *postgresRepository) CanBroadcast(userID string) bool {
	ctx, cancel := r.opContext()
	defer cancel()
	var can bool
	err := r.pool.QueryRow(ctx, "SELECT can_go_live FROM users WHERE id = $1", userID).Scan(&can)
	return err == nil && can
}

func (r *postgresRepository) ListFollowers(userID string) []models.User {
	ctx, cancel := r.opContext()
	defer cancel()
	users, err := r.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users u JOIN follows f ON f.follower_id = u.id WHERE f.following_id = $1 ORDER BY f.followed_at DESC", userID)
	if err != nil {
		return nil
	}
	return users
}

func (r *postgresRepository) SuggestedUsers(forUserID string, limit int) []models.User {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := r.opContext()
	defer cancel()
	users, err := r.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users WHERE id <> $1 AND id NOT IN (SELECT following_id FROM follows WHERE follower_id = $1) ORDER BY followers DESC, created_at LIMIT $2",
		forUserID, limit)
	if err != nil {
		return nil
	}
	return users
}

func (r *postgresRepository) SearchUsers(query string) []models.User {
	needle := foldForSearch(query)
	if needle == "" {
		return nil
	}
	ctx, cancel := r.opContext()
	defer cancel()
	users, err := r.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(username) LIKE '%' || $1 || '%' ORDER BY followers DESC", needle)
	if err != nil {
		return nil
	}
	return users
}

func (r *postgresRepository) Leaderboard(limit int) []models.User {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := r.opContext()
	defer cancel()
	users, err := r.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY total_likes DESC, followers DESC LIMIT $1", limit)
	if err != nil {
		return nil
	}
	return users
}

const videoColumns = "id, owner_id, url, description, likes, comments, shares, views, created_at"

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(&video.ID, &video.OwnerID, &video.URL, &video.Description, &video.Likes, &video.Comments, &video.Shares, &video.Views, &video.CreatedAt)
	return video, err
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	url := strings.TrimSpace(params.URL)
	if url == "" {
		return models.Video{}, errors.New("video url is required")
	}

	video := models.Video{
		ID:          generateID(),
		OwnerID:     params.OwnerID,
		URL:         url,
		Description: strings.TrimSpace(params.Description),
		CreatedAt:   time.Now().UTC(),
	}

	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Video{}, fmt.Errorf("begin video transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	tag, err := tx.Exec(ctx, "UPDATE users SET videos_count = videos_count + 1 WHERE id = $1", video.OwnerID)
	if err != nil {
		return models.Video{}, fmt.Errorf("increment videos count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Video{}, ErrUserNotFound
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO videos (id, owner_id, url, description, created_at) VALUES ($1, $2, $3, $4, $5)",
		video.ID, video.OwnerID, video.URL, video.Description, video.CreatedAt); err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Video{}, fmt.Errorf("commit video transaction: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) ListVideos() []FeedItem {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT v.id, v.owner_id, v.url, v.description, v.likes, v.comments, v.shares, v.views, v.created_at, u.username, u.avatar_url, u.followers, u.is_live FROM videos v JOIN users u ON u.id = v.owner_id ORDER BY v.created_at DESC")
	if err != nil {
		return nil
	}
	defer rows.Close()

	items := make([]FeedItem, 0)
	for rows.Next() {
		var item FeedItem
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.URL, &item.Description, &item.Likes, &item.Comments, &item.Shares, &item.Views, &item.CreatedAt, &item.User.Username, &item.User.AvatarURL, &item.User.Followers, &item.User.IsLive); err != nil {
			return nil
		}
		item.User.ID = item.OwnerID
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil
	}
	return items
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.opContext()
	defer cancel()
	video, err := scanVideo(r.pool.QueryRow(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1", id))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) LikeVideo(id string) (models.Video, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Video{}, fmt.Errorf("begin like transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	video, err := scanVideo(tx.QueryRow(ctx, "UPDATE videos SET likes = likes + 1 WHERE id = $1 RETURNING "+videoColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrVideoNotFound
		}
		return models.Video{}, fmt.Errorf("like video: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE users SET total_likes = total_likes + 1 WHERE id = $1", video.OwnerID); err != nil {
		return models.Video{}, fmt.Errorf("increment total likes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Video{}, fmt.Errorf("commit like transaction: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) AddVideoComment(videoID, userID, text string) (models.VideoComment, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return models.VideoComment{}, errors.New("comment text is required")
	}

	user, ok := r.GetUser(userID)
	if !ok {
		return models.VideoComment{}, ErrUserNotFound
	}

	comment := models.VideoComment{
		ID:        generateID(),
		VideoID:   videoID,
		UserID:    user.ID,
		Username:  user.Username,
		Text:      content,
		CreatedAt: time.Now().UTC(),
	}

	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.VideoComment{}, fmt.Errorf("begin comment transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	tag, err := tx.Exec(ctx, "UPDATE videos SET comments = comments + 1 WHERE id = $1", videoID)
	if err != nil {
		return models.VideoComment{}, fmt.Errorf("increment comments: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.VideoComment{}, ErrVideoNotFound
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO video_comments (id, video_id, user_id, username, body, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		comment.ID, comment.VideoID, comment.UserID, comment.Username, comment.Text, comment.CreatedAt); err != nil {
		return models.VideoComment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.VideoComment{}, fmt.Errorf("commit comment transaction: %w", err)
	}
	return comment, nil
}

func (r *postgresRepository) ListVideoComments(videoID string) ([]models.VideoComment, error) {
	if _, ok := r.GetVideo(videoID); !ok {
		return nil, ErrVideoNotFound
	}
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT id, video_id, user_id, username, body, created_at FROM video_comments WHERE video_id = $1 ORDER BY created_at", videoID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := make([]models.VideoComment, 0)
	for rows.Next() {
		var comment models.VideoComment
		if err := rows.Scan(&comment.ID, &comment.VideoID, &comment.UserID, &comment.Username, &comment.Text, &comment.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

func (r *postgresRepository) RecordVideoView(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "UPDATE videos SET views = views + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("record view: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

func (r *postgresRepository) ApplyGiftTransfer(senderID, broadcasterID string, price, reward models.Money) error {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin gift transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	var balance string
	err = tx.QueryRow(ctx, "SELECT balance::text FROM users WHERE id = $1 FOR UPDATE", senderID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	} else if err != nil {
		return fmt.Errorf("lock sender: %w", err)
	}
	current, err := models.ParseMoney(balance)
	if err != nil {
		return fmt.Errorf("decode sender balance: %w", err)
	}
	if current.Cmp(price) < 0 {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, "UPDATE users SET balance = balance - $2::numeric WHERE id = $1", senderID, price.DecimalString()); err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}
	tag, err := tx.Exec(ctx, "UPDATE users SET reward_balance = reward_balance + $2::numeric WHERE id = $1", broadcasterID, reward.DecimalString())
	if err != nil {
		return fmt.Errorf("credit broadcaster: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit gift transaction: %w", err)
	}
	return nil
}

func (r *postgresRepository) RecordGift(record models.GiftRecord) error {
	ctx, cancel := r.opContext()
	defer cancel()
	_, err := r.pool.Exec(ctx,
		"INSERT INTO gift_records (id, session_id, sender_id, sender_username, target_id, kind, diamonds, price, reward, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10) ON CONFLICT (id) DO NOTHING",
		record.ID, record.SessionID, record.SenderID, record.Sender, record.TargetID, record.Kind, record.Diamonds, record.Price.DecimalString(), record.Reward.DecimalString(), record.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert gift record: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListGiftRecords(broadcasterID string) []models.GiftRecord {
	ctx, cancel := r.opContext()
	defer cancel()
	rows, err := r.pool.Query(ctx,
		"SELECT id, session_id, sender_id, sender_username, target_id, kind, diamonds, price::text, reward::text, created_at FROM gift_records WHERE target_id = $1 ORDER BY created_at", broadcasterID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	records := make([]models.GiftRecord, 0)
	for rows.Next() {
		var record models.GiftRecord
		var price, reward string
		if err := rows.Scan(&record.ID, &record.SessionID, &record.SenderID, &record.Sender, &record.TargetID, &record.Kind, &record.Diamonds, &price, &reward, &record.CreatedAt); err != nil {
			return nil
		}
		if record.Price, err = models.ParseMoney(price); err != nil {
			return nil
		}
		if record.Reward, err = models.ParseMoney(reward); err != nil {
			return nil
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil
	}
	return records
}

func (r *postgresRepository) importSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if r == nil || r.pool == nil {
		return errors.New("postgres repository required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer rollbackTx(ctx, tx)

	if err := importSnapshotUsers(ctx, tx, snapshot.Users); err != nil {
		return err
	}
	if err := importSnapshotFollows(ctx, tx, snapshot.Follows); err != nil {
		return err
	}
	if err := importSnapshotVideos(ctx, tx, snapshot.Videos); err != nil {
		return err
	}
	if err := importSnapshotVideoComments(ctx, tx, snapshot.VideoComments); err != nil {
		return err
	}
	if err := importSnapshotGiftRecords(ctx, tx, snapshot.GiftRecords); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot import: %w", err)
	}
	return nil
}

func importSnapshotUsers(ctx context.Context, tx pgx.Tx, users map[string]models.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, key := range ids {
		user := users[key]
		id := strings.TrimSpace(user.ID)
		if id == "" {
			id = key
		}
		createdAt := user.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		} else {
			createdAt = createdAt.UTC()
		}
		_, err := tx.Exec(ctx,
			"INSERT INTO users (id, username, avatar_url, followers, following, videos_count, total_likes, can_go_live, is_live, balance, reward_balance, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12, $13) ON CONFLICT (id) DO NOTHING",
			id, strings.TrimSpace(user.Username), strings.TrimSpace(user.AvatarURL), user.Followers, user.Following, user.VideosCount, user.TotalLikes, user.CanBroadcast, user.IsLive, user.Balance.DecimalString(), user.RewardBalance.DecimalString(), strings.TrimSpace(user.PasswordHash), createdAt)
		if err != nil {
			return fmt.Errorf("insert user %s: %w", id, err)
		}
	}
	return nil
}

func importSnapshotFollows(ctx context.Context, tx pgx.Tx, follows map[string]map[string]time.Time) error {
	for followerID, entries := range follows {
		for followingID, followedAt := range entries {
			_, err := tx.Exec(ctx, "INSERT INTO follows (follower_id, following_id, followed_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
				strings.TrimSpace(followerID), strings.TrimSpace(followingID), followedAt.UTC())
			if err != nil {
				return fmt.Errorf("insert follow %s->%s: %w", followerID, followingID, err)
			}
		}
	}
	return nil
}

func importSnapshotVideos(ctx context.Context, tx pgx.Tx, videos map[string]models.Video) error {
	if len(videos) == 0 {
		return nil
	}
	ids := make([]string, 0, len(videos))
	for id := range videos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, key := range ids {
		video := videos[key]
		id := strings.TrimSpace(video.ID)
		if id == "" {
			id = key
		}
		_, err := tx.Exec(ctx,
			"INSERT INTO videos (id, owner_id, url, description, likes, comments, shares, views, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING",
			id, strings.TrimSpace(video.OwnerID), strings.TrimSpace(video.URL), video.Description, video.Likes, video.Comments, video.Shares, video.Views, video.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert video %s: %w", id, err)
		}
	}
	return nil
}

func importSnapshotVideoComments(ctx context.Context, tx pgx.Tx, comments map[string][]models.VideoComment) error {
	videoIDs := make([]string, 0, len(comments))
	for videoID := range comments {
		videoIDs = append(videoIDs, videoID)
	}
	sort.Strings(videoIDs)
	for _, videoID := range videoIDs {
		for _, comment := range comments[videoID] {
			_, err := tx.Exec(ctx,
				"INSERT INTO video_comments (id, video_id, user_id, username, body, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING",
				comment.ID, videoID, comment.UserID, comment.Username, comment.Text, comment.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("insert comment %s: %w", comment.ID, err)
			}
		}
	}
	return nil
}

func importSnapshotGiftRecords(ctx context.Context, tx pgx.Tx, records map[string][]models.GiftRecord) error {
	targetIDs := make([]string, 0, len(records))
	for targetID := range records {
		targetIDs = append(targetIDs, targetID)
	}
	sort.Strings(targetIDs)
	for _, targetID := range targetIDs {
		for _, record := range records[targetID] {
			_, err := tx.Exec(ctx,
				"INSERT INTO gift_records (id, session_id, sender_id, sender_username, target_id, kind, diamonds, price, reward, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10) ON CONFLICT (id) DO NOTHING",
				record.ID, record.SessionID, record.SenderID, record.Sender, targetID, record.Kind, record.Diamonds, record.Price.DecimalString(), record.Reward.DecimalString(), record.CreatedAt.UTC())
			if err != nil {
				return fmt.Errorf("insert gift record %s: %w", record.ID, err)
			}
		}
	}
	return nil
}

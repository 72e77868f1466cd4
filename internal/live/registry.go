package live

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"vidloop-live/internal/models"

	"github.com/google/uuid"
)

const (
	// commentLogLimit bounds the per-session comment tail kept for late
	// joiners. The oldest entries are dropped first.
	commentLogLimit = 100
	// giftLogLimit bounds the per-session gift log.
	giftLogLimit = 50
)

// Session is an active broadcast room. All room state is guarded by the
// session's own mutex; fan-out to members happens under that lock so every
// member observes events in the same order.
type Session struct {
	mu sync.Mutex

	id          string
	broadcaster models.UserSummary
	title       string
	startedAt   time.Time

	conn    *client
	viewers map[*client]struct{}

	comments []CommentRecord
	gifts    []models.GiftRecord
	likes    int
	diamonds int

	ended bool
}

// SessionView is a read-only projection of room state.
type SessionView struct {
	LiveID    string             `json:"liveId"`
	User      models.UserSummary `json:"user"`
	Title     string             `json:"title"`
	Viewers   int                `json:"viewers"`
	Likes     int                `json:"likes"`
	Diamonds  int                `json:"diamonds"`
	StartedAt time.Time          `json:"startedAt"`
}

// ID returns the immutable session identifier.
func (s *Session) ID() string {
	return s.id
}

// BroadcasterID returns the owning user's id.
func (s *Session) BroadcasterID() string {
	return s.broadcaster.ID
}

func (s *Session) view() SessionView {
	return SessionView{
		LiveID:    s.id,
		User:      s.broadcaster,
		Title:     s.title,
		Viewers:   len(s.viewers),
		Likes:     s.likes,
		Diamonds:  s.diamonds,
		StartedAt: s.startedAt,
	}
}

// Snapshot returns the current room state.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// RecentComments returns the retained comment tail, oldest first.
func (s *Session) RecentComments() []CommentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CommentRecord(nil), s.comments...)
}

func (s *Session) broadcastLocked(payload []byte) {
	if s.conn != nil {
		s.conn.enqueue(payload)
	}
	for viewer := range s.viewers {
		viewer.enqueue(payload)
	}
}

func (s *Session) viewersLocked(payload []byte) {
	for viewer := range s.viewers {
		viewer.enqueue(payload)
	}
}

// Registry tracks active sessions. The registry map uses a coarse lock of its
// own; per-room mutation happens under each session's mutex.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu            sync.RWMutex
	sessions      map[string]*Session
	byBroadcaster map[string]string
}

// NewRegistry initialises an empty session registry.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:         store,
		logger:        logger,
		sessions:      make(map[string]*Session),
		byBroadcaster: make(map[string]string),
	}
}

// Start creates a session for the broadcaster. Accounts below the follower
// threshold are rejected, as is a second concurrent session for the same
// broadcaster.
func (r *Registry) Start(conn *client, broadcaster models.User, title string) (*Session, error) {
	if r.store != nil && !r.store.CanBroadcast(broadcaster.ID) {
		return nil, ErrNotAuthorized
	}

	session := &Session{
		id:          uuid.NewString(),
		broadcaster: broadcaster.Summary(),
		title:       title,
		startedAt:   time.Now().UTC(),
		conn:        conn,
		viewers:     make(map[*client]struct{}),
	}

	r.mu.Lock()
	if _, exists := r.byBroadcaster[broadcaster.ID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyLive
	}
	r.sessions[session.id] = session
	r.byBroadcaster[broadcaster.ID] = session.id
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SetUserLive(broadcaster.ID, true); err != nil {
			r.logger.Warn("failed to mark user live", "user", broadcaster.ID, "error", err)
		}
	}
	return session, nil
}

// End removes the session from the registry. Only the broadcaster may tear a
// room down; a session that has already ended reports ErrSessionNotFound.
// The caller owns the farewell fan-out.
func (r *Registry) End(sessionID, requesterID string) (*Session, error) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if session.broadcaster.ID != requesterID {
		r.mu.Unlock()
		return nil, ErrNotOwner
	}
	delete(r.sessions, sessionID)
	delete(r.byBroadcaster, session.broadcaster.ID)
	r.mu.Unlock()

	session.mu.Lock()
	session.ended = true
	session.mu.Unlock()

	if r.store != nil {
		if err := r.store.SetUserLive(session.broadcaster.ID, false); err != nil {
			r.logger.Warn("failed to clear live flag", "user", session.broadcaster.ID, "error", err)
		}
	}
	return session, nil
}

// Get returns the active session with the given id.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

// SessionForBroadcaster returns the broadcaster's active session, if any.
func (r *Registry) SessionForBroadcaster(userID string) (*Session, bool) {
	r.mu.RLock()
	sessionID, ok := r.byBroadcaster[userID]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	return session, ok
}

// Snapshots lists every active room, newest first.
func (r *Registry) Snapshots() []SessionView {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, session.Snapshot())
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views
}

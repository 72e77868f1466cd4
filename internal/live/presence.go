package live

import (
	"sync"

	"vidloop-live/internal/models"
)

// presence tracks which user each connection authenticated as and which
// sessions the connection currently participates in. Bindings are set once by
// the chat handshake; membership is drained in one sweep on disconnect.
type presence struct {
	mu       sync.Mutex
	users    map[*client]models.User
	sessions map[*client]map[string]struct{}
}

func newPresence() *presence {
	return &presence{
		users:    make(map[*client]models.User),
		sessions: make(map[*client]map[string]struct{}),
	}
}

// Bind associates a connection with an authenticated user. The first binding
// wins; rebinding a connection to a different user is ignored.
func (p *presence) Bind(c *client, user models.User) models.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.users[c]; ok {
		return existing
	}
	p.users[c] = user
	return user
}

// UserFor returns the user bound to the connection.
func (p *presence) UserFor(c *client) (models.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[c]
	return user, ok
}

// Attach records session membership for a connection. Attaching twice is a
// no-op.
func (p *presence) Attach(c *client, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	memberships := p.sessions[c]
	if memberships == nil {
		memberships = make(map[string]struct{})
		p.sessions[c] = memberships
	}
	memberships[sessionID] = struct{}{}
}

// Detach removes a single session membership. Detaching a membership that
// does not exist is a no-op.
func (p *presence) Detach(c *client, sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if memberships := p.sessions[c]; memberships != nil {
		delete(memberships, sessionID)
		if len(memberships) == 0 {
			delete(p.sessions, c)
		}
	}
}

// Drain removes every trace of the connection and returns the session ids it
// belonged to so the caller can run the per-room departure flow.
func (p *presence) Drain(c *client) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	memberships := p.sessions[c]
	delete(p.sessions, c)
	delete(p.users, c)
	ids := make([]string, 0, len(memberships))
	for sessionID := range memberships {
		ids = append(ids, sessionID)
	}
	return ids
}

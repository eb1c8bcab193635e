package control

import (
	"slices"
	"sync"
	"time"
)

// idleAfter marks a client idle in ClientInfo.
const idleAfter = 5 * time.Minute

// ClientRegistry tracks websocket clients by id. Events go only to the
// authenticated ones.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers client and marks it active.
func (r *ClientRegistry) Add(client *Client) {
	client.touch()
	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
}

// Remove forgets clientID and reports whether it was present.
func (r *ClientRegistry) Remove(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[clientID]
	delete(r.clients, clientID)
	return ok
}

// Touch records activity for clientID.
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.RLock()
	c, ok := r.clients[clientID]
	r.mu.RUnlock()
	if ok {
		c.touch()
	}
}

// All returns every connected client.
func (r *ClientRegistry) All() []*Client {
	return r.filter(func(*Client) bool { return true })
}

// Authenticated returns the clients that passed the challenge.
func (r *ClientRegistry) Authenticated() []*Client {
	return r.filter((*Client).Authenticated)
}

func (r *ClientRegistry) filter(keep func(*Client) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot describes every client, oldest connection first.
func (r *ClientRegistry) Snapshot() []ClientInfo {
	now := time.Now()
	clients := r.All()
	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		last := c.LastActivity()
		infos = append(infos, ClientInfo{
			ID:            c.ID,
			Authenticated: c.Authenticated(),
			ConnectedAt:   c.ConnectedAt,
			LastActivity:  last,
			IPAddress:     c.IPAddress,
			Idle:          now.Sub(last) > idleAfter,
		})
	}
	slices.SortFunc(infos, func(a, b ClientInfo) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return infos
}

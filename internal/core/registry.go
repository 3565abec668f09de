package core

import (
	"sort"
	"sync"
)

// Registry indexes connected clients and live channels by name.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]*Channel
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[string]*Client),
		channels: make(map[string]*Channel),
	}
}

// AddClient registers c under its name.
func (r *Registry) AddClient(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.Name]; exists {
		return ErrNameTaken
	}
	r.clients[c.Name] = c
	return nil
}

// RemoveClient erases c if it is still the client registered under its name.
func (r *Registry) RemoveClient(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[c.Name] != c {
		return false
	}
	delete(r.clients, c.Name)
	return true
}

// Client looks up a connected client by name.
func (r *Registry) Client(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Clients returns connected clients sorted by name.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddChannel inserts ch unless the name is taken; the first writer wins.
func (r *Registry) AddChannel(ch *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[ch.Name]; exists {
		return ErrChannelExists
	}
	r.channels[ch.Name] = ch
	return nil
}

// Channel looks up a channel by name.
func (r *Registry) Channel(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Channels returns live channels sorted by name.
func (r *Registry) Channels() []*Channel {
	r.mu.RLock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

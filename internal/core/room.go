package core

// Room groups clients subscribed to the same chat channel. Membership is
// ephemeral; the room disappears when the last client leaves.
type Room struct {
	Name    string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// BroadcastExcept sends an event to all clients in the room except exclude.
// Delivery is best-effort: slow consumers are skipped, never waited on.
func (r *Room) BroadcastExcept(event *Event, exclude *Client) {
	for client := range r.clients {
		if client == exclude {
			continue
		}
		client.Deliver(event)
	}
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

package core

// Client is one live connection as seen by the core layer. The pointer
// itself is the connection handle: the presence registry and rooms key on it
// and never outlive the transport that created it.
type Client struct {
	// ID identifies the underlying transport connection.
	ID string
	// UserID is the authenticated identity bound to this connection.
	UserID int64
	// Name is the display name resolved during the handshake.
	Name string

	Commands chan *Command
	Events   chan *Event
	// Rooms tracks current room membership, maintained by the hub.
	Rooms map[string]struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, userID int64, name string) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 32),
		Rooms:    make(map[string]struct{}),
	}
}

// Deliver offers an event to the client without blocking. Returns false if
// the client's buffer is full and the event was dropped (best-effort relay).
func (c *Client) Deliver(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// InRoom reports whether the client is currently joined to roomID.
func (c *Client) InRoom(roomID string) bool {
	_, ok := c.Rooms[roomID]
	return ok
}

// SharesRoom reports whether two clients are joined to at least one common room.
func (c *Client) SharesRoom(other *Client) bool {
	for room := range c.Rooms {
		if _, ok := other.Rooms[room]; ok {
			return true
		}
	}
	return false
}

package core

// Registry is the bidirectional mapping between a user identity and the live
// connection currently representing it. It is owned by the hub goroutine;
// no method is safe for concurrent use.
type Registry struct {
	byUser   map[int64]*Client
	byClient map[*Client]int64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[int64]*Client),
		byClient: make(map[*Client]int64),
	}
}

// Register binds userID to c, unconditionally superseding any prior handle
// for that user and any prior user mapped to the same handle. Idempotent.
func (r *Registry) Register(userID int64, c *Client) {
	if prev, ok := r.byUser[userID]; ok && prev != c {
		delete(r.byClient, prev)
	}
	if prevUser, ok := r.byClient[c]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}
	r.byUser[userID] = c
	r.byClient[c] = userID
}

// Unregister removes the registration owning this handle and returns the
// freed userID. A handle that was never registered, or was superseded by a
// later registration for the same user, yields ok == false.
func (r *Registry) Unregister(c *Client) (int64, bool) {
	userID, ok := r.byClient[c]
	if !ok {
		return 0, false
	}
	delete(r.byClient, c)
	if r.byUser[userID] == c {
		delete(r.byUser, userID)
	}
	return userID, true
}

// Lookup returns the current handle for userID, if any.
func (r *Registry) Lookup(userID int64) (*Client, bool) {
	c, ok := r.byUser[userID]
	return c, ok
}

// Clients returns all currently registered handles.
func (r *Registry) Clients() []*Client {
	out := make([]*Client, 0, len(r.byClient))
	for c := range r.byClient {
		out = append(out, c)
	}
	return out
}

// Len returns the number of active registrations.
func (r *Registry) Len() int {
	return len(r.byClient)
}

// ScopePolicy selects which connected clients observe a presence change.
type ScopePolicy interface {
	Recipients(affected *Client, connected []*Client) []*Client
}

// BroadcastAll delivers presence changes to every connected client except
// the affected one. This mirrors the historical unscoped broadcast.
type BroadcastAll struct{}

func (BroadcastAll) Recipients(affected *Client, connected []*Client) []*Client {
	out := make([]*Client, 0, len(connected))
	for _, c := range connected {
		if c != affected {
			out = append(out, c)
		}
	}
	return out
}

// SharedRooms limits presence delivery to clients that share at least one
// room with the affected client.
type SharedRooms struct{}

func (SharedRooms) Recipients(affected *Client, connected []*Client) []*Client {
	var out []*Client
	for _, c := range connected {
		if c != affected && c.SharesRoom(affected) {
			out = append(out, c)
		}
	}
	return out
}

// ScopePolicyFromName maps a config value to a policy, defaulting to
// unscoped broadcast.
func ScopePolicyFromName(name string) ScopePolicy {
	if name == "rooms" {
		return SharedRooms{}
	}
	return BroadcastAll{}
}

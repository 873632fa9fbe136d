package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndenisov/beamtalk-server/internal/store"
)

// Hub coordinates presence, room relay and call signaling. All in-memory
// state is owned by the single Run goroutine: connect, disconnect and client
// commands flow through one FIFO queue, so mutations never race and
// per-sender ordering is preserved.
type Hub struct {
	log *zerolog.Logger

	presence    *Registry
	clients     map[*Client]struct{}
	rooms       map[string]*Room
	coordinator *Coordinator

	// statusStore persists presence transitions best-effort; nil disables.
	statusStore store.PresenceStore
	scope       ScopePolicy
	ringTimeout time.Duration

	queue chan hubWork
	tasks chan func()
	done  chan struct{}
}

type hubOp int

const (
	opCommand hubOp = iota
	opConnect
	opDisconnect
)

type hubWork struct {
	op     hubOp
	client *Client
	cmd    *Command
}

// NewHub creates a hub. statusStore may be nil (no persistence); logger is
// required.
func NewHub(statusStore store.PresenceStore, logger *zerolog.Logger) *Hub {
	return &Hub{
		log:         logger,
		presence:    NewRegistry(),
		clients:     make(map[*Client]struct{}),
		rooms:       make(map[string]*Room),
		statusStore: statusStore,
		scope:       BroadcastAll{},
		ringTimeout: 30 * time.Second,
		queue:       make(chan hubWork, 128),
		tasks:       make(chan func(), 64),
		done:        make(chan struct{}),
	}
}

// SetScopePolicy overrides presence broadcast scoping. Call before Run.
func (h *Hub) SetScopePolicy(p ScopePolicy) {
	if p != nil {
		h.scope = p
	}
}

// SetRingTimeout overrides the unanswered-call timeout. Zero disables the
// timer. Call before Run.
func (h *Hub) SetRingTimeout(d time.Duration) {
	h.ringTimeout = d
}

// RegisterClient announces a new authenticated connection and starts pumping
// its commands into the dispatch queue. The connect entry is enqueued before
// the pump starts, so no command can overtake its own registration.
func (h *Hub) RegisterClient(c *Client) {
	h.enqueue(hubWork{op: opConnect, client: c})

	go func() {
		for cmd := range c.Commands {
			h.enqueue(hubWork{op: opCommand, client: c, cmd: cmd})
		}
	}()
}

// UnregisterClient removes a disconnected connection. The caller should
// close c.Commands afterwards to stop the pump goroutine.
func (h *Hub) UnregisterClient(c *Client) {
	h.enqueue(hubWork{op: opDisconnect, client: c})
}

// Done closes when the dispatch loop has exited. Transports use it to
// unblock waiting writers at shutdown.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) enqueue(w hubWork) {
	select {
	case h.queue <- w:
	case <-h.done:
	}
}

// Run executes the dispatch loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.coordinator = NewCoordinator(h.presence, h.ringTimeout, h.scheduleTask, h.log)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case w := <-h.queue:
			switch w.op {
			case opConnect:
				h.onConnect(w.client)
			case opDisconnect:
				h.onDisconnect(w.client)
			case opCommand:
				h.dispatch(w.client, w.cmd)
			}
		case fn := <-h.tasks:
			fn()
		}
	}
}

// scheduleTask arranges for fn to run on the hub goroutine after d.
func (h *Hub) scheduleTask(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		select {
		case h.tasks <- fn:
		case <-h.done:
		}
	})
}

// onConnect registers presence for the connection's user. A later
// registration for the same user supersedes the earlier one silently.
func (h *Hub) onConnect(c *Client) {
	h.clients[c] = struct{}{}
	h.presence.Register(c.UserID, c)
	h.log.Info().
		Str("conn_id", c.ID).
		Int64("user_id", c.UserID).
		Str("username", c.Name).
		Msg("client connected")

	h.broadcastPresence(c, store.StatusOnline, nil)
	h.persistStatus(c.UserID, store.StatusOnline, nil)
}

// onDisconnect tears down membership and presence. The offline transition is
// only announced when this handle still owned the user's registration; a
// disconnect racing a fresh connect for the same user must not mark the
// still-live user offline.
func (h *Hub) onDisconnect(c *Client) {
	delete(h.clients, c)

	// All event producers run on this goroutine and consult h.clients or
	// presence first, so closing here cannot race a Deliver.
	defer close(c.Events)

	userID, owned := h.presence.Unregister(c)
	if !owned {
		for roomID := range c.Rooms {
			h.leaveRoom(c, roomID)
		}
		h.log.Debug().Str("conn_id", c.ID).Msg("stale connection closed")
		return
	}

	h.coordinator.HandleDisconnect(userID)

	// Broadcast before dropping room membership so room-scoped policies
	// still see who shared a room with the departing client.
	now := time.Now()
	h.broadcastPresence(c, store.StatusOffline, &now)
	h.persistStatus(userID, store.StatusOffline, &now)

	for roomID := range c.Rooms {
		h.leaveRoom(c, roomID)
	}

	h.log.Info().
		Str("conn_id", c.ID).
		Int64("user_id", userID).
		Msg("client disconnected")
}

func (h *Hub) dispatch(c *Client, cmd *Command) {
	if _, connected := h.clients[c]; !connected {
		// Command arrived after the disconnect entry; drop it.
		return
	}

	switch cmd.Kind {
	case CommandJoinRoom:
		h.joinRoom(c, cmd.Room)
	case CommandLeaveRoom:
		h.leaveRoom(c, cmd.Room)
	case CommandSendRoomMessage:
		h.relay(c, cmd.Room, &Event{Kind: EventRoomMessage, Message: cmd.Message})
	case CommandTyping:
		h.relay(c, cmd.Room, &Event{Kind: EventTyping, Typing: cmd.Typing})
	case CommandMessageRead:
		h.relay(c, cmd.Room, &Event{Kind: EventReadReceipt, Receipt: cmd.Receipt})
	case CommandCallInvite:
		h.coordinator.Invite(c, cmd.Call.PeerID, cmd.Call.Type, cmd.Call.Payload)
	case CommandCallAnswer:
		h.coordinator.Answer(c, cmd.Call.PeerID, cmd.Call.Payload)
	case CommandCallReject:
		h.coordinator.Reject(c, cmd.Call.PeerID)
	case CommandCallEnd:
		h.coordinator.End(c, cmd.Call.PeerID)
	case CommandIceCandidate:
		h.coordinator.RelayCandidate(c, cmd.Candidate.TargetUserID, cmd.Candidate.Candidate)
	default:
		c.Deliver(&Event{
			Kind:  EventError,
			Error: coreError(ErrCodeInvalidMessage, "unknown command"),
		})
	}
}

// joinRoom is idempotent: joining a room twice is a no-op.
func (h *Hub) joinRoom(c *Client, roomID string) {
	if roomID == "" {
		c.Deliver(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "room is required")})
		return
	}
	room, ok := h.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		h.rooms[roomID] = room
	}
	if room.AddClient(c) {
		c.Rooms[roomID] = struct{}{}
		h.log.Debug().Str("conn_id", c.ID).Str("room", roomID).Msg("joined room")
	}
}

// leaveRoom is idempotent: leaving an unknown room is a no-op.
func (h *Hub) leaveRoom(c *Client, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if room.RemoveClient(c) {
		delete(c.Rooms, roomID)
		h.log.Debug().Str("conn_id", c.ID).Str("room", roomID).Msg("left room")
	}
	if room.Empty() {
		delete(h.rooms, roomID)
	}
}

// relay fans out an ephemeral event to the room, excluding the sender.
// Best-effort, at-most-once: recipients with full buffers are skipped and a
// room nobody joined swallows the event entirely.
func (h *Hub) relay(c *Client, roomID string, ev *Event) {
	if roomID == "" {
		c.Deliver(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "room is required")})
		return
	}
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	room.BroadcastExcept(ev, c)
}

// broadcastPresence fans out a presence change according to the scope policy.
func (h *Hub) broadcastPresence(affected *Client, status store.UserStatus, lastSeen *time.Time) {
	ev := &Event{
		Kind: EventPresenceChanged,
		Presence: &PresenceChange{
			UserID:   affected.UserID,
			Username: affected.Name,
			Status:   string(status),
			LastSeen: lastSeen,
		},
	}
	for _, c := range h.scope.Recipients(affected, h.connectedClients()) {
		c.Deliver(ev)
	}
}

func (h *Hub) connectedClients() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// persistStatus writes the presence transition fire-and-forget. Store errors
// are logged and never interrupt the live connection.
func (h *Hub) persistStatus(userID int64, status store.UserStatus, lastSeen *time.Time) {
	if h.statusStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.statusStore.SetUserStatus(ctx, userID, status, lastSeen); err != nil {
			h.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to persist user status")
		}
	}()
}

package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Coordinator routes the call handshake between exactly two users, resolving
// destinations through the presence registry. Like the registry it is owned
// by the hub goroutine; ring timers re-enter through the schedule callback.
type Coordinator struct {
	presence    *Registry
	sessions    map[pairKey]*CallSession
	ringTimeout time.Duration
	// schedule runs fn on the owning goroutine after d. Wired to the hub's
	// task channel; tests may run fn inline.
	schedule func(d time.Duration, fn func()) *time.Timer
	log      *zerolog.Logger
}

// NewCoordinator builds a coordinator over the given registry.
// ringTimeout of zero disables the unanswered-call timer.
func NewCoordinator(presence *Registry, ringTimeout time.Duration, schedule func(time.Duration, func()) *time.Timer, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		presence:    presence,
		sessions:    make(map[pairKey]*CallSession),
		ringTimeout: ringTimeout,
		schedule:    schedule,
		log:         logger,
	}
}

// Session returns the session for the unordered pair {a, b}, if any.
func (co *Coordinator) Session(a, b int64) (*CallSession, bool) {
	s, ok := co.sessions[pairOf(a, b)]
	return s, ok
}

// Invite routes an incoming-call notification to the receiver and creates a
// ringing session. An unreachable receiver or an existing non-terminal
// session for the pair yields an explicit delivery-failed back to the caller.
func (co *Coordinator) Invite(caller *Client, receiverID int64, callType CallType, payload json.RawMessage) {
	if _, exists := co.sessions[pairOf(caller.UserID, receiverID)]; exists {
		co.log.Debug().
			Int64("caller_id", caller.UserID).
			Int64("receiver_id", receiverID).
			Msg("invite refused: pair already has an active session")
		co.failDelivery(caller, receiverID, ReasonBusy)
		return
	}

	receiver, ok := co.presence.Lookup(receiverID)
	if !ok {
		co.log.Debug().
			Int64("caller_id", caller.UserID).
			Int64("receiver_id", receiverID).
			Msg("invite dropped: receiver offline")
		co.failDelivery(caller, receiverID, ReasonOffline)
		return
	}

	session := &CallSession{
		ID:         uuid.New().String(),
		CallerID:   caller.UserID,
		ReceiverID: receiverID,
		Type:       callType,
		State:      SessionRinging,
		CreatedAt:  time.Now(),
	}
	co.sessions[pairOf(caller.UserID, receiverID)] = session
	co.armRingTimer(session)

	receiver.Deliver(&Event{
		Kind: EventIncomingCall,
		Call: &CallNotice{
			CallID:     session.ID,
			CallerID:   caller.UserID,
			CallerName: caller.Name,
			Type:       callType,
			Payload:    payload,
		},
	})

	co.log.Info().
		Str("call_id", session.ID).
		Int64("caller_id", caller.UserID).
		Int64("receiver_id", receiverID).
		Str("call_type", string(callType)).
		Msg("call ringing")
}

// Answer forwards the receiver's answer to the caller's current handle and
// moves the session to answered. The caller is resolved fresh at delivery
// time, never cached from invite time.
func (co *Coordinator) Answer(receiver *Client, callerID int64, payload json.RawMessage) {
	session, ok := co.activeSession(receiver, callerID, SessionRinging, "answer")
	if !ok {
		return
	}

	session.stopRingTimer()
	session.State = SessionAnswered

	caller, ok := co.presence.Lookup(session.CallerID)
	if !ok {
		co.log.Warn().Str("call_id", session.ID).Msg("answer dropped: caller no longer connected")
		return
	}

	caller.Deliver(&Event{
		Kind: EventCallAnswered,
		Call: &CallNotice{
			CallID:     session.ID,
			ReceiverID: receiver.UserID,
			Payload:    payload,
		},
	})

	co.log.Info().Str("call_id", session.ID).Msg("call answered")
}

// Reject forwards the receiver's rejection to the caller and terminates the
// session.
func (co *Coordinator) Reject(receiver *Client, callerID int64) {
	session, ok := co.activeSession(receiver, callerID, SessionRinging, "reject")
	if !ok {
		return
	}

	co.finish(session, SessionRejected)

	caller, ok := co.presence.Lookup(session.CallerID)
	if !ok {
		return
	}
	caller.Deliver(&Event{
		Kind: EventCallRejected,
		Call: &CallNotice{
			CallID:     session.ID,
			ReceiverID: receiver.UserID,
		},
	})

	co.log.Info().Str("call_id", session.ID).Msg("call rejected")
}

// End hangs up an answered call. Both parties are notified, not only the
// receiver side.
func (co *Coordinator) End(from *Client, peerID int64) {
	session, ok := co.activeSession(from, peerID, SessionAnswered, "end")
	if !ok {
		return
	}

	co.finish(session, SessionEnded)
	co.notifyEnded(session, EventCallEnded)

	co.log.Info().Str("call_id", session.ID).Msg("call ended")
}

// RelayCandidate forwards an ICE candidate point-to-point. Candidates for
// pairs without a ringing or answered session, or toward an unresolvable
// target, are silently dropped.
func (co *Coordinator) RelayCandidate(from *Client, targetID int64, candidate json.RawMessage) {
	session, ok := co.sessions[pairOf(from.UserID, targetID)]
	if !ok || session.State.Terminal() {
		co.log.Debug().
			Int64("from_user_id", from.UserID).
			Int64("target_user_id", targetID).
			Msg("ice candidate dropped: no active session")
		return
	}

	target, ok := co.presence.Lookup(targetID)
	if !ok {
		co.log.Debug().
			Int64("target_user_id", targetID).
			Msg("ice candidate dropped: target offline")
		return
	}

	target.Deliver(&Event{
		Kind: EventIceCandidate,
		Candidate: &IceCandidate{
			FromUserID: from.UserID,
			Candidate:  candidate,
		},
	})
}

// HandleDisconnect terminates any non-terminal session the user participates
// in and notifies the remaining party. Disconnect is the only implicit
// cancellation signal.
func (co *Coordinator) HandleDisconnect(userID int64) {
	for key, session := range co.sessions {
		if !session.Involves(userID) || session.State.Terminal() {
			continue
		}
		delete(co.sessions, key)
		session.stopRingTimer()
		session.State = SessionEnded

		peerID := session.Peer(userID)
		if peer, ok := co.presence.Lookup(peerID); ok {
			peer.Deliver(&Event{
				Kind: EventCallEnded,
				Call: &CallNotice{CallID: session.ID},
			})
		}

		co.log.Info().
			Str("call_id", session.ID).
			Int64("user_id", userID).
			Msg("call ended by disconnect")
	}
}

// activeSession fetches the session for the pair and validates the expected
// state. Stray signals for unknown or mismatched sessions are dropped.
func (co *Coordinator) activeSession(from *Client, peerID int64, want SessionState, op string) (*CallSession, bool) {
	session, ok := co.sessions[pairOf(from.UserID, peerID)]
	if !ok {
		co.log.Warn().
			Str("op", op).
			Int64("from_user_id", from.UserID).
			Int64("peer_user_id", peerID).
			Msg("signal dropped: no session for pair")
		return nil, false
	}
	if session.State != want {
		co.log.Warn().
			Str("op", op).
			Str("call_id", session.ID).
			Str("state", session.State.String()).
			Msg("signal dropped: wrong session state")
		return nil, false
	}
	return session, true
}

func (co *Coordinator) armRingTimer(session *CallSession) {
	if co.ringTimeout <= 0 || co.schedule == nil {
		return
	}
	id := session.ID
	session.ringTimer = co.schedule(co.ringTimeout, func() {
		co.expireRinging(id)
	})
}

// expireRinging resolves a still-ringing session to unreachable: the caller
// learns the receiver never picked up, the receiver's ringing UI is cleared.
func (co *Coordinator) expireRinging(callID string) {
	for key, session := range co.sessions {
		if session.ID != callID {
			continue
		}
		if session.State != SessionRinging {
			return
		}
		delete(co.sessions, key)
		session.ringTimer = nil
		session.State = SessionUnreachable

		if caller, ok := co.presence.Lookup(session.CallerID); ok {
			caller.Deliver(&Event{
				Kind: EventCallUnreachable,
				Call: &CallNotice{
					CallID:     session.ID,
					ReceiverID: session.ReceiverID,
				},
			})
		}
		if receiver, ok := co.presence.Lookup(session.ReceiverID); ok {
			receiver.Deliver(&Event{
				Kind: EventCallEnded,
				Call: &CallNotice{CallID: session.ID},
			})
		}

		co.log.Info().Str("call_id", session.ID).Msg("ringing call timed out")
		return
	}
}

// finish moves a session to a terminal state and forgets it, freeing the
// pair for a new call.
func (co *Coordinator) finish(session *CallSession, state SessionState) {
	session.stopRingTimer()
	session.State = state
	delete(co.sessions, pairOf(session.CallerID, session.ReceiverID))
}

func (co *Coordinator) notifyEnded(session *CallSession, kind EventKind) {
	for _, userID := range []int64{session.CallerID, session.ReceiverID} {
		if c, ok := co.presence.Lookup(userID); ok {
			c.Deliver(&Event{
				Kind: kind,
				Call: &CallNotice{CallID: session.ID},
			})
		}
	}
}

func (co *Coordinator) failDelivery(to *Client, peerID int64, reason DeliveryFailReason) {
	to.Deliver(&Event{
		Kind: EventDeliveryFailed,
		Call: &CallNotice{
			ReceiverID: peerID,
			Reason:     reason,
		},
	})
}

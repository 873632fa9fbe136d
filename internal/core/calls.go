package core

import (
	"time"
)

// CallType distinguishes audio-only from video calls.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// SessionState is the lifecycle state of a call session.
type SessionState int

const (
	// SessionRinging is the initial state, entered when an invite is routed.
	SessionRinging SessionState = iota
	// SessionAnswered means the receiver accepted; media negotiation proceeds.
	SessionAnswered
	// SessionRejected is terminal: the receiver declined.
	SessionRejected
	// SessionEnded is terminal: an answered call was hung up.
	SessionEnded
	// SessionUnreachable is terminal: the ring timer expired without answer.
	SessionUnreachable
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s != SessionRinging && s != SessionAnswered
}

func (s SessionState) String() string {
	switch s {
	case SessionRinging:
		return "ringing"
	case SessionAnswered:
		return "answered"
	case SessionRejected:
		return "rejected"
	case SessionEnded:
		return "ended"
	case SessionUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// CallSession is the explicit record of one call handshake between two users.
// At most one non-terminal session exists per unordered participant pair.
type CallSession struct {
	ID         string
	CallerID   int64
	ReceiverID int64
	Type       CallType
	State      SessionState
	CreatedAt  time.Time

	ringTimer *time.Timer
}

// Involves reports whether userID is a participant of the session.
func (s *CallSession) Involves(userID int64) bool {
	return s.CallerID == userID || s.ReceiverID == userID
}

// Peer returns the other participant's userID.
func (s *CallSession) Peer(userID int64) int64 {
	if s.CallerID == userID {
		return s.ReceiverID
	}
	return s.CallerID
}

// stopRingTimer cancels a pending ring timeout, if any.
func (s *CallSession) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// pairKey identifies the unordered pair of call participants.
type pairKey struct {
	lo, hi int64
}

func pairOf(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

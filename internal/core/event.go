package core

import (
	"encoding/json"
	"time"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventPresenceChanged notifies clients that a user went online or offline.
	EventPresenceChanged EventKind = iota
	// EventRoomMessage notifies room members about a relayed chat message.
	EventRoomMessage
	// EventTyping notifies room members about a typing indicator.
	EventTyping
	// EventReadReceipt notifies room members that a message was read.
	EventReadReceipt

	// EventIncomingCall notifies the receiver of a call invite.
	EventIncomingCall
	// EventCallAnswered notifies the caller that the receiver accepted.
	EventCallAnswered
	// EventCallRejected notifies the caller that the receiver declined.
	EventCallRejected
	// EventCallEnded notifies a party that the call was hung up.
	EventCallEnded
	// EventCallUnreachable notifies the caller that a ringing call timed out.
	EventCallUnreachable
	// EventDeliveryFailed notifies a sender that a signal could not be routed.
	EventDeliveryFailed
	// EventIceCandidate delivers a relayed ICE candidate.
	EventIceCandidate

	// EventError notifies clients about a protocol or domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Presence  *PresenceChange
	Message   *RoomMessage
	Typing    *TypingState
	Receipt   *ReadReceipt
	Call      *CallNotice
	Candidate *IceCandidate
	Error     *CoreError
}

// PresenceChange describes a user going online or offline.
type PresenceChange struct {
	UserID   int64
	Username string
	Status   string // "online" or "offline"
	LastSeen *time.Time
}

// RoomMessage is a relayed chat message. The body is passed through opaque;
// the persisted record lives in the message store, written out of band.
type RoomMessage struct {
	RoomID   string
	SenderID int64
	Sender   string
	Body     json.RawMessage
	SentAt   time.Time
}

// TypingState is an ephemeral typing indicator.
type TypingState struct {
	RoomID   string
	UserID   int64
	IsTyping bool
}

// ReadReceipt marks a message as read by a set of users.
type ReadReceipt struct {
	RoomID    string
	MessageID string
	UserID    int64
	ReadBy    []int64
}

// DeliveryFailReason explains an EventDeliveryFailed.
type DeliveryFailReason string

const (
	// ReasonOffline means the target user has no live connection.
	ReasonOffline DeliveryFailReason = "offline"
	// ReasonBusy means a non-terminal call already exists for the pair.
	ReasonBusy DeliveryFailReason = "busy"
)

// CallNotice carries call signaling data toward a client.
type CallNotice struct {
	CallID     string
	CallerID   int64
	CallerName string
	ReceiverID int64
	Type       CallType
	Payload    json.RawMessage
	Reason     DeliveryFailReason // set on EventDeliveryFailed only
}

// IceCandidate is a relayed network path candidate.
type IceCandidate struct {
	FromUserID int64
	Candidate  json.RawMessage
}

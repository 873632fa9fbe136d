package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandSendRoomMessage relays a chat message to room participants.
	CommandSendRoomMessage
	// CommandTyping relays a typing indicator to room participants.
	CommandTyping
	// CommandMessageRead relays a read receipt to room participants.
	CommandMessageRead
	// CommandCallInvite starts the call handshake toward another user.
	CommandCallInvite
	// CommandCallAnswer accepts an incoming call.
	CommandCallAnswer
	// CommandCallReject declines an incoming call.
	CommandCallReject
	// CommandCallEnd hangs up a call.
	CommandCallEnd
	// CommandIceCandidate relays an ICE candidate to the call peer.
	CommandIceCandidate
)

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	Room      string
	Message   *RoomMessage
	Typing    *TypingState
	Receipt   *ReadReceipt
	Call      *CallRequest
	Candidate *IceRelay
}

// CallRequest carries call handshake parameters. PeerID is always the other
// party from the sender's point of view.
type CallRequest struct {
	PeerID  int64
	Type    CallType
	Payload json.RawMessage
}

// IceRelay is a point-to-point candidate forward request.
type IceRelay struct {
	TargetUserID int64
	Candidate    json.RawMessage
}

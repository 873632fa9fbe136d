package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello        = "hello"
	InboundTypeJoinChat     = "join-chat"
	InboundTypeLeaveChat    = "leave-chat"
	InboundTypeMsg          = "new-message"
	InboundTypeTyping       = "typing"
	InboundTypeMessageRead  = "message-read"
	InboundTypeOutgoingCall = "outgoing-call"
	InboundTypeAnswerCall   = "answer-call"
	InboundTypeRejectCall   = "reject-call"
	InboundTypeEndCall      = "end-call"
	InboundTypeIceCandidate = "ice-candidate"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventPresenceChanged = "presence-changed"
	EventMessageArrived  = "message-arrived"
	EventTypingState     = "typing-state"
	EventReadReceipt     = "read-receipt"
	EventIncomingCall    = "incoming-call"
	EventCallAnswered    = "call-answered"
	EventCallRejected    = "call-rejected"
	EventCallEnded       = "call-ended"
	EventCallUnreachable = "call-unreachable"
	EventDeliveryFailed  = "delivery-failed"
	EventIceCandidate    = "ice-candidate"
)

// HelloData is sent first by the client to bind its identity to the
// connection; the token comes from the REST auth endpoints.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// ChatData addresses a room for join-chat and leave-chat.
type ChatData struct {
	Room string `json:"room"`
}

// MsgData is a relayed chat message. The body is opaque to the relay; the
// client persists the record through the REST API separately.
type MsgData struct {
	Room string          `json:"room"`
	Body json.RawMessage `json:"body"`
}

// TypingData is an ephemeral typing indicator.
type TypingData struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"is_typing"`
}

// MessageReadData marks a message as read.
type MessageReadData struct {
	Room      string  `json:"room"`
	MessageID string  `json:"message_id"`
	ReadBy    []int64 `json:"read_by,omitempty"`
}

// OutgoingCallData starts the call handshake.
type OutgoingCallData struct {
	ReceiverID int64           `json:"receiver_id"`
	CallType   string          `json:"call_type"`
	SignalData json.RawMessage `json:"signal_data,omitempty"`
}

// AnswerCallData accepts an incoming call.
type AnswerCallData struct {
	CallerID   int64           `json:"caller_id"`
	SignalData json.RawMessage `json:"signal_data,omitempty"`
}

// RejectCallData declines an incoming call.
type RejectCallData struct {
	CallerID int64 `json:"caller_id"`
}

// EndCallData hangs up; PeerID is the other party.
type EndCallData struct {
	PeerID int64 `json:"peer_id"`
}

// IceCandidateData relays a candidate to the call peer.
type IceCandidateData struct {
	TargetUserID int64           `json:"target_user_id"`
	Candidate    json.RawMessage `json:"candidate"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// PresenceEvent announces a user going online or offline.
type PresenceEvent struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// MessageEvent is a relayed chat message.
type MessageEvent struct {
	Room     string          `json:"room"`
	SenderID int64           `json:"sender_id"`
	Sender   string          `json:"sender"`
	Body     json.RawMessage `json:"body"`
	TS       int64           `json:"ts"`
}

// TypingEvent is a relayed typing indicator.
type TypingEvent struct {
	Room     string `json:"room"`
	UserID   int64  `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptEvent is a relayed read receipt.
type ReadReceiptEvent struct {
	Room      string  `json:"room"`
	MessageID string  `json:"message_id"`
	UserID    int64   `json:"user_id"`
	ReadBy    []int64 `json:"read_by,omitempty"`
}

// IncomingCallEvent notifies the receiver of a call invite.
type IncomingCallEvent struct {
	CallID     string          `json:"call_id"`
	CallerID   int64           `json:"caller_id"`
	CallerName string          `json:"caller_name"`
	CallType   string          `json:"call_type"`
	SignalData json.RawMessage `json:"signal_data,omitempty"`
}

// CallAnsweredEvent notifies the caller of acceptance.
type CallAnsweredEvent struct {
	CallID     string          `json:"call_id"`
	ReceiverID int64           `json:"receiver_id"`
	SignalData json.RawMessage `json:"signal_data,omitempty"`
}

// CallRejectedEvent notifies the caller of rejection.
type CallRejectedEvent struct {
	CallID     string `json:"call_id"`
	ReceiverID int64  `json:"receiver_id"`
}

// CallEndedEvent notifies a party that the call is over.
type CallEndedEvent struct {
	CallID string `json:"call_id,omitempty"`
}

// CallUnreachableEvent tells the caller a ringing call timed out.
type CallUnreachableEvent struct {
	CallID     string `json:"call_id"`
	ReceiverID int64  `json:"receiver_id"`
}

// DeliveryFailedEvent tells a sender a call signal could not be routed.
type DeliveryFailedEvent struct {
	TargetUserID int64  `json:"target_user_id"`
	Reason       string `json:"reason"`
}

// IceCandidateEvent delivers a relayed candidate.
type IceCandidateEvent struct {
	FromUserID int64           `json:"from_user_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

package http

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ndenisov/beamtalk-server/internal/core"
	"github.com/ndenisov/beamtalk-server/internal/proto"
)

// inboundToCommand translates a wire frame into a core command. Sender
// identity always comes from the authenticated client, never from the
// payload.
func inboundToCommand(c *core.Client, in *proto.Inbound) (*core.Command, error) {
	switch in.Type {
	case proto.InboundTypeJoinChat:
		var d proto.ChatData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.Room == "" {
			return nil, coreFieldError("room")
		}
		return &core.Command{Kind: core.CommandJoinRoom, Room: d.Room}, nil

	case proto.InboundTypeLeaveChat:
		var d proto.ChatData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.Room == "" {
			return nil, coreFieldError("room")
		}
		return &core.Command{Kind: core.CommandLeaveRoom, Room: d.Room}, nil

	case proto.InboundTypeMsg:
		var d proto.MsgData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.Room == "" {
			return nil, coreFieldError("room")
		}
		if len(d.Body) == 0 {
			return nil, coreFieldError("body")
		}
		return &core.Command{
			Kind: core.CommandSendRoomMessage,
			Room: d.Room,
			Message: &core.RoomMessage{
				RoomID:   d.Room,
				SenderID: c.UserID,
				Sender:   c.Name,
				Body:     d.Body,
				SentAt:   time.Now(),
			},
		}, nil

	case proto.InboundTypeTyping:
		var d proto.TypingData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.Room == "" {
			return nil, coreFieldError("room")
		}
		return &core.Command{
			Kind: core.CommandTyping,
			Room: d.Room,
			Typing: &core.TypingState{
				RoomID:   d.Room,
				UserID:   c.UserID,
				IsTyping: d.IsTyping,
			},
		}, nil

	case proto.InboundTypeMessageRead:
		var d proto.MessageReadData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.Room == "" {
			return nil, coreFieldError("room")
		}
		if d.MessageID == "" {
			return nil, coreFieldError("message_id")
		}
		return &core.Command{
			Kind: core.CommandMessageRead,
			Room: d.Room,
			Receipt: &core.ReadReceipt{
				RoomID:    d.Room,
				MessageID: d.MessageID,
				UserID:    c.UserID,
				ReadBy:    d.ReadBy,
			},
		}, nil

	case proto.InboundTypeOutgoingCall:
		var d proto.OutgoingCallData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.ReceiverID == 0 {
			return nil, coreFieldError("receiver_id")
		}
		callType := core.CallType(d.CallType)
		if !callType.Valid() {
			return nil, coreFieldError("call_type")
		}
		return &core.Command{
			Kind: core.CommandCallInvite,
			Call: &core.CallRequest{
				PeerID:  d.ReceiverID,
				Type:    callType,
				Payload: d.SignalData,
			},
		}, nil

	case proto.InboundTypeAnswerCall:
		var d proto.AnswerCallData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.CallerID == 0 {
			return nil, coreFieldError("caller_id")
		}
		return &core.Command{
			Kind: core.CommandCallAnswer,
			Call: &core.CallRequest{PeerID: d.CallerID, Payload: d.SignalData},
		}, nil

	case proto.InboundTypeRejectCall:
		var d proto.RejectCallData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.CallerID == 0 {
			return nil, coreFieldError("caller_id")
		}
		return &core.Command{
			Kind: core.CommandCallReject,
			Call: &core.CallRequest{PeerID: d.CallerID},
		}, nil

	case proto.InboundTypeEndCall:
		var d proto.EndCallData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.PeerID == 0 {
			return nil, coreFieldError("peer_id")
		}
		return &core.Command{
			Kind: core.CommandCallEnd,
			Call: &core.CallRequest{PeerID: d.PeerID},
		}, nil

	case proto.InboundTypeIceCandidate:
		var d proto.IceCandidateData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		if d.TargetUserID == 0 {
			return nil, coreFieldError("target_user_id")
		}
		if len(d.Candidate) == 0 {
			return nil, coreFieldError("candidate")
		}
		return &core.Command{
			Kind: core.CommandIceCandidate,
			Candidate: &core.IceRelay{
				TargetUserID: d.TargetUserID,
				Candidate:    d.Candidate,
			},
		}, nil

	default:
		return nil, &core.CoreError{
			Code:    core.ErrCodeInvalidMessage,
			Message: fmt.Sprintf("unknown message type %q", in.Type),
		}
	}
}

// outboundFromEvent translates a core event into a wire frame. Returns false
// for events with no wire representation.
func outboundFromEvent(ev *core.Event) (proto.Outbound, bool) {
	switch ev.Kind {
	case core.EventPresenceChanged:
		data := proto.PresenceEvent{
			UserID:   ev.Presence.UserID,
			Username: ev.Presence.Username,
			Status:   ev.Presence.Status,
		}
		if ev.Presence.LastSeen != nil {
			data.LastSeen = ev.Presence.LastSeen.Unix()
		}
		return event(proto.EventPresenceChanged, data), true

	case core.EventRoomMessage:
		return event(proto.EventMessageArrived, proto.MessageEvent{
			Room:     ev.Message.RoomID,
			SenderID: ev.Message.SenderID,
			Sender:   ev.Message.Sender,
			Body:     ev.Message.Body,
			TS:       ev.Message.SentAt.UnixMilli(),
		}), true

	case core.EventTyping:
		return event(proto.EventTypingState, proto.TypingEvent{
			Room:     ev.Typing.RoomID,
			UserID:   ev.Typing.UserID,
			IsTyping: ev.Typing.IsTyping,
		}), true

	case core.EventReadReceipt:
		return event(proto.EventReadReceipt, proto.ReadReceiptEvent{
			Room:      ev.Receipt.RoomID,
			MessageID: ev.Receipt.MessageID,
			UserID:    ev.Receipt.UserID,
			ReadBy:    ev.Receipt.ReadBy,
		}), true

	case core.EventIncomingCall:
		return event(proto.EventIncomingCall, proto.IncomingCallEvent{
			CallID:     ev.Call.CallID,
			CallerID:   ev.Call.CallerID,
			CallerName: ev.Call.CallerName,
			CallType:   string(ev.Call.Type),
			SignalData: ev.Call.Payload,
		}), true

	case core.EventCallAnswered:
		return event(proto.EventCallAnswered, proto.CallAnsweredEvent{
			CallID:     ev.Call.CallID,
			ReceiverID: ev.Call.ReceiverID,
			SignalData: ev.Call.Payload,
		}), true

	case core.EventCallRejected:
		return event(proto.EventCallRejected, proto.CallRejectedEvent{
			CallID:     ev.Call.CallID,
			ReceiverID: ev.Call.ReceiverID,
		}), true

	case core.EventCallEnded:
		return event(proto.EventCallEnded, proto.CallEndedEvent{
			CallID: ev.Call.CallID,
		}), true

	case core.EventCallUnreachable:
		return event(proto.EventCallUnreachable, proto.CallUnreachableEvent{
			CallID:     ev.Call.CallID,
			ReceiverID: ev.Call.ReceiverID,
		}), true

	case core.EventDeliveryFailed:
		return event(proto.EventDeliveryFailed, proto.DeliveryFailedEvent{
			TargetUserID: ev.Call.ReceiverID,
			Reason:       string(ev.Call.Reason),
		}), true

	case core.EventIceCandidate:
		return event(proto.EventIceCandidate, proto.IceCandidateEvent{
			FromUserID: ev.Candidate.FromUserID,
			Candidate:  ev.Candidate.Candidate,
		}), true

	case core.EventError:
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: ev.Error.Code, Msg: ev.Error.Message},
		}, true

	default:
		return proto.Outbound{}, false
	}
}

func event(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return &core.CoreError{Code: core.ErrCodeInvalidMessage, Message: "missing payload"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &core.CoreError{Code: core.ErrCodeInvalidMessage, Message: "malformed payload"}
	}
	return nil
}

func coreFieldError(field string) *core.CoreError {
	return &core.CoreError{
		Code:    core.ErrCodeBadRequest,
		Message: fmt.Sprintf("%s is required", field),
	}
}

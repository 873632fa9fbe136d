package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startTestHub(t *testing.T) *Hub {
	t.Helper()

	logger := zerolog.Nop()
	hub := NewHub(nil, &logger)
	hub.SetRingTimeout(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHubPresenceBroadcast(t *testing.T) {
	hub := startTestHub(t)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")

	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	ev := mustEvent(t, alice.Events, EventPresenceChanged)
	if ev.Presence.UserID != 2 || ev.Presence.Status != "online" {
		t.Fatalf("unexpected presence event: %+v", ev.Presence)
	}
	if ev.Presence.LastSeen != nil {
		t.Fatalf("online presence should not carry last_seen")
	}

	hub.UnregisterClient(bob)

	off := mustEvent(t, alice.Events, EventPresenceChanged)
	if off.Presence.UserID != 2 || off.Presence.Status != "offline" {
		t.Fatalf("unexpected offline event: %+v", off.Presence)
	}
	if off.Presence.LastSeen == nil {
		t.Fatalf("offline presence should carry last_seen")
	}
}

func TestHubStaleDisconnectDoesNotGoOffline(t *testing.T) {
	hub := startTestHub(t)

	watcher := NewClient("w", 9, "watcher")
	hub.RegisterClient(watcher)

	first := NewClient("c1", 1, "alice")
	hub.RegisterClient(first)
	mustEvent(t, watcher.Events, EventPresenceChanged)

	// Same user reconnects before the old transport notices it is gone.
	second := NewClient("c2", 1, "alice")
	hub.RegisterClient(second)
	mustEvent(t, watcher.Events, EventPresenceChanged)

	hub.UnregisterClient(first)

	noEvent(t, watcher.Events, EventPresenceChanged)
}

func TestHubRelayExcludesSender(t *testing.T) {
	hub := startTestHub(t)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	carol := NewClient("c", 3, "carol")

	for _, c := range []*Client{alice, bob, carol} {
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	}

	body := json.RawMessage(`{"text":"hi"}`)
	alice.Commands <- &Command{
		Kind: CommandSendRoomMessage,
		Room: "general",
		Message: &RoomMessage{
			RoomID:   "general",
			SenderID: 1,
			Sender:   "alice",
			Body:     body,
		},
	}

	for _, c := range []*Client{bob, carol} {
		ev := mustEvent(t, c.Events, EventRoomMessage)
		if ev.Message.Sender != "alice" || string(ev.Message.Body) != string(body) {
			t.Fatalf("unexpected message for %s: %+v", c.Name, ev.Message)
		}
	}
	noEvent(t, alice.Events, EventRoomMessage)
}

func TestHubRelayOnlyToJoined(t *testing.T) {
	hub := startTestHub(t)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	outsider := NewClient("o", 3, "outsider")

	for _, c := range []*Client{alice, bob, outsider} {
		hub.RegisterClient(c)
	}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}

	alice.Commands <- &Command{
		Kind:    CommandSendRoomMessage,
		Room:    "general",
		Message: &RoomMessage{RoomID: "general", SenderID: 1, Sender: "alice"},
	}

	mustEvent(t, bob.Events, EventRoomMessage)
	noEvent(t, outsider.Events, EventRoomMessage)
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := startTestHub(t)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	bob.Commands <- &Command{Kind: CommandLeaveRoom, Room: "general"}
	// Leaving twice is a harmless no-op.
	bob.Commands <- &Command{Kind: CommandLeaveRoom, Room: "general"}

	alice.Commands <- &Command{
		Kind:    CommandSendRoomMessage,
		Room:    "general",
		Message: &RoomMessage{RoomID: "general", SenderID: 1, Sender: "alice"},
	}

	noEvent(t, bob.Events, EventRoomMessage)
}

func TestHubTypingAndReadReceiptRelay(t *testing.T) {
	hub := startTestHub(t)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}

	alice.Commands <- &Command{
		Kind:   CommandTyping,
		Room:   "general",
		Typing: &TypingState{RoomID: "general", UserID: 1, IsTyping: true},
	}
	typing := mustEvent(t, bob.Events, EventTyping)
	if !typing.Typing.IsTyping || typing.Typing.UserID != 1 {
		t.Fatalf("unexpected typing event: %+v", typing.Typing)
	}

	bob.Commands <- &Command{
		Kind:    CommandMessageRead,
		Room:    "general",
		Receipt: &ReadReceipt{RoomID: "general", MessageID: "m1", UserID: 2, ReadBy: []int64{2}},
	}
	receipt := mustEvent(t, alice.Events, EventReadReceipt)
	if receipt.Receipt.MessageID != "m1" || receipt.Receipt.UserID != 2 {
		t.Fatalf("unexpected receipt event: %+v", receipt.Receipt)
	}
}

func TestHubCallHandshake(t *testing.T) {
	hub := startTestHub(t)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	// Wait until both registrations are processed.
	mustEvent(t, alice.Events, EventPresenceChanged)

	alice.Commands <- &Command{
		Kind: CommandCallInvite,
		Call: &CallRequest{PeerID: 2, Type: CallTypeAudio, Payload: json.RawMessage(`{"sdp":"offer"}`)},
	}
	incoming := mustEvent(t, bob.Events, EventIncomingCall)
	if incoming.Call.CallerID != 1 || incoming.Call.Type != CallTypeAudio {
		t.Fatalf("unexpected incoming call: %+v", incoming.Call)
	}

	bob.Commands <- &Command{
		Kind: CommandCallAnswer,
		Call: &CallRequest{PeerID: 1, Payload: json.RawMessage(`{"sdp":"answer"}`)},
	}
	answered := mustEvent(t, alice.Events, EventCallAnswered)
	if answered.Call.ReceiverID != 2 {
		t.Fatalf("unexpected answer: %+v", answered.Call)
	}

	alice.Commands <- &Command{
		Kind:      CommandIceCandidate,
		Candidate: &IceRelay{TargetUserID: 2, Candidate: json.RawMessage(`{"candidate":"c"}`)},
	}
	mustEvent(t, bob.Events, EventIceCandidate)

	alice.Commands <- &Command{Kind: CommandCallEnd, Call: &CallRequest{PeerID: 2}}
	mustEvent(t, bob.Events, EventCallEnded)
	mustEvent(t, alice.Events, EventCallEnded)

	// The pair is immediately available for a fresh call.
	alice.Commands <- &Command{
		Kind: CommandCallInvite,
		Call: &CallRequest{PeerID: 2, Type: CallTypeVideo},
	}
	mustEvent(t, bob.Events, EventIncomingCall)
}

func TestHubDisconnectMidCallNotifiesPeer(t *testing.T) {
	hub := startTestHub(t)

	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	mustEvent(t, alice.Events, EventPresenceChanged)

	alice.Commands <- &Command{
		Kind: CommandCallInvite,
		Call: &CallRequest{PeerID: 2, Type: CallTypeVideo},
	}
	mustEvent(t, bob.Events, EventIncomingCall)

	bob.Commands <- &Command{Kind: CommandCallAnswer, Call: &CallRequest{PeerID: 1}}
	mustEvent(t, alice.Events, EventCallAnswered)

	hub.UnregisterClient(alice)

	mustEvent(t, bob.Events, EventCallEnded)
}

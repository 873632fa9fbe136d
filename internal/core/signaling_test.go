package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// manualClock captures scheduled ring timers so tests can fire them inline.
type manualClock struct {
	fns []func()
}

func (m *manualClock) schedule(_ time.Duration, fn func()) *time.Timer {
	m.fns = append(m.fns, fn)
	// Return a timer that will not fire on its own.
	return time.NewTimer(time.Hour)
}

func (m *manualClock) fire() {
	for _, fn := range m.fns {
		fn()
	}
	m.fns = nil
}

func newTestCoordinator(ringTimeout time.Duration) (*Coordinator, *Registry, *manualClock) {
	logger := zerolog.Nop()
	reg := NewRegistry()
	clock := &manualClock{}
	co := NewCoordinator(reg, ringTimeout, clock.schedule, &logger)
	return co, reg, clock
}

func takeEvent(t *testing.T, c *Client) *Event {
	t.Helper()
	select {
	case ev := <-c.Events:
		return ev
	default:
		t.Fatalf("expected a pending event for %s", c.Name)
		return nil
	}
}

func assertNoEvents(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Events:
		t.Fatalf("unexpected event for %s: %+v", c.Name, ev)
	default:
	}
}

func twoParties(reg *Registry) (*Client, *Client) {
	alice := NewClient("a", 1, "alice")
	bob := NewClient("b", 2, "bob")
	reg.Register(alice.UserID, alice)
	reg.Register(bob.UserID, bob)
	return alice, bob
}

func TestInviteRingsReceiver(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	offer := json.RawMessage(`{"sdp":"offer"}`)
	co.Invite(alice, bob.UserID, CallTypeAudio, offer)

	ev := takeEvent(t, bob)
	if ev.Kind != EventIncomingCall {
		t.Fatalf("expected incoming call, got %v", ev.Kind)
	}
	if ev.Call.CallerID != alice.UserID || ev.Call.CallerName != "alice" {
		t.Fatalf("unexpected caller info: %+v", ev.Call)
	}
	if ev.Call.Type != CallTypeAudio || string(ev.Call.Payload) != string(offer) {
		t.Fatalf("offer payload not forwarded: %+v", ev.Call)
	}

	session, ok := co.Session(alice.UserID, bob.UserID)
	if !ok || session.State != SessionRinging {
		t.Fatalf("expected ringing session, got %+v", session)
	}
	assertNoEvents(t, alice)
}

func TestInviteOfflineReceiverFailsDelivery(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice := NewClient("a", 1, "alice")
	reg.Register(alice.UserID, alice)

	co.Invite(alice, 42, CallTypeVideo, nil)

	ev := takeEvent(t, alice)
	if ev.Kind != EventDeliveryFailed || ev.Call.Reason != ReasonOffline {
		t.Fatalf("expected offline delivery failure, got %+v", ev)
	}
	if _, ok := co.Session(alice.UserID, 42); ok {
		t.Fatalf("no session should exist for an undeliverable invite")
	}
}

func TestInviteBusyPair(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)

	// Simultaneous invite from the other side hits the same pair.
	co.Invite(bob, alice.UserID, CallTypeAudio, nil)

	ev := takeEvent(t, bob)
	if ev.Kind != EventDeliveryFailed || ev.Call.Reason != ReasonBusy {
		t.Fatalf("expected busy delivery failure, got %+v", ev)
	}
	assertNoEvents(t, alice)
}

func TestAnswerThenEndNotifiesBothParties(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, json.RawMessage(`{"sdp":"offer"}`))
	incoming := takeEvent(t, bob)

	answer := json.RawMessage(`{"sdp":"answer"}`)
	co.Answer(bob, alice.UserID, answer)

	ev := takeEvent(t, alice)
	if ev.Kind != EventCallAnswered {
		t.Fatalf("expected call answered, got %v", ev.Kind)
	}
	if ev.Call.CallID != incoming.Call.CallID || ev.Call.ReceiverID != bob.UserID {
		t.Fatalf("unexpected answer notice: %+v", ev.Call)
	}
	if string(ev.Call.Payload) != string(answer) {
		t.Fatalf("answer payload not forwarded")
	}

	session, ok := co.Session(alice.UserID, bob.UserID)
	if !ok || session.State != SessionAnswered {
		t.Fatalf("expected answered session, got %+v", session)
	}

	co.End(alice, bob.UserID)

	if takeEvent(t, alice).Kind != EventCallEnded {
		t.Fatalf("caller should be notified of call end")
	}
	if takeEvent(t, bob).Kind != EventCallEnded {
		t.Fatalf("receiver should be notified of call end")
	}
	if _, ok := co.Session(alice.UserID, bob.UserID); ok {
		t.Fatalf("terminal session should be forgotten")
	}

	// The pair is free for a new call immediately.
	co.Invite(alice, bob.UserID, CallTypeVideo, nil)
	if takeEvent(t, bob).Kind != EventIncomingCall {
		t.Fatalf("new invite after ended call should ring")
	}
}

func TestRejectTerminatesSession(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)

	co.Reject(bob, alice.UserID)

	ev := takeEvent(t, alice)
	if ev.Kind != EventCallRejected || ev.Call.ReceiverID != bob.UserID {
		t.Fatalf("expected call rejected, got %+v", ev)
	}
	if _, ok := co.Session(alice.UserID, bob.UserID); ok {
		t.Fatalf("rejected session should be forgotten")
	}
}

func TestEndRequiresAnsweredState(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)

	co.End(alice, bob.UserID)

	assertNoEvents(t, alice)
	assertNoEvents(t, bob)
	session, ok := co.Session(alice.UserID, bob.UserID)
	if !ok || session.State != SessionRinging {
		t.Fatalf("ringing session should survive a premature end, got %+v", session)
	}
}

func TestAnswerWithoutSessionIsDropped(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Answer(bob, alice.UserID, nil)

	assertNoEvents(t, alice)
	assertNoEvents(t, bob)
}

func TestRingTimeoutResolvesUnreachable(t *testing.T) {
	co, reg, clock := newTestCoordinator(30 * time.Second)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)

	clock.fire()

	ev := takeEvent(t, alice)
	if ev.Kind != EventCallUnreachable || ev.Call.ReceiverID != bob.UserID {
		t.Fatalf("expected unreachable notice for caller, got %+v", ev)
	}
	if takeEvent(t, bob).Kind != EventCallEnded {
		t.Fatalf("receiver's ringing UI should be cleared")
	}
	if _, ok := co.Session(alice.UserID, bob.UserID); ok {
		t.Fatalf("timed-out session should be forgotten")
	}
}

func TestRingTimerCancelledByAnswer(t *testing.T) {
	co, reg, clock := newTestCoordinator(30 * time.Second)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)
	co.Answer(bob, alice.UserID, nil)
	takeEvent(t, alice)

	// A stale timer firing after the answer must not disturb the call.
	clock.fire()

	assertNoEvents(t, alice)
	assertNoEvents(t, bob)
	session, ok := co.Session(alice.UserID, bob.UserID)
	if !ok || session.State != SessionAnswered {
		t.Fatalf("answered session should be unaffected by stale timer")
	}
}

func TestIceCandidateRequiresActiveSession(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.RelayCandidate(alice, bob.UserID, json.RawMessage(`{"candidate":"x"}`))

	assertNoEvents(t, alice)
	assertNoEvents(t, bob)
}

func TestIceCandidateForwardedDuringCall(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)

	candidate := json.RawMessage(`{"candidate":"host 10.0.0.1"}`)
	co.RelayCandidate(alice, bob.UserID, candidate)

	ev := takeEvent(t, bob)
	if ev.Kind != EventIceCandidate {
		t.Fatalf("expected ice candidate, got %v", ev.Kind)
	}
	if ev.Candidate.FromUserID != alice.UserID || string(ev.Candidate.Candidate) != string(candidate) {
		t.Fatalf("unexpected candidate payload: %+v", ev.Candidate)
	}
}

func TestIceCandidateToOfflineTargetIsSilent(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)

	reg.Unregister(bob)
	co.RelayCandidate(alice, bob.UserID, json.RawMessage(`{}`))

	assertNoEvents(t, alice)
}

func TestDisconnectEndsNonTerminalSession(t *testing.T) {
	co, reg, _ := newTestCoordinator(0)
	alice, bob := twoParties(reg)

	co.Invite(alice, bob.UserID, CallTypeAudio, nil)
	takeEvent(t, bob)
	co.Answer(bob, alice.UserID, nil)
	takeEvent(t, alice)

	reg.Unregister(alice)
	co.HandleDisconnect(alice.UserID)

	if takeEvent(t, bob).Kind != EventCallEnded {
		t.Fatalf("remaining party should learn the call ended")
	}
	if _, ok := co.Session(alice.UserID, bob.UserID); ok {
		t.Fatalf("session should be forgotten after disconnect")
	}
}

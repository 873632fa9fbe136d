package rtc

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/ndenisov/beamtalk-server/internal/log"
)

// fakeSignaler records outgoing signaling calls.
type fakeSignaler struct {
	mu         sync.Mutex
	invites    []int64
	answers    []int64
	rejects    []int64
	ends       []int64
	candidates []int64
	lastOffer  json.RawMessage
	lastAnswer json.RawMessage
}

func (f *fakeSignaler) Invite(receiverID int64, callType string, offer json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, receiverID)
	f.lastOffer = offer
	return nil
}

func (f *fakeSignaler) Answer(callerID int64, answer json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callerID)
	f.lastAnswer = answer
	return nil
}

func (f *fakeSignaler) Reject(callerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, callerID)
	return nil
}

func (f *fakeSignaler) End(peerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, peerID)
	return nil
}

func (f *fakeSignaler) SendCandidate(targetUserID int64, candidate json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, targetUserID)
	return nil
}

func (f *fakeSignaler) counts() (invites, answers, rejects, ends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.invites), len(f.answers), len(f.rejects), len(f.ends)
}

func newTestController(t *testing.T) (*Controller, *fakeSignaler) {
	t.Helper()

	sig := &fakeSignaler{}
	ctrl := NewController(sig, func() (MediaSource, error) {
		return NewSampleSource("test"), nil
	}, log.Nop())
	t.Cleanup(ctrl.Close)
	return ctrl, sig
}

// makeOffer produces a real SDP offer for feeding into HandleIncoming.
func makeOffer(t *testing.T) json.RawMessage {
	t.Helper()

	m := NewManager(NewSampleSource("remote"), log.Nop())
	m.SetConfiguration(webrtc.Configuration{})
	t.Cleanup(m.EndCall)

	if err := m.AcquireLocalMedia(true, true); err != nil {
		t.Fatalf("remote media: %v", err)
	}
	offer, err := m.CreateOffer()
	if err != nil {
		t.Fatalf("remote offer: %v", err)
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		t.Fatalf("marshal offer: %v", err)
	}
	return raw
}

func TestDialSendsInvite(t *testing.T) {
	ctrl, sig := newTestController(t)

	if err := ctrl.Dial(2, "audio"); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if ctrl.State() != StateDialing {
		t.Fatalf("expected dialing, got %s", ctrl.State())
	}

	invites, _, _, _ := sig.counts()
	if invites != 1 || sig.invites[0] != 2 {
		t.Fatalf("invite not sent: %+v", sig.invites)
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sig.lastOffer, &desc); err != nil {
		t.Fatalf("offer not valid SDP JSON: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		t.Fatalf("expected offer, got %v", desc.Type)
	}

	// A second dial while busy fails.
	if err := ctrl.Dial(3, "audio"); err == nil {
		t.Fatalf("expected dial while busy to fail")
	}
}

func TestIncomingCallRingsAndAccepts(t *testing.T) {
	ctrl, sig := newTestController(t)

	rang := make(chan string, 1)
	ctrl.OnIncomingCall(func(callID string, callerID int64, callerName, callType string) {
		rang <- callerName
	})

	ctrl.HandleIncoming("call-1", 7, "alice", "video", makeOffer(t))
	if ctrl.State() != StateRinging {
		t.Fatalf("expected ringing, got %s", ctrl.State())
	}
	if name := <-rang; name != "alice" {
		t.Fatalf("unexpected caller name: %s", name)
	}

	if err := ctrl.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ctrl.State() != StateInCall {
		t.Fatalf("expected in-call, got %s", ctrl.State())
	}

	_, answers, _, _ := sig.counts()
	if answers != 1 || sig.answers[0] != 7 {
		t.Fatalf("answer not sent: %+v", sig.answers)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sig.lastAnswer, &desc); err != nil {
		t.Fatalf("answer not valid SDP JSON: %v", err)
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("expected answer, got %v", desc.Type)
	}
}

func TestIncomingWhileBusyIsRejected(t *testing.T) {
	ctrl, sig := newTestController(t)

	if err := ctrl.Dial(2, "audio"); err != nil {
		t.Fatalf("dial: %v", err)
	}

	ctrl.HandleIncoming("call-2", 9, "mallory", "audio", makeOffer(t))

	_, _, rejects, _ := sig.counts()
	if rejects != 1 || sig.rejects[0] != 9 {
		t.Fatalf("busy call not rejected: %+v", sig.rejects)
	}
	if ctrl.State() != StateDialing {
		t.Fatalf("active call disturbed: %s", ctrl.State())
	}
}

func TestDeclineSendsReject(t *testing.T) {
	ctrl, sig := newTestController(t)

	ctrl.HandleIncoming("call-1", 7, "alice", "audio", makeOffer(t))
	if err := ctrl.Decline(); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle after decline, got %s", ctrl.State())
	}

	_, _, rejects, _ := sig.counts()
	if rejects != 1 || sig.rejects[0] != 7 {
		t.Fatalf("reject not sent: %+v", sig.rejects)
	}
}

func TestHangupNotifiesPeerOnlyDuringCall(t *testing.T) {
	ctrl, sig := newTestController(t)

	// Hangup while dialing tears down locally without end-call; the server
	// only accepts end-call for answered sessions.
	if err := ctrl.Dial(2, "audio"); err != nil {
		t.Fatalf("dial: %v", err)
	}
	ctrl.Hangup()
	if _, _, _, ends := sig.counts(); ends != 0 {
		t.Fatalf("end-call sent while dialing")
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle, got %s", ctrl.State())
	}

	// Answered call sends end-call exactly once.
	ctrl.HandleIncoming("call-1", 7, "alice", "audio", makeOffer(t))
	if err := ctrl.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	ctrl.Hangup()
	ctrl.Hangup()

	if _, _, _, ends := sig.counts(); ends != 1 {
		t.Fatalf("expected exactly one end-call, got %d", ends)
	}
	if sig.ends[0] != 7 {
		t.Fatalf("end-call sent to wrong peer: %d", sig.ends[0])
	}
}

func TestRemoteHangupDoesNotEcho(t *testing.T) {
	ctrl, sig := newTestController(t)

	ctrl.HandleIncoming("call-1", 7, "alice", "audio", makeOffer(t))
	if err := ctrl.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}

	ctrl.HandleEnded()
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle, got %s", ctrl.State())
	}
	if _, _, _, ends := sig.counts(); ends != 0 {
		t.Fatalf("remote hangup must not echo end-call")
	}
}

func TestCandidateFromStrangerDropped(t *testing.T) {
	ctrl, _ := newTestController(t)

	if err := ctrl.Dial(2, "audio"); err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Unknown sender; must not reach the manager or panic.
	ctrl.HandleCandidate(99, json.RawMessage(`{"candidate":"candidate:1 1 udp 1 127.0.0.1 1 typ host"}`))

	// Current peer; queued until the answer applies the remote description.
	ctrl.HandleCandidate(2, json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host"}`))
}

func TestToggleWithoutCall(t *testing.T) {
	ctrl, _ := newTestController(t)

	if _, ok := ctrl.ToggleAudio(); ok {
		t.Fatalf("toggle should fail with no active call")
	}

	if err := ctrl.Dial(2, "video"); err != nil {
		t.Fatalf("dial: %v", err)
	}
	enabled, ok := ctrl.ToggleVideo()
	if !ok || enabled {
		t.Fatalf("first video toggle should disable: enabled=%v ok=%v", enabled, ok)
	}
}

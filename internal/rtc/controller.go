package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Signaler is the only surface the controller needs from the realtime
// transport. The websocket client satisfies it with a small adapter.
type Signaler interface {
	Invite(receiverID int64, callType string, offer json.RawMessage) error
	Answer(callerID int64, answer json.RawMessage) error
	Reject(callerID int64) error
	End(peerID int64) error
	SendCandidate(targetUserID int64, candidate json.RawMessage) error
}

// State is the controller's local view of the call lifecycle. The server
// keeps the authoritative session state; this mirrors it for the UI.
type State int

const (
	StateIdle State = iota
	StateDialing
	StateRinging
	StateInCall
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateInCall:
		return "in-call"
	default:
		return "unknown"
	}
}

// Controller glues server signaling events to a per-call Manager. One call
// at a time; a second incoming invite is rejected while busy.
type Controller struct {
	sig       Signaler
	newSource func() (MediaSource, error)
	log       *zerolog.Logger

	mu           sync.Mutex
	state        State
	callID       string
	peerID       int64
	callType     string
	manager      *Manager
	pendingOffer *webrtc.SessionDescription

	onState       func(state State)
	onIncoming    func(callID string, callerID int64, callerName, callType string)
	onRemoteTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// NewController creates a controller. newSource builds a fresh MediaSource
// per call.
func NewController(sig Signaler, newSource func() (MediaSource, error), logger *zerolog.Logger) *Controller {
	return &Controller{
		sig:       sig,
		newSource: newSource,
		log:       logger,
		state:     StateIdle,
	}
}

// OnStateChange registers the lifecycle observer. Fired outside the lock.
func (c *Controller) OnStateChange(fn func(state State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnIncomingCall registers the observer fired when a caller rings.
func (c *Controller) OnIncomingCall(fn func(callID string, callerID int64, callerName, callType string)) {
	c.mu.Lock()
	c.onIncoming = fn
	c.mu.Unlock()
}

// OnRemoteTrack registers the remote media observer, applied to each call's
// manager.
func (c *Controller) OnRemoteTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onRemoteTrack = fn
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dial starts an outgoing call. callType is "audio" or "video".
func (c *Controller) Dial(receiverID int64, callType string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("call already in progress (%s)", c.state)
	}

	mgr, err := c.buildManager(receiverID)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if err := mgr.AcquireLocalMedia(true, callType == "video"); err != nil {
		mgr.EndCall()
		c.mu.Unlock()
		return err
	}
	offer, err := mgr.CreateOffer()
	if err != nil {
		mgr.EndCall()
		c.mu.Unlock()
		return err
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		mgr.EndCall()
		c.mu.Unlock()
		return err
	}

	c.manager = mgr
	c.peerID = receiverID
	c.callType = callType
	c.setStateLocked(StateDialing)
	c.mu.Unlock()

	if err := c.sig.Invite(receiverID, callType, raw); err != nil {
		c.teardown(false)
		return fmt.Errorf("send invite: %w", err)
	}
	return nil
}

// HandleIncoming processes an incoming-call event. A second call while busy
// is rejected without disturbing the active one.
func (c *Controller) HandleIncoming(callID string, callerID int64, callerName, callType string, offer json.RawMessage) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		c.log.Warn().Err(err).Str("call_id", callID).Msg("malformed offer, rejecting")
		_ = c.sig.Reject(callerID)
		return
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.log.Info().Int64("caller_id", callerID).Msg("busy, rejecting call")
		_ = c.sig.Reject(callerID)
		return
	}
	c.callID = callID
	c.peerID = callerID
	c.callType = callType
	c.pendingOffer = &desc
	c.setStateLocked(StateRinging)
	fn := c.onIncoming
	c.mu.Unlock()

	if fn != nil {
		fn(callID, callerID, callerName, callType)
	}
}

// Accept answers the ringing call.
func (c *Controller) Accept() error {
	c.mu.Lock()
	if c.state != StateRinging || c.pendingOffer == nil {
		c.mu.Unlock()
		return fmt.Errorf("no ringing call to accept")
	}

	mgr, err := c.buildManager(c.peerID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := mgr.AcquireLocalMedia(true, c.callType == "video"); err != nil {
		mgr.EndCall()
		c.mu.Unlock()
		return err
	}
	if err := mgr.ApplyRemoteDescription(*c.pendingOffer); err != nil {
		mgr.EndCall()
		c.mu.Unlock()
		return err
	}
	answer, err := mgr.CreateAnswer()
	if err != nil {
		mgr.EndCall()
		c.mu.Unlock()
		return err
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		mgr.EndCall()
		c.mu.Unlock()
		return err
	}

	c.manager = mgr
	c.pendingOffer = nil
	peerID := c.peerID
	c.setStateLocked(StateInCall)
	c.mu.Unlock()

	if err := c.sig.Answer(peerID, raw); err != nil {
		c.teardown(false)
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// Decline rejects the ringing call.
func (c *Controller) Decline() error {
	c.mu.Lock()
	if c.state != StateRinging {
		c.mu.Unlock()
		return fmt.Errorf("no ringing call to decline")
	}
	peerID := c.peerID
	c.resetLocked()
	c.mu.Unlock()

	return c.sig.Reject(peerID)
}

// HandleAnswered processes the receiver's answer for our outgoing call.
func (c *Controller) HandleAnswered(callID string, answer json.RawMessage) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		c.log.Warn().Err(err).Msg("malformed answer")
		c.Hangup()
		return
	}

	c.mu.Lock()
	if c.state != StateDialing {
		c.mu.Unlock()
		return
	}
	c.callID = callID
	mgr := c.manager
	c.setStateLocked(StateInCall)
	c.mu.Unlock()

	if err := mgr.ApplyRemoteDescription(desc); err != nil {
		c.log.Warn().Err(err).Msg("apply answer failed")
		c.Hangup()
	}
}

// HandleRejected processes the receiver declining our outgoing call.
func (c *Controller) HandleRejected() {
	c.teardown(false)
}

// HandleEnded processes the peer hanging up or the server ending the call.
func (c *Controller) HandleEnded() {
	c.teardown(false)
}

// HandleUnreachable processes a ring timeout for our outgoing call.
func (c *Controller) HandleUnreachable() {
	c.teardown(false)
}

// HandleCandidate feeds a relayed ICE candidate into the active call.
// Candidates from anyone but the current peer are dropped.
func (c *Controller) HandleCandidate(fromUserID int64, candidate json.RawMessage) {
	c.mu.Lock()
	mgr := c.manager
	peerID := c.peerID
	c.mu.Unlock()

	if mgr == nil || fromUserID != peerID {
		return
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		c.log.Debug().Err(err).Msg("malformed candidate dropped")
		return
	}
	if err := mgr.AddICECandidate(init); err != nil {
		c.log.Debug().Err(err).Msg("candidate rejected")
	}
}

// Hangup ends the active call and tells the peer. Safe to call repeatedly.
func (c *Controller) Hangup() {
	c.teardown(true)
}

// Close releases the controller and any active call.
func (c *Controller) Close() {
	c.Hangup()
}

// ToggleAudio flips local audio; false when no call media is active.
func (c *Controller) ToggleAudio() (enabled, ok bool) {
	c.mu.Lock()
	mgr := c.manager
	c.mu.Unlock()
	if mgr == nil {
		return false, false
	}
	return mgr.ToggleAudio()
}

// ToggleVideo flips local video; false when no call media is active.
func (c *Controller) ToggleVideo() (enabled, ok bool) {
	c.mu.Lock()
	mgr := c.manager
	c.mu.Unlock()
	if mgr == nil {
		return false, false
	}
	return mgr.ToggleVideo()
}

// buildManager creates a per-call manager wired to this controller's
// observers. Callers hold c.mu.
func (c *Controller) buildManager(peerID int64) (*Manager, error) {
	source, err := c.newSource()
	if err != nil {
		return nil, fmt.Errorf("media source: %w", err)
	}
	mgr := NewManager(source, c.log)
	if c.onRemoteTrack != nil {
		mgr.SetOnRemoteTrack(c.onRemoteTrack)
	}
	mgr.SetOnLocalCandidate(func(candidate webrtc.ICECandidateInit) {
		raw, err := json.Marshal(candidate)
		if err != nil {
			return
		}
		if err := c.sig.SendCandidate(peerID, raw); err != nil {
			c.log.Debug().Err(err).Msg("send candidate failed")
		}
	})
	return mgr, nil
}

// teardown releases the call. notifyPeer sends end-call for states where the
// peer expects it.
func (c *Controller) teardown(notifyPeer bool) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	mgr := c.manager
	peerID := c.peerID
	shouldNotify := notifyPeer && c.state == StateInCall
	c.resetLocked()
	c.mu.Unlock()

	if mgr != nil {
		mgr.EndCall()
	}
	if shouldNotify {
		if err := c.sig.End(peerID); err != nil {
			c.log.Debug().Err(err).Msg("send end failed")
		}
	}
}

// resetLocked clears call state and fires the idle transition. Callers hold
// c.mu.
func (c *Controller) resetLocked() {
	c.manager = nil
	c.pendingOffer = nil
	c.callID = ""
	c.peerID = 0
	c.callType = ""
	c.setStateLocked(StateIdle)
}

// setStateLocked transitions state and schedules the observer. Callers hold
// c.mu.
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if fn := c.onState; fn != nil {
		go fn(s)
	}
}

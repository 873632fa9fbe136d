// Package rtc implements the client-side half of a BeamTalk call: a peer
// connection manager built on Pion and a controller that drives it from
// server signaling events. Coupling to the transport is via the Signaler
// interface only.
package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// MediaAccessError reports that local capture devices could not be opened.
// Callers should surface it to the user instead of tearing down the call
// flow silently.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access denied: %v", e.Err)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Err
}

// Manager owns one peer connection for one call. It is constructed per call
// and discarded after EndCall; there is no shared global instance.
type Manager struct {
	log    *zerolog.Logger
	source MediaSource
	config webrtc.Configuration

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	acquired  bool
	audioOn   bool
	videoOn   bool
	remoteSet bool
	ended     bool

	// Candidates arriving before the remote description are held here and
	// flushed once ApplyRemoteDescription succeeds.
	pending []webrtc.ICECandidateInit

	onRemoteTrack    func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onStateChange    func(state webrtc.PeerConnectionState)
	onLocalCandidate func(candidate webrtc.ICECandidateInit)
}

// NewManager creates a manager around a media source. The source decides how
// local tracks are produced; DefaultICEServers is used unless overridden via
// SetConfiguration.
func NewManager(source MediaSource, logger *zerolog.Logger) *Manager {
	return &Manager{
		log:    logger,
		source: source,
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
	}
}

// SetConfiguration overrides the peer connection configuration. Call before
// AcquireLocalMedia or CreateAnswer.
func (m *Manager) SetConfiguration(cfg webrtc.Configuration) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// SetOnRemoteTrack registers the remote media observer. Call before the
// handshake starts.
func (m *Manager) SetOnRemoteTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	m.mu.Lock()
	m.onRemoteTrack = fn
	m.mu.Unlock()
}

// SetOnConnectionStateChange registers the transport state observer.
func (m *Manager) SetOnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// SetOnLocalCandidate registers the observer for locally gathered ICE
// candidates; the controller relays these to the peer.
func (m *Manager) SetOnLocalCandidate(fn func(candidate webrtc.ICECandidateInit)) {
	m.mu.Lock()
	m.onLocalCandidate = fn
	m.mu.Unlock()
}

// AcquireLocalMedia opens capture for the requested kinds and attaches the
// local tracks to the peer connection. Capture failure is reported as
// *MediaAccessError and leaves the manager usable for a receive-only call.
func (m *Manager) AcquireLocalMedia(audio, video bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return fmt.Errorf("call already ended")
	}
	if m.acquired {
		return nil
	}
	if err := m.ensurePC(); err != nil {
		return err
	}

	if err := m.source.Attach(m.pc, audio, video); err != nil {
		return &MediaAccessError{Err: err}
	}

	m.acquired = true
	m.audioOn = audio
	m.videoOn = video
	return nil
}

// CreateOffer produces the local session description for an outgoing call
// and installs it. Candidates trickle through the local candidate observer.
func (m *Manager) CreateOffer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensurePC(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer produces the local session description for an incoming call.
// The remote offer must have been applied first.
func (m *Manager) CreateAnswer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil || !m.remoteSet {
		return webrtc.SessionDescription{}, fmt.Errorf("no remote offer to answer")
	}

	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

// ApplyRemoteDescription installs the peer's session description and flushes
// any candidates that arrived early.
func (m *Manager) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensurePC(); err != nil {
		return err
	}
	if err := m.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	m.remoteSet = true

	for _, c := range m.pending {
		if err := m.pc.AddICECandidate(c); err != nil {
			m.log.Warn().Err(err).Msg("queued candidate rejected")
		}
	}
	m.pending = nil
	return nil
}

// AddICECandidate feeds a relayed candidate into the connection. Candidates
// arriving before the remote description are queued.
func (m *Manager) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return nil
	}
	if m.pc == nil || !m.remoteSet {
		m.pending = append(m.pending, candidate)
		return nil
	}
	if err := m.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// ToggleAudio flips the local audio state. The second return is false when
// no local media was acquired.
func (m *Manager) ToggleAudio() (enabled, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acquired {
		return false, false
	}
	m.audioOn = !m.audioOn
	m.source.SetAudioEnabled(m.audioOn)
	return m.audioOn, true
}

// ToggleVideo flips the local video state. The second return is false when
// no local media was acquired.
func (m *Manager) ToggleVideo() (enabled, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acquired {
		return false, false
	}
	m.videoOn = !m.videoOn
	m.source.SetVideoEnabled(m.videoOn)
	return m.videoOn, true
}

// EndCall releases the transport and capture devices. Safe to call multiple
// times and from any teardown path.
func (m *Manager) EndCall() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	m.pending = nil

	if m.pc != nil {
		if err := m.pc.Close(); err != nil {
			m.log.Debug().Err(err).Msg("peer connection close")
		}
		m.pc = nil
	}
	if m.acquired {
		if err := m.source.Close(); err != nil {
			m.log.Debug().Err(err).Msg("media source close")
		}
		m.acquired = false
	}
}

// Ended reports whether EndCall ran.
func (m *Manager) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

// ensurePC lazily builds the peer connection. Callers hold m.mu.
func (m *Manager) ensurePC() error {
	if m.pc != nil {
		return nil
	}

	api, err := m.source.API()
	if err != nil {
		return fmt.Errorf("build webrtc api: %w", err)
	}
	pc, err := api.NewPeerConnection(m.config)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if fn := m.onRemoteTrack; fn != nil {
			fn(track, receiver)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.log.Debug().Str("state", state.String()).Msg("peer connection state")
		if fn := m.onStateChange; fn != nil {
			fn(state)
		}
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if fn := m.onLocalCandidate; fn != nil {
			fn(candidate.ToJSON())
		}
	})

	m.pc = pc
	return nil
}

package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// MediaSource produces the local half of a call's media. DeviceSource
// captures real camera/microphone hardware; SampleSource feeds
// caller-supplied samples and backs tests and headless peers.
type MediaSource interface {
	// API builds the webrtc API configured for this source's codecs.
	API() (*webrtc.API, error)
	// Attach opens local media and adds tracks to pc. With both kinds
	// disabled the source attaches receive-only transceivers instead.
	Attach(pc *webrtc.PeerConnection, audio, video bool) error
	// SetAudioEnabled gates outgoing audio without renegotiation.
	SetAudioEnabled(enabled bool)
	// SetVideoEnabled gates outgoing video without renegotiation.
	SetVideoEnabled(enabled bool)
	// Close releases capture resources.
	Close() error
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produce valid m-lines with ICE credentials.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) error {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}
	return nil
}

// defaultAPI builds a webrtc API with default codecs and interceptors.
func defaultAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// SampleSource provides Opus/VP8 sample tracks the application writes into.
// Used where no capture hardware is available and in tests.
type SampleSource struct {
	trackID string

	mu         sync.Mutex
	audioTrack *webrtc.TrackLocalStaticSample
	videoTrack *webrtc.TrackLocalStaticSample
	audioOn    bool
	videoOn    bool
	closed     bool
}

// NewSampleSource creates a sample-backed source. trackID namespaces the
// track and stream IDs in SDP.
func NewSampleSource(trackID string) *SampleSource {
	return &SampleSource{trackID: trackID}
}

func (s *SampleSource) API() (*webrtc.API, error) {
	return defaultAPI()
}

func (s *SampleSource) Attach(pc *webrtc.PeerConnection, audio, video bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !audio && !video {
		return addRecvOnlyTransceivers(pc)
	}

	if audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio-"+s.trackID,
			"stream-"+s.trackID,
		)
		if err != nil {
			return fmt.Errorf("create audio track: %w", err)
		}
		if err := addTrack(pc, track); err != nil {
			return err
		}
		s.audioTrack = track
		s.audioOn = true
	}
	if video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video-"+s.trackID,
			"stream-"+s.trackID,
		)
		if err != nil {
			return fmt.Errorf("create video track: %w", err)
		}
		if err := addTrack(pc, track); err != nil {
			return err
		}
		s.videoTrack = track
		s.videoOn = true
	}
	return nil
}

func (s *SampleSource) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioOn = enabled
	s.mu.Unlock()
}

func (s *SampleSource) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.videoOn = enabled
	s.mu.Unlock()
}

// WriteAudioSample feeds one Opus frame into the audio track. Frames are
// dropped silently while audio is toggled off.
func (s *SampleSource) WriteAudioSample(data []byte, duration time.Duration) error {
	s.mu.Lock()
	track, on := s.audioTrack, s.audioOn
	s.mu.Unlock()

	if track == nil {
		return fmt.Errorf("no audio track attached")
	}
	if !on {
		return nil
	}
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// WriteVideoSample feeds one VP8 frame into the video track. Frames are
// dropped silently while video is toggled off.
func (s *SampleSource) WriteVideoSample(data []byte, duration time.Duration) error {
	s.mu.Lock()
	track, on := s.videoTrack, s.videoOn
	s.mu.Unlock()

	if track == nil {
		return fmt.Errorf("no video track attached")
	}
	if !on {
		return nil
	}
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

func (s *SampleSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.audioTrack = nil
	s.videoTrack = nil
	s.mu.Unlock()
	return nil
}

func addTrack(pc *webrtc.PeerConnection, track webrtc.TrackLocal) error {
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

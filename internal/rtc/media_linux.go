//go:build linux && cgo

package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// DeviceSource captures camera and microphone through pion/mediadevices
// (V4L2 + malgo) and encodes VP8 + Opus.
type DeviceSource struct {
	log      *zerolog.Logger
	selector *mediadevices.CodecSelector

	mu     sync.Mutex
	tracks []mediadevices.Track
}

// NewDeviceSource builds a hardware capture source. Fails only when the
// codec parameters cannot be constructed; device errors surface at Attach.
func NewDeviceSource(logger *zerolog.Logger) (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceSource{
		log: logger,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *DeviceSource) API() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	d.selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// Attach opens capture and adds the resulting tracks to pc. GetUserMedia
// fails as a unit if either kind cannot be opened, so a fallback chain tries
// progressively smaller requests before giving up.
func (d *DeviceSource) Attach(pc *webrtc.PeerConnection, audio, video bool) error {
	if !audio && !video {
		return addRecvOnlyTransceivers(pc)
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{video, audio, "requested"}}
	if video && audio {
		attempts = append(attempts,
			attempt{true, false, "video-only"},
			attempt{false, true, "audio-only"},
		)
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// MJPEG camera nodes can emit malformed frames that poison
				// the VP8 encoder; raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			d.log.Warn().Err(err).Str("attempt", a.label).Msg("media capture failed")
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					d.log.Debug().Err(err).Msg("local track ended")
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				d.log.Warn().Err(err).Msg("add track failed")
			}
		}

		d.mu.Lock()
		d.tracks = tracks
		d.mu.Unlock()

		d.log.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Msg("local media captured")
		return nil
	}

	return fmt.Errorf("all capture attempts failed: %w", lastErr)
}

// SetAudioEnabled is advisory for hardware capture; mediadevices tracks
// cannot be paused without renegotiation, so the toggle state lives in the
// manager and the UI.
func (d *DeviceSource) SetAudioEnabled(bool) {}

func (d *DeviceSource) SetVideoEnabled(bool) {}

func (d *DeviceSource) Close() error {
	d.mu.Lock()
	tracks := d.tracks
	d.tracks = nil
	d.mu.Unlock()

	for _, t := range tracks {
		t.Close()
	}
	return nil
}

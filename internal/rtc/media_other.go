//go:build !linux || !cgo

package rtc

import (
	"github.com/rs/zerolog"
)

// DeviceSource on non-Linux platforms degrades to a sample source with no
// hardware capture. V4L2/malgo drivers are Linux-only; desktop builds are
// expected to bring their own media.
type DeviceSource struct {
	*SampleSource
}

// NewDeviceSource builds the degraded source. logger is kept for interface
// parity with the Linux constructor.
func NewDeviceSource(logger *zerolog.Logger) (*DeviceSource, error) {
	logger.Debug().Msg("hardware capture unavailable on this platform, using sample source")
	return &DeviceSource{SampleSource: NewSampleSource("device")}, nil
}

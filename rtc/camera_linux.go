//go:build linux && cgo

package rtc

import (
	"fmt"
	"log"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// CameraSource captures the local camera and microphone via pion/mediadevices
// (V4L2 + malgo on Linux), encoding VP8 + Opus. The handle is owned by the
// session for its whole lifetime and reattached across skips.
type CameraSource struct {
	selector *mediadevices.CodecSelector
	stream   mediadevices.MediaStream
}

// NewCameraSource opens camera and microphone. A combined request fails when
// either device is missing, so video+audio is tried first, then each alone,
// before giving up.
func NewCameraSource() (*CameraSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	type attempt struct {
		video bool
		audio bool
		label string
	}
	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				c.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
				c.Width = prop.Int(640)
				c.Height = prop.Int(480)
			}
		}
		if a.audio {
			constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("⚠️ Media capture (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}
		log.Printf("✅ Local media captured (%s)", a.label)
		return &CameraSource{selector: selector, stream: stream}, nil
	}
	return nil, fmt.Errorf("no usable media devices: %w", lastErr)
}

func (s *CameraSource) Populate(engine *webrtc.MediaEngine) error {
	s.selector.Populate(engine)
	return nil
}

func (s *CameraSource) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	for _, track := range s.stream.GetTracks() {
		tracks = append(tracks, track)
	}
	return tracks
}

// Close releases the camera and microphone.
func (s *CameraSource) Close() error {
	for _, track := range s.stream.GetTracks() {
		if err := track.Close(); err != nil {
			log.Printf("⚠️ Failed to close track %s: %v", track.ID(), err)
		}
	}
	return nil
}

package rtc

import "github.com/pion/webrtc/v4"

// NullSource is the degraded no-media mode: no local tracks, receive-only
// transceivers, default codecs. Used when camera/microphone capture fails or
// is unavailable on this platform.
type NullSource struct{}

func NewNullSource() *NullSource { return &NullSource{} }

func (s *NullSource) Populate(engine *webrtc.MediaEngine) error {
	return engine.RegisterDefaultCodecs()
}

func (s *NullSource) Tracks() []webrtc.TrackLocal { return nil }

func (s *NullSource) Close() error { return nil }

// Package rtc provides the WebRTC implementation of the media transport:
// Pion peer connections plus local camera/microphone capture. Coupling to the
// rest of the app is via the services.MediaTransport interface only.
package rtc

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"campuslink_server/models"
	"campuslink_server/services"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// MediaSource supplies local tracks for outbound media. CameraSource captures
// real devices; NullSource yields none and the connection becomes
// receive-only. Populate registers the codecs the source's tracks encode
// with on the peer connection's media engine.
type MediaSource interface {
	Populate(engine *webrtc.MediaEngine) error
	Tracks() []webrtc.TrackLocal
	Close() error
}

// PeerTransport wraps one webrtc.PeerConnection behind services.MediaTransport.
type PeerTransport struct {
	pc *webrtc.PeerConnection
}

// NewPeerTransport builds a peer connection with the given STUN/TURN urls and
// attaches the source's local tracks. With no tracks it adds recvonly
// transceivers so CreateOffer/CreateAnswer still produce valid m-lines.
func NewPeerTransport(source MediaSource, iceURLs []string) (*PeerTransport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := source.Populate(mediaEngine); err != nil {
		return nil, fmt.Errorf("failed to populate media engine: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	// Generous ICE timeouts so a brief NAT hiccup does not immediately
	// terminate the call.
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceURLs}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	tracks := source.Tracks()
	if len(tracks) == 0 {
		addRecvOnlyTransceivers(pc)
	}
	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add local track: %w", err)
		}
	}

	return &PeerTransport{pc: pc}, nil
}

// addRecvOnlyTransceivers adds recvonly video and audio transceivers so the
// SDP always carries media sections with ICE credentials.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("⚠️ AddTransceiver(video) error: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("⚠️ AddTransceiver(audio) error: %v", err)
	}
}

func (t *PeerTransport) CreateOffer(ctx context.Context) (models.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *PeerTransport) CreateAnswer(ctx context.Context) (models.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *PeerTransport) SetLocalDescription(desc models.SessionDescription) error {
	return t.pc.SetLocalDescription(toWebrtcDescription(desc))
}

func (t *PeerTransport) SetRemoteDescription(desc models.SessionDescription) error {
	return t.pc.SetRemoteDescription(toWebrtcDescription(desc))
}

func (t *PeerTransport) AddRemoteCandidate(candidate models.IceCandidate) error {
	mid := candidate.SDPMid
	index := candidate.SDPMLineIndex
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
}

func (t *PeerTransport) OnLocalCandidate(fn func(models.IceCandidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		init := c.ToJSON()
		candidate := models.IceCandidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(candidate)
	})
}

func (t *PeerTransport) OnStateChange(fn func(services.TransportState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(services.TransportState(strings.ToLower(state.String())))
	})
}

func (t *PeerTransport) OnRemoteTrack(fn func()) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("📺 Remote track: kind=%s id=%s", track.Kind(), track.ID())
		fn()
	})
}

func (t *PeerTransport) Close() error {
	return t.pc.Close()
}

func toWebrtcDescription(desc models.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(strings.ToLower(desc.Type)),
		SDP:  desc.SDP,
	}
}

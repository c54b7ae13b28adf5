package rtc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
)

// LocalTrack is a sample-fed outgoing track with an enable gate: while
// disabled, written samples are dropped instead of transmitted, so muting
// never renegotiates.
type LocalTrack struct {
	kind  domain.TrackKind
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func()
}

func newLocalTrack(kind domain.TrackKind, capability webrtc.RTPCodecCapability, streamID string) (*LocalTrack, error) {
	t, err := webrtc.NewTrackLocalStaticSample(capability, uuid.NewString(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &LocalTrack{kind: kind, track: t, enabled: true}, nil
}

func (t *LocalTrack) ID() string             { return t.track.ID() }
func (t *LocalTrack) Kind() domain.TrackKind { return t.kind }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Stop ends the track permanently. A deliberate stop does not fire the
// ended callback; that is reserved for the source going away on its own.
func (t *LocalTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// OnEnded registers the callback fired when the capture source goes away.
// Implements media.EndedNotifier for screen tracks.
func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// EndSource reports that the feeder's source is gone, e.g. the user hit the
// OS-level "stop sharing" control. Fires the ended callback once.
func (t *LocalTrack) EndSource() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// WriteSample feeds captured media into the track. Disabled and stopped
// tracks swallow the sample.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	t.mu.Lock()
	ok := t.enabled && !t.stopped
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.track.WriteSample(s)
}

// RTPTrack exposes the underlying Pion track for attachment to a
// connection.
func (t *LocalTrack) RTPTrack() webrtc.TrackLocal { return t.track }

// LocalStream bundles local tracks under one stream id.
type LocalStream struct {
	id     string
	tracks []domain.MediaTrack
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) AudioTracks() []domain.MediaTrack { return s.byKind(domain.TrackAudio) }
func (s *LocalStream) VideoTracks() []domain.MediaTrack { return s.byKind(domain.TrackVideo) }

func (s *LocalStream) byKind(kind domain.TrackKind) []domain.MediaTrack {
	out := make([]domain.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Devices builds local capture streams. What feeds the tracks is the
// embedder's business: it writes samples through the returned tracks.
type Devices struct {
	log zerolog.Logger
}

func NewDevices(log zerolog.Logger) *Devices {
	return &Devices{log: log.With().Str("module", "rtc").Logger()}
}

// OpenUserMedia produces a camera/microphone stream: one Opus audio track
// and one VP8 video track.
func (d *Devices) OpenUserMedia() (domain.MediaStream, error) {
	streamID := "camera-" + uuid.NewString()[:8]

	audio, err := newLocalTrack(domain.TrackAudio, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, streamID)
	if err != nil {
		return nil, err
	}
	video, err := newLocalTrack(domain.TrackVideo, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, streamID)
	if err != nil {
		return nil, err
	}

	d.log.Info().Str("stream_id", streamID).Msg("user media opened")
	return &LocalStream{id: streamID, tracks: []domain.MediaTrack{audio, video}}, nil
}

// OpenDisplayMedia produces a screen-capture stream: a single VP8 video
// track.
func (d *Devices) OpenDisplayMedia() (domain.MediaStream, error) {
	streamID := "screen-" + uuid.NewString()[:8]

	video, err := newLocalTrack(domain.TrackVideo, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, streamID)
	if err != nil {
		return nil, err
	}

	d.log.Info().Str("stream_id", streamID).Msg("display media opened")
	return &LocalStream{id: streamID, tracks: []domain.MediaTrack{video}}, nil
}

// remoteTrack wraps an inbound Pion track. The enable flag is local
// bookkeeping; the sender controls what actually flows.
type remoteTrack struct {
	src *webrtc.TrackRemote

	mu      sync.Mutex
	enabled bool
}

func newRemoteTrack(src *webrtc.TrackRemote) *remoteTrack {
	return &remoteTrack{src: src, enabled: true}
}

func (t *remoteTrack) ID() string { return t.src.ID() }

func (t *remoteTrack) Kind() domain.TrackKind {
	if t.src.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.TrackAudio
	}
	return domain.TrackVideo
}

func (t *remoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *remoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *remoteTrack) Stop() {}

// Source exposes the Pion track for consumers that want the RTP payload.
func (t *remoteTrack) Source() *webrtc.TrackRemote { return t.src }

// remoteStream groups inbound tracks sharing a stream id.
type remoteStream struct {
	id string

	mu     sync.Mutex
	tracks []domain.MediaTrack
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) add(t domain.MediaTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *remoteStream) AudioTracks() []domain.MediaTrack { return s.byKind(domain.TrackAudio) }
func (s *remoteStream) VideoTracks() []domain.MediaTrack { return s.byKind(domain.TrackVideo) }

func (s *remoteStream) byKind(kind domain.TrackKind) []domain.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Package media owns the local capture stream: per-kind mute, screen-share
// track swapping, and final teardown.
package media

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
)

// TrackReplacer swaps the outgoing video track on every active peer link.
// Implemented by the peer-connection manager.
type TrackReplacer interface {
	ReplaceOutgoingVideo(t domain.MediaTrack) error
}

// EndedNotifier is implemented by capture tracks that can report the source
// going away (the desktop "stop sharing" affordance).
type EndedNotifier interface {
	OnEnded(fn func())
}

// State is the externally visible shape of the local media.
type State struct {
	AudioMuted    bool
	VideoOff      bool
	ScreenSharing bool
}

// Controller wraps the local stream. Not safe for concurrent use; the
// session serializes every call.
type Controller struct {
	devices domain.MediaDevices
	log     zerolog.Logger

	stream domain.MediaStream
	state  State

	screen      domain.MediaStream
	cameraTrack domain.MediaTrack
}

func NewController(devices domain.MediaDevices, log zerolog.Logger) *Controller {
	return &Controller{
		devices: devices,
		log:     log.With().Str("module", "media").Logger(),
	}
}

// Acquire opens camera and microphone. Failure is reported as a
// MediaAccessDenied so the caller can continue with a degraded, trackless
// session.
func (c *Controller) Acquire() error {
	if c.stream != nil {
		return nil
	}
	stream, err := c.devices.OpenUserMedia()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaAccessDenied, err)
	}
	c.stream = stream
	c.log.Info().Str("stream_id", stream.ID()).Msg("local media acquired")
	return nil
}

// Stream returns the local stream, nil when media was never acquired.
func (c *Controller) Stream() domain.MediaStream {
	return c.stream
}

// State returns a copy of the current media flags.
func (c *Controller) State() State {
	return c.state
}

// SetAudioEnabled toggles the first audio track. Idempotent; a missing
// track is a logged no-op.
func (c *Controller) SetAudioEnabled(enabled bool) error {
	track, err := c.firstTrack(domain.TrackAudio)
	if err != nil {
		return err
	}
	track.SetEnabled(enabled)
	c.state.AudioMuted = !enabled
	return nil
}

// SetVideoEnabled toggles the first video track of the camera stream.
func (c *Controller) SetVideoEnabled(enabled bool) error {
	track, err := c.firstTrack(domain.TrackVideo)
	if err != nil {
		return err
	}
	track.SetEnabled(enabled)
	c.state.VideoOff = !enabled
	return nil
}

// SetAllEnabled flips both kinds at once. Used when speaking rights are
// granted or revoked; missing tracks are skipped.
func (c *Controller) SetAllEnabled(enabled bool) {
	if c.stream == nil {
		c.state.AudioMuted = !enabled
		c.state.VideoOff = !enabled
		return
	}
	for _, t := range c.stream.AudioTracks() {
		t.SetEnabled(enabled)
	}
	for _, t := range c.stream.VideoTracks() {
		t.SetEnabled(enabled)
	}
	c.state.AudioMuted = !enabled
	c.state.VideoOff = !enabled
}

func (c *Controller) firstTrack(kind domain.TrackKind) (domain.MediaTrack, error) {
	if c.stream == nil {
		return nil, domain.ErrNoTrack
	}
	var tracks []domain.MediaTrack
	if kind == domain.TrackAudio {
		tracks = c.stream.AudioTracks()
	} else {
		tracks = c.stream.VideoTracks()
	}
	if len(tracks) == 0 {
		c.log.Warn().Str("kind", string(kind)).Msg("no local track of kind")
		return nil, domain.ErrNoTrack
	}
	return tracks[0], nil
}

// StartScreenShare acquires a screen capture and swaps its video track onto
// every active link. The exact camera track is saved so StopScreenShare can
// restore it without renegotiation.
func (c *Controller) StartScreenShare(replacer TrackReplacer) error {
	if c.state.ScreenSharing {
		return nil
	}
	camera, err := c.firstTrack(domain.TrackVideo)
	if err != nil {
		return err
	}
	screen, err := c.devices.OpenDisplayMedia()
	if err != nil {
		return fmt.Errorf("open display media: %w", err)
	}
	tracks := screen.VideoTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("display stream carries no video track")
	}
	if err := replacer.ReplaceOutgoingVideo(tracks[0]); err != nil {
		for _, t := range tracks {
			t.Stop()
		}
		return fmt.Errorf("replace outgoing video: %w", err)
	}

	c.screen = screen
	c.cameraTrack = camera
	c.state.ScreenSharing = true
	c.log.Info().Str("stream_id", screen.ID()).Msg("screen share started")
	return nil
}

// StopScreenShare restores the saved camera track on every active link and
// stops the capture tracks. Idempotent.
func (c *Controller) StopScreenShare(replacer TrackReplacer) error {
	if !c.state.ScreenSharing {
		return nil
	}
	if err := replacer.ReplaceOutgoingVideo(c.cameraTrack); err != nil {
		return fmt.Errorf("restore camera track: %w", err)
	}
	for _, t := range c.screen.VideoTracks() {
		t.Stop()
	}
	c.screen = nil
	c.cameraTrack = nil
	c.state.ScreenSharing = false
	c.log.Info().Msg("screen share stopped")
	return nil
}

// ScreenEnded exposes the capture source's end signal when the underlying
// track supports it. Returns false if there is nothing to watch.
func (c *Controller) ScreenEnded(fn func()) bool {
	if c.screen == nil {
		return false
	}
	tracks := c.screen.VideoTracks()
	if len(tracks) == 0 {
		return false
	}
	if n, ok := tracks[0].(EndedNotifier); ok {
		n.OnEnded(fn)
		return true
	}
	return false
}

// StopAll stops every local track. Part of leave teardown.
func (c *Controller) StopAll() {
	if c.screen != nil {
		for _, t := range c.screen.VideoTracks() {
			t.Stop()
		}
		c.screen = nil
		c.cameraTrack = nil
		c.state.ScreenSharing = false
	}
	if c.stream == nil {
		return
	}
	for _, t := range c.stream.AudioTracks() {
		t.Stop()
	}
	for _, t := range c.stream.VideoTracks() {
		t.Stop()
	}
	c.log.Info().Msg("local media stopped")
}

// Package rtc is the Pion-backed implementation of the peer-connection and
// local-media ports. Negotiation is non-trickle: each side gathers all
// candidates before emitting a single opaque signal blob, which the
// orchestration layer forwards byte-for-byte.
package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
)

// Factory mints peer connections sharing one media engine and ICE
// configuration. ICE servers are injected; nothing here is hard-coded.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
	log zerolog.Logger
}

func NewFactory(iceServers []webrtc.ICEServer, log zerolog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.NewDefaultLoggerFactory()}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)

	return &Factory{
		api: api,
		cfg: webrtc.Configuration{ICEServers: iceServers},
		log: log.With().Str("module", "rtc").Logger(),
	}, nil
}

// NewPeerConnection implements domain.PeerConnectionFactory.
func (f *Factory) NewPeerConnection(initiator bool) (domain.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Conn{
		pc:        pc,
		initiator: initiator,
		log:       f.log,
		senders:   make(map[domain.TrackKind]*webrtc.RTPSender),
		remotes:   make(map[string]*remoteStream),
		done:      make(chan struct{}),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debug().Str("state", s.String()).Msg("connection state")
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			c.fireClose()
		}
	})
	pc.OnTrack(c.handleRemoteTrack)

	return c, nil
}

// Conn is one live peer connection.
type Conn struct {
	pc        *webrtc.PeerConnection
	initiator bool
	log       zerolog.Logger

	mu             sync.Mutex
	senders        map[domain.TrackKind]*webrtc.RTPSender
	remotes        map[string]*remoteStream
	onSignal       func(json.RawMessage)
	onRemoteStream func(domain.MediaStream)
	onClose        func()

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) OnSignal(fn func(json.RawMessage)) {
	c.mu.Lock()
	c.onSignal = fn
	c.mu.Unlock()
}

func (c *Conn) OnRemoteStream(fn func(domain.MediaStream)) {
	c.mu.Lock()
	c.onRemoteStream = fn
	c.mu.Unlock()
}

func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Offer starts negotiation on the initiator side. The signal callback fires
// from its own goroutine once candidate gathering completes, never
// synchronously from this call.
func (c *Conn) Offer() error {
	if !c.initiator {
		return fmt.Errorf("offer on non-initiator connection")
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	go c.emitLocalDescription(gathered)
	return nil
}

// Signal applies a remote description. An applied offer produces an answer
// through the signal callback.
func (c *Conn) Signal(payload json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("parse signal: %w", err)
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	go c.emitLocalDescription(gathered)
	return nil
}

func (c *Conn) emitLocalDescription(gathered <-chan struct{}) {
	select {
	case <-gathered:
	case <-c.done:
		return
	}
	desc := c.pc.LocalDescription()
	if desc == nil {
		return
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal local description")
		return
	}
	c.mu.Lock()
	fn := c.onSignal
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// AttachStream adds every track of the local stream to the connection.
// Tracks must come from this package's media devices.
func (c *Conn) AttachStream(s domain.MediaStream) error {
	tracks := append(s.AudioTracks(), s.VideoTracks()...)
	for _, t := range tracks {
		if err := c.addTrack(t); err != nil {
			return err
		}
	}
	return nil
}

// rtpTrackSource is satisfied by local tracks that carry a Pion track.
type rtpTrackSource interface {
	RTPTrack() webrtc.TrackLocal
}

func (c *Conn) addTrack(t domain.MediaTrack) error {
	src, ok := t.(rtpTrackSource)
	if !ok {
		return fmt.Errorf("track %s is not an RTP track source", t.ID())
	}
	sender, err := c.pc.AddTrack(src.RTPTrack())
	if err != nil {
		return fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	c.mu.Lock()
	c.senders[t.Kind()] = sender
	c.mu.Unlock()
	return nil
}

// ReplaceOutgoingTrack swaps the sender's track without renegotiation.
func (c *Conn) ReplaceOutgoingTrack(kind domain.TrackKind, t domain.MediaTrack) error {
	src, ok := t.(rtpTrackSource)
	if !ok {
		return fmt.Errorf("track %s is not an RTP track source", t.ID())
	}
	c.mu.Lock()
	sender := c.senders[kind]
	c.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("no outgoing %s sender", kind)
	}
	if err := sender.ReplaceTrack(src.RTPTrack()); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}

func (c *Conn) handleRemoteTrack(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	c.log.Debug().Str("kind", tr.Kind().String()).Str("stream_id", tr.StreamID()).Msg("remote track")

	c.mu.Lock()
	rs, known := c.remotes[tr.StreamID()]
	if !known {
		rs = &remoteStream{id: tr.StreamID()}
		c.remotes[tr.StreamID()] = rs
	}
	rs.add(newRemoteTrack(tr))
	fn := c.onRemoteStream
	c.mu.Unlock()

	go c.drain(tr)

	if !known && fn != nil {
		fn(rs)
	}
}

// drain keeps the receiver's RTP flowing so interceptors and NACKs behave;
// consumers that want the payload read through the track wrapper instead.
func (c *Conn) drain(tr *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		if _, _, err := tr.Read(buf); err != nil {
			return
		}
	}
}

func (c *Conn) fireClose() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Close shuts the connection down. Repeated closes collapse into one.
func (c *Conn) Close() error {
	err := c.pc.Close()
	c.fireClose()
	return err
}

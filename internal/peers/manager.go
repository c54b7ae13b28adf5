// Package peers owns the per-remote-participant connection lifecycle: one
// link per peer, created outbound from a roster report or inbound from an
// offer, and torn down exactly once on error, close or leave.
package peers

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
)

// SignalEmitter forwards locally produced negotiation payloads to the peer
// they are addressed to. Implemented by the relay client.
type SignalEmitter interface {
	SendCallUser(p domain.CallUserPayload) error
	SendAcceptCall(p domain.AcceptCallPayload) error
}

// Events are the manager's upward notifications. Invoked without any
// manager lock held, possibly from connection goroutines.
type Events interface {
	LinkEstablished(peer domain.ParticipantID)
	LinkClosed(peer domain.ParticipantID)
}

// LinkInfo is the read-only view of one peer link.
type LinkInfo struct {
	PeerID    domain.ParticipantID
	Direction domain.LinkDirection
	State     domain.LinkState
}

type link struct {
	peerID    domain.ParticipantID
	direction domain.LinkDirection
	state     domain.LinkState
	pc        domain.PeerConnection
	answered  bool
	closed    bool
}

// Manager maps remote participants to live peer connections. Methods are
// safe for concurrent use; connection callbacks land on their own
// goroutines.
type Manager struct {
	factory domain.PeerConnectionFactory
	emitter SignalEmitter
	events  Events
	log     zerolog.Logger

	mu      sync.Mutex
	selfID  domain.ParticipantID
	local   domain.MediaStream
	links   map[domain.ParticipantID]*link
	streams map[domain.ParticipantID]domain.MediaStream
}

func NewManager(factory domain.PeerConnectionFactory, emitter SignalEmitter, events Events, log zerolog.Logger) *Manager {
	return &Manager{
		factory: factory,
		emitter: emitter,
		events:  events,
		log:     log.With().Str("module", "peers").Logger(),
		links:   make(map[domain.ParticipantID]*link),
		streams: make(map[domain.ParticipantID]domain.MediaStream),
	}
}

// SetSelf records the relay-assigned identity so roster entries naming this
// session are skipped.
func (m *Manager) SetSelf(id domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selfID = id
}

// SetLocalStream sets the stream attached to every link created from now
// on. May be nil for a degraded, media-less session.
func (m *Manager) SetLocalStream(s domain.MediaStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = s
}

// SyncRoster creates an outbound link for every roster participant that
// does not have one. Self and already-linked ids are skipped; the map
// membership check is what keeps links unique per peer.
func (m *Manager) SyncRoster(roster []domain.RosterEntry) {
	for _, entry := range roster {
		m.mu.Lock()
		_, linked := m.links[entry.UserID]
		self := entry.UserID == m.selfID || entry.UserID == ""
		m.mu.Unlock()
		if linked || self {
			continue
		}
		m.createLink(entry.UserID, domain.LinkOutbound, nil)
	}
}

// HandleOffer reacts to an inbound call. A duplicate offer for an existing
// link is dropped.
func (m *Manager) HandleOffer(p domain.ReceiveCallPayload) {
	m.mu.Lock()
	_, linked := m.links[p.From]
	m.mu.Unlock()
	if linked {
		m.log.Debug().Str("peer", string(p.From)).Msg("duplicate offer ignored")
		return
	}
	m.createLink(p.From, domain.LinkInbound, p.Signal)
}

// HandleAnswer applies an answer to the matching outbound link. Anything
// else is stale: no link, an inbound link, or a link already answered. A
// stale answer is dropped without touching the link it names.
func (m *Manager) HandleAnswer(p domain.CallAcceptedPayload) {
	m.mu.Lock()
	l, ok := m.links[p.AnswerID]
	if !ok || l.direction != domain.LinkOutbound || l.answered {
		m.mu.Unlock()
		m.log.Warn().Str("peer", string(p.AnswerID)).Err(domain.ErrStaleSignal).Msg("answer dropped")
		return
	}
	l.answered = true
	m.mu.Unlock()

	if err := l.pc.Signal(p.Signal); err != nil {
		m.log.Error().Err(err).Str("peer", string(p.AnswerID)).Msg("apply answer")
		m.removeLink(p.AnswerID)
	}
}

// createLink builds a connection, registers its callbacks and starts
// negotiation. A failure tears down only this link.
func (m *Manager) createLink(peer domain.ParticipantID, dir domain.LinkDirection, offer []byte) {
	pc, err := m.factory.NewPeerConnection(dir == domain.LinkOutbound)
	if err != nil {
		m.log.Error().Err(err).Str("peer", string(peer)).Msg("create peer connection")
		return
	}

	l := &link{peerID: peer, direction: dir, state: domain.LinkConnecting, pc: pc}

	m.mu.Lock()
	if _, exists := m.links[peer]; exists {
		// Lost the race against a concurrent creation for the same peer.
		m.mu.Unlock()
		pc.Close()
		return
	}
	m.links[peer] = l
	self := m.selfID
	local := m.local
	m.mu.Unlock()

	pc.OnSignal(func(payload json.RawMessage) {
		var err error
		if dir == domain.LinkOutbound {
			err = m.emitter.SendCallUser(domain.CallUserPayload{
				UserToCall: peer,
				From:       self,
				Signal:     payload,
			})
		} else {
			err = m.emitter.SendAcceptCall(domain.AcceptCallPayload{
				Signal: payload,
				To:     peer,
			})
		}
		if err != nil {
			m.log.Error().Err(err).Str("peer", string(peer)).Msg("forward signal")
		}
	})
	pc.OnRemoteStream(func(s domain.MediaStream) {
		m.mu.Lock()
		m.streams[peer] = s
		l.state = domain.LinkConnected
		m.mu.Unlock()
		m.log.Info().Str("peer", string(peer)).Str("stream_id", s.ID()).Msg("remote stream")
		m.events.LinkEstablished(peer)
	})
	pc.OnClose(func() {
		m.removeLink(peer)
	})

	if local != nil {
		if err := pc.AttachStream(local); err != nil {
			m.log.Error().Err(err).Str("peer", string(peer)).Msg("attach local stream")
			m.removeLink(peer)
			return
		}
	}

	if dir == domain.LinkOutbound {
		err = pc.Offer()
	} else {
		err = pc.Signal(offer)
	}
	if err != nil {
		m.log.Error().Err(err).Str("peer", string(peer)).Msg("start negotiation")
		m.removeLink(peer)
		return
	}

	m.log.Info().Str("peer", string(peer)).Str("direction", string(dir)).Msg("peer link created")
}

// removeLink is the single teardown path. Repeated close and error events
// for the same link collapse into one removal and one LinkClosed.
func (m *Manager) removeLink(peer domain.ParticipantID) {
	m.mu.Lock()
	l, ok := m.links[peer]
	if !ok || l.closed {
		m.mu.Unlock()
		return
	}
	l.closed = true
	l.state = domain.LinkClosed
	delete(m.links, peer)
	delete(m.streams, peer)
	m.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		m.log.Debug().Err(err).Str("peer", string(peer)).Msg("close connection")
	}
	m.log.Info().Str("peer", string(peer)).Msg("peer link removed")
	m.events.LinkClosed(peer)
}

// CloseAll destroys every link. Used during leave teardown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]domain.ParticipantID, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.removeLink(id)
	}
}

// ReplaceOutgoingVideo swaps the outgoing video track on every active link.
// A failing link is logged and skipped so one peer cannot block the rest.
func (m *Manager) ReplaceOutgoingVideo(t domain.MediaTrack) error {
	m.mu.Lock()
	pcs := make(map[domain.ParticipantID]domain.PeerConnection, len(m.links))
	for id, l := range m.links {
		pcs[id] = l.pc
	}
	m.mu.Unlock()

	for id, pc := range pcs {
		if err := pc.ReplaceOutgoingTrack(domain.TrackVideo, t); err != nil {
			m.log.Error().Err(err).Str("peer", string(id)).Msg("replace video track")
		}
	}
	return nil
}

// HasLink reports whether a live link to the peer exists.
func (m *Manager) HasLink(peer domain.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[peer]
	return ok
}

// Links returns a snapshot of every live link.
func (m *Manager) Links() []LinkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LinkInfo, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, LinkInfo{PeerID: l.peerID, Direction: l.direction, State: l.state})
	}
	return out
}

// Streams returns a copy of the remote stream map.
func (m *Manager) Streams() map[domain.ParticipantID]domain.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamsLocked()
}

// Snapshot returns links and remote streams from one consistent view of
// the manager's state.
func (m *Manager) Snapshot() ([]LinkInfo, map[domain.ParticipantID]domain.MediaStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	links := make([]LinkInfo, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, LinkInfo{PeerID: l.peerID, Direction: l.direction, State: l.state})
	}
	return links, m.streamsLocked()
}

func (m *Manager) streamsLocked() map[domain.ParticipantID]domain.MediaStream {
	out := make(map[domain.ParticipantID]domain.MediaStream, len(m.streams))
	for id, s := range m.streams {
		out[id] = s
	}
	return out
}

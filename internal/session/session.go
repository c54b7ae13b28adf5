// Package session is the top-level orchestrator: it owns role assignment
// and the join/leave lifecycle, wires the relay events into the peer and
// speaking-rights components, and exposes the snapshot the UI renders.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
	"github.com/aman25072025/stagecast/internal/media"
	"github.com/aman25072025/stagecast/internal/peers"
	"github.com/aman25072025/stagecast/internal/rights"
)

// Session is one participant's presence in a room.
//
// Locking: mu guards the session's own fields plus the rights and media
// controllers. The peer manager carries its own lock and is never called
// while mu is held on paths that can synchronously fire its hooks back
// into the session.
type Session struct {
	factory     domain.PeerConnectionFactory
	devices     domain.MediaDevices
	displayName string
	log         zerolog.Logger

	signaler domain.Signaler
	manager  *peers.Manager
	mediaCtl *media.Controller
	rights   *rights.Controller

	mu            sync.Mutex
	joined        bool
	left          bool
	roomID        string
	role          domain.Role
	broadcasterID domain.ParticipantID
	onChange      func()

	done     chan struct{}
	doneOnce sync.Once
	fatalErr error
}

// New creates an unjoined session. SetSignaler must be called before Join
// to complete the circular dependency (the session is the relay client's
// handler, and needs the client to emit).
func New(factory domain.PeerConnectionFactory, devices domain.MediaDevices, displayName string, log zerolog.Logger) *Session {
	s := &Session{
		factory:     factory,
		devices:     devices,
		displayName: displayName,
		log:         log.With().Str("module", "session").Logger(),
		done:        make(chan struct{}),
	}
	s.mediaCtl = media.NewController(devices, log)
	s.rights = rights.NewController(s.mediaCtl, log)
	s.manager = peers.NewManager(factory, managerPorts{s}, managerPorts{s}, log)
	return s
}

// SetSignaler injects the relay client after construction.
func (s *Session) SetSignaler(sig domain.Signaler) {
	s.signaler = sig
}

// OnChange registers a callback invoked after every state transition. The
// callback should pull a fresh Snapshot; it must not block.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Done is closed when the session has ended, either by Leave or by loss of
// the relay connection.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended. Nil for a clean leave.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Join acquires local media and announces presence in the room. The
// requested role is a request: the relay decides. A media acquisition
// failure surfaces MediaAccessDenied and does not join; the caller may fall
// back to JoinWithoutMedia.
func (s *Session) Join(roomID string, requestedRole domain.Role) error {
	return s.join(roomID, requestedRole, true)
}

// JoinWithoutMedia joins with a degraded, trackless session after media
// access was denied.
func (s *Session) JoinWithoutMedia(roomID string, requestedRole domain.Role) error {
	return s.join(roomID, requestedRole, false)
}

func (s *Session) join(roomID string, requestedRole domain.Role, withMedia bool) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return domain.ErrAlreadyJoined
	}

	if withMedia {
		if err := s.mediaCtl.Acquire(); err != nil {
			s.mu.Unlock()
			return err
		}
		// A viewer's tracks stay dark until speaking rights are granted.
		s.mediaCtl.SetAllEnabled(requestedRole != domain.RoleViewer)
	}

	self := s.signaler.ClientID()
	s.manager.SetSelf(self)
	s.manager.SetLocalStream(s.mediaCtl.Stream())

	if err := s.signaler.SendJoinRoom(domain.JoinRoomPayload{
		RoomID:      roomID,
		DisplayName: s.displayName,
		Role:        string(requestedRole),
	}); err != nil {
		s.mu.Unlock()
		return err
	}

	s.roomID = roomID
	s.joined = true
	s.log.Info().Str("room", roomID).Str("requested_role", string(requestedRole)).Msg("joined room")
	s.mu.Unlock()

	s.notify()
	return nil
}

// Leave tears the session down: announce the leave, destroy every peer
// link, stop local tracks and close the relay connection. Runs exactly
// once no matter how many paths trigger it.
func (s *Session) Leave() {
	s.teardown(true, nil)
}

func (s *Session) teardown(sendLeave bool, cause error) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.left = true
	var self domain.ParticipantID
	if s.signaler != nil {
		self = s.signaler.ClientID()
	}
	roomID := s.roomID
	wasJoined := s.joined
	s.fatalErr = cause
	s.mu.Unlock()

	if sendLeave && wasJoined {
		if err := s.signaler.SendLeaveRoom(domain.LeaveRoomPayload{RoomID: roomID, LeaverID: self}); err != nil {
			s.log.Debug().Err(err).Msg("announce leave")
		}
	}

	s.manager.CloseAll()

	s.mu.Lock()
	s.mediaCtl.StopAll()
	s.rights.Purge(self)
	s.joined = false
	s.mu.Unlock()

	if s.signaler != nil {
		s.signaler.Close()
	}
	s.log.Info().Str("room", roomID).Msg("left room")
	s.doneOnce.Do(func() { close(s.done) })
	s.notify()
}

// Snapshot returns an atomic, read-only view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	self := domain.ParticipantID("")
	if s.signaler != nil {
		self = s.signaler.ClientID()
	}
	links, streams := s.manager.Snapshot()
	return Snapshot{
		SelfID:         self,
		BroadcasterID:  s.broadcasterID,
		Role:           s.role,
		Joined:         s.joined,
		Links:          links,
		RemoteStreams:  streams,
		HandRaises:     s.rights.PendingRequests(),
		SpeakingRoster: s.rights.SpeakingRoster(),
		Media:          s.mediaCtl.State(),
		HandRaised:     s.rights.StateOf(self) == rights.Pending,
		Speaking:       s.rights.StateOf(self) == rights.Speaking,
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// --- relay events (domain.RoomHandler) ---

// OnAssignRole records the role the relay granted. Assignment is terminal
// for the session; repeats are ignored. A server-assigned broadcaster that
// joined without media acquires it now.
func (s *Session) OnAssignRole(p domain.AssignRolePayload) {
	s.mu.Lock()
	if !s.joined || s.role != domain.RoleUnassigned {
		s.mu.Unlock()
		return
	}
	s.role = domain.ParseRole(p.Role)
	s.broadcasterID = p.BroadcasterID
	s.log.Info().Str("role", string(s.role)).Str("broadcaster", string(p.BroadcasterID)).Msg("role assigned")

	switch s.role {
	case domain.RoleBroadcaster:
		if s.mediaCtl.Stream() == nil {
			if err := s.mediaCtl.Acquire(); err != nil {
				s.log.Warn().Err(err).Msg("broadcaster media acquisition failed, continuing without tracks")
			} else {
				s.manager.SetLocalStream(s.mediaCtl.Stream())
			}
		}
		s.mediaCtl.SetAllEnabled(true)
	case domain.RoleViewer:
		// The requested role was not granted: make sure tracks are dark
		// until speaking rights arrive.
		if s.mediaCtl.Stream() != nil {
			s.mediaCtl.SetAllEnabled(false)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// OnUserJoin reacts to a roster report. Only the broadcaster dials out; a
// viewer waits to be called.
func (s *Session) OnUserJoin(roster []domain.RosterEntry) {
	s.mu.Lock()
	isBroadcaster := s.role == domain.RoleBroadcaster && s.joined && !s.left
	s.mu.Unlock()
	if !isBroadcaster {
		return
	}
	s.manager.SyncRoster(roster)
	s.notify()
}

func (s *Session) OnReceiveCall(p domain.ReceiveCallPayload) {
	s.mu.Lock()
	live := s.joined && !s.left
	s.mu.Unlock()
	if !live {
		return
	}
	s.manager.HandleOffer(p)
	s.notify()
}

func (s *Session) OnCallAccepted(p domain.CallAcceptedPayload) {
	s.manager.HandleAnswer(p)
	s.notify()
}

// OnRaisedHand records a viewer's request to speak on the broadcaster.
func (s *Session) OnRaisedHand(p domain.RaisedHandPayload) {
	s.mu.Lock()
	if s.role == domain.RoleBroadcaster {
		s.rights.Raise(p.UserID, p.UserName)
	}
	s.mu.Unlock()
	s.notify()
}

// OnSpeakerApproved grants this viewer speaking rights: tracks go live.
func (s *Session) OnSpeakerApproved() {
	s.mu.Lock()
	s.rights.GrantSelf(s.signaler.ClientID())
	s.mu.Unlock()
	s.notify()
}

// OnSpeakerDeclined lowers this viewer's hand. Media stays dark.
func (s *Session) OnSpeakerDeclined() {
	s.mu.Lock()
	s.rights.DeclineSelf(s.signaler.ClientID())
	s.mu.Unlock()
	s.notify()
}

// OnStopSpeaking revokes this viewer's speaking rights.
func (s *Session) OnStopSpeaking() {
	s.mu.Lock()
	s.rights.RevokeSelf(s.signaler.ClientID())
	s.mu.Unlock()
	s.notify()
}

// OnViewerStopped tells the broadcaster a speaker stopped on its own.
func (s *Session) OnViewerStopped(p domain.ViewerStoppedPayload) {
	s.mu.Lock()
	s.rights.Stop(p.UserID)
	s.mu.Unlock()
	s.notify()
}

// OnSignalingClosed ends the session. Loss of the relay is the one failure
// that cannot be contained to a single peer.
func (s *Session) OnSignalingClosed(err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("signaling channel lost")
	}
	s.teardown(false, err)
}

// --- user actions ---

// RaiseHand asks the broadcaster for speaking rights. A repeat while the
// request is pending or granted is a no-op.
func (s *Session) RaiseHand() error {
	s.mu.Lock()
	self := s.signaler.ClientID()
	if !s.joined || s.role != domain.RoleViewer || !s.rights.Raise(self, s.displayName) {
		s.mu.Unlock()
		return nil
	}
	roomID := s.roomID
	name := s.displayName
	s.mu.Unlock()

	err := s.signaler.SendRaiseHand(domain.RaiseHandPayload{RoomID: roomID, UserID: self, UserName: name})
	s.notify()
	return err
}

// Approve grants a pending requester speaking rights. Broadcaster only;
// the requester must still have a live peer link.
func (s *Session) Approve(peer domain.ParticipantID) error {
	s.mu.Lock()
	if s.role != domain.RoleBroadcaster {
		s.mu.Unlock()
		return nil
	}
	if !s.manager.HasLink(peer) {
		s.log.Warn().Str("peer", string(peer)).Msg("approve rejected, no live peer link")
		s.rights.Purge(peer)
		s.mu.Unlock()
		return nil
	}
	ok := s.rights.Approve(peer)
	roomID := s.roomID
	s.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.signaler.SendApproveSpeaker(domain.SpeakerRefPayload{RoomID: roomID, UserID: peer})
	s.notify()
	return err
}

// Decline refuses a pending request. Broadcaster only.
func (s *Session) Decline(peer domain.ParticipantID) error {
	s.mu.Lock()
	ok := s.role == domain.RoleBroadcaster && s.rights.Decline(peer)
	roomID := s.roomID
	s.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.signaler.SendDeclineSpeaker(domain.SpeakerRefPayload{RoomID: roomID, UserID: peer})
	s.notify()
	return err
}

// StopSpeaker revokes a viewer's speaking turn from the broadcaster side.
func (s *Session) StopSpeaker(peer domain.ParticipantID) error {
	s.mu.Lock()
	ok := s.role == domain.RoleBroadcaster && s.rights.Stop(peer)
	roomID := s.roomID
	s.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.signaler.SendStopSpeaking(domain.SpeakerRefPayload{RoomID: roomID, UserID: peer})
	s.notify()
	return err
}

// StopSpeaking ends this viewer's own speaking turn and tells the room.
func (s *Session) StopSpeaking() error {
	s.mu.Lock()
	self := s.signaler.ClientID()
	if s.rights.StateOf(self) != rights.Speaking {
		s.mu.Unlock()
		return nil
	}
	s.rights.RevokeSelf(self)
	roomID := s.roomID
	s.mu.Unlock()

	err := s.signaler.SendStopSpeaking(domain.SpeakerRefPayload{RoomID: roomID, UserID: self})
	s.notify()
	return err
}

// SetAudioEnabled toggles the local microphone. A viewer may only toggle
// while speaking; its tracks are otherwise gated by the rights flow.
func (s *Session) SetAudioEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mayToggleMedia() {
		return nil
	}
	return s.mediaCtl.SetAudioEnabled(enabled)
}

// SetVideoEnabled toggles the local camera.
func (s *Session) SetVideoEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mayToggleMedia() {
		return nil
	}
	return s.mediaCtl.SetVideoEnabled(enabled)
}

func (s *Session) mayToggleMedia() bool {
	if s.role == domain.RoleBroadcaster {
		return true
	}
	return s.rights.StateOf(s.signaler.ClientID()) == rights.Speaking
}

// StartScreenShare swaps the outgoing video on every peer link to a screen
// capture. Broadcaster only. The capture source ending reverts to camera.
func (s *Session) StartScreenShare() error {
	s.mu.Lock()
	if s.role != domain.RoleBroadcaster {
		s.mu.Unlock()
		return nil
	}
	err := s.mediaCtl.StartScreenShare(s.manager)
	if err == nil {
		s.mediaCtl.ScreenEnded(func() {
			if serr := s.StopScreenShare(); serr != nil {
				s.log.Error().Err(serr).Msg("stop screen share after source ended")
			}
		})
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// StopScreenShare restores the camera track on every peer link.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	err := s.mediaCtl.StopScreenShare(s.manager)
	s.mu.Unlock()
	s.notify()
	return err
}

// managerPorts adapts the session to the manager's emitter and event
// interfaces without widening the session's public surface.
type managerPorts struct {
	s *Session
}

func (p managerPorts) SendCallUser(payload domain.CallUserPayload) error {
	return p.s.signaler.SendCallUser(payload)
}

func (p managerPorts) SendAcceptCall(payload domain.AcceptCallPayload) error {
	return p.s.signaler.SendAcceptCall(payload)
}

func (p managerPorts) LinkEstablished(peer domain.ParticipantID) {
	p.s.notify()
}

// LinkClosed is the mandatory cleanup hook: a dead link purges the peer
// from the hand-raise table and the speaking roster.
func (p managerPorts) LinkClosed(peer domain.ParticipantID) {
	p.s.mu.Lock()
	p.s.rights.Purge(peer)
	p.s.mu.Unlock()
	p.s.notify()
}

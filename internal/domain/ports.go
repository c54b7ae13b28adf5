package domain

import "encoding/json"

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaTrack is a single local or remote track whose transmission can be
// gated without renegotiation.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// MediaStream is a bundle of tracks sharing one stream id.
type MediaStream interface {
	ID() string
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
}

// MediaDevices acquires local capture streams. Implementations decide what
// actually feeds the tracks; the session only needs independently
// enable-able audio and video.
type MediaDevices interface {
	OpenUserMedia() (MediaStream, error)
	OpenDisplayMedia() (MediaStream, error)
}

// Signaler is the connection to the external relay. Implementations must
// deliver inbound events to the handler one at a time, in arrival order.
type Signaler interface {
	Connect() error
	// ClientID returns the relay-assigned identity. Valid after Connect.
	ClientID() ParticipantID
	SendJoinRoom(p JoinRoomPayload) error
	SendLeaveRoom(p LeaveRoomPayload) error
	SendCallUser(p CallUserPayload) error
	SendAcceptCall(p AcceptCallPayload) error
	SendRaiseHand(p RaiseHandPayload) error
	SendApproveSpeaker(p SpeakerRefPayload) error
	SendDeclineSpeaker(p SpeakerRefPayload) error
	SendStopSpeaking(p SpeakerRefPayload) error
	Close()
}

// RoomHandler receives relay events addressed to this session.
type RoomHandler interface {
	OnAssignRole(p AssignRolePayload)
	OnUserJoin(roster []RosterEntry)
	OnReceiveCall(p ReceiveCallPayload)
	OnCallAccepted(p CallAcceptedPayload)
	OnRaisedHand(p RaisedHandPayload)
	OnSpeakerApproved()
	OnSpeakerDeclined()
	OnStopSpeaking()
	OnViewerStopped(p ViewerStoppedPayload)
	// OnSignalingClosed reports loss of the relay connection. This is the
	// only session-fatal failure.
	OnSignalingClosed(err error)
}

// PeerConnection is one negotiated link to a remote participant. The signal
// payloads it produces and consumes are opaque blobs forwarded byte-for-byte
// through the relay.
type PeerConnection interface {
	// Offer starts negotiation. Initiator side only; the resulting signal
	// arrives via the OnSignal callback.
	Offer() error
	// Signal applies a remote offer or answer. On the non-initiator side an
	// applied offer produces an answer via OnSignal.
	Signal(payload json.RawMessage) error
	AttachStream(s MediaStream) error
	ReplaceOutgoingTrack(kind TrackKind, t MediaTrack) error
	OnSignal(fn func(payload json.RawMessage))
	OnRemoteStream(fn func(s MediaStream))
	OnClose(fn func())
	Close() error
}

// PeerConnectionFactory mints connections. Connection configuration (ICE
// servers and credentials) lives behind the factory, injected at startup.
type PeerConnectionFactory interface {
	NewPeerConnection(initiator bool) (PeerConnection, error)
}

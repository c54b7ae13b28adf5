package domain

import "encoding/json"

// Event names spoken between a session and the relay. The relay forwards
// most of these verbatim to the addressed participant.
const (
	EventWelcome         = "welcome"
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventAssignRole      = "assign-role"
	EventUserJoin        = "user-join"
	EventCallUser        = "call-user"
	EventReceiveCall     = "receive-call"
	EventAcceptCall      = "accept-call"
	EventCallAccepted    = "call-accepted"
	EventRaiseHand       = "raise-hand"
	EventRaisedHand      = "raised-hand"
	EventApproveSpeaker  = "approve-speaker"
	EventSpeakerApproved = "speaker-approved"
	EventDeclineSpeaker  = "decline-speaker"
	EventStopSpeaking    = "stop-speaking"
	EventViewerStop      = "viewer-stop-speaking"
	EventViewerStopped   = "viewer-stopped"
)

// WelcomePayload is sent by the relay immediately after the socket is
// established and carries the identity it assigned to this connection.
type WelcomePayload struct {
	ClientID ParticipantID `json:"clientId"`
}

type JoinRoomPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type LeaveRoomPayload struct {
	RoomID   string        `json:"roomId"`
	LeaverID ParticipantID `json:"leaverId"`
}

type AssignRolePayload struct {
	Role          string        `json:"role"`
	BroadcasterID ParticipantID `json:"broadcasterId"`
}

// RosterEntry is one participant in a user-join roster report.
type RosterEntry struct {
	UserID ParticipantID `json:"userId"`
}

// CallUserPayload carries an initiator's opaque signal blob to a callee.
type CallUserPayload struct {
	UserToCall ParticipantID   `json:"userToCall"`
	From       ParticipantID   `json:"from"`
	Signal     json.RawMessage `json:"signal"`
}

type ReceiveCallPayload struct {
	Signal json.RawMessage `json:"signal"`
	From   ParticipantID   `json:"from"`
}

type AcceptCallPayload struct {
	Signal json.RawMessage `json:"signal"`
	To     ParticipantID   `json:"to"`
}

type CallAcceptedPayload struct {
	Signal   json.RawMessage `json:"signal"`
	AnswerID ParticipantID   `json:"answerId"`
}

type RaiseHandPayload struct {
	RoomID   string        `json:"roomId"`
	UserID   ParticipantID `json:"userId"`
	UserName string        `json:"userName"`
}

type RaisedHandPayload struct {
	UserID   ParticipantID `json:"userId"`
	UserName string        `json:"userName"`
}

// SpeakerRefPayload addresses a moderation action at one viewer. Used by
// approve-speaker, decline-speaker and stop-speaking.
type SpeakerRefPayload struct {
	RoomID string        `json:"roomId"`
	UserID ParticipantID `json:"userId"`
}

type ViewerStoppedPayload struct {
	UserID ParticipantID `json:"userId"`
}

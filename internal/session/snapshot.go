package session

import (
	"github.com/aman25072025/stagecast/internal/domain"
	"github.com/aman25072025/stagecast/internal/media"
	"github.com/aman25072025/stagecast/internal/peers"
	"github.com/aman25072025/stagecast/internal/rights"
)

// Snapshot is the read-only view the presentation layer renders. Every
// field is a copy; mutating it does not touch session state.
type Snapshot struct {
	SelfID        domain.ParticipantID
	BroadcasterID domain.ParticipantID
	Role          domain.Role
	Joined        bool

	Links          []peers.LinkInfo
	RemoteStreams  map[domain.ParticipantID]domain.MediaStream
	HandRaises     []rights.HandRaise
	SpeakingRoster []domain.ParticipantID
	Media          media.State

	// Viewer-side flags for this participant.
	HandRaised bool
	Speaking   bool
}

// Package rights is the hand-raise state machine: who asked to speak, who
// is allowed to, and the track toggles that enforce it locally.
package rights

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
	"github.com/aman25072025/stagecast/internal/media"
)

// SpeakState is a participant's position in the request-to-speak flow.
type SpeakState int

const (
	NotRequesting SpeakState = iota
	Pending
	Speaking
)

// HandRaise is one outstanding request to speak.
type HandRaise struct {
	PeerID      domain.ParticipantID
	DisplayName string
}

// Controller tracks hand raises and the speaking roster, and is the only
// component allowed to flip the local media state when rights change.
// Not safe for concurrent use; the session serializes every call.
type Controller struct {
	media *media.Controller
	log   zerolog.Logger

	pending  map[domain.ParticipantID]string
	speaking map[domain.ParticipantID]struct{}
}

func NewController(mediaCtl *media.Controller, log zerolog.Logger) *Controller {
	return &Controller{
		media:    mediaCtl,
		log:      log.With().Str("module", "rights").Logger(),
		pending:  make(map[domain.ParticipantID]string),
		speaking: make(map[domain.ParticipantID]struct{}),
	}
}

// StateOf reports where a participant sits in the flow.
func (c *Controller) StateOf(peer domain.ParticipantID) SpeakState {
	if _, ok := c.speaking[peer]; ok {
		return Speaking
	}
	if _, ok := c.pending[peer]; ok {
		return Pending
	}
	return NotRequesting
}

// Raise records a request to speak. Re-raising while Pending or Speaking is
// a no-op; the return value says whether the state changed.
func (c *Controller) Raise(peer domain.ParticipantID, displayName string) bool {
	if c.StateOf(peer) != NotRequesting {
		c.log.Debug().Str("peer", string(peer)).Msg("raise ignored, already pending or speaking")
		return false
	}
	c.pending[peer] = displayName
	c.log.Info().Str("peer", string(peer)).Str("name", displayName).Msg("hand raised")
	return true
}

// Approve moves a pending request into the speaking roster. Only valid from
// Pending; anything else leaves the roster untouched.
func (c *Controller) Approve(peer domain.ParticipantID) bool {
	if c.StateOf(peer) != Pending {
		c.log.Warn().Str("peer", string(peer)).Err(domain.ErrInvalidTransition).Msg("approve rejected")
		return false
	}
	delete(c.pending, peer)
	c.speaking[peer] = struct{}{}
	c.log.Info().Str("peer", string(peer)).Msg("speaker approved")
	return true
}

// Decline drops a pending request without touching media; the viewer's
// tracks were never enabled.
func (c *Controller) Decline(peer domain.ParticipantID) bool {
	if c.StateOf(peer) != Pending {
		c.log.Warn().Str("peer", string(peer)).Err(domain.ErrInvalidTransition).Msg("decline rejected")
		return false
	}
	delete(c.pending, peer)
	c.log.Info().Str("peer", string(peer)).Msg("speaker declined")
	return true
}

// Stop removes a speaker from the roster. Valid only from Speaking; the
// participant may raise a hand again afterwards.
func (c *Controller) Stop(peer domain.ParticipantID) bool {
	if c.StateOf(peer) != Speaking {
		c.log.Warn().Str("peer", string(peer)).Err(domain.ErrInvalidTransition).Msg("stop rejected")
		return false
	}
	delete(c.speaking, peer)
	c.log.Info().Str("peer", string(peer)).Msg("speaker stopped")
	return true
}

// Purge forces a participant back to NotRequesting, dropping it from both
// the pending set and the roster. Idempotent; this is the cleanup hook for
// peer link teardown.
func (c *Controller) Purge(peer domain.ParticipantID) {
	delete(c.pending, peer)
	delete(c.speaking, peer)
}

// GrantSelf applies an approval to this participant: enter Speaking and
// enable the local tracks.
func (c *Controller) GrantSelf(self domain.ParticipantID) {
	delete(c.pending, self)
	c.speaking[self] = struct{}{}
	c.media.SetAllEnabled(true)
	c.log.Info().Msg("speaking rights granted")
}

// DeclineSelf resets the raised hand. Media is untouched; it was never
// enabled.
func (c *Controller) DeclineSelf(self domain.ParticipantID) {
	delete(c.pending, self)
	c.log.Info().Msg("request to speak declined")
}

// RevokeSelf ends this participant's speaking turn, whether self-initiated
// or revoked by the broadcaster, and disables the local tracks. The hand is
// lowered so a fresh request is possible.
func (c *Controller) RevokeSelf(self domain.ParticipantID) {
	delete(c.pending, self)
	delete(c.speaking, self)
	c.media.SetAllEnabled(false)
	c.log.Info().Msg("speaking rights revoked")
}

// PendingRequests returns the outstanding hand raises, ordered by peer id.
func (c *Controller) PendingRequests() []HandRaise {
	out := make([]HandRaise, 0, len(c.pending))
	for id, name := range c.pending {
		out = append(out, HandRaise{PeerID: id, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// SpeakingRoster returns the ids currently approved to speak, ordered.
func (c *Controller) SpeakingRoster() []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(c.speaking))
	for id := range c.speaking {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

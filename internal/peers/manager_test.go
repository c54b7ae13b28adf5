package peers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
)

// fakePC records calls and lets tests fire the connection callbacks.
type fakePC struct {
	initiator bool
	offered   bool
	signals   []json.RawMessage
	attached  domain.MediaStream
	replaced  []domain.MediaTrack
	closed    int

	offerErr  error
	signalErr error

	onSignal func(json.RawMessage)
	onRemote func(domain.MediaStream)
	onClose  func()
}

func (p *fakePC) Offer() error {
	p.offered = true
	return p.offerErr
}

func (p *fakePC) Signal(payload json.RawMessage) error {
	if p.signalErr != nil {
		return p.signalErr
	}
	p.signals = append(p.signals, payload)
	return nil
}

func (p *fakePC) AttachStream(s domain.MediaStream) error { p.attached = s; return nil }

func (p *fakePC) ReplaceOutgoingTrack(kind domain.TrackKind, t domain.MediaTrack) error {
	p.replaced = append(p.replaced, t)
	return nil
}

func (p *fakePC) OnSignal(fn func(json.RawMessage))          { p.onSignal = fn }
func (p *fakePC) OnRemoteStream(fn func(domain.MediaStream)) { p.onRemote = fn }
func (p *fakePC) OnClose(fn func())                          { p.onClose = fn }
func (p *fakePC) Close() error                               { p.closed++; return nil }

type fakeFactory struct {
	pcs []*fakePC
	err error
}

func (f *fakeFactory) NewPeerConnection(initiator bool) (domain.PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePC{initiator: initiator}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

type fakeEmitter struct {
	calls   []domain.CallUserPayload
	accepts []domain.AcceptCallPayload
}

func (e *fakeEmitter) SendCallUser(p domain.CallUserPayload) error {
	e.calls = append(e.calls, p)
	return nil
}

func (e *fakeEmitter) SendAcceptCall(p domain.AcceptCallPayload) error {
	e.accepts = append(e.accepts, p)
	return nil
}

type fakeEvents struct {
	established []domain.ParticipantID
	closed      []domain.ParticipantID
}

func (e *fakeEvents) LinkEstablished(peer domain.ParticipantID) {
	e.established = append(e.established, peer)
}

func (e *fakeEvents) LinkClosed(peer domain.ParticipantID) {
	e.closed = append(e.closed, peer)
}

type staticStream struct{ id string }

func (s *staticStream) ID() string                       { return s.id }
func (s *staticStream) AudioTracks() []domain.MediaTrack { return nil }
func (s *staticStream) VideoTracks() []domain.MediaTrack { return nil }

func newTestManager() (*Manager, *fakeFactory, *fakeEmitter, *fakeEvents) {
	factory := &fakeFactory{}
	emitter := &fakeEmitter{}
	events := &fakeEvents{}
	m := NewManager(factory, emitter, events, zerolog.Nop())
	m.SetSelf("self")
	return m, factory, emitter, events
}

func roster(ids ...domain.ParticipantID) []domain.RosterEntry {
	out := make([]domain.RosterEntry, len(ids))
	for i, id := range ids {
		out[i] = domain.RosterEntry{UserID: id}
	}
	return out
}

func TestSyncRoster_NeverDuplicatesLinks(t *testing.T) {
	m, factory, _, _ := newTestManager()

	m.SyncRoster(roster("v1", "v2", "self"))
	m.SyncRoster(roster("v1", "v2", "v3"))
	m.SyncRoster(roster("v1"))

	links := m.Links()
	if len(links) != 3 {
		t.Fatalf("links = %d, want 3 (v1, v2, v3)", len(links))
	}
	seen := map[domain.ParticipantID]int{}
	for _, l := range links {
		seen[l.PeerID]++
		if l.Direction != domain.LinkOutbound {
			t.Errorf("roster link %s direction = %s, want outbound", l.PeerID, l.Direction)
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("peer %s has %d links", id, n)
		}
	}
	if seen["self"] != 0 {
		t.Error("self must never get a link")
	}
	if len(factory.pcs) != 3 {
		t.Errorf("factory minted %d connections, want 3", len(factory.pcs))
	}
	for _, pc := range factory.pcs {
		if !pc.offered {
			t.Error("outbound link never started its offer")
		}
	}
}

func TestSyncRoster_AttachesLocalStream(t *testing.T) {
	m, factory, _, _ := newTestManager()
	local := &staticStream{id: "camera"}
	m.SetLocalStream(local)

	m.SyncRoster(roster("v1"))

	if factory.pcs[0].attached != domain.MediaStream(local) {
		t.Error("local stream was not attached to the new link")
	}
}

func TestHandleOffer_IgnoresDuplicates(t *testing.T) {
	m, factory, emitter, _ := newTestManager()

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	m.HandleOffer(domain.ReceiveCallPayload{From: "b1", Signal: offer})
	m.HandleOffer(domain.ReceiveCallPayload{From: "b1", Signal: offer})

	if len(factory.pcs) != 1 {
		t.Fatalf("duplicate offer created %d connections, want 1", len(factory.pcs))
	}
	links := m.Links()
	if len(links) != 1 || links[0].Direction != domain.LinkInbound {
		t.Fatalf("links = %+v, want one inbound link", links)
	}
	if len(factory.pcs[0].signals) != 1 {
		t.Fatalf("offer applied %d times, want 1", len(factory.pcs[0].signals))
	}

	// The produced answer is addressed back to the caller.
	factory.pcs[0].onSignal(json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
	if len(emitter.accepts) != 1 || emitter.accepts[0].To != "b1" {
		t.Errorf("accept-call = %+v, want one addressed to b1", emitter.accepts)
	}
}

func TestOutboundSignal_EmitsCallUser(t *testing.T) {
	m, factory, emitter, _ := newTestManager()

	m.SyncRoster(roster("v1"))
	factory.pcs[0].onSignal(json.RawMessage(`{"type":"offer","sdp":"v=0"}`))

	if len(emitter.calls) != 1 {
		t.Fatalf("call-user emissions = %d, want 1", len(emitter.calls))
	}
	if emitter.calls[0].UserToCall != "v1" || emitter.calls[0].From != "self" {
		t.Errorf("call-user = %+v, want v1 from self", emitter.calls[0])
	}
}

func TestHandleAnswer_StaleIsDropped(t *testing.T) {
	m, _, _, _ := newTestManager()

	// No link for this peer: late answer must be a logged no-op.
	m.HandleAnswer(domain.CallAcceptedPayload{
		AnswerID: "gone",
		Signal:   json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})

	if len(m.Links()) != 0 {
		t.Error("stale answer must not create links")
	}
}

func TestHandleAnswer_AppliesToOutboundLink(t *testing.T) {
	m, factory, _, _ := newTestManager()

	m.SyncRoster(roster("v1"))
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	m.HandleAnswer(domain.CallAcceptedPayload{AnswerID: "v1", Signal: answer})

	if len(factory.pcs[0].signals) != 1 {
		t.Fatalf("answer applied %d times, want 1", len(factory.pcs[0].signals))
	}
}

func TestHandleAnswer_DuplicateIsDroppedWithoutTeardown(t *testing.T) {
	m, factory, _, events := newTestManager()

	m.SyncRoster(roster("v1"))
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	m.HandleAnswer(domain.CallAcceptedPayload{AnswerID: "v1", Signal: answer})

	// A negotiated connection rejects a second description; the duplicate
	// must never reach it.
	factory.pcs[0].signalErr = errors.New("wrong state: stable")
	m.HandleAnswer(domain.CallAcceptedPayload{AnswerID: "v1", Signal: answer})

	if len(factory.pcs[0].signals) != 1 {
		t.Fatalf("answer applied %d times, want 1", len(factory.pcs[0].signals))
	}
	if len(m.Links()) != 1 {
		t.Error("duplicate answer destroyed a healthy link")
	}
	if len(events.closed) != 0 {
		t.Errorf("LinkClosed fired for %v on a duplicate answer", events.closed)
	}
}

func TestHandleAnswer_InboundLinkIsNeverTouched(t *testing.T) {
	m, factory, _, events := newTestManager()

	// Inbound link to the broadcaster, already negotiated.
	m.HandleOffer(domain.ReceiveCallPayload{
		From:   "b1",
		Signal: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	factory.pcs[0].signalErr = errors.New("wrong state: stable")

	// A stray answer naming that peer is stale, not a reason to signal or
	// tear anything down.
	m.HandleAnswer(domain.CallAcceptedPayload{
		AnswerID: "b1",
		Signal:   json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})

	if len(factory.pcs[0].signals) != 1 {
		t.Fatalf("inbound link saw %d signals, want only the offer", len(factory.pcs[0].signals))
	}
	if len(m.Links()) != 1 {
		t.Error("stray answer destroyed a healthy inbound link")
	}
	if len(events.closed) != 0 {
		t.Errorf("LinkClosed fired for %v on a stray answer", events.closed)
	}
}

func TestLinkClose_IsConvergent(t *testing.T) {
	m, factory, _, events := newTestManager()

	m.SyncRoster(roster("v1"))
	pc := factory.pcs[0]
	pc.onRemote(&staticStream{id: "remote"})

	if len(m.Streams()) != 1 {
		t.Fatal("remote stream not recorded")
	}

	// Error and close paths both fire the same callback; removal happens once.
	pc.onClose()
	pc.onClose()

	if got := len(events.closed); got != 1 {
		t.Fatalf("LinkClosed fired %d times, want 1", got)
	}
	if len(m.Links()) != 0 {
		t.Error("closed link still present")
	}
	if len(m.Streams()) != 0 {
		t.Error("closed link's remote stream still present")
	}

	// A fresh roster report may re-create the link.
	m.SyncRoster(roster("v1"))
	if len(m.Links()) != 1 {
		t.Error("re-join did not create a new link")
	}
}

func TestRemoteStream_FiresLinkEstablished(t *testing.T) {
	m, factory, _, events := newTestManager()

	m.SyncRoster(roster("v1"))
	factory.pcs[0].onRemote(&staticStream{id: "remote"})

	if len(events.established) != 1 || events.established[0] != "v1" {
		t.Errorf("established = %v, want [v1]", events.established)
	}
	links := m.Links()
	if links[0].State != domain.LinkConnected {
		t.Errorf("link state = %s, want connected", links[0].State)
	}
}

func TestCloseAll_TearsDownEveryLink(t *testing.T) {
	m, factory, _, events := newTestManager()

	m.SyncRoster(roster("v1", "v2"))
	m.CloseAll()

	if len(m.Links()) != 0 {
		t.Error("links remain after CloseAll")
	}
	if len(events.closed) != 2 {
		t.Errorf("LinkClosed fired %d times, want 2", len(events.closed))
	}
	for _, pc := range factory.pcs {
		if pc.closed == 0 {
			t.Error("underlying connection was not closed")
		}
	}
}

func TestReplaceOutgoingVideo_HitsEveryLink(t *testing.T) {
	m, factory, _, _ := newTestManager()

	m.SyncRoster(roster("v1", "v2", "v3"))

	track := &replTrack{}
	if err := m.ReplaceOutgoingVideo(track); err != nil {
		t.Fatalf("replace: %v", err)
	}
	for _, pc := range factory.pcs {
		if len(pc.replaced) != 1 || pc.replaced[0] != domain.MediaTrack(track) {
			t.Error("link did not receive the replacement track")
		}
	}
}

func TestCreateLink_FactoryFailureAffectsOnlyThatPeer(t *testing.T) {
	factory := &fakeFactory{err: errors.New("no ice")}
	m := NewManager(factory, &fakeEmitter{}, &fakeEvents{}, zerolog.Nop())
	m.SetSelf("self")

	m.SyncRoster(roster("v1"))
	if len(m.Links()) != 0 {
		t.Error("failed creation must not leave a link behind")
	}

	factory.err = nil
	m.SyncRoster(roster("v1"))
	if len(m.Links()) != 1 {
		t.Error("recovery on next roster report failed")
	}
}

type replTrack struct{}

func (t *replTrack) ID() string              { return "r" }
func (t *replTrack) Kind() domain.TrackKind  { return domain.TrackVideo }
func (t *replTrack) Enabled() bool           { return true }
func (t *replTrack) SetEnabled(enabled bool) {}
func (t *replTrack) Stop()                   {}

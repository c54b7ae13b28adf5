package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
)

// recordingHandler pushes every dispatched event onto a channel so tests
// can wait for delivery without sleeping.
type recordingHandler struct {
	events chan string

	assign   domain.AssignRolePayload
	roster   []domain.RosterEntry
	offer    domain.ReceiveCallPayload
	answer   domain.CallAcceptedPayload
	raised   domain.RaisedHandPayload
	stopped  domain.ViewerStoppedPayload
	closeErr error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan string, 16)}
}

func (h *recordingHandler) OnAssignRole(p domain.AssignRolePayload) {
	h.assign = p
	h.events <- domain.EventAssignRole
}

func (h *recordingHandler) OnUserJoin(roster []domain.RosterEntry) {
	h.roster = roster
	h.events <- domain.EventUserJoin
}

func (h *recordingHandler) OnReceiveCall(p domain.ReceiveCallPayload) {
	h.offer = p
	h.events <- domain.EventReceiveCall
}

func (h *recordingHandler) OnCallAccepted(p domain.CallAcceptedPayload) {
	h.answer = p
	h.events <- domain.EventCallAccepted
}

func (h *recordingHandler) OnRaisedHand(p domain.RaisedHandPayload) {
	h.raised = p
	h.events <- domain.EventRaisedHand
}

func (h *recordingHandler) OnSpeakerApproved() { h.events <- domain.EventSpeakerApproved }
func (h *recordingHandler) OnSpeakerDeclined() { h.events <- domain.EventDeclineSpeaker }
func (h *recordingHandler) OnStopSpeaking()    { h.events <- domain.EventViewerStop }

func (h *recordingHandler) OnViewerStopped(p domain.ViewerStoppedPayload) {
	h.stopped = p
	h.events <- domain.EventViewerStopped
}

func (h *recordingHandler) OnSignalingClosed(err error) {
	h.closeErr = err
	h.events <- "closed"
}

func (h *recordingHandler) wait(t *testing.T, event string) {
	t.Helper()
	select {
	case got := <-h.events:
		if got != event {
			t.Fatalf("dispatched %q, want %q", got, event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", event)
	}
}

var upgrader = websocket.Upgrader{}

// newRelay starts a test relay that upgrades, sends the welcome frame and
// then hands the server side of the socket to serve.
func newRelay(t *testing.T, clientID string, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if clientID != "" {
			welcome := envelope{
				Event: domain.EventWelcome,
				Data:  json.RawMessage(`{"clientId":"` + clientID + `"}`),
			}
			if err := conn.WriteJSON(welcome); err != nil {
				t.Errorf("send welcome: %v", err)
				return
			}
		}
		if serve != nil {
			serve(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnect_WelcomeAssignsIdentity(t *testing.T) {
	srv := newRelay(t, "client-7", func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	c := NewClient(wsURL(srv), time.Minute, handler, zerolog.Nop())
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if got := c.ClientID(); got != "client-7" {
		t.Fatalf("ClientID = %q, want client-7", got)
	}
}

func TestConnect_RejectsNonWelcomeFrame(t *testing.T) {
	srv := newRelay(t, "", func(conn *websocket.Conn) {
		conn.WriteJSON(envelope{Event: domain.EventUserJoin, Data: json.RawMessage(`[]`)})
	})

	c := NewClient(wsURL(srv), time.Minute, newRecordingHandler(), zerolog.Nop())
	if err := c.Connect(); err == nil {
		c.Close()
		t.Fatal("connect should fail when the first frame is not a welcome")
	}
}

func TestEmit_FramesReachRelay(t *testing.T) {
	frames := make(chan envelope, 8)
	srv := newRelay(t, "B", func(conn *websocket.Conn) {
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			frames <- env
		}
	})

	c := NewClient(wsURL(srv), time.Minute, newRecordingHandler(), zerolog.Nop())
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if err := c.SendJoinRoom(domain.JoinRoomPayload{RoomID: "R1", DisplayName: "Bea", Role: "broadcaster"}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	if err := c.SendApproveSpeaker(domain.SpeakerRefPayload{RoomID: "R1", UserID: "V1"}); err != nil {
		t.Fatalf("send approve: %v", err)
	}

	readFrame := func() envelope {
		select {
		case env := <-frames:
			return env
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a frame")
			return envelope{}
		}
	}

	join := readFrame()
	if join.Event != domain.EventJoinRoom {
		t.Fatalf("first frame event = %q, want %s", join.Event, domain.EventJoinRoom)
	}
	var jp domain.JoinRoomPayload
	if err := json.Unmarshal(join.Data, &jp); err != nil {
		t.Fatalf("parse join payload: %v", err)
	}
	if jp.RoomID != "R1" || jp.DisplayName != "Bea" || jp.Role != "broadcaster" {
		t.Errorf("join payload = %+v", jp)
	}

	approve := readFrame()
	if approve.Event != domain.EventApproveSpeaker {
		t.Fatalf("second frame event = %q, want %s", approve.Event, domain.EventApproveSpeaker)
	}
}

func TestDispatch_RoutesInboundEvents(t *testing.T) {
	send := make(chan envelope)
	srv := newRelay(t, "V1", func(conn *websocket.Conn) {
		for env := range send {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	c := NewClient(wsURL(srv), time.Minute, handler, zerolog.Nop())
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()
	defer close(send)

	send <- envelope{Event: domain.EventAssignRole, Data: json.RawMessage(`{"role":"viewer","broadcasterId":"B"}`)}
	handler.wait(t, domain.EventAssignRole)
	if handler.assign.Role != "viewer" || handler.assign.BroadcasterID != "B" {
		t.Errorf("assign payload = %+v", handler.assign)
	}

	send <- envelope{Event: domain.EventUserJoin, Data: json.RawMessage(`[{"userId":"V1"},{"userId":"V2"}]`)}
	handler.wait(t, domain.EventUserJoin)
	if len(handler.roster) != 2 || handler.roster[1].UserID != "V2" {
		t.Errorf("roster = %+v", handler.roster)
	}

	send <- envelope{Event: domain.EventReceiveCall, Data: json.RawMessage(`{"from":"B","signal":{"type":"offer","sdp":"v=0"}}`)}
	handler.wait(t, domain.EventReceiveCall)
	if handler.offer.From != "B" || len(handler.offer.Signal) == 0 {
		t.Errorf("offer = %+v", handler.offer)
	}

	send <- envelope{Event: domain.EventRaisedHand, Data: json.RawMessage(`{"userId":"V2","userName":"Vic"}`)}
	handler.wait(t, domain.EventRaisedHand)
	if handler.raised.UserID != "V2" || handler.raised.UserName != "Vic" {
		t.Errorf("raised = %+v", handler.raised)
	}

	// Events with no payload still dispatch.
	send <- envelope{Event: domain.EventSpeakerApproved}
	handler.wait(t, domain.EventSpeakerApproved)
	send <- envelope{Event: domain.EventViewerStop}
	handler.wait(t, domain.EventViewerStop)

	send <- envelope{Event: domain.EventViewerStopped, Data: json.RawMessage(`{"userId":"V2"}`)}
	handler.wait(t, domain.EventViewerStopped)
	if handler.stopped.UserID != "V2" {
		t.Errorf("viewer-stopped = %+v", handler.stopped)
	}

	// An unknown event is logged and skipped, not dispatched.
	send <- envelope{Event: "mystery"}
	send <- envelope{Event: domain.EventDeclineSpeaker}
	handler.wait(t, domain.EventDeclineSpeaker)
}

func TestReadError_EndsSessionWithCause(t *testing.T) {
	srv := newRelay(t, "V1", func(conn *websocket.Conn) {
		// Drop the connection without a close handshake.
		conn.Close()
	})

	handler := newRecordingHandler()
	c := NewClient(wsURL(srv), time.Minute, handler, zerolog.Nop())
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	handler.wait(t, "closed")
	if !errors.Is(handler.closeErr, domain.ErrSignalingClosed) {
		t.Fatalf("close cause = %v, want ErrSignalingClosed", handler.closeErr)
	}
}

func TestClose_IsDeliberateAndSilencesSends(t *testing.T) {
	srv := newRelay(t, "V1", func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	handler := newRecordingHandler()
	c := NewClient(wsURL(srv), time.Minute, handler, zerolog.Nop())
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	c.Close()
	c.Close()

	handler.wait(t, "closed")
	if handler.closeErr != nil {
		t.Errorf("deliberate close reported %v, want nil", handler.closeErr)
	}
	if err := c.SendRaiseHand(domain.RaiseHandPayload{RoomID: "R1", UserID: "V1"}); !errors.Is(err, domain.ErrSignalingClosed) {
		t.Errorf("send after close = %v, want ErrSignalingClosed", err)
	}
}

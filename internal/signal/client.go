// Package signal implements the relay connection: named events over a
// WebSocket, with serialized delivery of inbound events to the session.
package signal

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aman25072025/stagecast/internal/domain"
)

// envelope is the wire frame: an event name plus its payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client manages the WebSocket connection to the relay.
type Client struct {
	url          string
	pingInterval time.Duration
	handler      domain.RoomHandler
	log          zerolog.Logger

	conn     *websocket.Conn
	clientID domain.ParticipantID

	mu     sync.Mutex // guards writes to conn
	closed chan struct{}
	once   sync.Once
}

// NewClient creates a relay client. Connect must be called before any Send.
func NewClient(url string, pingInterval time.Duration, handler domain.RoomHandler, log zerolog.Logger) *Client {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	return &Client{
		url:          url,
		pingInterval: pingInterval,
		handler:      handler,
		log:          log.With().Str("module", "signal").Logger(),
		closed:       make(chan struct{}),
	}
}

// Connect dials the relay, waits for the welcome frame that carries this
// connection's assigned identity, and starts the read and ping loops.
func (c *Client) Connect() error {
	c.log.Info().Str("url", c.url).Msg("connecting to relay")

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	// The relay assigns the participant identity at the transport level,
	// before any room event flows.
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}
	if env.Event != domain.EventWelcome {
		conn.Close()
		return fmt.Errorf("expected %s frame, got %q", domain.EventWelcome, env.Event)
	}
	var welcome domain.WelcomePayload
	if err := json.Unmarshal(env.Data, &welcome); err != nil {
		conn.Close()
		return fmt.Errorf("parse welcome: %w", err)
	}
	if welcome.ClientID == "" {
		conn.Close()
		return fmt.Errorf("welcome frame carried no client id")
	}
	c.clientID = welcome.ClientID
	c.log.Info().Str("client_id", string(c.clientID)).Msg("relay assigned identity")

	go c.readLoop()
	go c.pingLoop()

	return nil
}

// ClientID returns the relay-assigned identity. Valid after Connect.
func (c *Client) ClientID() domain.ParticipantID {
	return c.clientID
}

// Close shuts down the WebSocket connection. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return domain.ErrSignalingClosed
	default:
	}

	c.log.Debug().Str("event", event).RawJSON("data", data).Msg(">>>")
	if err := c.conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Client) SendJoinRoom(p domain.JoinRoomPayload) error {
	return c.emit(domain.EventJoinRoom, p)
}

func (c *Client) SendLeaveRoom(p domain.LeaveRoomPayload) error {
	return c.emit(domain.EventLeaveRoom, p)
}

func (c *Client) SendCallUser(p domain.CallUserPayload) error {
	return c.emit(domain.EventCallUser, p)
}

func (c *Client) SendAcceptCall(p domain.AcceptCallPayload) error {
	return c.emit(domain.EventAcceptCall, p)
}

func (c *Client) SendRaiseHand(p domain.RaiseHandPayload) error {
	return c.emit(domain.EventRaiseHand, p)
}

func (c *Client) SendApproveSpeaker(p domain.SpeakerRefPayload) error {
	return c.emit(domain.EventApproveSpeaker, p)
}

func (c *Client) SendDeclineSpeaker(p domain.SpeakerRefPayload) error {
	return c.emit(domain.EventDeclineSpeaker, p)
}

func (c *Client) SendStopSpeaking(p domain.SpeakerRefPayload) error {
	return c.emit(domain.EventStopSpeaking, p)
}

// readLoop delivers inbound events to the handler one at a time, in arrival
// order. It owns the lifetime of the connection: any read error ends the
// session via OnSignalingClosed.
func (c *Client) readLoop() {
	defer c.Close()

	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closed:
				c.handler.OnSignalingClosed(nil)
			default:
				c.log.Error().Err(err).Msg("read error")
				c.handler.OnSignalingClosed(fmt.Errorf("%w: %v", domain.ErrSignalingClosed, err))
			}
			return
		}

		c.log.Debug().Str("event", env.Event).RawJSON("data", rawOrNull(env.Data)).Msg("<<<")
		c.dispatch(env)
	}
}

func rawOrNull(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	return data
}

func (c *Client) dispatch(env envelope) {
	switch env.Event {
	case domain.EventAssignRole:
		var p domain.AssignRolePayload
		if c.parse(env, &p) {
			c.handler.OnAssignRole(p)
		}
	case domain.EventUserJoin:
		var roster []domain.RosterEntry
		if c.parse(env, &roster) {
			c.handler.OnUserJoin(roster)
		}
	case domain.EventReceiveCall:
		var p domain.ReceiveCallPayload
		if c.parse(env, &p) {
			c.handler.OnReceiveCall(p)
		}
	case domain.EventCallAccepted:
		var p domain.CallAcceptedPayload
		if c.parse(env, &p) {
			c.handler.OnCallAccepted(p)
		}
	case domain.EventRaisedHand:
		var p domain.RaisedHandPayload
		if c.parse(env, &p) {
			c.handler.OnRaisedHand(p)
		}
	case domain.EventSpeakerApproved:
		c.handler.OnSpeakerApproved()
	case domain.EventDeclineSpeaker:
		c.handler.OnSpeakerDeclined()
	case domain.EventViewerStop:
		c.handler.OnStopSpeaking()
	case domain.EventViewerStopped:
		var p domain.ViewerStoppedPayload
		if c.parse(env, &p) {
			c.handler.OnViewerStopped(p)
		}
	default:
		c.log.Warn().Str("event", env.Event).Msg("unhandled event")
	}
}

func (c *Client) parse(env envelope, out any) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		c.log.Error().Err(err).Str("event", env.Event).Msg("bad payload")
		return false
	}
	return true
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Error().Err(err).Msg("ping error")
				}
				return
			}
		}
	}
}

// Package signal speaks the gateway's JSON-over-WebSocket signaling
// protocol.
package signal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"moonlink/native/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

// Methods exchanged with the gateway.
const (
	MethodAuth           = "AUTH"
	MethodAuthResponse   = "AUTH_RESPONSE"
	MethodLaunch         = "LAUNCH"
	MethodLaunchResponse = "LAUNCH_RESPONSE"
	MethodStage          = "STAGE"
	MethodStatus         = "STATUS"
	MethodTransmit       = "TRANSMIT"
	MethodTerminate      = "TERMINATE"
)

// TRANSMIT message types.
const (
	TypeSDPOffer     = "SDP_OFFER"
	TypeSDPAnswer    = "SDP_ANSWER"
	TypeICECandidate = "ICE_CANDIDATE"
)

// message is the generic WebSocket message envelope.
type message struct {
	Method         string                `json:"method"`
	Code           *int                  `json:"code,omitempty"`
	Message        string                `json:"message,omitempty"`
	ClientID       string                `json:"clientId,omitempty"`
	AccessToken    string                `json:"accessToken,omitempty"`
	SessionID      string                `json:"sessionId,omitempty"`
	MessageType    string                `json:"messageType,omitempty"`
	MessagePayload string                `json:"messagePayload,omitempty"`
	Status         string                `json:"status,omitempty"`
	Launch         *domain.LaunchRequest `json:"launch,omitempty"`
	Info           *domain.LaunchInfo    `json:"info,omitempty"`
	Stage          *domain.StageUpdate   `json:"stage,omitempty"`
}

// Options configures a Client.
type Options struct {
	URL          string
	AccessToken  string
	ClientID     string
	PingInterval time.Duration
	Header       http.Header
	Dialer       *websocket.Dialer
	Log          *slog.Logger
}

var _ domain.Signaler = (*Client)(nil)

// Client manages the WebSocket connection to the signaling gateway.
type Client struct {
	opts      Options
	sessionID string
	handler   domain.Handler
	log       *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new signaling client. Each client carries a fresh
// session id.
func NewClient(opts Options, handler domain.Handler) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	sessionID := uuid.NewString()
	return &Client{
		opts:      opts,
		sessionID: sessionID,
		handler:   handler,
		log:       log.With("component", "signal", "session_id", sessionID),
		closed:    make(chan struct{}),
	}
}

// SessionID identifies this signaling session to the gateway.
func (c *Client) SessionID() string { return c.sessionID }

// Connect dials the signaling WebSocket, authenticates and starts the
// read loop. ctx bounds the dial only.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info("connecting", "url", c.opts.URL)

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.sendJSON(message{
		Method:      MethodAuth,
		ClientID:    c.opts.ClientID,
		AccessToken: c.opts.AccessToken,
		SessionID:   c.sessionID,
	})

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// Close shuts down the WebSocket connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) sendJSON(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal error", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.log.Warn("send before connect", "method", msg.Method)
		return
	}
	c.log.Debug(">>>", "method", msg.Method, "type", msg.MessageType)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil && !c.isClosed() {
		c.log.Warn("write error", "method", msg.Method, "error", err)
	}
}

func (c *Client) transmit(messageType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("marshal payload", "type", messageType, "error", err)
		return
	}
	c.sendJSON(message{
		Method:         MethodTransmit,
		MessageType:    messageType,
		MessagePayload: base64.StdEncoding.EncodeToString(raw),
		SessionID:      c.sessionID,
	})
}

// SendLaunch asks the gateway to start the host stream.
func (c *Client) SendLaunch(req domain.LaunchRequest) {
	req.SessionID = c.sessionID
	c.sendJSON(message{Method: MethodLaunch, SessionID: c.sessionID, Launch: &req})
}

// SendSDPOffer sends the SDP offer via TRANSMIT.
func (c *Client) SendSDPOffer(sdp string) {
	c.transmit(TypeSDPOffer, domain.SDPPayload{Type: "offer", SDP: sdp})
}

// SendICECandidate sends a local ICE candidate via TRANSMIT.
func (c *Client) SendICECandidate(candidate domain.ICECandidatePayload) {
	c.transmit(TypeICECandidate, candidate)
}

// SendTerminate tells the gateway the client is ending the stream.
func (c *Client) SendTerminate() {
	c.sendJSON(message{Method: MethodTerminate, SessionID: c.sessionID})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.Warn("read error", "error", err)
				c.handler.OnTerminate(domain.TerminationUnexpected)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("unmarshal error", "error", err)
			continue
		}
		c.log.Debug("<<<", "method", msg.Method, "type", msg.MessageType)

		if c.dispatch(msg) {
			return
		}
	}
}

func codeOf(msg message) int {
	if msg.Code == nil {
		return -1
	}
	return *msg.Code
}

// dispatch routes one message to the handler. It reports whether the
// gateway ended the session.
func (c *Client) dispatch(msg message) bool {
	switch msg.Method {
	case MethodAuthResponse:
		if code := codeOf(msg); code != 0 {
			c.log.Error("auth failed", "code", code, "message", msg.Message)
			c.handler.OnTerminate(code)
			return true
		}
		c.log.Info("auth successful")
		c.handler.OnAuthSuccess()

	case MethodLaunchResponse:
		if code := codeOf(msg); code != 0 || msg.Info == nil {
			c.log.Error("launch failed", "code", code, "message", msg.Message)
			c.handler.OnTerminate(code)
			return true
		}
		c.handler.OnLaunched(*msg.Info)

	case MethodStage:
		if msg.Stage == nil {
			c.log.Warn("stage message without payload")
			return false
		}
		c.handler.OnStage(*msg.Stage)

	case MethodStatus:
		status := domain.ConnectionStatusOkay
		if msg.Status == domain.ConnectionStatusPoor.String() {
			status = domain.ConnectionStatusPoor
		}
		c.handler.OnStatus(status)

	case MethodTerminate:
		code := domain.TerminationGraceful
		if msg.Code != nil {
			code = *msg.Code
		}
		c.log.Info("gateway terminated session", "code", code)
		c.handler.OnTerminate(code)
		return true

	case MethodTransmit:
		decoded, err := base64.StdEncoding.DecodeString(msg.MessagePayload)
		if err != nil {
			c.log.Warn("decode payload", "type", msg.MessageType, "error", err)
			return false
		}
		switch msg.MessageType {
		case TypeSDPAnswer:
			var sdp domain.SDPPayload
			if err := json.Unmarshal(decoded, &sdp); err != nil {
				c.log.Warn("unmarshal SDP_ANSWER", "error", err)
				return false
			}
			c.handler.OnSDPAnswer(sdp)

		case TypeICECandidate:
			var candidate domain.ICECandidatePayload
			if err := json.Unmarshal(decoded, &candidate); err != nil {
				c.log.Warn("unmarshal ICE_CANDIDATE", "error", err)
				return false
			}
			c.handler.OnRemoteICECandidate(candidate)
		}

	default:
		c.log.Debug("unhandled method", "method", msg.Method)
	}
	return false
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				if !c.isClosed() {
					c.log.Warn("ping error", "error", err)
				}
				return
			}
		}
	}
}

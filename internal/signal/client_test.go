package signal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"moonlink/native/internal/domain"

	"github.com/gorilla/websocket"
)

type recordingHandler struct {
	mu         sync.Mutex
	auth       int
	launched   []domain.LaunchInfo
	stages     []domain.StageUpdate
	answers    []domain.SDPPayload
	candidates []domain.ICECandidatePayload
	statuses   []domain.ConnectionStatus
	terminated chan int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{terminated: make(chan int, 4)}
}

func (h *recordingHandler) OnAuthSuccess() { h.mu.Lock(); h.auth++; h.mu.Unlock() }
func (h *recordingHandler) OnLaunched(info domain.LaunchInfo) {
	h.mu.Lock()
	h.launched = append(h.launched, info)
	h.mu.Unlock()
}
func (h *recordingHandler) OnStage(u domain.StageUpdate) {
	h.mu.Lock()
	h.stages = append(h.stages, u)
	h.mu.Unlock()
}
func (h *recordingHandler) OnSDPAnswer(sdp domain.SDPPayload) {
	h.mu.Lock()
	h.answers = append(h.answers, sdp)
	h.mu.Unlock()
}
func (h *recordingHandler) OnRemoteICECandidate(c domain.ICECandidatePayload) {
	h.mu.Lock()
	h.candidates = append(h.candidates, c)
	h.mu.Unlock()
}
func (h *recordingHandler) OnStatus(s domain.ConnectionStatus) {
	h.mu.Lock()
	h.statuses = append(h.statuses, s)
	h.mu.Unlock()
}
func (h *recordingHandler) OnTerminate(code int) { h.terminated <- code }

// fakeGateway answers each client message in order from script and
// records what it received.
type fakeGateway struct {
	t        *testing.T
	received chan message
	replies  func(msg message) []message
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		g.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		g.received <- msg
		for _, reply := range g.replies(msg) {
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}
}

func intPtr(v int) *int { return &v }

func encode(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_FullExchange(t *testing.T) {
	info := domain.LaunchInfo{
		ICEServers: []domain.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
		AudioCodec: "pcmu",
		SampleRate: 8000,
		Channels:   1,
	}
	gw := &fakeGateway{t: t, received: make(chan message, 16)}
	gw.replies = func(msg message) []message {
		switch msg.Method {
		case MethodAuth:
			return []message{{Method: MethodAuthResponse, Code: intPtr(0)}}
		case MethodLaunch:
			return []message{
				{Method: MethodStage, Stage: &domain.StageUpdate{Stage: domain.StageRTSPHandshake, Status: domain.StageStatusComplete}},
				{Method: MethodLaunchResponse, Code: intPtr(0), Info: &info},
			}
		case MethodTransmit:
			if msg.MessageType != TypeSDPOffer {
				return nil
			}
			return []message{
				{Method: MethodTransmit, MessageType: TypeSDPAnswer, MessagePayload: encode(t, domain.SDPPayload{Type: "answer", SDP: "v=0"})},
				{Method: MethodTransmit, MessageType: TypeICECandidate, MessagePayload: encode(t, domain.ICECandidatePayload{Candidate: "candidate:1"})},
				{Method: MethodStatus, Status: "poor"},
				{Method: MethodTerminate, Code: intPtr(domain.TerminationProtectedContent)},
			}
		}
		return nil
	}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	h := newRecordingHandler()
	c := NewClient(Options{URL: wsURL(srv), AccessToken: "tok", ClientID: "client-1"}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	auth := <-gw.received
	if auth.Method != MethodAuth || auth.AccessToken != "tok" || auth.ClientID != "client-1" {
		t.Errorf("auth message = %+v", auth)
	}
	if auth.SessionID != c.SessionID() || c.SessionID() == "" {
		t.Errorf("session id = %q, client has %q", auth.SessionID, c.SessionID())
	}

	waitFor(t, func() bool { h.mu.Lock(); defer h.mu.Unlock(); return h.auth == 1 })

	c.SendLaunch(domain.LaunchRequest{Host: "10.0.0.2", Width: 1280, Height: 720, FPS: 60})
	launch := <-gw.received
	if launch.Launch == nil || launch.Launch.Width != 1280 || launch.Launch.SessionID != c.SessionID() {
		t.Errorf("launch message = %+v", launch.Launch)
	}

	waitFor(t, func() bool { h.mu.Lock(); defer h.mu.Unlock(); return len(h.launched) == 1 })

	c.SendSDPOffer("v=0 offer")
	offer := <-gw.received
	raw, _ := base64.StdEncoding.DecodeString(offer.MessagePayload)
	var sdp domain.SDPPayload
	if err := json.Unmarshal(raw, &sdp); err != nil || sdp.Type != "offer" || sdp.SDP != "v=0 offer" {
		t.Errorf("offer payload = %s (%v)", raw, err)
	}

	select {
	case code := <-h.terminated:
		if code != domain.TerminationProtectedContent {
			t.Errorf("terminate code = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminate")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.stages) != 1 || h.stages[0].Stage != domain.StageRTSPHandshake {
		t.Errorf("stages = %+v", h.stages)
	}
	if len(h.launched) != 1 || h.launched[0].SampleRate != 8000 || len(h.launched[0].ICEServers) != 1 {
		t.Errorf("launched = %+v", h.launched)
	}
	if len(h.answers) != 1 || h.answers[0].SDP != "v=0" {
		t.Errorf("answers = %+v", h.answers)
	}
	if len(h.candidates) != 1 || h.candidates[0].Candidate != "candidate:1" {
		t.Errorf("candidates = %+v", h.candidates)
	}
	if len(h.statuses) != 1 || h.statuses[0] != domain.ConnectionStatusPoor {
		t.Errorf("statuses = %+v", h.statuses)
	}
}

func TestClient_AuthFailureTerminates(t *testing.T) {
	gw := &fakeGateway{t: t, received: make(chan message, 4)}
	gw.replies = func(msg message) []message {
		return []message{{Method: MethodAuthResponse, Code: intPtr(401), Message: "bad token"}}
	}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	h := newRecordingHandler()
	c := NewClient(Options{URL: wsURL(srv)}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case code := <-h.terminated:
		if code != 401 {
			t.Errorf("code = %d, want 401", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminate on auth failure")
	}
}

func TestClient_DroppedConnectionIsUnexpected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	h := newRecordingHandler()
	c := NewClient(Options{URL: wsURL(srv)}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case code := <-h.terminated:
		if code != domain.TerminationUnexpected {
			t.Errorf("code = %d, want %d", code, domain.TerminationUnexpected)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminate on dropped connection")
	}
}

func TestClient_LocalCloseIsSilent(t *testing.T) {
	gw := &fakeGateway{t: t, received: make(chan message, 4), replies: func(message) []message { return nil }}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	h := newRecordingHandler()
	c := NewClient(Options{URL: wsURL(srv)}, h)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-gw.received
	c.Close()
	c.Close()

	select {
	case code := <-h.terminated:
		t.Errorf("unexpected terminate %d after local close", code)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_ConnectHonoursCancelledContext(t *testing.T) {
	gw := &fakeGateway{t: t, received: make(chan message, 4), replies: func(message) []message { return nil }}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(Options{URL: wsURL(srv)}, newRecordingHandler())
	if err := c.Connect(ctx); err == nil {
		c.Close()
		t.Fatal("Connect succeeded with a cancelled context")
	}
}

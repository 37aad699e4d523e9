package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"landclaim.ai/internal/claim/gate"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/lang"
	"landclaim.ai/internal/protocol"
)

func startServer(t *testing.T, doc string, opts ...func(*Server)) string {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cat, err := lang.Default()
	if err != nil {
		t.Fatalf("lang.Default: %v", err)
	}
	s := NewServer(gate.New(cfg, cat, nil, nil), nil)
	for _, o := range opts {
		o(s)
	}
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url, locale string) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test", Locale: locale})
	var w protocol.WelcomeMsg
	recv(t, conn, &w)
	if w.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %+v", w)
	}
	return conn, w
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestServer_HelloCheckVerdict(t *testing.T) {
	url := startServer(t, "chunks:\n  claim-rule: 1\n")
	conn, w := dial(t, url, "de-DE")
	if w.SessionID == "" || w.Locale != "de-DE" || w.ClaimRule != "ORTHOGONAL_ADJACENT" || w.ConfigDigest == "" {
		t.Fatalf("welcome=%+v", w)
	}

	send(t, conn, protocol.CheckMsg{
		Type:            protocol.TypeCheck,
		ProtocolVersion: protocol.Version,
		RequestID:       "r1",
		World:           "survival",
		Existing:        []protocol.Chunk{{0, 0}},
		Candidates:      []protocol.Chunk{{1, 0}, {1, 1}},
	})
	var v protocol.VerdictMsg
	recv(t, conn, &v)
	if v.Type != protocol.TypeVerdict || v.RequestID != "r1" || !v.WorldAllowed || v.Code != "" {
		t.Fatalf("verdict=%+v", v)
	}
	if len(v.Results) != 2 || !v.Results[0].Allowed || v.Results[1].Allowed || v.Results[1].Message == "" {
		t.Fatalf("results=%+v", v.Results)
	}
}

func TestServer_WorldDenied(t *testing.T) {
	url := startServer(t, "worlds:\n  use-whitelist: true\n  whitelist: [survival]\n")
	conn, _ := dial(t, url, "")
	send(t, conn, protocol.CheckMsg{
		Type:            protocol.TypeCheck,
		ProtocolVersion: protocol.Version,
		RequestID:       "r2",
		World:           "creative",
		Candidates:      []protocol.Chunk{{0, 0}},
	})
	var v protocol.VerdictMsg
	recv(t, conn, &v)
	if v.WorldAllowed || v.Code != protocol.ErrWorldDenied || !strings.Contains(v.Message, "creative") || len(v.Results) != 0 {
		t.Fatalf("verdict=%+v", v)
	}
}

func TestServer_Errors(t *testing.T) {
	url := startServer(t, "")
	conn, _ := dial(t, url, "")

	cases := []struct {
		msg  string
		code string
	}{
		{`{`, protocol.ErrProtoBadRequest},
		{`{"type":"HELLO","protocol_version":"1.0"}`, protocol.ErrProtoBadRequest},
		{`{"type":"CHECK","protocol_version":"0.9","request_id":"a","world":"w","existing":[],"candidates":[[0,0]]}`, protocol.ErrProtoBadRequest},
		{`{"type":"CHECK","protocol_version":"1.0","request_id":"b","world":"w","existing":[],"candidates":[]}`, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		var e protocol.ErrorMsg
		recv(t, conn, &e)
		if e.Type != protocol.TypeError || e.Code != tc.code {
			t.Fatalf("%s: got %+v want code %s", tc.msg, e, tc.code)
		}
	}
}

func TestServer_RejectsMissingHello(t *testing.T) {
	url := startServer(t, "")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	send(t, conn, protocol.CheckMsg{Type: protocol.TypeCheck, ProtocolVersion: protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestServer_RateLimit(t *testing.T) {
	url := startServer(t, "", func(s *Server) { s.ChecksPerSecond = 1 })
	conn, _ := dial(t, url, "")
	check := protocol.CheckMsg{
		Type:            protocol.TypeCheck,
		ProtocolVersion: protocol.Version,
		World:           "w",
		Candidates:      []protocol.Chunk{{0, 0}},
	}
	check.RequestID = "1"
	send(t, conn, check)
	check.RequestID = "2"
	send(t, conn, check)

	var first, second json.RawMessage
	recv(t, conn, &first)
	recv(t, conn, &second)
	base, _ := protocol.DecodeBase(first)
	if base.Type != protocol.TypeVerdict {
		t.Fatalf("first reply=%s", first)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(second, &e); err != nil || e.Code != protocol.ErrRateLimit || e.RequestID != "2" {
		t.Fatalf("second reply=%s", second)
	}
}

func TestAllow_Window(t *testing.T) {
	s := &Server{ChecksPerSecond: 2}
	sess := &session{}
	t0 := time.Unix(100, 0)
	if !s.allow(sess, t0) || !s.allow(sess, t0) || s.allow(sess, t0.Add(500*time.Millisecond)) {
		t.Fatalf("window of 2 not enforced")
	}
	if !s.allow(sess, t0.Add(time.Second)) {
		t.Fatalf("window must reset after a second")
	}
}

func TestServer_ReadLimitClosesSession(t *testing.T) {
	url := startServer(t, "", func(s *Server) { s.MaxMessageBytes = 256 })
	conn, _ := dial(t, url, "")
	big := protocol.CheckMsg{Type: protocol.TypeCheck, ProtocolVersion: protocol.Version, RequestID: "big", World: "w", Candidates: []protocol.Chunk{{0, 0}}}
	for i := int32(0); i < 100; i++ {
		big.Existing = append(big.Existing, protocol.Chunk{i, i})
	}
	_ = conn.WriteJSON(big)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("oversized frame was answered: %s", msg)
	}
}

func TestServer_TooManyExisting(t *testing.T) {
	url := startServer(t, "")
	conn, _ := dial(t, url, "")
	check := protocol.CheckMsg{Type: protocol.TypeCheck, ProtocolVersion: protocol.Version, RequestID: "x", World: "w", Candidates: []protocol.Chunk{{0, 0}}}
	check.Existing = make([]protocol.Chunk, MaxExisting+1)
	send(t, conn, check)
	var e protocol.ErrorMsg
	recv(t, conn, &e)
	if e.Code != protocol.ErrBadRequest || e.RequestID != "x" {
		t.Fatalf("reply=%+v", e)
	}
}

func TestServer_CheckOrigin(t *testing.T) {
	s := NewServer(nil, nil)
	req := httptest.NewRequest("GET", "http://claims.example/v1/ws", nil)
	if !s.checkOrigin(req) {
		t.Fatalf("requests without Origin must pass")
	}
	req.Header.Set("Origin", "https://claims.example")
	if !s.checkOrigin(req) {
		t.Fatalf("same origin must pass")
	}
	req.Header.Set("Origin", "https://evil.example")
	if s.checkOrigin(req) {
		t.Fatalf("foreign origin must be rejected")
	}
	s.AllowAnyOrigin = true
	if !s.checkOrigin(req) {
		t.Fatalf("AllowAnyOrigin must accept any origin")
	}
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	var srv *Server
	url := startServer(t, "", func(s *Server) { srv = s })
	conn, _ := dial(t, url, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := srv.Metrics().OpenSessions; n != 0 {
		t.Fatalf("open sessions=%d", n)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("session must be closed")
	}

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}
	defer late.Close()
	_ = late.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version})
	_ = late.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, msg, err := late.ReadMessage(); err == nil {
		t.Fatalf("new session accepted after shutdown: %s", msg)
	}
}

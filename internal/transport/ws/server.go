package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"landclaim.ai/internal/claim/chunk"
	"landclaim.ai/internal/claim/gate"
	"landclaim.ai/internal/claim/placement"
	"landclaim.ai/internal/protocol"
)

const (
	// MaxCandidates bounds one CHECK.
	MaxCandidates = 1024
	// MaxExisting bounds the claim size a client may send.
	MaxExisting = 16384
	// MaxMessageBytes bounds one client frame. It fits a CHECK at both
	// limits with full-width coordinates.
	MaxMessageBytes = 1 << 20

	defaultChecksPerSecond = 50
)

type Server struct {
	gate *gate.Gate
	log  *log.Logger

	// ChecksPerSecond caps CHECK messages per session; <= 0 disables the cap.
	ChecksPerSecond int
	// MaxMessageBytes caps a client frame; larger frames close the session.
	MaxMessageBytes int64
	// AllowAnyOrigin accepts browser upgrades from any Origin. When false a
	// present Origin header must match the request host.
	AllowAnyOrigin bool

	upgrader websocket.Upgrader
	sessions atomic.Uint64

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	closing bool
	active  sync.WaitGroup

	open    atomic.Int64
	checks  atomic.Uint64
	denied  atomic.Uint64
	limited atomic.Uint64
}

// Metrics is a point-in-time view of server counters.
type Metrics struct {
	OpenSessions  int64
	TotalSessions uint64
	Checks        uint64
	DeniedChunks  uint64
	RateLimited   uint64
}

func (s *Server) Metrics() Metrics {
	return Metrics{
		OpenSessions:  s.open.Load(),
		TotalSessions: s.sessions.Load(),
		Checks:        s.checks.Load(),
		DeniedChunks:  s.denied.Load(),
		RateLimited:   s.limited.Load(),
	}
}

func NewServer(g *gate.Gate, logger *log.Logger) *Server {
	s := &Server{
		gate:            g,
		log:             logger,
		ChecksPerSecond: defaultChecksPerSecond,
		MaxMessageBytes: MaxMessageBytes,
		conns:           make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// track registers conn as a live session. It reports false once Shutdown
// has started.
func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.active.Done()
}

// Shutdown refuses new sessions, closes the open ones and waits for their
// handlers to return. http.Server.Shutdown does not see hijacked
// connections, so callers run both.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for c := range s.conns {
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		_ = c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type session struct {
	id     string
	locale string
	out    chan []byte

	windowStart time.Time
	windowCount int
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			return
		}
		defer s.untrack(conn)
		if s.MaxMessageBytes > 0 {
			conn.SetReadLimit(s.MaxMessageBytes)
		}

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.open.Add(1)
		defer s.open.Add(-1)
		s.logf("session %s open locale=%s remote=%s", sess.id, sess.locale, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(sess, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.logf("session %s closed", sess.id)
	}
}

// handle turns one client message into the reply to send, or nil.
func (s *Server) handle(sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.Type != protocol.TypeCheck {
		return protocol.NewError("", protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type))
	}
	var check protocol.CheckMsg
	if err := json.Unmarshal(msg, &check); err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "invalid CHECK: "+err.Error())
	}
	if check.ProtocolVersion != protocol.Version {
		return protocol.NewError(check.RequestID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if !s.allow(sess, time.Now()) {
		s.limited.Add(1)
		return protocol.NewError(check.RequestID, protocol.ErrRateLimit, "too many checks")
	}
	switch {
	case len(check.Candidates) == 0:
		return protocol.NewError(check.RequestID, protocol.ErrBadRequest, "no candidates")
	case len(check.Candidates) > MaxCandidates:
		return protocol.NewError(check.RequestID, protocol.ErrBadRequest, fmt.Sprintf("more than %d candidates", MaxCandidates))
	case len(check.Existing) > MaxExisting:
		return protocol.NewError(check.RequestID, protocol.ErrBadRequest, fmt.Sprintf("more than %d existing chunks", MaxExisting))
	}

	res := s.gate.Check(gate.Request{
		RequestID:   check.RequestID,
		SessionID:   sess.id,
		World:       check.World,
		Locale:      sess.locale,
		Existing:    toCoords(check.Existing),
		Candidates:  toCoords(check.Candidates),
		Incremental: check.Incremental,
	})
	s.checks.Add(1)
	for _, c := range res.Chunks {
		if !c.Verdict.Allowed {
			s.denied.Add(1)
		}
	}
	return NewVerdict(check.RequestID, check.World, res)
}

// allow applies a fixed one-second window per session.
func (s *Server) allow(sess *session, now time.Time) bool {
	if s.ChecksPerSecond <= 0 {
		return true
	}
	if now.Sub(sess.windowStart) >= time.Second {
		sess.windowStart = now
		sess.windowCount = 0
	}
	sess.windowCount++
	return sess.windowCount <= s.ChecksPerSecond
}

// NewVerdict renders a gate result as a VERDICT message.
func NewVerdict(requestID, world string, res gate.Result) protocol.VerdictMsg {
	v := protocol.VerdictMsg{
		Type:            protocol.TypeVerdict,
		ProtocolVersion: protocol.Version,
		RequestID:       requestID,
		World:           world,
		WorldAllowed:    res.WorldAllowed,
		ClaimRule:       res.Mode.String(),
		Results:         make([]protocol.ChunkVerdict, 0, len(res.Chunks)),
	}
	if !res.WorldAllowed {
		v.Code = protocol.ErrWorldDenied
		v.Message = res.Message
	}
	for _, c := range res.Chunks {
		v.Results = append(v.Results, protocol.ChunkVerdict{
			Chunk:   protocol.Chunk{c.Chunk.X, c.Chunk.Z},
			Allowed: c.Verdict.Allowed,
			Message: c.Verdict.Message,
		})
	}
	return v
}

func toCoords(in []protocol.Chunk) []chunk.Coord {
	out := make([]chunk.Coord, len(in))
	for i, c := range in {
		out[i] = chunk.Coord{X: c[0], Z: c[1]}
	}
	return out
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}

	cat := s.gate.Catalog()
	cfg := s.gate.Config()
	sess := &session{
		id:     fmt.Sprintf("S%d", s.sessions.Add(1)),
		locale: cat.Composer(hello.Locale).Locale(),
		out:    make(chan []byte, maxQ),
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Locale:          sess.locale,
		Locales:         cat.Locales(),
		ClaimRule:       placement.ModeFrom(cfg).String(),
		ConfigDigest:    cfg.Digest(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

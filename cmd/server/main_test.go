package main

import (
	"context"
	"io"
	"log"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	persistlog "landclaim.ai/internal/persistence/log"
	"landclaim.ai/internal/protocol"
)

func TestRun_ShutdownClosesSessionsBeforeRecorders(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dataDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- run(ctx, serverOptions{
			ConfigPath:      filepath.Join(t.TempDir(), "missing.yaml"),
			DataDir:         dataDir,
			IndexBackend:    "sqlite",
			ChecksPerSecond: 50,
			Listener:        ln,
		}, log.New(io.Discard, "", 0))
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil || w.Type != protocol.TypeWelcome {
		t.Fatalf("welcome=%+v err=%v", w, err)
	}
	check := protocol.CheckMsg{
		Type:            protocol.TypeCheck,
		ProtocolVersion: protocol.Version,
		RequestID:       "early",
		World:           "w",
		Candidates:      []protocol.Chunk{{0, 0}},
	}
	if err := conn.WriteJSON(check); err != nil {
		t.Fatalf("check: %v", err)
	}
	var v protocol.VerdictMsg
	if err := conn.ReadJSON(&v); err != nil || v.RequestID != "early" {
		t.Fatalf("verdict=%+v err=%v", v, err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not return with a session open")
	}

	check.RequestID = "late"
	_ = conn.WriteJSON(check)
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("session still served after shutdown: %s", msg)
	}

	files, _ := filepath.Glob(filepath.Join(dataDir, "decisions", "*.jsonl.zst"))
	n := 0
	for _, f := range files {
		entries, err := persistlog.ReadDecisions(f)
		if err != nil {
			t.Fatalf("ReadDecisions %s: %v", f, err)
		}
		for _, e := range entries {
			if e.RequestID != "early" {
				t.Fatalf("unexpected decision %+v", e)
			}
			n++
		}
	}
	if n != 1 {
		t.Fatalf("decisions=%d want 1", n)
	}
}

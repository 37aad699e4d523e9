package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"landclaim.ai/internal/claim/chunk"
	"landclaim.ai/internal/claim/gate"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/lang"
	persistlog "landclaim.ai/internal/persistence/log"
	"landclaim.ai/internal/protocol"
	"landclaim.ai/internal/transport/ws"
)

// Exit codes.
const (
	exitAllowed = 0
	exitDenied  = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("claimcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "path to claims.yaml (empty uses built-in defaults)")
		langDir     = fs.String("lang", "", "directory of <locale>.yaml message files")
		world       = fs.String("world", "world", "world name")
		existing    = fs.String("existing", "", "claimed chunks, \"x,z;x,z\"")
		candidates  = fs.String("candidates", "", "chunks to check, \"x,z;x,z\"")
		locale      = fs.String("locale", "", "message locale (Accept-Language style)")
		incremental = fs.Bool("incremental", false, "add each allowed candidate before checking the next")
		wsURL       = fs.String("ws", "", "check against a running server, e.g. ws://localhost:8080/v1/ws")
		decisions   = fs.String("decisions", "", "print a decision log (.jsonl.zst) and exit")
	)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *decisions != "" {
		if err := printDecisions(stdout, *decisions); err != nil {
			fmt.Fprintf(stderr, "claimcheck: %v\n", err)
			return exitUsage
		}
		return exitAllowed
	}

	ex, err := chunk.ParseList(*existing)
	if err != nil {
		fmt.Fprintf(stderr, "claimcheck: -existing: %v\n", err)
		return exitUsage
	}
	cand, err := chunk.ParseList(*candidates)
	if err != nil {
		fmt.Fprintf(stderr, "claimcheck: -candidates: %v\n", err)
		return exitUsage
	}
	if len(cand) == 0 {
		fmt.Fprintln(stderr, "claimcheck: -candidates is required")
		return exitUsage
	}

	req := gate.Request{
		RequestID:   "cli-1",
		World:       *world,
		Locale:      *locale,
		Existing:    ex,
		Candidates:  cand,
		Incremental: *incremental,
	}

	var v protocol.VerdictMsg
	if *wsURL != "" {
		v, err = checkRemote(*wsURL, req)
	} else {
		v, err = checkLocal(*configPath, *langDir, req)
	}
	if err != nil {
		fmt.Fprintf(stderr, "claimcheck: %v\n", err)
		return exitUsage
	}
	return printVerdict(stdout, v)
}

func checkLocal(configPath, langDir string, req gate.Request) (protocol.VerdictMsg, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return protocol.VerdictMsg{}, err
	}
	var cat *lang.Catalog
	if langDir == "" {
		cat, err = lang.Default()
	} else {
		cat, err = lang.LoadDir(langDir)
	}
	if err != nil {
		return protocol.VerdictMsg{}, err
	}
	res := gate.New(cfg, cat, nil, nil).Check(req)
	return ws.NewVerdict(req.RequestID, req.World, res), nil
}

func checkRemote(url string, req gate.Request) (protocol.VerdictMsg, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return protocol.VerdictMsg{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "claimcheck",
		Locale:          req.Locale,
		MaxQueue:        1,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return protocol.VerdictMsg{}, fmt.Errorf("send HELLO: %w", err)
	}

	check := protocol.CheckMsg{
		Type:            protocol.TypeCheck,
		ProtocolVersion: protocol.Version,
		RequestID:       req.RequestID,
		World:           req.World,
		Existing:        toChunks(req.Existing),
		Candidates:      toChunks(req.Candidates),
		Incremental:     req.Incremental,
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return protocol.VerdictMsg{}, fmt.Errorf("read: %w", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			if err := conn.WriteJSON(check); err != nil {
				return protocol.VerdictMsg{}, fmt.Errorf("send CHECK: %w", err)
			}
		case protocol.TypeVerdict:
			var v protocol.VerdictMsg
			if err := json.Unmarshal(msg, &v); err != nil {
				return v, err
			}
			return v, nil
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return protocol.VerdictMsg{}, fmt.Errorf("server: %s: %s", e.Code, e.Message)
		}
	}
}

func toChunks(in []chunk.Coord) []protocol.Chunk {
	out := make([]protocol.Chunk, len(in))
	for i, c := range in {
		out[i] = protocol.Chunk{c.X, c.Z}
	}
	return out
}

// printVerdict writes one line per candidate and returns the exit code.
func printVerdict(w io.Writer, v protocol.VerdictMsg) int {
	if !v.WorldAllowed {
		fmt.Fprintf(w, "world %q\tDENY\t%s\n", v.World, v.Message)
		return exitDenied
	}
	code := exitAllowed
	for _, r := range v.Results {
		c := chunk.Coord{X: r.Chunk[0], Z: r.Chunk[1]}
		if r.Allowed {
			fmt.Fprintf(w, "%s\tALLOW\n", c)
			continue
		}
		fmt.Fprintf(w, "%s\tDENY\t%s\n", c, r.Message)
		code = exitDenied
	}
	return code
}

func printDecisions(w io.Writer, path string) error {
	entries, err := persistlog.ReadDecisions(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("no decisions in " + path)
	}
	for _, e := range entries {
		verdict := "ALLOW"
		if !e.Allowed {
			verdict = "DENY"
		}
		line := []string{e.Time, e.World, fmt.Sprintf("%d,%d", e.Chunk[0], e.Chunk[1]), e.Mode, verdict}
		if e.Reason != "" {
			line = append(line, e.Reason)
		}
		fmt.Fprintln(w, strings.Join(line, "\t"))
	}
	return nil
}

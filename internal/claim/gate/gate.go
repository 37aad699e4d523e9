package gate

import (
	"log"
	"sync/atomic"
	"time"

	"landclaim.ai/internal/claim/admission"
	"landclaim.ai/internal/claim/chunk"
	"landclaim.ai/internal/claim/placement"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/lang"
)

// Request asks whether Candidates may be added to a claim in World that
// already holds Existing.
type Request struct {
	RequestID  string
	SessionID  string
	World      string
	Locale     string
	Existing   []chunk.Coord
	Candidates []chunk.Coord

	// Incremental treats candidates as a sequence: each allowed candidate
	// joins the working set before the next is checked.
	Incremental bool
}

type ChunkResult struct {
	Chunk   chunk.Coord
	Verdict placement.Verdict
}

type Result struct {
	WorldAllowed bool
	Message      string // set when the world is denied
	Mode         placement.Mode
	Chunks       []ChunkResult
}

// AllAllowed reports whether the world and every candidate passed.
func (r Result) AllAllowed() bool {
	if !r.WorldAllowed {
		return false
	}
	for _, c := range r.Chunks {
		if !c.Verdict.Allowed {
			return false
		}
	}
	return true
}

// DecisionEntry is one recorded chunk decision.
type DecisionEntry struct {
	Time      string   `json:"time"`
	SessionID string   `json:"session_id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	World     string   `json:"world"`
	Chunk     [2]int32 `json:"chunk"`
	Existing  int      `json:"existing"`
	Mode      string   `json:"mode"`
	Allowed   bool     `json:"allowed"`
	Reason    string   `json:"reason,omitempty"`
}

type Recorder interface {
	RecordDecision(DecisionEntry) error
}

// Recorders fans out to every non-nil recorder and returns the first error.
type Recorders []Recorder

func (rs Recorders) RecordDecision(e DecisionEntry) error {
	var first error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.RecordDecision(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Gate runs world admission and chunk placement against the active
// configuration. Safe for concurrent use.
type Gate struct {
	cfg atomic.Pointer[config.Tree]
	cat *lang.Catalog
	rec Recorder
	log *log.Logger
	now func() time.Time
}

func New(cfg *config.Tree, cat *lang.Catalog, rec Recorder, logger *log.Logger) *Gate {
	g := &Gate{cat: cat, rec: rec, log: logger, now: time.Now}
	g.cfg.Store(cfg)
	return g
}

// Reload swaps in a new configuration. Requests already running keep the
// snapshot they started with.
func (g *Gate) Reload(cfg *config.Tree) {
	g.cfg.Store(cfg)
}

func (g *Gate) Config() *config.Tree { return g.cfg.Load() }

func (g *Gate) Catalog() *lang.Catalog { return g.cat }

func (g *Gate) Check(req Request) Result {
	cfg := g.cfg.Load()
	msgs := g.cat.Composer(req.Locale)

	res := Result{Mode: placement.ModeFrom(cfg)}
	if !admission.WorldAllowed(cfg, req.World) {
		res.Message = msgs.Compose(lang.KeyWorldDisallowed, req.World)
		return res
	}
	res.WorldAllowed = true

	claim := placement.NewClaim(req.Existing)
	res.Chunks = make([]ChunkResult, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		v := claim.Evaluate(cfg, msgs, c)
		res.Chunks = append(res.Chunks, ChunkResult{Chunk: c, Verdict: v})
		g.record(req, res.Mode, claim.Len(), c, v)
		if req.Incremental && v.Allowed {
			claim.Add(c)
		}
	}
	return res
}

func (g *Gate) record(req Request, mode placement.Mode, existing int, c chunk.Coord, v placement.Verdict) {
	if g.rec == nil {
		return
	}
	err := g.rec.RecordDecision(DecisionEntry{
		Time:      g.now().UTC().Format(time.RFC3339Nano),
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		World:     req.World,
		Chunk:     [2]int32{c.X, c.Z},
		Existing:  existing,
		Mode:      mode.String(),
		Allowed:   v.Allowed,
		Reason:    v.Message,
	})
	if err != nil && g.log != nil {
		g.log.Printf("record decision %s %v: %v", req.RequestID, c, err)
	}
}

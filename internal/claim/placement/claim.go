package placement

import (
	"landclaim.ai/internal/claim/chunk"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/lang"
)

// Claim is an existing claim prepared for checking many candidates. In the
// adjacency modes a candidate costs one set lookup per neighbour instead of a
// scan of the claim.
type Claim struct {
	coords []chunk.Coord
	keys   map[chunk.Key]struct{}
}

// NewClaim wraps existing without copying it. Add never writes into the
// caller's backing array.
func NewClaim(existing []chunk.Coord) *Claim {
	return &Claim{coords: existing[:len(existing):len(existing)]}
}

func (c *Claim) Len() int { return len(c.coords) }

// Add puts x into the claim.
func (c *Claim) Add(x chunk.Coord) {
	c.coords = append(c.coords, x)
	if c.keys != nil {
		c.keys[x.Key()] = struct{}{}
	}
}

func (c *Claim) has(k chunk.Key) bool {
	if c.keys == nil {
		c.keys = chunk.KeySet(c.coords)
	}
	_, ok := c.keys[k]
	return ok
}

// Evaluate gives the same verdict as the package-level Evaluate over the
// claim's chunks.
func (c *Claim) Evaluate(cfg config.View, msgs Composer, candidate chunk.Coord) Verdict {
	mode := ModeFrom(cfg)
	if mode == Unrestricted || len(c.coords) == 0 {
		return Allow
	}
	if mode == DistanceBounded {
		return evaluateDistance(BoundsFrom(cfg), msgs, c.coords, candidate)
	}
	for _, n := range candidate.Neighbors(mode == FullAdjacent) {
		if c.has(n.Key()) {
			return Allow
		}
	}
	return Deny(compose(msgs, lang.KeyAdjacent))
}

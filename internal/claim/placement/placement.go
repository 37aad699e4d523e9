package placement

import (
	"landclaim.ai/internal/claim/chunk"
	"landclaim.ai/internal/config"
	"landclaim.ai/internal/lang"
)

// Composer renders a localized message by catalog key.
type Composer interface {
	Compose(key string, args ...any) string
}

// Evaluate decides whether candidate may join a claim that already holds
// existing. It reads cfg and calls msgs only; existing is not modified. An
// empty claim accepts any chunk.
func Evaluate(cfg config.View, msgs Composer, existing []chunk.Coord, candidate chunk.Coord) Verdict {
	mode := ModeFrom(cfg)
	if mode == Unrestricted || len(existing) == 0 {
		return Allow
	}
	if mode == DistanceBounded {
		return evaluateDistance(BoundsFrom(cfg), msgs, existing, candidate)
	}
	return evaluateAdjacent(mode == FullAdjacent, msgs, existing, candidate)
}

func evaluateAdjacent(diagonal bool, msgs Composer, existing []chunk.Coord, candidate chunk.Coord) Verdict {
	near := chunk.KeySet(candidate.Neighbors(diagonal))
	for _, c := range existing {
		if _, ok := near[c.Key()]; ok {
			return Allow
		}
	}
	return Deny(compose(msgs, lang.KeyAdjacent))
}

// evaluateDistance scans existing once. Any chunk beyond the outer radius
// denies on the spot, so an outer denial outranks an inner one whatever the
// order of existing.
func evaluateDistance(b Bounds, msgs Composer, existing []chunk.Coord, candidate chunk.Coord) Verdict {
	if !b.innerOn() && !b.outerOn() {
		return Allow
	}
	innerSq := chunk.Square(b.Inner)
	outerSq := chunk.Square(b.Outer)

	inner := false
	for _, c := range existing {
		d := chunk.DistanceSq(c, candidate)
		if b.outerOn() && d.Cmp(outerSq) > 0 {
			return Deny(compose(msgs, pick(lang.KeyMaxOuter, lang.KeyMaxOuterPlural, b.Outer), b.Outer))
		}
		if b.innerOn() && !inner && d.Cmp(innerSq) <= 0 {
			inner = true
			if !b.outerOn() {
				break
			}
		}
	}
	if b.innerOn() && !inner {
		return Deny(compose(msgs, pick(lang.KeyMaxInner, lang.KeyMaxInnerPlural, b.Inner), b.Inner))
	}
	return Allow
}

func pick(singular, plural string, n int) string {
	if n == 1 {
		return singular
	}
	return plural
}

func compose(msgs Composer, key string, args ...any) string {
	if msgs == nil {
		return key
	}
	return msgs.Compose(key, args...)
}

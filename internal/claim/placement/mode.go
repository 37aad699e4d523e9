package placement

import (
	"fmt"

	"landclaim.ai/internal/config"
)

const (
	KeyClaimRule        = "chunks.claim-rule"
	KeyMaxInnerDistance = "chunks.max-inner-distance"
	KeyMaxOuterDistance = "chunks.max-outer-distance"

	// Pre-claim-rule configuration files.
	KeyLegacyEnforceAdjacent = "enforce-adjacent-claim-chunks"
	KeyLegacyAllowDiagonal   = "allow-diagonal-claim-chunks"
)

// Mode is the geometric rule a new chunk must satisfy. The integer values are
// the chunks.claim-rule settings.
type Mode int

const (
	Unrestricted Mode = iota
	OrthogonalAdjacent
	FullAdjacent
	DistanceBounded
)

const defaultMode = FullAdjacent

func (m Mode) String() string {
	switch m {
	case Unrestricted:
		return "UNRESTRICTED"
	case OrthogonalAdjacent:
		return "ORTHOGONAL_ADJACENT"
	case FullAdjacent:
		return "FULL_ADJACENT"
	case DistanceBounded:
		return "DISTANCE_BOUNDED"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeFrom maps either configuration scheme onto a Mode. chunks.claim-rule
// wins when set; otherwise the legacy adjacency flags decide. Out-of-range
// rules use the default.
func ModeFrom(cfg config.View) Mode {
	if cfg.Has(KeyClaimRule) {
		switch m := Mode(cfg.Int(KeyClaimRule, int(defaultMode))); m {
		case Unrestricted, OrthogonalAdjacent, FullAdjacent, DistanceBounded:
			return m
		default:
			return defaultMode
		}
	}
	if !cfg.Bool(KeyLegacyEnforceAdjacent, true) {
		return Unrestricted
	}
	if cfg.Bool(KeyLegacyAllowDiagonal, true) {
		return FullAdjacent
	}
	return OrthogonalAdjacent
}

// Bounds are the DistanceBounded radii in chunks. A radius <= 0 is disabled.
type Bounds struct {
	Inner int
	Outer int
}

func BoundsFrom(cfg config.View) Bounds {
	return Bounds{
		Inner: cfg.Int(KeyMaxInnerDistance, 4),
		Outer: cfg.Int(KeyMaxOuterDistance, 36),
	}
}

func (b Bounds) innerOn() bool { return b.Inner > 0 }
func (b Bounds) outerOn() bool { return b.Outer > 0 }

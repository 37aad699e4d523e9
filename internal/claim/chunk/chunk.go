package chunk

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Coord identifies a chunk column in a world.
type Coord struct {
	X int32
	Z int32
}

func (c Coord) String() string {
	return fmt.Sprintf("%d,%d", c.X, c.Z)
}

// Key is a packed Coord used for set membership.
type Key int64

// Pack puts x in the high 32 bits and z (as unsigned) in the low 32 bits.
func Pack(x, z int32) Key {
	return Key(int64(x)<<32 | int64(uint32(z)))
}

func (k Key) Unpack() Coord {
	return Coord{X: int32(k >> 32), Z: int32(uint32(k))}
}

func (c Coord) Key() Key { return Pack(c.X, c.Z) }

var (
	orthogonalOffsets = [][2]int64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonalOffsets   = [][2]int64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// Neighbors returns the edge neighbours of c, plus the corner neighbours when
// diagonal is set. Cells outside the int32 grid are left out.
func (c Coord) Neighbors(diagonal bool) []Coord {
	out := make([]Coord, 0, 8)
	add := func(offs [][2]int64) {
		for _, o := range offs {
			x := int64(c.X) + o[0]
			z := int64(c.Z) + o[1]
			if x < math.MinInt32 || x > math.MaxInt32 || z < math.MinInt32 || z > math.MaxInt32 {
				continue
			}
			out = append(out, Coord{X: int32(x), Z: int32(z)})
		}
	}
	add(orthogonalOffsets)
	if diagonal {
		add(diagonalOffsets)
	}
	return out
}

// Dist2 is an unsigned 128-bit squared distance. Deltas on the int32 grid reach
// 2^32-1, so two squared deltas do not fit in 64 bits.
type Dist2 struct {
	hi, lo uint64
}

// DistanceSq is the exact squared euclidean distance between a and b.
func DistanceSq(a, b Coord) Dist2 {
	dx := absDelta(a.X, b.X)
	dz := absDelta(a.Z, b.Z)
	xh, xl := bits.Mul64(dx, dx)
	zh, zl := bits.Mul64(dz, dz)
	lo, carry := bits.Add64(xl, zl, 0)
	hi, _ := bits.Add64(xh, zh, carry)
	return Dist2{hi: hi, lo: lo}
}

// Square returns r*r for a non-negative radius. Negative radii square to zero.
func Square(r int) Dist2 {
	if r <= 0 {
		return Dist2{}
	}
	hi, lo := bits.Mul64(uint64(r), uint64(r))
	return Dist2{hi: hi, lo: lo}
}

func (d Dist2) Cmp(o Dist2) int {
	switch {
	case d.hi < o.hi:
		return -1
	case d.hi > o.hi:
		return 1
	case d.lo < o.lo:
		return -1
	case d.lo > o.lo:
		return 1
	}
	return 0
}

// Uint64 reports the value and whether it fit in 64 bits.
func (d Dist2) Uint64() (uint64, bool) {
	return d.lo, d.hi == 0
}

func absDelta(a, b int32) uint64 {
	d := int64(a) - int64(b)
	if d < 0 {
		d = -d
	}
	return uint64(d)
}

// Parse reads "x,z". Surrounding spaces are ignored.
func Parse(s string) (Coord, error) {
	xs, zs, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Coord{}, fmt.Errorf("chunk %q: want x,z", s)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(xs), 10, 32)
	if err != nil {
		return Coord{}, fmt.Errorf("chunk %q: x: %w", s, err)
	}
	z, err := strconv.ParseInt(strings.TrimSpace(zs), 10, 32)
	if err != nil {
		return Coord{}, fmt.Errorf("chunk %q: z: %w", s, err)
	}
	return Coord{X: int32(x), Z: int32(z)}, nil
}

// ParseList reads "x,z;x,z;...". Empty entries are skipped.
func ParseList(s string) ([]Coord, error) {
	var out []Coord
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// KeySet builds a membership set over coords.
func KeySet(coords []Coord) map[Key]struct{} {
	set := make(map[Key]struct{}, len(coords))
	for _, c := range coords {
		set[c.Key()] = struct{}{}
	}
	return set
}

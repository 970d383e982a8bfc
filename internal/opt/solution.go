package opt

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Route is an ordered node sequence anchored at the depot on both ends.
type Route []int

// Solution holds exactly one route per vehicle.
type Solution []Route

// Clone returns a deep copy.
func (s Solution) Clone() Solution {
	if s == nil {
		return nil
	}
	out := make(Solution, len(s))
	for i, r := range s {
		out[i] = append(Route(nil), r...)
	}
	return out
}

// Hash is a structural hash over route contents and route order.
func (s Solution) Hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, r := range s {
		// length prefix keeps [1 2][3] apart from [1][2 3]
		binary.LittleEndian.PutUint64(buf[:], uint64(len(r)))
		_, _ = d.Write(buf[:])
		for _, n := range r {
			binary.LittleEndian.PutUint64(buf[:], uint64(n))
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

// Equal reports whether both solutions have identical routes.
func (s Solution) Equal(o Solution) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if len(s[i]) != len(o[i]) {
			return false
		}
		for j := range s[i] {
			if s[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

// Ints converts the solution into plain slices for serialization.
func (s Solution) Ints() [][]int {
	out := make([][]int, len(s))
	for i, r := range s {
		out[i] = append([]int(nil), r...)
	}
	return out
}

// FromInts is the inverse of Ints.
func FromInts(routes [][]int) Solution {
	out := make(Solution, len(routes))
	for i, r := range routes {
		out[i] = append(Route(nil), r...)
	}
	return out
}

func (r Route) String() string {
	parts := make([]string, len(r))
	for i, n := range r {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " -> ")
}

// customerPositions lists interior indices (everything but the depot anchors).
func customerPositions(n int) []int {
	if n < 3 {
		return nil
	}
	out := make([]int, 0, n-2)
	for i := 1; i < n-1; i++ {
		out = append(out, i)
	}
	return out
}

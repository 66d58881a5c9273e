package nucl

import (
	"bytes"

	farm "github.com/dgryski/go-farm"
)

// Compare orders sequences by their raw 2-bit codes, position by position up
// to the shorter length, and then shorter first. It returns -1, 0 or 1.
//
// Positions inside ambiguity runs compare by their filler code, not by their
// symbol. The order is total and stable, but it does not follow the
// lexicographic order of the decoded text when runs are present: "N" and "A"
// may compare equal, and "ACN" may sort after "ACT".
func Compare(a, b *Sequence) int {
	m := min(a.n, b.n)

	// Whole bytes compare like their code sequences because packing is
	// most significant pair first.
	full := m / 4
	if c := bytes.Compare(a.pac[:full], b.pac[:full]); c != 0 {
		return c
	}
	for i := full * 4; i < m; i++ {
		ac, bc := PackedCode(a.pac, i), PackedCode(b.pac, i)
		if ac < bc {
			return -1
		}
		if ac > bc {
			return 1
		}
	}

	switch {
	case a.n < b.n:
		return -1
	case a.n > b.n:
		return 1
	}
	return 0
}

// Equal reports whether Compare(a, b) == 0.
func Equal(a, b *Sequence) bool { return Compare(a, b) == 0 }

// NotEqual reports whether Compare(a, b) != 0.
func NotEqual(a, b *Sequence) bool { return !Equal(a, b) }

// Less reports whether Compare(a, b) < 0.
func Less(a, b *Sequence) bool { return Compare(a, b) < 0 }

// LessOrEqual reports whether Compare(a, b) <= 0.
func LessOrEqual(a, b *Sequence) bool { return !Less(b, a) }

// Greater reports whether Compare(a, b) > 0.
func Greater(a, b *Sequence) bool { return Less(b, a) }

// GreaterOrEqual reports whether Compare(a, b) >= 0.
func GreaterOrEqual(a, b *Sequence) bool { return !Less(a, b) }

// Hash returns a 64-bit hash consistent with Equal: sequences that compare
// equal hash equally. Pad bits are masked out since Compare ignores them.
func (s *Sequence) Hash() uint64 {
	seed := uint64(s.n) //nolint:gosec // length is never negative
	r := s.n % 4
	if r == 0 {
		return farm.Hash64WithSeed(s.pac, seed)
	}
	buf := append([]byte(nil), s.pac...)
	buf[len(buf)-1] &= 0xff << (8 - 2*r)
	return farm.Hash64WithSeed(buf, seed)
}

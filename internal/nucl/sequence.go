package nucl

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// MaxLength is the maximum number of symbols in a sequence. Packed positions
// are addressed with 32-bit signed arithmetic on 2-bit units, which leaves
// room for a quarter of the int32 range.
const MaxLength = math.MaxInt32 / 4

var (
	// ErrInvalidSymbol reports a character outside Alphabet.
	ErrInvalidSymbol = errors.New("invalid nucleotide")
	// ErrCapacityExceeded reports text longer than MaxLength.
	ErrCapacityExceeded = errors.New("provided sequence is too long")
)

// Run is a maximal stretch of one repeated ambiguity symbol.
type Run struct {
	Offset int
	Len    int
	Symbol byte
}

// End returns the exclusive end position of the run.
func (r Run) End() int { return r.Offset + r.Len }

// Sequence is an immutable packed nucleotide sequence.
//
// The packed buffer always has PackedLen(Len()) bytes. Positions covered by a
// run and the pad bits past Len() hold filler codes drawn from a generator
// seeded with RunCount() XOR Len(), so equal text always packs to equal
// bytes.
type Sequence struct {
	n    int
	runs []Run
	pac  []byte
}

// PackedLen returns the number of bytes needed to pack n symbols.
func PackedLen(n int) int {
	return (n + 3) / 4
}

// PackedCode returns the 2-bit code at position i of pac.
func PackedCode(pac []byte, i int) byte {
	return pac[i>>2] >> ((^i & 3) << 1) & 3
}

// SetPackedCode stores code at position i of pac, replacing whatever was
// there before.
func SetPackedCode(pac []byte, i int, code byte) {
	shift := uint((^i & 3) << 1)
	pac[i>>2] = pac[i>>2]&^(3<<shift) | (code&3)<<shift
}

// filler draws placeholder codes for run positions and pad bits. It is
// always local to one call.
type filler struct {
	rng *rand.Rand
}

func newFiller(runCount, n int) filler {
	seed := uint64(uint32(runCount) ^ uint32(n)) //nolint:gosec // both bounded by MaxLength
	//nolint:gosec // reproducible filler, not security
	return filler{rng: rand.New(rand.NewPCG(seed, seed))}
}

func (f filler) next() byte {
	return byte(f.rng.Uint32() & 3)
}

// Encode packs text into a Sequence. Every byte of text must belong to
// Alphabet; lowercase input is rejected.
func Encode(text []byte) (*Sequence, error) {
	if err := checkCapacity(len(text)); err != nil {
		return nil, err
	}

	// First pass validates and sizes the run table.
	runCount := 0
	var prev byte
	for i, c := range text {
		code := codeTable[c]
		if code == invalidCode {
			return nil, fmt.Errorf("%w '%c' at position %d", ErrInvalidSymbol, c, i)
		}
		if code == AmbiguousCode && c != prev {
			runCount++
		}
		prev = c
	}

	s := &Sequence{
		n:   len(text),
		pac: make([]byte, PackedLen(len(text))),
	}
	if runCount > 0 {
		s.runs = make([]Run, 0, runCount)
	}

	f := newFiller(runCount, len(text))
	prev = 0
	for i, c := range text {
		code := codeTable[c]
		if code == AmbiguousCode {
			if c == prev {
				s.runs[len(s.runs)-1].Len++
			} else {
				s.runs = append(s.runs, Run{Offset: i, Len: 1, Symbol: c})
			}
			code = f.next()
		}
		SetPackedCode(s.pac, i, code)
		prev = c
	}
	s.fillPadding(f)
	return s, nil
}

func checkCapacity(n int) error {
	if n > MaxLength {
		return fmt.Errorf("%w: %d symbols, limit is %d", ErrCapacityExceeded, n, MaxLength)
	}
	return nil
}

// EncodeString is Encode for string input.
func EncodeString(text string) (*Sequence, error) {
	return Encode([]byte(text))
}

func (s *Sequence) fillPadding(f filler) {
	for i := s.n; i < len(s.pac)*4; i++ {
		SetPackedCode(s.pac, i, f.next())
	}
}

// Len returns the number of symbols.
func (s *Sequence) Len() int { return s.n }

// RunCount returns the number of ambiguity runs.
func (s *Sequence) RunCount() int { return len(s.runs) }

// Runs returns a copy of the ambiguity runs, sorted by offset.
func (s *Sequence) Runs() []Run {
	if len(s.runs) == 0 {
		return nil
	}
	return append([]Run(nil), s.runs...)
}

// Packed returns the packed buffer. It must not be modified.
func (s *Sequence) Packed() []byte { return s.pac }

// Code returns the raw 2-bit code at position i, which is a filler value
// when i lies inside a run.
func (s *Sequence) Code(i int) byte {
	return PackedCode(s.pac, i)
}

// Symbol returns the true symbol at position i.
func (s *Sequence) Symbol(i int) byte {
	k := sort.Search(len(s.runs), func(k int) bool { return s.runs[k].End() > i })
	if k < len(s.runs) && s.runs[k].Offset <= i {
		return s.runs[k].Symbol
	}
	return bases[s.Code(i)]
}

// forEachBlock calls f for every maximal [p, q) range not covered by a run.
func (s *Sequence) forEachBlock(f func(p, q int)) {
	p := 0
	for _, r := range s.runs {
		if r.Offset > p {
			f(p, r.Offset)
		}
		p = r.End()
	}
	if p < s.n {
		f(p, s.n)
	}
}

// AppendText appends the decoded text to dst.
func (s *Sequence) AppendText(dst []byte) []byte {
	return AppendRange(dst, s.pac, s.runs, 0, s.n)
}

// String returns the decoded text.
func (s *Sequence) String() string {
	return string(s.AppendText(make([]byte, 0, s.n)))
}

// Substring decodes positions [begin, end).
func (s *Sequence) Substring(begin, end int) string {
	return string(AppendRange(make([]byte, 0, end-begin), s.pac, s.runs, begin, end))
}

// AppendCodes appends one code per position to dst: 0..3 for canonical
// bases and AmbiguousCode inside runs.
func (s *Sequence) AppendCodes(dst []byte) []byte {
	start := len(dst)
	for i := 0; i < s.n; i++ {
		dst = append(dst, PackedCode(s.pac, i))
	}
	for _, r := range s.runs {
		for i := r.Offset; i < r.End(); i++ {
			dst[start+i] = AmbiguousCode
		}
	}
	return dst
}

// AppendRange appends the text of positions [begin, end) of a packed buffer
// to dst, overlaying the parts of runs that intersect the range. runs must
// be sorted by offset.
func AppendRange(dst, pac []byte, runs []Run, begin, end int) []byte {
	start := len(dst)
	for i := begin; i < end; i++ {
		dst = append(dst, bases[PackedCode(pac, i)])
	}
	out := dst[start:]

	k := sort.Search(len(runs), func(k int) bool { return runs[k].End() > begin })
	for ; k < len(runs) && runs[k].Offset < end; k++ {
		lo := max(runs[k].Offset, begin)
		hi := min(runs[k].End(), end)
		for i := lo; i < hi; i++ {
			out[i-begin] = runs[k].Symbol
		}
	}
	return dst
}

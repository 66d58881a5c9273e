package index

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioseqdb/nuclseq/internal/engine"
	"github.com/bioseqdb/nuclseq/internal/nucl"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

// fakeEngine hands out a fakeSearcher and records what it was built with.
type fakeEngine struct {
	doubled []byte
	n       int
	opts    engine.BuildOptions
	builds  int
	err     error

	searcher *fakeSearcher
}

func (e *fakeEngine) Build(doubled []byte, n int, opts engine.BuildOptions) (engine.Searcher, error) {
	e.builds++
	if e.err != nil {
		return nil, e.err
	}
	e.doubled, e.n, e.opts = doubled, n, opts
	if e.searcher == nil {
		e.searcher = &fakeSearcher{}
	}
	return e.searcher, nil
}

type fakeSearcher struct {
	regions func(query []byte) []engine.Region
	err     error
	calls   atomic.Int32
	closed  atomic.Int32
}

func (s *fakeSearcher) Search(_ []byte, _ []refset.Descriptor, query []byte) ([]engine.Region, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.regions == nil {
		return nil, nil
	}
	return s.regions(query), nil
}

func (s *fakeSearcher) Close() error {
	s.closed.Add(1)
	return nil
}

func collector(t testing.TB, refs ...string) *refset.Collector {
	t.Helper()
	c := refset.New()
	for i, text := range refs {
		require.NoError(t, c.AddText("ref"+string(rune('0'+i)), []byte(text)))
	}
	return c
}

func TestBuild_Empty(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{}
	x, err := Build(refset.New(), e, nil)
	require.NoError(t, err)
	assert.Zero(t, e.builds)
	assert.True(t, x.Empty())
	assert.Zero(t, x.Len())

	matches, err := x.Align([]byte("ACGT"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Even invalid text is not looked at.
	matches, err = x.Align([]byte("not dna"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	require.NoError(t, x.Close())
}

func TestBuild_DoubledText(t *testing.T) {
	t.Parallel()

	e := &fakeEngine{}
	x, err := Build(collector(t, "AAC", "GT"), e, nil)
	require.NoError(t, err)
	defer x.Close() //nolint:errcheck // test cleanup

	require.Equal(t, 10, e.n)
	require.Len(t, e.doubled, nucl.PackedLen(10))
	got := make([]byte, e.n)
	for i := range got {
		got[i] = nucl.PackedCode(e.doubled, i)
	}
	// AACGT followed by its reverse complement ACGTT.
	assert.Equal(t, []byte{0, 0, 1, 2, 3, 0, 1, 2, 3, 3}, got)
	assert.Equal(t, uint64(engine.DefaultSeed), e.opts.Seed)
	assert.Equal(t, 5, x.Len())

	_, err = Build(collector(t, "ACGT"), e, &Options{Seed: 99})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), e.opts.Seed)
}

func TestBuild_EngineError(t *testing.T) {
	t.Parallel()

	boom := errors.New("out of memory")
	_, err := Build(collector(t, "ACGT"), &fakeEngine{err: boom}, nil)
	require.ErrorIs(t, err, ErrEngineConstruction)
	require.ErrorIs(t, err, boom)
}

func TestAlign_CoordinateTranslation(t *testing.T) {
	t.Parallel()

	ref0 := "ACGTACGTAC"
	ref1 := "GGGNNNTTTACGTRA"
	searcher := &fakeSearcher{regions: func([]byte) []engine.Region {
		return []engine.Region{
			{
				RefIndex: 1, RefBegin: 12, RefEnd: 17,
				QueryBegin: 1, QueryEnd: 6,
				Cigar: sam.Cigar{
					sam.NewCigarOp(sam.CigarSoftClipped, 1),
					sam.NewCigarOp(sam.CigarMatch, 5),
				},
				Score: 40,
				Flags: sam.Reverse,
			},
			{
				RefIndex: 0, RefBegin: 0, RefEnd: 4,
				QueryBegin: 0, QueryEnd: 4,
				Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 2), sam.NewCigarOp(sam.CigarInsertion, 1), sam.NewCigarOp(sam.CigarMatch, 1), sam.NewCigarOp(sam.CigarDeletion, 1), sam.NewCigarOp(sam.CigarSoftClipped, 2)},
				Score: 20,
				Flags: sam.Secondary,
			},
		}
	}}
	x, err := Build(collector(t, ref0, ref1), &fakeEngine{searcher: searcher}, nil)
	require.NoError(t, err)

	matches, err := x.Align([]byte("TGNNNTT"))
	require.NoError(t, err)
	require.Len(t, matches, 2)

	m := matches[0]
	assert.Equal(t, "ref1", m.RefID)
	assert.Equal(t, 2, m.RefBegin)
	assert.Equal(t, 7, m.RefEnd)
	assert.Equal(t, 5, m.RefLen())
	assert.Equal(t, ref1[2:7], m.RefSubseq)
	assert.Equal(t, "GNNNT", m.RefSubseq)
	assert.Equal(t, "GNNNT", m.QuerySubseq)
	assert.Equal(t, 5, m.QueryLen())
	assert.Equal(t, "1S5M", m.Cigar)
	assert.Equal(t, 40, m.Score)
	assert.True(t, m.Reverse)
	assert.True(t, m.Primary)
	assert.False(t, m.Secondary)

	m = matches[1]
	assert.Equal(t, "ref0", m.RefID)
	assert.Equal(t, "ACGT", m.RefSubseq)
	assert.Equal(t, "TGNN", m.QuerySubseq)
	assert.Equal(t, "2M1I1M1D2S", m.Cigar)
	assert.False(t, m.Reverse)
	assert.False(t, m.Primary)
	assert.True(t, m.Secondary)

	require.NoError(t, x.Close())
	assert.Equal(t, int32(1), searcher.closed.Load())
	require.NoError(t, x.Close())
	assert.Equal(t, int32(1), searcher.closed.Load())
}

func TestAlign_PassesCodes(t *testing.T) {
	t.Parallel()

	var seen []byte
	searcher := &fakeSearcher{regions: func(query []byte) []engine.Region {
		seen = append([]byte(nil), query...)
		return nil
	}}
	x, err := Build(collector(t, "ACGT"), &fakeEngine{searcher: searcher}, nil)
	require.NoError(t, err)

	matches, err := x.Align([]byte("ACNGTR"))
	require.NoError(t, err)
	assert.Nil(t, matches)
	assert.Equal(t, []byte{0, 1, nucl.AmbiguousCode, 2, 3, nucl.AmbiguousCode}, seen)
}

func TestAlign_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("engine crashed")
	searcher := &fakeSearcher{err: boom}
	x, err := Build(collector(t, "ACGT"), &fakeEngine{searcher: searcher}, nil)
	require.NoError(t, err)

	_, err = x.Align([]byte("acgt"))
	require.ErrorIs(t, err, nucl.ErrInvalidSymbol)

	_, err = x.Align([]byte("ACGT"))
	require.ErrorIs(t, err, ErrEngineAlign)
	require.ErrorIs(t, err, boom)
}

func TestAlign_InvalidRegionPanics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		region engine.Region
	}{
		{"past the end", engine.Region{RefBegin: 30, RefEnd: 31}},
		{"crosses boundary", engine.Region{RefBegin: 8, RefEnd: 12}},
		{"query out of range", engine.Region{RefBegin: 0, RefEnd: 2, QueryBegin: 0, QueryEnd: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			searcher := &fakeSearcher{regions: func([]byte) []engine.Region {
				return []engine.Region{tt.region}
			}}
			x, err := Build(collector(t, "ACGTACGTAC", "ACGTACGTAC"), &fakeEngine{searcher: searcher}, nil)
			require.NoError(t, err)
			assert.Panics(t, func() { _, _ = x.Align([]byte("ACGT")) })
		})
	}
}

func randomBases(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = "ACGT"[rng.IntN(4)]
	}
	return string(b)
}

func TestAlign_SuffixEngine(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	ref0 := randomBases(rng, 200) + "NNNNN" + randomBases(rng, 200)
	ref1 := randomBases(rng, 300)
	e, err := engine.NewSuffixEngine(engine.DefaultOptions())
	require.NoError(t, err)
	x, err := Build(collector(t, ref0, ref1), e, nil)
	require.NoError(t, err)
	defer x.Close() //nolint:errcheck // test cleanup

	query := ref0[150:260]
	matches, err := x.Align([]byte(query))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	m := matches[0]
	assert.Equal(t, "ref0", m.RefID)
	assert.Equal(t, 150, m.RefBegin)
	assert.Equal(t, 260, m.RefEnd)
	assert.Equal(t, query, m.RefSubseq)
	assert.Equal(t, query, m.QuerySubseq)
	assert.Contains(t, m.RefSubseq, "NNNNN")
	assert.Equal(t, "110M", m.Cigar)
	assert.Equal(t, 100, m.Score)
	assert.True(t, m.Primary)
	assert.False(t, m.Reverse)

	rc, err := nucl.EncodeString(ref1[40:120])
	require.NoError(t, err)
	matches, err = x.AlignSequence(rc.ReverseComplement())
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	m = matches[0]
	assert.Equal(t, "ref1", m.RefID)
	assert.Equal(t, 40, m.RefBegin)
	assert.Equal(t, 120, m.RefEnd)
	assert.Equal(t, ref1[40:120], m.RefSubseq)
	assert.Equal(t, "80M", m.Cigar)
	assert.True(t, m.Reverse)

	matches, err = x.Align([]byte(strings.Repeat("N", 50)))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFormatCigar(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", formatCigar(nil))
	assert.Equal(t, "3S10M2I4M1D7M", formatCigar(sam.Cigar{
		sam.NewCigarOp(sam.CigarSoftClipped, 3),
		sam.NewCigarOp(sam.CigarMatch, 10),
		sam.NewCigarOp(sam.CigarInsertion, 2),
		sam.NewCigarOp(sam.CigarMatch, 4),
		sam.NewCigarOp(sam.CigarDeletion, 1),
		sam.NewCigarOp(sam.CigarMatch, 7),
	}))
}

package refpack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioseqdb/nuclseq/internal/format"
	"github.com/bioseqdb/nuclseq/internal/nucl"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

// fasta builds a FASTA file with one record per text, 60 bases per line.
func fasta(texts ...string) string {
	var sb strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&sb, ">ref%d sample %d\n", i, i)
		for k := 0; k < len(text); k += DefaultLineWidth {
			sb.WriteString(text[k:min(k+DefaultLineWidth, len(text))])
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func randomReference(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		if rng.IntN(50) == 0 {
			sym := nucl.Alphabet[4+rng.IntN(len(nucl.Alphabet)-4)]
			for k := rng.IntN(8); k >= 0 && i < n; k-- {
				b[i] = sym
				i++
			}
			i--
			continue
		}
		b[i] = "ACGT"[rng.IntN(4)]
	}
	return string(b)
}

func randomReferences(seed uint64, count int) []string {
	rng := rand.New(rand.NewPCG(seed, seed))
	texts := make([]string, count)
	for i := range texts {
		texts[i] = randomReference(rng, 1+rng.IntN(500))
	}
	return texts
}

func assertCollected(t *testing.T, c *refset.Collector, texts []string) {
	t.Helper()
	require.Equal(t, len(texts), c.Count())
	_, descs, _ := c.Finalize()
	for i, text := range texts {
		assert.Equal(t, fmt.Sprintf("ref%d", i), descs[i].ID)
		seq, err := c.Reference(i)
		require.NoError(t, err)
		assert.Equal(t, text, seq.String(), "reference %d", i)
	}
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	t.Parallel()

	texts := randomReferences(1, 40)
	input := fasta(texts...)

	tests := []struct {
		name    string
		opts    *Options
		workers int
	}{
		{"defaults", nil, 0},
		{"single worker small blocks", &Options{BlockSize: 3, Workers: 1}, 1},
		{"parallel small blocks", &Options{BlockSize: 3, Workers: 4}, 4},
		{"snappy", &Options{BlockSize: 7, Workers: 3, Snappy: true}, 2},
		{"more workers than blocks", &Options{BlockSize: 100, Workers: 16}, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var packed bytes.Buffer
			require.NoError(t, Pack(strings.NewReader(input), &packed, tt.opts))
			assert.True(t, format.IsPack(packed.Bytes()))

			c, err := Unpack(bytes.NewReader(packed.Bytes()), &UnpackOptions{Workers: tt.workers})
			require.NoError(t, err)
			assertCollected(t, c, texts)

			var out bytes.Buffer
			require.NoError(t, WriteFASTA(bytes.NewReader(packed.Bytes()), &out, &UnpackOptions{Workers: tt.workers}))
			assert.Equal(t, input, out.String())
		})
	}
}

func TestPack_SnappyFlag(t *testing.T) {
	t.Parallel()

	var packed bytes.Buffer
	require.NoError(t, Pack(strings.NewReader(fasta("ACGT")), &packed, &Options{Snappy: true}))
	header, err := format.ReadFileHeader(bytes.NewReader(packed.Bytes()))
	require.NoError(t, err)
	assert.NotZero(t, header.Flags&format.FlagSnappy)
	assert.Equal(t, uint32(DefaultBlockSize), header.BlockSize)
}

func TestPack_EmptyInput(t *testing.T) {
	t.Parallel()

	var packed bytes.Buffer
	require.NoError(t, Pack(strings.NewReader(""), &packed, nil))

	c, err := Unpack(&packed, nil)
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestPack_Uppercase(t *testing.T) {
	t.Parallel()

	input := ">soft\nacgtnnACGT\n"

	var packed bytes.Buffer
	err := Pack(strings.NewReader(input), &packed, nil)
	require.ErrorIs(t, err, nucl.ErrInvalidSymbol)
	assert.Contains(t, err.Error(), `"soft"`)

	packed.Reset()
	require.NoError(t, Pack(strings.NewReader(input), &packed, &Options{Uppercase: true}))
	var out bytes.Buffer
	require.NoError(t, WriteFASTA(&packed, &out, nil))
	assert.Equal(t, ">soft\nACGTNNACGT\n", out.String())
}

func TestCollect(t *testing.T) {
	t.Parallel()

	texts := randomReferences(2, 25)
	for _, workers := range []int{1, 4} {
		c, err := Collect(strings.NewReader(fasta(texts...)), &Options{BlockSize: 4, Workers: workers})
		require.NoError(t, err)
		assertCollected(t, c, texts)
	}
}

func TestCollect_Errors(t *testing.T) {
	t.Parallel()

	_, err := Collect(strings.NewReader(">a\nACGT\n>b\n>c\nAC\n"), nil)
	require.ErrorIs(t, err, refset.ErrEmptyReference)

	_, err = Collect(strings.NewReader(">a\nACGT\n>b\nAC-GT\n"), &Options{Workers: 2, BlockSize: 1})
	require.ErrorIs(t, err, nucl.ErrInvalidSymbol)

	_, err = Collect(strings.NewReader("@fastq\nACGT\n+\nIIII\n"), nil)
	require.Error(t, err)
}

func TestUnpack_Corrupt(t *testing.T) {
	t.Parallel()

	var packed bytes.Buffer
	require.NoError(t, Pack(strings.NewReader(fasta(randomReferences(3, 5)...)), &packed, &Options{Snappy: true}))
	valid := packed.Bytes()

	t.Run("invalid magic", func(t *testing.T) {
		t.Parallel()

		_, err := Unpack(strings.NewReader(">chr1\nACGT\n"), nil)
		require.ErrorIs(t, err, format.ErrInvalidMagic)
	})

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()

		for _, cut := range []int{12, 30, len(valid) - 1} {
			_, err := Unpack(bytes.NewReader(valid[:cut]), &UnpackOptions{Workers: 2})
			require.Error(t, err, "cut at %d", cut)
		}
	})

	t.Run("record count", func(t *testing.T) {
		t.Parallel()

		bad := append([]byte(nil), valid...)
		// The record count opens the first block header.
		binary.LittleEndian.PutUint32(bad[10:14], math.MaxUint32)
		_, err := Unpack(bytes.NewReader(bad), nil)
		require.ErrorIs(t, err, ErrCorrupt)
		assert.Contains(t, err.Error(), "4294967295 references")
	})

	t.Run("checksum", func(t *testing.T) {
		t.Parallel()

		bad := append([]byte(nil), valid...)
		// The checksum is the last field of the first block header.
		bad[10+24] ^= 0xff
		_, err := Unpack(bytes.NewReader(bad), nil)
		require.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "chr1", ID("chr1 Homo sapiens"))
	assert.Equal(t, "chrM", ID("chrM"))
	assert.Equal(t, "", ID(""))
}

func BenchmarkPack(b *testing.B) {
	input := fasta(randomReferences(4, 200)...)

	b.ResetTimer()
	b.SetBytes(int64(len(input)))

	for i := 0; i < b.N; i++ {
		var packed bytes.Buffer
		_ = Pack(strings.NewReader(input), &packed, nil)
	}
}

func BenchmarkUnpack(b *testing.B) {
	input := fasta(randomReferences(5, 200)...)
	var packed bytes.Buffer
	require.NoError(b, Pack(strings.NewReader(input), &packed, nil))
	data := packed.Bytes()

	b.ResetTimer()
	b.SetBytes(int64(len(data)))

	for i := 0; i < b.N; i++ {
		_, _ = Unpack(bytes.NewReader(data), nil)
	}
}

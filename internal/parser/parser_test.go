package parser

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFASTA(t *testing.T) {
	input := `>chr1 first chromosome
ACGTACGT
ACGT
>chr2
NNNN

>chr3
`
	p := New(strings.NewReader(input))

	tests := []struct {
		name string
		id   string
		seq  string
	}{
		{"chr1 first chromosome", "chr1", "ACGTACGTACGT"},
		{"chr2", "chr2", "NNNN"},
		{"chr3", "chr3", ""},
	}

	for _, tt := range tests {
		rec, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, tt.name, rec.Name)
		assert.Equal(t, tt.id, rec.ID())
		assert.Equal(t, tt.seq, string(rec.Sequence))
	}

	_, err := p.Next()
	assert.ErrorIs(t, err, io.EOF)

	format, err := p.Format()
	require.NoError(t, err)
	assert.Equal(t, FASTA, format)
}

func TestParseFASTQ(t *testing.T) {
	input := `@SEQ_1 desc
AAAA
+
!!!!
@SEQ_2
CCCCGG
+SEQ_2
######
`
	p := New(strings.NewReader(input))

	rec, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "SEQ_1 desc", rec.Name)
	assert.Equal(t, "AAAA", string(rec.Sequence))

	rec, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, "SEQ_2", rec.ID())
	assert.Equal(t, "CCCCGG", string(rec.Sequence))

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseLeadingBlankLinesAndCRLF(t *testing.T) {
	input := "\r\n\n>r1\r\nAC\r\nGT\r\n>r2\r\nTT"
	p := New(strings.NewReader(input))

	rec, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.Name)
	assert.Equal(t, "ACGT", string(rec.Sequence))

	rec, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, "r2", rec.Name)
	assert.Equal(t, "TT", string(rec.Sequence))
}

func TestParseUppercase(t *testing.T) {
	input := ">soft\nacgtNNnnACgt\n"

	rec, err := NewWithOptions(strings.NewReader(input), &Options{Uppercase: true}).Next()
	require.NoError(t, err)
	assert.Equal(t, "ACGTNNNNACGT", string(rec.Sequence))

	rec, err = New(strings.NewReader(input)).Next()
	require.NoError(t, err)
	assert.Equal(t, "acgtNNnnACgt", string(rec.Sequence))
}

func TestParseEmptyInput(t *testing.T) {
	p := New(strings.NewReader(""))
	_, err := p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  *Options
	}{
		{"no marker", "SEQ_ID\nACGT\n", nil},
		{"fastq missing plus", "@r\nACGT\nIIII\n", nil},
		{"fastq length mismatch", "@r\nACGT\n+\nIII\n", nil},
		{"fastq truncated", "@r\nACGT\n", nil},
		{"forced fasta on fastq", "@r\nACGT\n+\nIIII\n", &Options{Format: FASTA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithOptions(strings.NewReader(tt.input), tt.opts).Next()
			require.Error(t, err)
			assert.False(t, errors.Is(err, io.EOF), "got %v", err)
		})
	}
}

func TestParseBatch(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 25; i++ {
		buf.WriteString(">read\nACGTACGTAC\nGT\n")
	}

	p := New(&buf)
	batch, err := p.NextBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 10)

	batch, err = p.NextBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 10)

	batch, err = p.NextBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 5)
	for _, rec := range batch {
		assert.Equal(t, "ACGTACGTACGT", string(rec.Sequence))
		// Records share a buffer but never overlap.
		assert.Equal(t, len(rec.Sequence), cap(rec.Sequence))
	}

	batch, err = p.NextBatch(10)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, batch)
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "FASTA", FASTA.String())
	assert.Equal(t, "FASTQ", FASTQ.String())
	assert.Equal(t, "unknown", Unknown.String())
}

func BenchmarkNextBatch(b *testing.B) {
	var buf bytes.Buffer
	for i := 0; i < 10000; i++ {
		buf.WriteString(">read\n")
		buf.WriteString(strings.Repeat("ACGT", 20))
		buf.WriteString("\n")
		buf.WriteString(strings.Repeat("TGCA", 20))
		buf.WriteString("\n")
	}
	data := buf.Bytes()

	b.ResetTimer()
	b.SetBytes(int64(len(data)))

	for i := 0; i < b.N; i++ {
		p := New(bytes.NewReader(data))
		for {
			batch, err := p.NextBatch(1000)
			if err != nil || len(batch) == 0 {
				break
			}
		}
	}
}

package nucl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	t.Parallel()

	seq := mustEncode(t, "AACGTN")
	tests := []struct {
		symbol byte
		want   int
	}{
		{'A', 2},
		{'C', 1},
		{'G', 1},
		{'T', 1},
		{'N', 1},
		{'R', 0},
	}
	for _, tt := range tests {
		got, err := seq.Count(tt.symbol)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "count of %q", tt.symbol)
	}

	// Filler codes under a run never count as bases.
	seq = mustEncode(t, "NNNNNNNNRRRRA")
	for _, c := range []byte("CGT") {
		got, err := seq.Count(c)
		require.NoError(t, err)
		assert.Zero(t, got)
	}
	got, err := seq.Count('A')
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	got, err = seq.Count('R')
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestCount_InvalidSymbol(t *testing.T) {
	t.Parallel()

	seq := mustEncode(t, "ACGT")
	_, err := seq.Count('x')
	require.ErrorIs(t, err, ErrInvalidSymbol)
	_, err = seq.Content('U')
	require.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestContent(t *testing.T) {
	t.Parallel()

	seq := mustEncode(t, "GGCCATNN")
	gc := 0.0
	for _, c := range []byte("GC") {
		f, err := seq.Content(c)
		require.NoError(t, err)
		gc += f
	}
	assert.InDelta(t, 0.5, gc, 1e-9)

	f, err := seq.Content('N')
	require.NoError(t, err)
	assert.InDelta(t, 0.25, f, 1e-9)

	f, err = mustEncode(t, "").Content('A')
	require.NoError(t, err)
	assert.Zero(t, f)
}

// Package engine defines the boundary between the index and the search
// engine that owns the suffix structure over reference data, and provides a
// built-in engine based on a suffix array.
//
// The index hands an engine the packed doubled text, forward references
// followed by their reverse complement, and later queries it with 2-bit
// codes. Regions come back in forward reference coordinates with a
// BAM-packed CIGAR.
package engine

import (
	"github.com/grailbio/hts/sam"

	"github.com/bioseqdb/nuclseq/internal/refset"
)

// DefaultSeed is the seed the index passes to Engine.Build.
const DefaultSeed = 11

// BuildOptions configure index construction.
type BuildOptions struct {
	// Seed drives any pseudo-random choice made by the engine, so that
	// results are reproducible for a given reference set.
	Seed uint64
}

// Engine builds searchers over packed doubled text.
type Engine interface {
	// Build indexes n 2-bit codes packed most significant pair first in
	// doubled. n is twice the forward length. The engine may keep doubled.
	Build(doubled []byte, n int, opts BuildOptions) (Searcher, error)
}

// Searcher answers queries against one built index. Implementations must
// allow concurrent Search calls.
type Searcher interface {
	// Search aligns query, given as one code per position (0..3 for bases,
	// 4 for ambiguity symbols), against the forward packed references
	// described by refs.
	Search(forward []byte, refs []refset.Descriptor, query []byte) ([]Region, error)
	// Close releases the index. The searcher must not be used afterwards.
	Close() error
}

// Region is one local alignment reported by a Searcher.
type Region struct {
	// RefIndex is the index into refs of the reference holding the hit.
	RefIndex int
	// RefBegin and RefEnd are forward global coordinates, end exclusive.
	RefBegin, RefEnd int
	// QueryBegin and QueryEnd are positions in the query as given, end
	// exclusive, regardless of strand.
	QueryBegin, QueryEnd int
	// Cigar describes the alignment of the query, reverse complemented for
	// reverse strand hits, against RefBegin..RefEnd. It includes soft clips.
	Cigar sam.Cigar
	Score int
	// Flags carries sam.Reverse and sam.Secondary.
	Flags sam.Flags
}

// Reverse reports whether the region aligns the reverse complement of the
// query.
func (r Region) Reverse() bool { return r.Flags&sam.Reverse != 0 }

// Secondary reports whether the region was masked by a better primary hit.
func (r Region) Secondary() bool { return r.Flags&sam.Secondary != 0 }

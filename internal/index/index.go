// Package index builds a searchable index over a reference set and turns
// engine hits into per-reference matches.
package index

import (
	"errors"
	"fmt"

	"github.com/grailbio/base/log"

	"github.com/bioseqdb/nuclseq/internal/engine"
	"github.com/bioseqdb/nuclseq/internal/nucl"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

var (
	// ErrEngineConstruction wraps failures of Engine.Build.
	ErrEngineConstruction = errors.New("building search index")
	// ErrEngineAlign wraps failures of Searcher.Search.
	ErrEngineAlign = errors.New("searching index")
)

// Options configures Build.
type Options struct {
	Seed uint64 // Engine seed (default: engine.DefaultSeed)
}

// Index is an immutable searchable reference set. It is safe for
// concurrent use until Close is called.
type Index struct {
	forward  []byte
	refs     []refset.Descriptor
	runs     []nucl.Run
	searcher engine.Searcher
}

// Build indexes the references in c with e. An empty collector produces an
// empty index whose searches never match. c must not be modified afterwards.
func Build(c *refset.Collector, e engine.Engine, opts *Options) (*Index, error) {
	if c.Empty() {
		return &Index{}, nil
	}
	if opts == nil {
		opts = &Options{Seed: engine.DefaultSeed}
	}

	forward, refs, runs := c.Finalize()
	n := c.Len()
	doubled := doubledText(forward, n)

	searcher, err := e.Build(doubled, 2*n, engine.BuildOptions{Seed: opts.Seed})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineConstruction, err)
	}
	log.Printf("index: %d references, %d bases, %d ambiguity runs", len(refs), n, len(runs))

	return &Index{
		forward:  forward,
		refs:     refs,
		runs:     runs,
		searcher: searcher,
	}, nil
}

// doubledText packs the n forward codes followed by their reverse
// complement.
func doubledText(forward []byte, n int) []byte {
	doubled := make([]byte, nucl.PackedLen(2*n))
	copy(doubled, forward)
	for i := 0; i < n; i++ {
		nucl.SetPackedCode(doubled, n+i, 3-nucl.PackedCode(forward, n-1-i))
	}
	return doubled
}

// Refs returns the reference descriptors. The slice must not be modified.
func (x *Index) Refs() []refset.Descriptor { return x.refs }

// Len returns the combined reference length.
func (x *Index) Len() int {
	if len(x.refs) == 0 {
		return 0
	}
	return x.refs[len(x.refs)-1].End()
}

// Empty reports whether the index holds no references.
func (x *Index) Empty() bool { return x.searcher == nil }

// Close releases the engine searcher and drops the reference data.
func (x *Index) Close() error {
	var err error
	if x.searcher != nil {
		err = x.searcher.Close()
	}
	*x = Index{}
	return err
}

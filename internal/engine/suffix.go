package engine

import (
	"errors"
	"fmt"
	"index/suffixarray"
	"sort"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"

	"github.com/bioseqdb/nuclseq/internal/nucl"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

// ErrClosed reports a search on a closed searcher.
var ErrClosed = errors.New("searcher is closed")

// SuffixEngine is the built-in Engine. It seeds with exact matches found in
// a suffix array over the doubled text and extends seeds with banded
// affine-gap alignment.
type SuffixEngine struct {
	Options Options
}

// NewSuffixEngine returns a SuffixEngine using opts.
func NewSuffixEngine(opts Options) (*SuffixEngine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &SuffixEngine{Options: opts}, nil
}

// Build implements Engine.
func (e *SuffixEngine) Build(doubled []byte, n int, opts BuildOptions) (Searcher, error) {
	if err := e.Options.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 || n%2 != 0 {
		return nil, fmt.Errorf("doubled text length %d is not a positive even number", n)
	}
	if len(doubled) != nucl.PackedLen(n) {
		return nil, fmt.Errorf("doubled text has %d bytes, want %d for %d codes", len(doubled), nucl.PackedLen(n), n)
	}

	text := make([]byte, n)
	for i := range text {
		text[i] = nucl.PackedCode(doubled, i)
	}
	s := &suffixSearcher{
		opts: e.Options,
		seed: opts.Seed,
		half: n / 2,
		sa:   suffixarray.New(text),
	}
	log.Debug.Printf("suffix engine: indexed %d codes", n)
	return s, nil
}

type suffixSearcher struct {
	opts Options
	seed uint64
	half int // forward length

	mu sync.RWMutex
	sa *suffixarray.Index
}

// Close implements Searcher.
func (s *suffixSearcher) Close() error {
	s.mu.Lock()
	s.sa = nil
	s.mu.Unlock()
	return nil
}

// candidate is a region under construction. Query coordinates are in the
// orientation that was aligned, so reverse strand candidates refer to the
// reverse complemented query.
type candidate struct {
	ref     int
	reverse bool
	qb, qe  int
	rb, re  int
	score   int
}

func (c *candidate) contains(reverse bool, qs, rs, k int) bool {
	return c.reverse == reverse &&
		c.qb <= qs && qs+k <= c.qe &&
		c.rb <= rs && rs+k <= c.re
}

// Search implements Searcher.
func (s *suffixSearcher) Search(forward []byte, refs []refset.Descriptor, query []byte) ([]Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sa == nil {
		return nil, ErrClosed
	}
	if len(forward) != nucl.PackedLen(s.half) {
		return nil, fmt.Errorf("forward text has %d bytes, index holds %d codes", len(forward), s.half)
	}

	k := s.opts.MinSeedLen
	qLen := len(query)
	if qLen < k || len(refs) == 0 {
		return nil, nil
	}

	rc := make([]byte, qLen)
	for i, c := range query {
		if c < ambiguous {
			c = 3 - c
		}
		rc[qLen-1-i] = c
	}

	// amb[i] counts ambiguous codes in query[:i].
	amb := make([]int, qLen+1)
	for i, c := range query {
		amb[i+1] = amb[i]
		if c >= ambiguous {
			amb[i+1]++
		}
	}

	sc := scoring{
		match:    s.opts.MatchScore,
		mismatch: s.opts.MismatchPenalty,
		oDel:     s.opts.ODel,
		eDel:     s.opts.EDel,
		oIns:     s.opts.OIns,
		eIns:     s.opts.EIns,
	}
	maxOcc := s.opts.maxOcc(len(refs))

	var cands []candidate
	for qi := 0; qi+k <= qLen; qi++ {
		if amb[qi+k] != amb[qi] {
			continue
		}
		hits := s.sa.Lookup(query[qi:qi+k], -1)
		if len(hits) == 0 || len(hits) > maxOcc {
			continue
		}
		sort.Ints(hits)

	hitLoop:
		for _, p := range hits {
			reverse := p >= s.half
			rs, qs, q := p, qi, query
			if reverse {
				// query[qi:qi+k] matches the reverse strand at p, so the
				// reverse complemented query matches the forward strand.
				rs, qs, q = 2*s.half-p-k, qLen-qi-k, rc
			} else if p+k > s.half {
				continue
			}
			ref, ok := refset.Locate(refs, rs)
			if !ok || rs+k > refs[ref].End() {
				continue
			}
			for i := range cands {
				if cands[i].contains(reverse, qs, rs, k) {
					continue hitLoop
				}
			}
			c := s.extendSeed(sc, forward, refs[ref], q, qs, rs)
			c.ref, c.reverse = ref, reverse
			cands = append(cands, c)
		}
	}

	regions := make([]Region, 0, len(cands))
	for _, c := range cands {
		if c.score < s.opts.MinScore {
			continue
		}
		q := query
		if c.reverse {
			q = rc
		}
		regions = append(regions, s.region(sc, forward, q, c))
	}
	return s.finish(regions), nil
}

// extendSeed grows the exact seed q[qs:qs+k] at forward position rs to the
// left and then to the right, staying inside ref.
func (s *suffixSearcher) extendSeed(sc scoring, forward []byte, ref refset.Descriptor, q []byte, qs, rs int) candidate {
	k := s.opts.MinSeedLen
	c := candidate{qb: qs, qe: qs + k, rb: rs, re: rs + k, score: k * sc.match}

	if qs > 0 {
		lo := max(ref.Offset, rs-qs-s.opts.Bandwidth)
		query := make([]byte, qs)
		for i := range query {
			query[i] = q[qs-1-i]
		}
		target := make([]byte, rs-lo)
		for i := range target {
			target[i] = nucl.PackedCode(forward, rs-1-i)
		}
		ext := sc.extend(query, target, s.opts.Bandwidth, s.opts.ZDrop, c.score)
		if ext.gscore <= 0 || ext.gscore <= ext.score-s.opts.PenClip5 {
			c.qb, c.rb, c.score = qs-ext.qle, rs-ext.tle, ext.score
		} else {
			c.qb, c.rb, c.score = 0, rs-ext.gtle, ext.gscore
		}
	}

	if qe := qs + k; qe < len(q) {
		re := rs + k
		hi := min(ref.End(), re+len(q)-qe+s.opts.Bandwidth)
		target := make([]byte, hi-re)
		for i := range target {
			target[i] = nucl.PackedCode(forward, re+i)
		}
		ext := sc.extend(q[qe:], target, s.opts.Bandwidth, s.opts.ZDrop, c.score)
		if ext.gscore <= 0 || ext.gscore <= ext.score-s.opts.PenClip3 {
			c.qe, c.re, c.score = qe+ext.qle, re+ext.tle, ext.score
		} else {
			c.qe, c.re, c.score = len(q), re+ext.gtle, ext.gscore
		}
	}
	return c
}

// region turns a candidate into a Region with a CIGAR covering the whole
// query.
func (s *suffixSearcher) region(sc scoring, forward, q []byte, c candidate) Region {
	target := make([]byte, c.re-c.rb)
	for i := range target {
		target[i] = nucl.PackedCode(forward, c.rb+i)
	}
	_, ops := sc.global(q[c.qb:c.qe], target, s.opts.Bandwidth)

	cigar := make(sam.Cigar, 0, len(ops)+2)
	if c.qb > 0 {
		cigar = append(cigar, sam.NewCigarOp(sam.CigarSoftClipped, c.qb))
	}
	cigar = append(cigar, ops...)
	if clip := len(q) - c.qe; clip > 0 {
		cigar = append(cigar, sam.NewCigarOp(sam.CigarSoftClipped, clip))
	}

	r := Region{
		RefIndex:   c.ref,
		RefBegin:   c.rb,
		RefEnd:     c.re,
		QueryBegin: c.qb,
		QueryEnd:   c.qe,
		Cigar:      cigar,
		Score:      c.score,
	}
	if c.reverse {
		r.QueryBegin, r.QueryEnd = len(q)-c.qe, len(q)-c.qb
		r.Flags |= sam.Reverse
	}
	return r
}

package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"

	"github.com/bioseqdb/nuclseq/internal/engine"
	"github.com/bioseqdb/nuclseq/internal/nucl"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

// Match is one alignment of a query against a reference. Coordinates are
// zero based and end exclusive.
type Match struct {
	RefID       string
	RefBegin    int // relative to the start of the reference
	RefEnd      int
	RefSubseq   string // reference text over [RefBegin, RefEnd), ambiguity symbols included
	QueryBegin  int
	QueryEnd    int
	QuerySubseq string
	Primary     bool
	Secondary   bool
	Reverse     bool
	Cigar       string
	Score       int
}

// RefLen returns the length of the matched reference range.
func (m *Match) RefLen() int { return m.RefEnd - m.RefBegin }

// QueryLen returns the length of the matched query range.
func (m *Match) QueryLen() int { return m.QueryEnd - m.QueryBegin }

// Align encodes query and searches for it.
func (x *Index) Align(query []byte) ([]Match, error) {
	if x.Empty() {
		return nil, nil
	}
	seq, err := nucl.Encode(query)
	if err != nil {
		return nil, err
	}
	return x.AlignSequence(seq)
}

// AlignSequence searches for an encoded query. Matches are returned in the
// engine's order.
func (x *Index) AlignSequence(query *nucl.Sequence) ([]Match, error) {
	if x.Empty() {
		return nil, nil
	}
	regions, err := x.searcher.Search(x.forward, x.refs, query.AppendCodes(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineAlign, err)
	}
	if len(regions) == 0 {
		return nil, nil
	}

	matches := make([]Match, len(regions))
	for i, r := range regions {
		matches[i] = x.match(query, r)
	}
	return matches, nil
}

func (x *Index) match(query *nucl.Sequence, r engine.Region) Match {
	k, ok := refset.Locate(x.refs, r.RefBegin)
	if !ok {
		log.Panicf("region [%d, %d) starts outside the %d indexed bases", r.RefBegin, r.RefEnd, x.Len())
	}
	d := x.refs[k]
	if r.RefEnd > d.End() || r.RefEnd < r.RefBegin {
		log.Panicf("region [%d, %d) crosses the end of reference %q at %d", r.RefBegin, r.RefEnd, d.ID, d.End())
	}
	if r.QueryBegin < 0 || r.QueryEnd > query.Len() || r.QueryEnd < r.QueryBegin {
		log.Panicf("region query range [%d, %d) outside query of length %d", r.QueryBegin, r.QueryEnd, query.Len())
	}

	secondary := r.Flags&sam.Secondary != 0
	return Match{
		RefID:       d.ID,
		RefBegin:    r.RefBegin - d.Offset,
		RefEnd:      r.RefEnd - d.Offset,
		RefSubseq:   string(nucl.AppendRange(make([]byte, 0, r.RefEnd-r.RefBegin), x.forward, x.runs, r.RefBegin, r.RefEnd)),
		QueryBegin:  r.QueryBegin,
		QueryEnd:    r.QueryEnd,
		QuerySubseq: query.Substring(r.QueryBegin, r.QueryEnd),
		Primary:     !secondary,
		Secondary:   secondary,
		Reverse:     r.Flags&sam.Reverse != 0,
		Cigar:       formatCigar(r.Cigar),
		Score:       r.Score,
	}
}

// formatCigar renders ops as <len><op> pairs, or "" when there are none.
func formatCigar(cigar sam.Cigar) string {
	var sb strings.Builder
	for _, op := range cigar {
		sb.WriteString(strconv.Itoa(op.Len()))
		sb.WriteString(op.Type().String())
	}
	return sb.String()
}

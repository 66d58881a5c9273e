package engine

import (
	"encoding/binary"
	"sort"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/hts/sam"
)

// finish removes duplicate regions, orders the rest by decreasing score and
// flags the ones overlapping a better hit on the query as secondary.
func (s *suffixSearcher) finish(regions []Region) []Region {
	if len(regions) == 0 {
		return nil
	}

	type key struct {
		rb, re, qb, qe int
		flags          sam.Flags
	}
	seen := make(map[key]bool, len(regions))
	uniq := regions[:0]
	for _, r := range regions {
		k := key{r.RefBegin, r.RefEnd, r.QueryBegin, r.QueryEnd, r.Flags}
		if seen[k] {
			continue
		}
		seen[k] = true
		uniq = append(uniq, r)
	}

	hashes := make([]uint64, len(uniq))
	var buf [17]byte
	for i, r := range uniq {
		binary.LittleEndian.PutUint64(buf[0:8], uint64(r.RefBegin))    //nolint:gosec // coordinates are nonnegative
		binary.LittleEndian.PutUint64(buf[8:16], uint64(r.QueryBegin)) //nolint:gosec // coordinates are nonnegative
		buf[16] = 0
		if r.Reverse() {
			buf[16] = 1
		}
		hashes[i] = farm.Hash64WithSeed(buf[:], s.seed)
	}
	idx := make([]int, len(uniq))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := uniq[idx[a]], uniq[idx[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		return hashes[idx[a]] < hashes[idx[b]]
	})
	out := make([]Region, len(uniq))
	for i, j := range idx {
		out[i] = uniq[j]
	}

	markSecondary(out, s.opts.MaskLevel)
	return out
}

// markSecondary flags every region whose query span overlaps a higher
// scoring primary region by at least maskLevel of the shorter span. regions
// must be sorted by decreasing score.
func markSecondary(regions []Region, maskLevel float64) {
	var primaries []int
	for i := range regions {
		r := &regions[i]
		for _, j := range primaries {
			p := regions[j]
			b := max(r.QueryBegin, p.QueryBegin)
			e := min(r.QueryEnd, p.QueryEnd)
			if e <= b {
				continue
			}
			shorter := min(r.QueryEnd-r.QueryBegin, p.QueryEnd-p.QueryBegin)
			if float64(e-b) >= float64(shorter)*maskLevel {
				r.Flags |= sam.Secondary
				break
			}
		}
		if r.Flags&sam.Secondary == 0 {
			primaries = append(primaries, i)
		}
	}
}

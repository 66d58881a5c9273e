package engine

import (
	"math"

	"github.com/grailbio/hts/sam"
)

// ambiguous is the query code for positions that match nothing.
const ambiguous = 4

type scoring struct {
	match, mismatch int
	oDel, eDel      int
	oIns, eIns      int
}

func (s scoring) score(q, t byte) int {
	switch {
	case q >= ambiguous || t >= ambiguous:
		return -1
	case q == t:
		return s.match
	}
	return -s.mismatch
}

// extension is the outcome of extending an anchored alignment away from a
// seed.
type extension struct {
	score int // best local score, h0 included
	qle   int // query length consumed at the best local score
	tle   int // target length consumed at the best local score
	gtle  int // target length consumed when reaching the query end
	// gscore is the best score that reaches the query end, or -1.
	gscore int
}

type cell struct{ h, e int }

// extend aligns query against target, both read away from the anchor, with
// an initial score of h0. The dynamic programming is banded to w diagonals
// and stops early when the score drops zdrop below the best seen.
func (s scoring) extend(query, target []byte, w, zdrop, h0 int) extension {
	qlen, tlen := len(query), len(target)
	eh := make([]cell, qlen+1)
	oeDel, oeIns := s.oDel+s.eDel, s.oIns+s.eIns

	// First row: leading insertions.
	eh[0].h = h0
	if qlen > 0 && h0 > oeIns {
		eh[1].h = h0 - oeIns
	}
	for j := 2; j <= qlen && eh[j-1].h > s.eIns; j++ {
		eh[j].h = eh[j-1].h - s.eIns
	}

	maxIns := max(int(float64(qlen*s.match-s.oIns)/float64(s.eIns)+1), 1)
	maxDel := max(int(float64(qlen*s.match-s.oDel)/float64(s.eDel)+1), 1)
	w = min(w, maxIns, maxDel)

	best, bestI, bestJ := h0, -1, -1
	gscore, gtle := -1, -1
	beg, end := 0, qlen
	for i := 0; i < tlen; i++ {
		var f, h1, m int
		mj := -1
		beg = max(beg, i-w)
		end = min(end, i+w+1, qlen)

		if beg == 0 {
			h1 = max(h0-(s.oDel+s.eDel*(i+1)), 0)
		}
		j := beg
		for ; j < end; j++ {
			p := &eh[j]
			mScore, e := p.h, p.e
			p.h = h1
			if mScore > 0 {
				mScore += s.score(query[j], target[i])
			} else {
				mScore = 0
			}
			h := max(mScore, e, f)
			h1 = h
			if h > m {
				m, mj = h, j
			}
			t := max(mScore-oeDel, 0)
			p.e = max(e-s.eDel, t)
			t = max(mScore-oeIns, 0)
			f = max(f-s.eIns, t)
		}
		eh[end].h, eh[end].e = h1, 0
		if j == qlen && h1 >= gscore {
			gscore, gtle = h1, i
		}
		if m == 0 {
			break
		}
		if m > best {
			best, bestI, bestJ = m, i, mj
		} else if zdrop > 0 {
			di, dj := i-bestI, mj-bestJ
			if di > dj {
				if best-m-(di-dj)*s.eDel > zdrop {
					break
				}
			} else if best-m-(dj-di)*s.eIns > zdrop {
				break
			}
		}

		j = beg
		for j < end && eh[j].h == 0 && eh[j].e == 0 {
			j++
		}
		beg = j
		j = end
		for j >= beg && eh[j].h == 0 && eh[j].e == 0 {
			j--
		}
		end = min(j+2, qlen)
	}
	return extension{
		score:  best,
		qle:    bestJ + 1,
		tle:    bestI + 1,
		gtle:   gtle + 1,
		gscore: gscore,
	}
}

const negInf = math.MinInt32 / 2

// Traceback directions, one byte per band cell. The low two bits name the
// matrix the best score came from; the flags record whether the gap ending
// at the cell was opened there rather than extended.
const (
	fromDiag = iota
	fromIns
	fromDel

	fromMask = 3
	insOpen  = 4
	delOpen  = 8
)

// global aligns all of query against all of target with affine gaps inside
// a band of w diagonals and returns the score and the operations, leftmost
// first. The band is widened to the length difference so the alignment can
// always reach the end. Scores use two rows; the traceback keeps one byte
// per band cell.
func (s scoring) global(query, target []byte, w int) (int, sam.Cigar) {
	m, n := len(query), len(target)
	w = min(max(w, m-n, n-m), max(m, n))
	width := 2*w + 1
	dirs := make([]byte, (m+1)*width)
	dir := func(i, j int) *byte { return &dirs[i*width+j-i+w] }

	newRow := func() []int {
		row := make([]int, n+1)
		for j := range row {
			row[j] = negInf
		}
		return row
	}
	h, ins, del := newRow(), newRow(), newRow()
	ph, pins, pdel := newRow(), newRow(), newRow()

	// Row 0: leading deletions.
	h[0] = 0
	for j := 1; j <= min(n, w); j++ {
		del[j] = -(s.oDel + s.eDel*j)
		h[j] = del[j]
		d := byte(fromDel)
		if j == 1 {
			d |= delOpen
		}
		*dir(0, j) = d
	}

	for i := 1; i <= m; i++ {
		h, ph = ph, h
		ins, pins = pins, ins
		del, pdel = pdel, del
		lo, hi := max(0, i-w), min(n, i+w)

		if lo == 0 {
			ins[0] = -(s.oIns + s.eIns*i)
			h[0], del[0] = ins[0], negInf
			d := byte(fromIns)
			if i == 1 {
				d |= insOpen
			}
			*dir(i, 0) = d
		} else {
			h[lo-1], ins[lo-1], del[lo-1] = negInf, negInf, negInf
		}
		for j := max(lo, 1); j <= hi; j++ {
			var d byte

			openIns, extIns := ph[j]-s.oIns-s.eIns, pins[j]-s.eIns
			ins[j] = max(openIns, extIns)
			if openIns >= extIns {
				d |= insOpen
			}
			openDel, extDel := h[j-1]-s.oDel-s.eDel, del[j-1]-s.eDel
			del[j] = max(openDel, extDel)
			if openDel >= extDel {
				d |= delOpen
			}

			diag := ph[j-1] + s.score(query[i-1], target[j-1])
			switch {
			case diag >= ins[j] && diag >= del[j]:
				h[j] = diag
			case ins[j] >= del[j]:
				h[j] = ins[j]
				d |= fromIns
			default:
				h[j] = del[j]
				d |= fromDel
			}
			*dir(i, j) = d
		}
		if hi < n {
			h[hi+1], ins[hi+1], del[hi+1] = negInf, negInf, negInf
		}
	}

	var rev []sam.CigarOpType
	state := byte(fromDiag)
	i, j := m, n
	for i > 0 || j > 0 {
		d := *dir(i, j)
		switch state {
		case fromDiag:
			switch d & fromMask {
			case fromDiag:
				rev = append(rev, sam.CigarMatch)
				i, j = i-1, j-1
			default:
				state = d & fromMask
			}
		case fromIns:
			rev = append(rev, sam.CigarInsertion)
			if d&insOpen != 0 {
				state = fromDiag
			}
			i--
		case fromDel:
			rev = append(rev, sam.CigarDeletion)
			if d&delOpen != 0 {
				state = fromDiag
			}
			j--
		}
	}

	var cigar sam.Cigar
	for k := len(rev) - 1; k >= 0; {
		op, l := rev[k], 0
		for ; k >= 0 && rev[k] == op; k-- {
			l++
		}
		cigar = append(cigar, sam.NewCigarOp(op, l))
	}
	return h[n], cigar
}

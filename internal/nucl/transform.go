package nucl

// Complement returns a new sequence with every canonical base replaced by
// its pair (code 3-c) and every run symbol replaced by its IUPAC complement.
// Run offsets are unchanged. Filler and pad bits are carried over, so the
// result packs exactly like the encoded complement text.
func (s *Sequence) Complement() *Sequence {
	out := &Sequence{
		n:   s.n,
		pac: append([]byte(nil), s.pac...),
	}
	if len(s.runs) > 0 {
		out.runs = make([]Run, len(s.runs))
		for i, r := range s.runs {
			r.Symbol = ComplementSymbol(r.Symbol)
			out.runs[i] = r
		}
	}
	s.forEachBlock(func(p, q int) {
		for i := p; i < q; i++ {
			SetPackedCode(out.pac, i, 3-PackedCode(s.pac, i))
		}
	})
	return out
}

// Reverse returns a new sequence whose symbol at i is the symbol of s at
// Len()-1-i. Runs are relocated and their order reversed. Filler and pad
// codes carry no meaning and are drawn afresh.
func (s *Sequence) Reverse() *Sequence {
	out := &Sequence{
		n:   s.n,
		pac: make([]byte, len(s.pac)),
	}
	s.forEachBlock(func(p, q int) {
		for i := p; i < q; i++ {
			SetPackedCode(out.pac, s.n-1-i, PackedCode(s.pac, i))
		}
	})

	if k := len(s.runs); k > 0 {
		out.runs = make([]Run, k)
		for i, r := range s.runs {
			out.runs[k-1-i] = Run{Offset: s.n - r.End(), Len: r.Len, Symbol: r.Symbol}
		}
	}

	// Draw in ascending position order, the same order Encode uses.
	f := newFiller(len(out.runs), out.n)
	for _, r := range out.runs {
		for i := r.Offset; i < r.End(); i++ {
			SetPackedCode(out.pac, i, f.next())
		}
	}
	out.fillPadding(f)
	return out
}

// ReverseComplement returns Complement().Reverse().
func (s *Sequence) ReverseComplement() *Sequence {
	return s.Complement().Reverse()
}

package nucl

import "fmt"

// Count returns the number of positions holding symbol. Canonical symbols
// are counted over the packed codes outside runs; ambiguity symbols sum the
// lengths of runs carrying exactly that symbol.
func (s *Sequence) Count(symbol byte) (int, error) {
	code := codeTable[symbol]
	if code == invalidCode {
		return 0, fmt.Errorf("%w '%c'", ErrInvalidSymbol, symbol)
	}

	count := 0
	if code == AmbiguousCode {
		for _, r := range s.runs {
			if r.Symbol == symbol {
				count += r.Len
			}
		}
		return count, nil
	}

	s.forEachBlock(func(p, q int) {
		for i := p; i < q; i++ {
			if PackedCode(s.pac, i) == code {
				count++
			}
		}
	})
	return count, nil
}

// Content returns the fraction of positions holding symbol, or 0 for an
// empty sequence.
func (s *Sequence) Content(symbol byte) (float64, error) {
	count, err := s.Count(symbol)
	if err != nil || s.n == 0 {
		return 0, err
	}
	return float64(count) / float64(s.n), nil
}

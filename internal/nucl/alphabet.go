// Package nucl implements the packed nucleotide sequence codec.
//
// Canonical bases are stored at 2 bits per symbol, most significant pair
// first (A=00, C=01, G=10, T=11). Ambiguity codes cannot be represented in 2
// bits, so they are tracked out of band as runs of one repeated symbol; the
// packed positions underneath a run hold deterministic filler codes.
package nucl

// Alphabet lists every symbol accepted by Encode: the four canonical bases
// followed by the IUPAC ambiguity codes.
const Alphabet = "ACGTNWSMKRYBDHV"

// Wildcard is the ambiguity symbol matching any base. Symbols without a
// defined complement are complemented to Wildcard.
const Wildcard = 'N'

// AmbiguousCode is the per-position code AppendCodes emits for positions
// covered by an ambiguity run. It never equals a canonical code.
const AmbiguousCode = 4

const invalidCode = 5

var bases = [4]byte{'A', 'C', 'G', 'T'}

var (
	codeTable       [256]byte
	complementTable [256]byte
)

func init() {
	// Default to invalid, then mark the ambiguity set and the ACGT codes.
	for i := range codeTable {
		codeTable[i] = invalidCode
		complementTable[i] = Wildcard
	}
	for i := 0; i < len(Alphabet); i++ {
		codeTable[Alphabet[i]] = AmbiguousCode
	}
	for code, b := range bases {
		codeTable[b] = byte(code)
	}

	pairs := [...][2]byte{
		{'A', 'T'}, {'C', 'G'},
		{'M', 'K'}, // A/C <-> G/T
		{'R', 'Y'}, // A/G <-> C/T
		{'B', 'V'},
		{'D', 'H'},
		{'N', 'N'}, {'W', 'W'}, {'S', 'S'},
	}
	for _, p := range pairs {
		complementTable[p[0]] = p[1]
		complementTable[p[1]] = p[0]
	}
}

// IsValid reports whether c belongs to Alphabet.
func IsValid(c byte) bool {
	return codeTable[c] != invalidCode
}

// IsCanonical reports whether c is one of A, C, G or T.
func IsCanonical(c byte) bool {
	return codeTable[c] < AmbiguousCode
}

// ComplementSymbol returns the IUPAC complement of c.
func ComplementSymbol(c byte) byte {
	return complementTable[c]
}

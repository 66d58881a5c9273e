package nucl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary layout produced by MarshalBinary, little endian:
//
//	header     run count (uint32) | length (uint32)
//	run table  run count entries of offset (uint32) | len (uint32) | symbol | 3 zero bytes
//	packed     PackedLen(length) bytes
const (
	headerSize   = 8
	runEntrySize = 12
)

// ErrCorrupt reports a packed representation that violates the sequence
// invariants.
var ErrCorrupt = errors.New("corrupt packed sequence")

func runTableOffset() int { return headerSize }

func packedOffset(runCount int) int { return headerSize + runCount*runEntrySize }

// BinarySize returns the length of the MarshalBinary output.
func (s *Sequence) BinarySize() int {
	return packedOffset(len(s.runs)) + len(s.pac)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Sequence) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, s.BinarySize()))
}

// AppendBinary appends the binary form of s to dst.
func (s *Sequence) AppendBinary(dst []byte) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, s.BinarySize())...)
	buf := dst[start:]

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(s.runs))) //nolint:gosec // bounded by MaxLength
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.n))         //nolint:gosec // bounded by MaxLength
	off := runTableOffset()
	for _, r := range s.runs {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.Offset)) //nolint:gosec // bounded by MaxLength
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(r.Len))  //nolint:gosec // bounded by MaxLength
		buf[off+8] = r.Symbol
		off += runEntrySize
	}
	copy(buf[packedOffset(len(s.runs)):], s.pac)
	return dst, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The receiver is
// replaced only when data is valid.
func (s *Sequence) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	runCount := int(binary.LittleEndian.Uint32(data[0:4]))
	n := int(binary.LittleEndian.Uint32(data[4:8]))
	if n > MaxLength || runCount > n {
		return fmt.Errorf("%w: %d runs over %d symbols", ErrCorrupt, runCount, n)
	}
	if len(data) != packedOffset(runCount)+PackedLen(n) {
		return fmt.Errorf("%w: %d bytes for %d runs over %d symbols", ErrCorrupt, len(data), runCount, n)
	}

	var runs []Run
	if runCount > 0 {
		runs = make([]Run, runCount)
	}
	off := runTableOffset()
	for i := range runs {
		runs[i] = Run{
			Offset: int(binary.LittleEndian.Uint32(data[off : off+4])),
			Len:    int(binary.LittleEndian.Uint32(data[off+4 : off+8])),
			Symbol: data[off+8],
		}
		off += runEntrySize
	}

	seq, err := FromPacked(n, runs, data[packedOffset(runCount):])
	if err != nil {
		return err
	}
	*s = *seq
	return nil
}

// FromPacked builds a Sequence from its parts, validating every invariant.
// The inputs are copied.
func FromPacked(n int, runs []Run, pac []byte) (*Sequence, error) {
	if n < 0 || n > MaxLength {
		return nil, fmt.Errorf("%w: length %d", ErrCapacityExceeded, n)
	}
	if len(pac) != PackedLen(n) {
		return nil, fmt.Errorf("%w: %d packed bytes for %d symbols", ErrCorrupt, len(pac), n)
	}
	if err := validateRuns(n, runs); err != nil {
		return nil, err
	}

	s := &Sequence{n: n, pac: append([]byte(nil), pac...)}
	if len(runs) > 0 {
		s.runs = append([]Run(nil), runs...)
	}
	return s, nil
}

func validateRuns(n int, runs []Run) error {
	end := 0
	var prev byte
	for i, r := range runs {
		switch {
		case r.Len <= 0 || r.Offset < end || r.End() > n:
			return fmt.Errorf("%w: run %d [%d, %d) out of order or bounds", ErrCorrupt, i, r.Offset, r.End())
		case codeTable[r.Symbol] != AmbiguousCode:
			return fmt.Errorf("%w: run %d has non-ambiguity symbol %q", ErrCorrupt, i, r.Symbol)
		case i > 0 && r.Offset == end && r.Symbol == prev:
			return fmt.Errorf("%w: run %d continues run %d", ErrCorrupt, i, i-1)
		}
		end = r.End()
		prev = r.Symbol
	}
	return nil
}

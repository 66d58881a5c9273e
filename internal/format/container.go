// Package format defines the NSQ container for packed reference sets.
//
// A file is a FileHeader followed by blocks. Each block is a BlockHeader
// and then its compressed streams in header order: packed sequence, run
// table, names, lengths.
package format

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes identifying NSQ format.
var Magic = [4]byte{'N', 'S', 'Q', 0x00}

// ErrInvalidMagic reports input that is not an NSQ file.
var ErrInvalidMagic = errors.New("invalid magic bytes: not an NSQ file")

// Format flags.
const (
	FlagSnappy uint8 = 1 << 0 // Streams are snappy instead of zstd compressed
)

// Supported file format versions.
const (
	Version1 uint8 = 1

	CurrentVersion = Version1
)

const (
	fileHeaderSize  = 10
	blockHeaderSize = 32
)

// FileHeader is written at the start of every NSQ file.
type FileHeader struct {
	Version   uint8  // Format version
	BlockSize uint32 // Maximum number of references per block
	Flags     uint8  // Format flags
}

// Write serializes the file header to the writer.
func (h *FileHeader) Write(w io.Writer) error {
	var buf [fileHeaderSize]byte
	copy(buf[0:4], Magic[:])
	buf[4] = h.Version
	binary.LittleEndian.PutUint32(buf[5:9], h.BlockSize)
	buf[9] = h.Flags
	_, err := w.Write(buf[:])
	return err
}

// ReadFileHeader reads and validates a file header.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	var buf [fileHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return nil, err
	}
	if !IsPack(buf[:4]) {
		return nil, ErrInvalidMagic
	}
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}

	h := &FileHeader{
		Version:   buf[4],
		BlockSize: binary.LittleEndian.Uint32(buf[5:9]),
		Flags:     buf[9],
	}
	if h.Version != Version1 {
		return nil, fmt.Errorf("unsupported NSQ version %d", h.Version)
	}
	return h, nil
}

// IsPack reports whether prefix starts with the NSQ magic bytes.
func IsPack(prefix []byte) bool {
	return len(prefix) >= len(Magic) && bytes.Equal(prefix[:len(Magic)], Magic[:])
}

// BlockHeader precedes each compressed block.
type BlockHeader struct {
	NumRecords      uint32 // Number of references in this block
	SeqDataSize     uint32 // Compressed packed sequence size
	RunDataSize     uint32 // Compressed run table size
	NameDataSize    uint32 // Compressed names size
	LengthsSize     uint32 // Compressed sequence lengths size
	OriginalSeqSize uint32 // Uncompressed packed sequence size
	SeqChecksum     uint64 // Fingerprint of the uncompressed packed sequence
}

// Write serializes the block header to the writer.
func (b *BlockHeader) Write(w io.Writer) error {
	var buf [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], b.NumRecords)
	binary.LittleEndian.PutUint32(buf[4:8], b.SeqDataSize)
	binary.LittleEndian.PutUint32(buf[8:12], b.RunDataSize)
	binary.LittleEndian.PutUint32(buf[12:16], b.NameDataSize)
	binary.LittleEndian.PutUint32(buf[16:20], b.LengthsSize)
	binary.LittleEndian.PutUint32(buf[20:24], b.OriginalSeqSize)
	binary.LittleEndian.PutUint64(buf[24:32], b.SeqChecksum)
	_, err := w.Write(buf[:])
	return err
}

// ReadBlockHeader reads a block header from the reader. It returns io.EOF
// only when the input ends cleanly before the header.
func ReadBlockHeader(r io.Reader) (*BlockHeader, error) {
	var buf [blockHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	return &BlockHeader{
		NumRecords:      binary.LittleEndian.Uint32(buf[0:4]),
		SeqDataSize:     binary.LittleEndian.Uint32(buf[4:8]),
		RunDataSize:     binary.LittleEndian.Uint32(buf[8:12]),
		NameDataSize:    binary.LittleEndian.Uint32(buf[12:16]),
		LengthsSize:     binary.LittleEndian.Uint32(buf[16:20]),
		OriginalSeqSize: binary.LittleEndian.Uint32(buf[20:24]),
		SeqChecksum:     binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// StreamSizes returns the compressed stream sizes in file order.
func (b *BlockHeader) StreamSizes() [4]uint32 {
	return [4]uint32{b.SeqDataSize, b.RunDataSize, b.NameDataSize, b.LengthsSize}
}

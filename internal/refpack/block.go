package refpack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	farm "github.com/dgryski/go-farm"

	"github.com/bioseqdb/nuclseq/internal/format"
	"github.com/bioseqdb/nuclseq/internal/nucl"
)

// ErrCorrupt reports a pack whose block contents do not add up.
var ErrCorrupt = errors.New("corrupt reference pack")

const runEntrySize = 9 // offset (uint32) | len (uint32) | symbol

// reference is one named, encoded sequence.
type reference struct {
	name string
	seq  *nucl.Sequence
}

// blockBuffers holds reusable buffers for block compression.
// Pooled via sync.Pool to avoid allocations across blocks.
type blockBuffers struct {
	seqPacked []byte
	runs      []byte
	names     []byte
	lengths   []byte
	// Reusable destination slices for the compressor
	compSeq     []byte
	compRuns    []byte
	compNames   []byte
	compLengths []byte
	outputBuf   bytes.Buffer
}

var blockBufferPool = sync.Pool{
	New: func() any {
		return &blockBuffers{}
	},
}

func (b *blockBuffers) reset() {
	b.seqPacked = b.seqPacked[:0]
	b.runs = b.runs[:0]
	b.names = b.names[:0]
	b.lengths = b.lengths[:0]
	b.outputBuf.Reset()
}

// encodeBlockToBytes serializes refs as one block, header included.
func encodeBlockToBytes(refs []reference, comp compressor) ([]byte, error) {
	bufs := blockBufferPool.Get().(*blockBuffers) //nolint:errcheck // pool always returns *blockBuffers
	bufs.reset()
	defer blockBufferPool.Put(bufs)

	if err := writeBlock(refs, &bufs.outputBuf, comp, bufs); err != nil {
		return nil, err
	}
	// Copy output so the pooled buffer can be reused
	out := make([]byte, bufs.outputBuf.Len())
	copy(out, bufs.outputBuf.Bytes())
	return out, nil
}

func writeBlock(refs []reference, w io.Writer, comp compressor, bufs *blockBuffers) error {
	var u32 [4]byte

	for _, ref := range refs {
		bufs.seqPacked = append(bufs.seqPacked, ref.seq.Packed()...)

		runs := ref.seq.Runs()
		binary.LittleEndian.PutUint32(u32[:], uint32(len(runs))) //nolint:gosec // bounded by nucl.MaxLength
		bufs.runs = append(bufs.runs, u32[:]...)
		for _, r := range runs {
			bufs.runs = binary.LittleEndian.AppendUint32(bufs.runs, uint32(r.Offset)) //nolint:gosec // bounded by nucl.MaxLength
			bufs.runs = binary.LittleEndian.AppendUint32(bufs.runs, uint32(r.Len))    //nolint:gosec // bounded by nucl.MaxLength
			bufs.runs = append(bufs.runs, r.Symbol)
		}

		// Names carry a length prefix so they may contain any byte.
		binary.LittleEndian.PutUint32(u32[:], uint32(len(ref.name))) //nolint:gosec // header lines are short
		bufs.names = append(bufs.names, u32[:]...)
		bufs.names = append(bufs.names, ref.name...)

		binary.LittleEndian.PutUint32(u32[:], uint32(ref.seq.Len())) //nolint:gosec // bounded by nucl.MaxLength
		bufs.lengths = append(bufs.lengths, u32[:]...)
	}

	bufs.compSeq = comp.compress(bufs.compSeq, bufs.seqPacked)
	bufs.compRuns = comp.compress(bufs.compRuns, bufs.runs)
	bufs.compNames = comp.compress(bufs.compNames, bufs.names)
	bufs.compLengths = comp.compress(bufs.compLengths, bufs.lengths)

	//nolint:gosec // All lengths are bounded by block size and data sizes
	blockHeader := format.BlockHeader{
		NumRecords:      uint32(len(refs)),
		SeqDataSize:     uint32(len(bufs.compSeq)),
		RunDataSize:     uint32(len(bufs.compRuns)),
		NameDataSize:    uint32(len(bufs.compNames)),
		LengthsSize:     uint32(len(bufs.compLengths)),
		OriginalSeqSize: uint32(len(bufs.seqPacked)),
		SeqChecksum:     farm.Fingerprint64(bufs.seqPacked),
	}
	if err := blockHeader.Write(w); err != nil {
		return err
	}

	for _, data := range [][]byte{bufs.compSeq, bufs.compRuns, bufs.compNames, bufs.compLengths} {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// rawBlock is a block as read from the file, still compressed.
type rawBlock struct {
	header  *format.BlockHeader
	streams [4][]byte // seq, runs, names, lengths
}

// readRawBlock reads the next block. It returns io.EOF at a clean end of
// input.
func readRawBlock(r io.Reader) (rawBlock, error) {
	header, err := format.ReadBlockHeader(r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return rawBlock{}, fmt.Errorf("reading block header: %w", err)
		}
		return rawBlock{}, err
	}

	b := rawBlock{header: header}
	for i, size := range header.StreamSizes() {
		b.streams[i] = make([]byte, size)
		if _, err := io.ReadFull(r, b.streams[i]); err != nil {
			return rawBlock{}, fmt.Errorf("reading compressed data: %w", noEOF(err))
		}
	}
	return b, nil
}

// noEOF turns a clean EOF inside a block into an unexpected one.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// blockReader tracks offsets while reading decompressed block data.
type blockReader struct {
	seqData    []byte
	runData    []byte
	nameData   []byte
	lengthData []byte

	seqOffset    int
	runOffset    int
	nameOffset   int
	lengthOffset int
}

// decodeBlock decompresses and parses a raw block.
func decodeBlock(b rawBlock, dec decompressor) ([]reference, error) {
	var data [4][]byte
	names := [4]string{"sequences", "runs", "names", "lengths"}
	for i, stream := range b.streams {
		out, err := dec.decompress(nil, stream)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", names[i], err)
		}
		data[i] = out
	}

	if len(data[0]) != int(b.header.OriginalSeqSize) {
		return nil, fmt.Errorf("%w: %d sequence bytes, header says %d", ErrCorrupt, len(data[0]), b.header.OriginalSeqSize)
	}
	if farm.Fingerprint64(data[0]) != b.header.SeqChecksum {
		return nil, fmt.Errorf("%w: sequence checksum mismatch", ErrCorrupt)
	}

	// Every reference stores a 4-byte length.
	if int(b.header.NumRecords) > len(data[3])/4 {
		return nil, fmt.Errorf("%w: %d references, %d length bytes", ErrCorrupt, b.header.NumRecords, len(data[3]))
	}

	br := &blockReader{seqData: data[0], runData: data[1], nameData: data[2], lengthData: data[3]}
	refs := make([]reference, b.header.NumRecords)
	for i := range refs {
		ref, err := br.readReference()
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	if br.seqOffset != len(br.seqData) || br.runOffset != len(br.runData) ||
		br.nameOffset != len(br.nameData) || br.lengthOffset != len(br.lengthData) {
		return nil, fmt.Errorf("%w: trailing block data", ErrCorrupt)
	}
	return refs, nil
}

func (br *blockReader) readReference() (reference, error) {
	n, err := readUint32(br.lengthData, &br.lengthOffset, "length")
	if err != nil {
		return reference{}, err
	}

	nameLen, err := readUint32(br.nameData, &br.nameOffset, "name")
	if err != nil {
		return reference{}, err
	}
	if br.nameOffset+nameLen > len(br.nameData) {
		return reference{}, fmt.Errorf("%w: truncated name data", ErrCorrupt)
	}
	name := string(br.nameData[br.nameOffset : br.nameOffset+nameLen])
	br.nameOffset += nameLen

	runCount, err := readUint32(br.runData, &br.runOffset, "run")
	if err != nil {
		return reference{}, err
	}
	if runCount > n || br.runOffset+runCount*runEntrySize > len(br.runData) {
		return reference{}, fmt.Errorf("%w: truncated run data", ErrCorrupt)
	}
	var runs []nucl.Run
	if runCount > 0 {
		runs = make([]nucl.Run, runCount)
	}
	for i := range runs {
		off := br.runOffset
		runs[i] = nucl.Run{
			Offset: int(binary.LittleEndian.Uint32(br.runData[off : off+4])),
			Len:    int(binary.LittleEndian.Uint32(br.runData[off+4 : off+8])),
			Symbol: br.runData[off+8],
		}
		br.runOffset += runEntrySize
	}

	packedLen := nucl.PackedLen(n)
	if br.seqOffset+packedLen > len(br.seqData) {
		return reference{}, fmt.Errorf("%w: truncated sequence data", ErrCorrupt)
	}
	seq, err := nucl.FromPacked(n, runs, br.seqData[br.seqOffset:br.seqOffset+packedLen])
	if err != nil {
		return reference{}, fmt.Errorf("reference %q: %w", name, err)
	}
	br.seqOffset += packedLen
	return reference{name: name, seq: seq}, nil
}

func readUint32(data []byte, offset *int, what string) (int, error) {
	if *offset+4 > len(data) {
		return 0, fmt.Errorf("%w: truncated %s data", ErrCorrupt, what)
	}
	v := int(binary.LittleEndian.Uint32(data[*offset : *offset+4]))
	*offset += 4
	return v, nil
}

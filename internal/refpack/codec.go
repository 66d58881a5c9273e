package refpack

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/bioseqdb/nuclseq/internal/format"
)

// compressor compresses one stream, reusing dst when it is large enough.
type compressor interface {
	compress(dst, src []byte) []byte
	close()
}

type decompressor interface {
	decompress(dst, src []byte) ([]byte, error)
	close()
}

type zstdCompressor struct{ enc *zstd.Encoder }

func (z zstdCompressor) compress(dst, src []byte) []byte { return z.enc.EncodeAll(src, dst[:0]) }
func (z zstdCompressor) close()                          { _ = z.enc.Close() }

type zstdDecompressor struct{ dec *zstd.Decoder }

func (z zstdDecompressor) decompress(dst, src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, dst[:0])
}
func (z zstdDecompressor) close() { z.dec.Close() }

type snappyCodec struct{}

func (snappyCodec) compress(dst, src []byte) []byte { return snappy.Encode(dst[:cap(dst)], src) }
func (snappyCodec) decompress(dst, src []byte) ([]byte, error) {
	return snappy.Decode(dst[:cap(dst)], src)
}
func (snappyCodec) close() {}

func newCompressor(flags uint8) (compressor, error) {
	if flags&format.FlagSnappy != 0 {
		return snappyCodec{}, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return zstdCompressor{enc: enc}, nil
}

func newDecompressor(flags uint8) (decompressor, error) {
	if flags&format.FlagSnappy != 0 {
		return snappyCodec{}, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return zstdDecompressor{dec: dec}, nil
}

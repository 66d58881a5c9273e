// Package refpack encodes FASTA reference sets in parallel and stores them
// in the NSQ container.
package refpack

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/grailbio/base/log"

	"github.com/bioseqdb/nuclseq/internal/format"
	"github.com/bioseqdb/nuclseq/internal/nucl"
	"github.com/bioseqdb/nuclseq/internal/parser"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

// DefaultBlockSize is the default number of references per block.
const DefaultBlockSize = 1024

// DefaultLineWidth is the default FASTA line width of WriteFASTA.
const DefaultLineWidth = 60

// Options configures packing and collecting.
type Options struct {
	BlockSize uint32 // References per block (default: 1024)
	Workers   int    // Number of parallel encoding workers (default: NumCPU)
	Snappy    bool   // Compress with snappy instead of zstd
	Uppercase bool   // Uppercase sequence text before encoding
}

// UnpackOptions configures reading a pack.
type UnpackOptions struct {
	Workers   int // Number of parallel decoding workers (default: NumCPU)
	LineWidth int // FASTA line width for WriteFASTA (default: 60)
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return opts
}

func (o *UnpackOptions) withDefaults() UnpackOptions {
	opts := UnpackOptions{}
	if o != nil {
		opts = *o
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.LineWidth <= 0 {
		opts.LineWidth = DefaultLineWidth
	}
	return opts
}

// ID returns the reference id for a FASTA header: its first word.
func ID(name string) string {
	rec := parser.Record{Name: name}
	return rec.ID()
}

// encodeBatch encodes every record of a batch.
func encodeBatch(recs []*parser.Record) ([]reference, error) {
	refs := make([]reference, len(recs))
	for i, rec := range recs {
		seq, err := nucl.Encode(rec.Sequence)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", rec.ID(), err)
		}
		refs[i] = reference{name: rec.Name, seq: seq}
	}
	return refs, nil
}

// produceBatches emits FASTA batches of blockSize records.
func produceBatches(r io.Reader, opts Options) func(context.Context, func([]*parser.Record) error) error {
	p := parser.NewWithOptions(r, &parser.Options{Format: parser.FASTA, Uppercase: opts.Uppercase})
	return func(_ context.Context, emit func([]*parser.Record) error) error {
		for {
			batch, err := p.NextBatch(int(opts.BlockSize))
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("parsing FASTA: %w", err)
			}
			if len(batch) == 0 {
				return nil
			}
			if err := emit(batch); err != nil {
				return err
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
		}
	}
}

type packedBlock struct {
	data  []byte
	refs  int
	bases int
}

// Pack reads FASTA from r and writes an NSQ pack to w.
func Pack(r io.Reader, w io.Writer, opts *Options) error {
	o := opts.withDefaults()

	header := format.FileHeader{
		Version:   format.CurrentVersion,
		BlockSize: o.BlockSize,
	}
	if o.Snappy {
		header.Flags |= format.FlagSnappy
	}
	if err := header.Write(w); err != nil {
		return fmt.Errorf("writing file header: %w", err)
	}

	newWorker := func() (worker[[]*parser.Record, packedBlock], error) {
		comp, err := newCompressor(header.Flags)
		if err != nil {
			return worker[[]*parser.Record, packedBlock]{}, err
		}
		return worker[[]*parser.Record, packedBlock]{
			work: func(recs []*parser.Record) (packedBlock, error) {
				refs, err := encodeBatch(recs)
				if err != nil {
					return packedBlock{}, err
				}
				data, err := encodeBlockToBytes(refs, comp)
				if err != nil {
					return packedBlock{}, err
				}
				b := packedBlock{data: data, refs: len(refs)}
				for _, ref := range refs {
					b.bases += ref.seq.Len()
				}
				return b, nil
			},
			done: comp.close,
		}, nil
	}

	var refs, bases, written int
	deliver := func(b packedBlock) error {
		if _, err := w.Write(b.data); err != nil {
			return fmt.Errorf("writing block: %w", err)
		}
		refs += b.refs
		bases += b.bases
		written += len(b.data)
		return nil
	}

	if err := runOrdered(context.Background(), o.Workers, produceBatches(r, o), newWorker, deliver); err != nil {
		return err
	}
	log.Printf("refpack: packed %d references, %d bases into %d block bytes", refs, bases, written)
	return nil
}

// Collect reads FASTA from r and encodes it straight into a Collector.
// References are named by the first word of their header.
func Collect(r io.Reader, opts *Options) (*refset.Collector, error) {
	o := opts.withDefaults()
	c := refset.New()

	newWorker := func() (worker[[]*parser.Record, []reference], error) {
		return worker[[]*parser.Record, []reference]{work: encodeBatch, done: func() {}}, nil
	}
	deliver := func(refs []reference) error {
		return addAll(c, refs)
	}
	if err := runOrdered(context.Background(), o.Workers, produceBatches(r, o), newWorker, deliver); err != nil {
		return nil, err
	}
	log.Debug.Printf("refpack: collected %d references, %d bases", c.Count(), c.Len())
	return c, nil
}

func addAll(c *refset.Collector, refs []reference) error {
	for _, ref := range refs {
		if err := c.Add(ID(ref.name), ref.seq); err != nil {
			return err
		}
	}
	return nil
}

// readBlocks decodes the blocks of a pack in parallel and hands them to
// deliver in file order.
func readBlocks(r io.Reader, opts UnpackOptions, deliver func([]reference) error) error {
	header, err := format.ReadFileHeader(r)
	if err != nil {
		return fmt.Errorf("reading file header: %w", err)
	}

	produce := func(_ context.Context, emit func(rawBlock) error) error {
		for {
			b, err := readRawBlock(r)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := emit(b); err != nil {
				return err
			}
		}
	}
	newWorker := func() (worker[rawBlock, []reference], error) {
		dec, err := newDecompressor(header.Flags)
		if err != nil {
			return worker[rawBlock, []reference]{}, err
		}
		return worker[rawBlock, []reference]{
			work: func(b rawBlock) ([]reference, error) { return decodeBlock(b, dec) },
			done: dec.close,
		}, nil
	}
	return runOrdered(context.Background(), opts.Workers, produce, newWorker, deliver)
}

// Unpack reads an NSQ pack and rebuilds the reference set in file order.
func Unpack(r io.Reader, opts *UnpackOptions) (*refset.Collector, error) {
	c := refset.New()
	if err := readBlocks(r, opts.withDefaults(), func(refs []reference) error {
		return addAll(c, refs)
	}); err != nil {
		return nil, err
	}
	log.Debug.Printf("refpack: unpacked %d references, %d bases", c.Count(), c.Len())
	return c, nil
}

// WriteFASTA reads an NSQ pack from r and writes it to w as FASTA.
func WriteFASTA(r io.Reader, w io.Writer, opts *UnpackOptions) error {
	o := opts.withDefaults()
	bw := bufio.NewWriterSize(w, 1<<20)
	var text []byte

	err := readBlocks(r, o, func(refs []reference) error {
		for _, ref := range refs {
			bw.WriteByte('>')
			bw.WriteString(ref.name)
			bw.WriteByte('\n')
			text = ref.seq.AppendText(text[:0])
			for i := 0; i < len(text); i += o.LineWidth {
				bw.Write(text[i:min(i+o.LineWidth, len(text))])
				bw.WriteByte('\n')
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

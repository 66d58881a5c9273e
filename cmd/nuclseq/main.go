// nuclseq aligns nucleotide queries against a reference set and converts
// reference FASTA files to and from the NSQ pack format.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"

	"github.com/bioseqdb/nuclseq/internal/engine"
	"github.com/bioseqdb/nuclseq/internal/format"
	"github.com/bioseqdb/nuclseq/internal/index"
	"github.com/bioseqdb/nuclseq/internal/parser"
	"github.com/bioseqdb/nuclseq/internal/refpack"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type config struct {
	pack       bool
	unpack     bool
	refFile    string
	queryFile  string
	outputFile string
	blockSize  uint
	workers    int
	codec      string
	upper      bool
	seed       uint64
	engine     engine.Options
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, done, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	if done {
		return exitSuccess
	}

	output, cleanup, err := openOutput(cfg.outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	defer cleanup()

	if err := execute(context.Background(), cfg, output); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	return exitSuccess
}

func parseFlags(args []string) (config, bool, error) {
	cfg := config{engine: engine.DefaultOptions()}
	var showVersion, showHelp bool

	fs := flag.NewFlagSet("nuclseq", flag.ContinueOnError)
	fs.BoolVar(&cfg.pack, "pack", false, "pack reference FASTA into NSQ")
	fs.BoolVar(&cfg.unpack, "unpack", false, "unpack NSQ reference into FASTA")
	fs.StringVar(&cfg.refFile, "r", "", "reference file: FASTA, FASTA.gz or NSQ pack")
	fs.StringVar(&cfg.queryFile, "q", "", "query FASTA/FASTQ file (default: stdin)")
	fs.StringVar(&cfg.outputFile, "o", "", "output file (default: stdout)")
	fs.UintVar(&cfg.blockSize, "b", refpack.DefaultBlockSize, "references per pack block")
	fs.IntVar(&cfg.workers, "w", 0, "workers (default: NumCPU)")
	fs.StringVar(&cfg.codec, "codec", "zstd", "pack block codec: zstd or snappy")
	fs.BoolVar(&cfg.upper, "upper", true, "uppercase input sequences")
	fs.Uint64Var(&cfg.seed, "seed", engine.DefaultSeed, "engine seed")
	fs.IntVar(&cfg.engine.MinSeedLen, "k", cfg.engine.MinSeedLen, "minimum seed length")
	fs.IntVar(&cfg.engine.MaxOcc, "c", cfg.engine.MaxOcc, "skip seeds with more occurrences (0: scale with references)")
	fs.IntVar(&cfg.engine.MatchScore, "A", cfg.engine.MatchScore, "match score")
	fs.IntVar(&cfg.engine.MismatchPenalty, "B", cfg.engine.MismatchPenalty, "mismatch penalty")
	fs.IntVar(&cfg.engine.ODel, "O", cfg.engine.ODel, "gap open penalty")
	fs.IntVar(&cfg.engine.EDel, "E", cfg.engine.EDel, "gap extension penalty")
	fs.IntVar(&cfg.engine.PenClip5, "L", cfg.engine.PenClip5, "clipping penalty")
	fs.IntVar(&cfg.engine.Bandwidth, "bw", cfg.engine.Bandwidth, "band width")
	fs.IntVar(&cfg.engine.ZDrop, "d", cfg.engine.ZDrop, "z-drop")
	fs.IntVar(&cfg.engine.MinScore, "T", cfg.engine.MinScore, "minimum score to output")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")
	fs.BoolVar(&showHelp, "h", false, "show help")

	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}

	if showHelp {
		fs.Usage()
		return cfg, true, nil
	}

	if showVersion {
		fmt.Printf("nuclseq version %s\n", version)
		return cfg, true, nil
	}

	// Insertions share the deletion penalties and both ends share one
	// clipping penalty.
	cfg.engine.OIns, cfg.engine.EIns = cfg.engine.ODel, cfg.engine.EDel
	cfg.engine.PenClip3 = cfg.engine.PenClip5

	// Handle positional arguments
	rest := fs.Args()
	if len(rest) > 0 && cfg.refFile == "" {
		cfg.refFile = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 && cfg.queryFile == "" {
		cfg.queryFile = rest[0]
	}

	switch {
	case cfg.pack && cfg.unpack:
		return cfg, false, errors.New("-pack and -unpack are mutually exclusive")
	case cfg.codec != "zstd" && cfg.codec != "snappy":
		return cfg, false, fmt.Errorf("unknown codec %q", cfg.codec)
	case cfg.refFile == "" && !cfg.pack && !cfg.unpack:
		return cfg, false, errors.New("a reference file is required (-r)")
	}
	return cfg, false, nil
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `nuclseq - nucleotide sequence aligner

Usage:
  nuclseq [options] -r ref.fa [-q queries.fq] [-o hits.tsv]   Align queries
  nuclseq -pack [-r ref.fa] [-o ref.nsq]                     Pack reference
  nuclseq -unpack [-r ref.nsq] [-o ref.fa]                   Unpack reference

Options:
`)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  nuclseq -pack -r hg38.fa.gz -o hg38.nsq         Pack a reference
  nuclseq -r hg38.nsq -q reads.fq -o hits.tsv     Align reads against a pack
  zcat reads.fq.gz | nuclseq -r amplicons.fa      Align from stdin
`)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return wrapInputMaybeGzip(path, os.Stdin, func() {})
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	return wrapInputMaybeGzip(path, f, func() { _ = f.Close() })
}

// wrapInputMaybeGzip buffers in and transparently gunzips it when the name
// or the magic bytes say so. The returned reader is always a *bufio.Reader
// so callers can sniff the content.
func wrapInputMaybeGzip(path string, in io.Reader, closeInput func()) (*bufio.Reader, func(), error) {
	br := bufio.NewReaderSize(in, 1<<20)
	hasGzipMagic, err := hasMagic(br, []byte{0x1f, 0x8b})
	if err != nil {
		closeInput()
		return nil, nil, fmt.Errorf("cannot inspect input: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".gz") || hasGzipMagic {
		gz, err := gzip.NewReader(br)
		if err != nil {
			closeInput()
			return nil, nil, fmt.Errorf("cannot open gzip input: %w", err)
		}
		return bufio.NewReaderSize(gz, 1<<20), func() {
			_ = gz.Close()
			closeInput()
		}, nil
	}

	return br, closeInput, nil
}

func hasMagic(br *bufio.Reader, magic []byte) (bool, error) {
	header, err := br.Peek(len(magic))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return string(header) == string(magic), nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, func() { _ = bw.Flush() }, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() { _ = bw.Flush(); _ = f.Close() }, nil
}

func (cfg config) packOptions() *refpack.Options {
	return &refpack.Options{
		BlockSize: uint32(cfg.blockSize), //nolint:gosec // bounded by flag default
		Workers:   cfg.workers,
		Snappy:    cfg.codec == "snappy",
		Uppercase: cfg.upper,
	}
}

func execute(ctx context.Context, cfg config, output io.Writer) error {
	ref, cleanup, err := openInput(cfg.refFile)
	if err != nil {
		return err
	}
	defer cleanup()

	switch {
	case cfg.pack:
		return refpack.Pack(ref, output, cfg.packOptions())
	case cfg.unpack:
		return refpack.WriteFASTA(ref, output, &refpack.UnpackOptions{Workers: cfg.workers})
	}

	c, err := loadReferences(ref, cfg)
	if err != nil {
		return err
	}
	queries, cleanup, err := openInput(cfg.queryFile)
	if err != nil {
		return err
	}
	defer cleanup()

	return align(ctx, cfg, c, queries, output)
}

// loadReferences reads a pack or FASTA, whichever the content turns out to
// be.
func loadReferences(br *bufio.Reader, cfg config) (*refset.Collector, error) {
	prefix, err := br.Peek(len(format.Magic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot inspect reference: %w", err)
	}
	if format.IsPack(prefix) {
		return refpack.Unpack(br, &refpack.UnpackOptions{Workers: cfg.workers})
	}
	return refpack.Collect(br, cfg.packOptions())
}

func align(ctx context.Context, cfg config, c *refset.Collector, queries io.Reader, output io.Writer) error {
	e, err := engine.NewSuffixEngine(cfg.engine)
	if err != nil {
		return err
	}
	x, err := index.Build(c, e, &index.Options{Seed: cfg.seed})
	if err != nil {
		return err
	}
	defer func() {
		if err := x.Close(); err != nil {
			log.Error.Printf("closing index: %v", err)
		}
	}()

	p := parser.NewWithOptions(queries, &parser.Options{Uppercase: cfg.upper})
	next := func() (index.Query, error) {
		rec, err := p.Next()
		if err != nil {
			return index.Query{}, err
		}
		return index.Query{ID: rec.ID(), Text: rec.Sequence}, nil
	}

	w := tsv.NewWriter(output)
	writeHeader(w)
	if err := w.EndLine(); err != nil {
		return err
	}
	var queryCount, matchCount int
	err = x.AlignStream(ctx, next, func(r index.Result) error {
		queryCount++
		matchCount += len(r.Matches)
		return writeResult(w, r)
	}, cfg.workers)
	if err != nil {
		return err
	}
	log.Printf("nuclseq: %d queries, %d matches", queryCount, matchCount)
	return w.Flush()
}

func writeHeader(w *tsv.Writer) {
	w.WriteString("#QUERY\tQBEGIN\tQEND\tQLEN\tREF\tRBEGIN\tREND\tRLEN\tSTRAND\tPRIMARY\tCIGAR\tSCORE\tQSEQ\tRSEQ")
}

func writeResult(w *tsv.Writer, r index.Result) error {
	for i := range r.Matches {
		m := &r.Matches[i]
		w.WriteString(r.QueryID)
		w.WriteUint32(uint32(m.QueryBegin)) //nolint:gosec // positions are bounded by nucl.MaxLength
		w.WriteUint32(uint32(m.QueryEnd))   //nolint:gosec // positions are bounded by nucl.MaxLength
		w.WriteUint32(uint32(m.QueryLen())) //nolint:gosec // positions are bounded by nucl.MaxLength
		w.WriteString(m.RefID)
		w.WriteUint32(uint32(m.RefBegin)) //nolint:gosec // positions are bounded by nucl.MaxLength
		w.WriteUint32(uint32(m.RefEnd))   //nolint:gosec // positions are bounded by nucl.MaxLength
		w.WriteUint32(uint32(m.RefLen())) //nolint:gosec // positions are bounded by nucl.MaxLength
		if m.Reverse {
			w.WriteByte('-')
		} else {
			w.WriteByte('+')
		}
		if m.Primary {
			w.WriteByte('1')
		} else {
			w.WriteByte('0')
		}
		w.WriteString(m.Cigar)
		w.WriteInt64(int64(m.Score))
		w.WriteString(m.QuerySubseq)
		w.WriteString(m.RefSubseq)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

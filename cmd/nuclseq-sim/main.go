// nuclseq-sim samples reads from a reference FASTA for benchmarking the
// aligner.
//
// Every read name records where it was drawn from as ref:pos:strand, with
// pos the zero based start on the forward strand, so alignment output can be
// checked against the truth.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"

	"github.com/bioseqdb/nuclseq/internal/nucl"
	"github.com/bioseqdb/nuclseq/internal/refpack"
	"github.com/bioseqdb/nuclseq/internal/refset"
)

type simOptions struct {
	reads    int
	length   int
	subRate  float64
	revRate  float64
	fastq    bool
	attempts int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		inputFile  = flag.String("i", "", "reference FASTA file (supports .gz)")
		outputFile = flag.String("o", "", "output file (default: stdout)")
		seed       = flag.Uint64("seed", 42, "random seed for reproducibility")
		opts       simOptions
	)
	flag.IntVar(&opts.reads, "n", 1000, "number of reads")
	flag.IntVar(&opts.length, "l", 150, "read length")
	flag.Float64Var(&opts.subRate, "s", 0.01, "substitution rate")
	flag.Float64Var(&opts.revRate, "rc", 0.5, "fraction of reads taken from the reverse strand")
	flag.BoolVar(&opts.fastq, "fastq", false, "write FASTQ instead of FASTA")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `nuclseq-sim - Simulate reads from a reference

Samples fixed-length reads uniformly over the reference bases, optionally
reverse complements them and introduces random substitutions.

Usage:
  nuclseq-sim -i ref.fa.gz -n 100000 -l 150 -o reads.fa
  zcat ref.fa.gz | nuclseq-sim -fastq > reads.fq

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	// Handle positional argument
	if *inputFile == "" && flag.NArg() > 0 {
		*inputFile = flag.Arg(0)
	}

	reader, cleanup, err := openInput(*inputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	c, err := refpack.Collect(reader, &refpack.Options{Uppercase: true})
	if err != nil {
		return err
	}

	writer, cleanup, err := openOutput(*outputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	// Create deterministic RNG for reproducible sampling
	//nolint:gosec // intentionally using math/rand for reproducibility, not security
	rng := rand.New(rand.NewPCG(*seed, *seed))

	return simulate(c, writer, rng, opts)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gz, func() { _ = gz.Close(); _ = f.Close() }, nil
	}

	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("creating output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// simulate writes opts.reads reads drawn from c. Start positions are uniform
// over all reference bases; draws whose read would run past the end of its
// reference are retried.
func simulate(c *refset.Collector, w io.Writer, rng *rand.Rand, opts simOptions) error {
	if opts.length <= 0 {
		return errors.New("read length must be positive")
	}
	if opts.attempts <= 0 {
		opts.attempts = 1000
	}
	_, descs, _ := c.Finalize()
	fits := false
	for _, d := range descs {
		fits = fits || d.Len >= opts.length
	}
	if !fits {
		return fmt.Errorf("no reference is at least %d bases long", opts.length)
	}

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	refs := make([]*nucl.Sequence, len(descs))
	quals := strings.Repeat("I", opts.length)
	var subs int
	for n := 0; n < opts.reads; n++ {
		k, pos, err := drawStart(c, descs, rng, opts)
		if err != nil {
			return err
		}
		if refs[k] == nil {
			if refs[k], err = c.Reference(k); err != nil {
				return err
			}
		}

		strand := '+'
		read := refs[k]
		text := read.Substring(pos, pos+opts.length)
		if rng.Float64() < opts.revRate {
			strand = '-'
			seq, err := nucl.EncodeString(text)
			if err != nil {
				return err
			}
			text = seq.ReverseComplement().String()
		}
		mutated, s := substitute([]byte(text), opts.subRate, rng)
		subs += s

		if opts.fastq {
			fmt.Fprintf(bw, "@%s:%d:%c\n%s\n+\n%s\n", descs[k].ID, pos, strand, mutated, quals)
		} else {
			fmt.Fprintf(bw, ">%s:%d:%c\n%s\n", descs[k].ID, pos, strand, mutated)
		}
	}
	log.Printf("nuclseq-sim: %d reads of %d bases, %d substitutions", opts.reads, opts.length, subs)
	return bw.Flush()
}

func drawStart(c *refset.Collector, descs []refset.Descriptor, rng *rand.Rand, opts simOptions) (int, int, error) {
	for range opts.attempts {
		k, ok := c.Locate(rng.IntN(c.Len()))
		if !ok {
			continue
		}
		d := descs[k]
		if d.Len < opts.length {
			continue
		}
		return k, rng.IntN(d.Len - opts.length + 1), nil
	}
	return 0, 0, fmt.Errorf("no read start found in %d attempts", opts.attempts)
}

// substitute replaces canonical bases of read with a different canonical base
// at the given rate. Ambiguity symbols are kept.
func substitute(read []byte, rate float64, rng *rand.Rand) ([]byte, int) {
	n := 0
	for i, b := range read {
		if !nucl.IsCanonical(b) || rng.Float64() >= rate {
			continue
		}
		alt := "ACGT"[rng.IntN(3)]
		if alt >= b {
			alt = "ACGT"[strings.IndexByte("ACGT", alt)+1]
		}
		read[i] = alt
		n++
	}
	return read, n
}

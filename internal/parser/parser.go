// Package parser reads FASTA and FASTQ records.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Record is one named sequence.
type Record struct {
	Name     string // Header line without the leading '>' or '@'
	Sequence []byte // Sequence text, lines joined
}

// ID returns the first whitespace-delimited word of the name.
func (r *Record) ID() string {
	if i := strings.IndexAny(r.Name, " \t"); i >= 0 {
		return r.Name[:i]
	}
	return r.Name
}

// Format is the input file format.
type Format int

// Input formats. Unknown is detected from the first record marker.
const (
	Unknown Format = iota
	FASTA
	FASTQ
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FASTA:
		return "FASTA"
	case FASTQ:
		return "FASTQ"
	}
	return "unknown"
}

// Options configures a Parser.
type Options struct {
	Format    Format // Input format (default: detect)
	Uppercase bool   // Convert lowercase ASCII letters in sequences
}

// Parser reads records from an input stream.
type Parser struct {
	reader *bufio.Reader
	line   []byte // reusable buffer for reading lines
	opts   Options
}

// New creates a parser that detects the input format.
func New(r io.Reader) *Parser {
	return NewWithOptions(r, nil)
}

// NewWithOptions creates a parser configured by opts.
func NewWithOptions(r io.Reader, opts *Options) *Parser {
	if opts == nil {
		opts = &Options{}
	}
	return &Parser{
		reader: bufio.NewReaderSize(r, 1<<20), // 1MB buffer
		line:   make([]byte, 0, 512),
		opts:   *opts,
	}
}

// Format returns the input format, detecting it if necessary. Detection
// consumes leading blank lines only.
func (p *Parser) Format() (Format, error) {
	if p.opts.Format != Unknown {
		return p.opts.Format, nil
	}
	for {
		c, err := p.reader.Peek(1)
		if err != nil {
			return Unknown, err
		}
		switch c[0] {
		case '>':
			p.opts.Format = FASTA
			return FASTA, nil
		case '@':
			p.opts.Format = FASTQ
			return FASTQ, nil
		case '\n', '\r':
			_, _ = p.reader.ReadByte()
		default:
			return Unknown, fmt.Errorf("unrecognized input: record must start with '>' or '@', found %q", c[0])
		}
	}
}

// Next reads and returns the next record.
// Returns io.EOF when no more records are available.
func (p *Parser) Next() (*Record, error) {
	rec := &Record{}
	if _, err := p.nextInto(rec, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// NextBatch reads up to n records into a batch.
// If fewer than n records are available, returns what's available.
func (p *Parser) NextBatch(n int) ([]*Record, error) {
	// Pre-allocate a contiguous slab of Records (1 allocation instead of n)
	slab := make([]Record, n)
	batch := make([]*Record, 0, n)

	// Sequence data for the whole batch shares one backing buffer.
	dataBuf := make([]byte, 0, n*160)

	for i := 0; i < n; i++ {
		var err error
		dataBuf, err = p.nextInto(&slab[i], dataBuf)
		if err != nil {
			if errors.Is(err, io.EOF) && len(batch) > 0 {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, &slab[i])
	}
	return batch, nil
}

// nextInto parses one record into rec, appending its sequence to dataBuf
// and slicing from it. Returns the updated dataBuf.
func (p *Parser) nextInto(rec *Record, dataBuf []byte) ([]byte, error) {
	format, err := p.Format()
	if err != nil {
		return dataBuf, err
	}
	seqStart := len(dataBuf)
	if format == FASTA {
		dataBuf, err = p.nextFASTA(rec, dataBuf)
	} else {
		dataBuf, err = p.nextFASTQ(rec, dataBuf)
	}
	if err != nil {
		return dataBuf, err
	}
	rec.Sequence = dataBuf[seqStart:len(dataBuf):len(dataBuf)]
	if p.opts.Uppercase {
		toUpper(rec.Sequence)
	}
	return dataBuf, nil
}

func (p *Parser) nextFASTA(rec *Record, dataBuf []byte) ([]byte, error) {
	line, err := p.readNonEmptyLine()
	if err != nil {
		return dataBuf, err
	}
	if line[0] != '>' {
		return dataBuf, errors.New("invalid FASTA: header line must start with >")
	}
	rec.Name = string(line[1:])

	// Sequence lines run up to the next header.
	for {
		c, err := p.reader.Peek(1)
		if errors.Is(err, io.EOF) {
			return dataBuf, nil
		}
		if err != nil {
			return dataBuf, err
		}
		if c[0] == '>' {
			return dataBuf, nil
		}
		line, err = p.readLine()
		if err != nil {
			return dataBuf, err
		}
		dataBuf = append(dataBuf, bytes.TrimRight(line, " \t")...)
	}
}

func (p *Parser) nextFASTQ(rec *Record, dataBuf []byte) ([]byte, error) {
	// Line 1: Header (starts with @)
	line, err := p.readNonEmptyLine()
	if err != nil {
		return dataBuf, err
	}
	if line[0] != '@' {
		return dataBuf, errors.New("invalid FASTQ: header line must start with @")
	}
	rec.Name = string(line[1:])

	// Line 2: Sequence
	line, err = p.readLine()
	if err != nil {
		return dataBuf, truncated(err)
	}
	dataBuf = append(dataBuf, line...)
	seqLen := len(line)

	// Line 3: Plus line (we ignore it)
	line, err = p.readLine()
	if err != nil {
		return dataBuf, truncated(err)
	}
	if len(line) == 0 || line[0] != '+' {
		return dataBuf, errors.New("invalid FASTQ: separator line must start with +")
	}

	// Line 4: Quality scores, only checked for length
	line, err = p.readLine()
	if err != nil {
		return dataBuf, truncated(err)
	}
	if len(line) != seqLen {
		return dataBuf, errors.New("invalid FASTQ: sequence and quality lengths must match")
	}
	return dataBuf, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid FASTQ: truncated record: %w", io.ErrUnexpectedEOF)
	}
	return err
}

func (p *Parser) readNonEmptyLine() ([]byte, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

// readLine reads a line from the input, stripping the newline.
// Reuses an internal buffer to minimize allocations.
func (p *Parser) readLine() ([]byte, error) {
	p.line = p.line[:0]

	for {
		segment, isPrefix, err := p.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		p.line = append(p.line, segment...)

		if !isPrefix {
			break
		}
	}

	// Trim any trailing CR (for Windows line endings)
	p.line = bytes.TrimSuffix(p.line, []byte{'\r'})

	return p.line, nil
}

func toUpper(seq []byte) {
	for i, c := range seq {
		if 'a' <= c && c <= 'z' {
			seq[i] = c - ('a' - 'A')
		}
	}
}

// Package refset concatenates reference sequences into one packed address
// space.
//
// References are laid out back to back with no separators. Each reference
// gets a Descriptor recording where it starts, and its ambiguity runs are
// shifted into global coordinates so that the combined run table stays
// sorted.
package refset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bioseqdb/nuclseq/internal/nucl"
)

// MaxTotalLength bounds the combined length of all references.
const MaxTotalLength = nucl.MaxLength

var (
	// ErrEmptyReference reports an attempt to add a zero-length reference.
	ErrEmptyReference = errors.New("empty reference sequence")
	// ErrCapacityExceeded wraps nucl.ErrCapacityExceeded for a reference
	// set that would grow past MaxTotalLength.
	ErrCapacityExceeded = fmt.Errorf("reference set: %w", nucl.ErrCapacityExceeded)
)

// Descriptor locates one reference inside the concatenated buffer.
type Descriptor struct {
	ID       string
	Len      int
	RunCount int
	Offset   int
}

// End returns the exclusive global end of the reference.
func (d Descriptor) End() int { return d.Offset + d.Len }

// Collector accumulates references. It is not safe for concurrent use.
type Collector struct {
	n     int
	pac   []byte
	descs []Descriptor
	runs  []nucl.Run
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{}
}

// Add appends seq under id. The reference's Offset is the total length
// collected before the call.
func (c *Collector) Add(id string, seq *nucl.Sequence) error {
	n := seq.Len()
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyReference, id)
	}
	if c.n+n > MaxTotalLength {
		return fmt.Errorf("%w: adding %q (%d symbols) to %d collected", ErrCapacityExceeded, id, n, c.n)
	}

	offset := c.n
	src := seq.Packed()
	if offset%4 == 0 {
		c.pac = append(c.pac, src...)
	} else {
		// The last byte is partial, so every code lands on a new bit offset.
		c.pac = append(c.pac, make([]byte, nucl.PackedLen(offset+n)-len(c.pac))...)
		for i := 0; i < n; i++ {
			nucl.SetPackedCode(c.pac, offset+i, nucl.PackedCode(src, i))
		}
	}
	c.n += n

	runs := seq.Runs()
	for _, r := range runs {
		r.Offset += offset
		c.runs = append(c.runs, r)
	}
	c.descs = append(c.descs, Descriptor{
		ID:       id,
		Len:      n,
		RunCount: len(runs),
		Offset:   offset,
	})
	return nil
}

// AddText encodes text and adds it under id.
func (c *Collector) AddText(id string, text []byte) error {
	seq, err := nucl.Encode(text)
	if err != nil {
		return fmt.Errorf("reference %q: %w", id, err)
	}
	return c.Add(id, seq)
}

// Finalize returns the packed buffer, the descriptors in insertion order and
// the combined runs in global coordinates. The slices are shared with the
// collector and must not be modified. Calling Finalize more than once is
// harmless.
func (c *Collector) Finalize() (pac []byte, descs []Descriptor, runs []nucl.Run) {
	return c.pac, c.descs, c.runs
}

// Len returns the combined length of all references.
func (c *Collector) Len() int { return c.n }

// Count returns the number of references.
func (c *Collector) Count() int { return len(c.descs) }

// Empty reports whether no reference has been added.
func (c *Collector) Empty() bool { return len(c.descs) == 0 }

// Locate returns the index of the descriptor containing global position pos.
func (c *Collector) Locate(pos int) (int, bool) {
	return Locate(c.descs, pos)
}

// Reference decodes reference i back into a Sequence.
func (c *Collector) Reference(i int) (*nucl.Sequence, error) {
	d := c.descs[i]
	pac := make([]byte, nucl.PackedLen(d.Len))
	for k := 0; k < d.Len; k++ {
		nucl.SetPackedCode(pac, k, nucl.PackedCode(c.pac, d.Offset+k))
	}
	runs := make([]nucl.Run, 0, d.RunCount)
	for _, r := range c.runs[c.runIndex(i) : c.runIndex(i)+d.RunCount] {
		r.Offset -= d.Offset
		runs = append(runs, r)
	}
	return nucl.FromPacked(d.Len, runs, pac)
}

// runIndex returns the position of reference i's first run in the combined
// table.
func (c *Collector) runIndex(i int) int {
	k := 0
	for _, d := range c.descs[:i] {
		k += d.RunCount
	}
	return k
}

// Locate returns the index of the descriptor in descs, which must be sorted
// by Offset, whose range contains pos.
func Locate(descs []Descriptor, pos int) (int, bool) {
	i := sort.Search(len(descs), func(i int) bool { return descs[i].End() > pos })
	if i == len(descs) || pos < descs[i].Offset {
		return 0, false
	}
	return i, true
}

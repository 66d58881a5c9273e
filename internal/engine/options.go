package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidOptions reports an Options value that cannot be used.
var ErrInvalidOptions = errors.New("invalid engine options")

// Options tune seeding, extension and reporting of the built-in engine.
// Penalties are positive numbers subtracted from the score; a gap of length
// k costs open + k*extend.
type Options struct {
	// MaxOcc skips seeds with more hits than this. Zero selects
	// max(500, 2*number of references).
	MaxOcc int
	// MinSeedLen is the length of exact seeds.
	MinSeedLen int

	MatchScore      int
	MismatchPenalty int
	ODel, EDel      int
	OIns, EIns      int

	// PenClip5 and PenClip3 are the penalties for clipping the query start
	// and end. An extension reaching the query end is preferred unless the
	// local score beats it by more than the penalty.
	PenClip5, PenClip3 int
	// ZDrop stops extension once the score falls this far below the best.
	ZDrop int
	// Bandwidth limits the number of gaps an extension may open up.
	Bandwidth int

	// MinScore drops regions scoring below it.
	MinScore int
	// MaskLevel is the fraction of the shorter query span that must overlap
	// a better primary region for a hit to be marked secondary.
	MaskLevel float64
}

// DefaultOptions returns the defaults used by short-read aligners.
func DefaultOptions() Options {
	return Options{
		MinSeedLen:      19,
		MatchScore:      1,
		MismatchPenalty: 4,
		ODel:            6,
		EDel:            1,
		OIns:            6,
		EIns:            1,
		PenClip5:        5,
		PenClip3:        5,
		ZDrop:           100,
		Bandwidth:       100,
		MinScore:        30,
		MaskLevel:       0.5,
	}
}

// Validate checks that opts can drive an engine.
func (opts Options) Validate() error {
	ints := []struct {
		name  string
		value int
	}{
		{"MaxOcc", opts.MaxOcc},
		{"MinSeedLen", opts.MinSeedLen},
		{"MatchScore", opts.MatchScore},
		{"MismatchPenalty", opts.MismatchPenalty},
		{"ODel", opts.ODel},
		{"EDel", opts.EDel},
		{"OIns", opts.OIns},
		{"EIns", opts.EIns},
		{"PenClip5", opts.PenClip5},
		{"PenClip3", opts.PenClip3},
		{"ZDrop", opts.ZDrop},
		{"Bandwidth", opts.Bandwidth},
		{"MinScore", opts.MinScore},
	}
	for _, v := range ints {
		if v.value < 0 {
			return fmt.Errorf("%w: %s must be nonnegative, got %d", ErrInvalidOptions, v.name, v.value)
		}
	}
	if opts.MaskLevel < 0 {
		return fmt.Errorf("%w: MaskLevel must be nonnegative, got %g", ErrInvalidOptions, opts.MaskLevel)
	}
	switch {
	case opts.MinSeedLen == 0:
		return fmt.Errorf("%w: MinSeedLen must be positive", ErrInvalidOptions)
	case opts.MatchScore == 0:
		return fmt.Errorf("%w: MatchScore must be positive", ErrInvalidOptions)
	case opts.EDel == 0 || opts.EIns == 0:
		return fmt.Errorf("%w: gap extension penalties must be positive", ErrInvalidOptions)
	}
	return nil
}

func (opts Options) maxOcc(refs int) int {
	if opts.MaxOcc > 0 {
		return opts.MaxOcc
	}
	return max(500, 2*refs)
}

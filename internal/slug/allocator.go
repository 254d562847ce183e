package slug

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxProbes bounds how many codes Allocate checks before giving up.
const DefaultMaxProbes = 500

// ErrExhausted is returned when every probed code was taken.
var ErrExhausted = errors.New("no free short code within probe limit")

// ExistsFunc reports whether code is already held by a link.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// BaseFunc lazily produces the base used for numeric suffixes.
type BaseFunc func(ctx context.Context) string

// Allocator finds the first free code in the sequence
// first, base-1, base-2, ... where base is only computed if first is taken.
//
// The probe is a read; it does not reserve anything. Two allocations racing
// on the same base can both pick the same code, and the loser learns about it
// from the repository's unique constraint and allocates again.
type Allocator struct {
	MaxProbes int
}

func NewAllocator(maxProbes int) *Allocator {
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}
	return &Allocator{MaxProbes: maxProbes}
}

func (a *Allocator) Allocate(ctx context.Context, first string, base BaseFunc, exists ExistsFunc) (string, error) {
	taken, err := exists(ctx, first)
	if err != nil {
		return "", fmt.Errorf("probe %q: %w", first, err)
	}
	if !taken {
		return first, nil
	}

	b := base(ctx)
	for n := 1; n < a.MaxProbes; n++ {
		code := fmt.Sprintf("%s-%d", b, n)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("probe %q: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrExhausted
}

package manifest

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
)

// ErrDuplicateCut is returned when the same cut id appears in more than one
// input of a merge.
var ErrDuplicateCut = errors.New("duplicate cut id")

// Merge concatenates the inputs, shuffles the result with rng and writes it to
// out. A stale out is removed before anything is read. It returns the number
// of cuts written.
func Merge(inputs []string, out string, rng *rand.Rand) (int, error) {
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("cannot remove stale %s: %w", out, err)
	}
	cuts, err := concat(inputs)
	if err != nil {
		return 0, err
	}
	rng.Shuffle(len(cuts), func(i, j int) { cuts[i], cuts[j] = cuts[j], cuts[i] })
	if err := WriteAll(out, cuts); err != nil {
		return 0, err
	}
	return len(cuts), nil
}

// Combine concatenates the inputs in order into out.
func Combine(inputs []string, out string) (int, error) {
	cuts, err := concat(inputs)
	if err != nil {
		return 0, err
	}
	if err := WriteAll(out, cuts); err != nil {
		return 0, err
	}
	return len(cuts), nil
}

func concat(inputs []string) ([]Cut, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no input manifests")
	}
	seen := make(map[string]string)
	var cuts []Cut
	for _, in := range inputs {
		r, err := Open(in)
		if err != nil {
			return nil, err
		}
		for {
			c, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				r.Close()
				return nil, err
			}
			if prev, dup := seen[c.ID]; dup {
				r.Close()
				return nil, fmt.Errorf("%w %q in %s (first seen in %s)", ErrDuplicateCut, c.ID, in, prev)
			}
			seen[c.ID] = in
			cuts = append(cuts, c)
		}
		if err := r.Close(); err != nil {
			return nil, err
		}
	}
	return cuts, nil
}

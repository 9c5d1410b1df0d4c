package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CodebookField is the custom field of a cut that carries codebook indexes.
const CodebookField = "codebook_indexes"

// ErrMissingCodebook is returned when a cut lacks a usable codebook reference.
var ErrMissingCodebook = errors.New("cut has no codebook indexes")

// CodebookRef locates the codebook indexes of one cut inside an HDF5 file.
type CodebookRef struct {
	StorageType string `json:"storage_type"`
	StoragePath string `json:"storage_path"`
	StorageKey  string `json:"storage_key"`
	Shape       []int  `json:"shape,omitempty"`
}

// Codebook returns the codebook reference of c. Both the TemporalArray form
// ({"array": {...}}) and a bare array are accepted.
func (c Cut) Codebook() (CodebookRef, bool) {
	raw, ok := c.fields["custom"]
	if !ok {
		return CodebookRef{}, false
	}
	var custom map[string]json.RawMessage
	if err := json.Unmarshal(raw, &custom); err != nil {
		return CodebookRef{}, false
	}
	entry, ok := custom[CodebookField]
	if !ok {
		return CodebookRef{}, false
	}
	var temporal struct {
		Array *CodebookRef `json:"array"`
	}
	if err := json.Unmarshal(entry, &temporal); err == nil && temporal.Array != nil {
		return *temporal.Array, temporal.Array.StoragePath != ""
	}
	var ref CodebookRef
	if err := json.Unmarshal(entry, &ref); err != nil {
		return CodebookRef{}, false
	}
	return ref, ref.StoragePath != ""
}

// Report summarizes a codebook validation pass.
type Report struct {
	Cuts         int
	StorageFiles []string // distinct storage files referenced, resolved
}

// maxListed bounds how many offending cut ids an error message names.
const maxListed = 5

// ValidateCodebooks checks that every cut of the manifest at path references
// codebook indexes stored in an existing file. Relative storage paths are
// resolved against root.
func ValidateCodebooks(path, root string) (*Report, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rep := &Report{}
	exists := make(map[string]bool)
	var missing, absent []string
	var missingCount, absentCount int

	for {
		c, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rep.Cuts++

		ref, ok := c.Codebook()
		if !ok {
			missingCount++
			if len(missing) < maxListed {
				missing = append(missing, c.ID)
			}
			continue
		}
		p := ref.StoragePath
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		found, checked := exists[p]
		if !checked {
			_, statErr := os.Stat(p)
			found = statErr == nil
			exists[p] = found
			if found {
				rep.StorageFiles = append(rep.StorageFiles, p)
			}
		}
		if !found {
			absentCount++
			if len(absent) < maxListed {
				absent = append(absent, fmt.Sprintf("%s (%s)", c.ID, p))
			}
		}
	}

	switch {
	case missingCount > 0:
		return rep, fmt.Errorf("%s: %d of %d cuts: %w: %s", path, missingCount, rep.Cuts, ErrMissingCodebook, strings.Join(missing, ", "))
	case absentCount > 0:
		return rep, fmt.Errorf("%s: %d of %d cuts reference missing codebook files: %w: %s", path, absentCount, rep.Cuts, ErrMissingCodebook, strings.Join(absent, ", "))
	case rep.Cuts == 0:
		return rep, fmt.Errorf("%s: manifest is empty", path)
	}
	return rep, nil
}

// Package manifest reads and writes lhotse cut manifests (gzip-compressed
// JSON lines) and checks that they reference codebook indexes.
package manifest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Cut is one manifest entry. A cut read from a manifest is written back
// byte-for-byte.
type Cut struct {
	ID     string
	fields map[string]json.RawMessage
	raw    []byte
}

// NewCut builds a cut from its JSON fields. fields must contain "id".
func NewCut(fields map[string]json.RawMessage) (Cut, error) {
	raw, ok := fields["id"]
	if !ok {
		return Cut{}, errors.New("cut has no id")
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return Cut{}, fmt.Errorf("cut id must be a non-empty string: %s", raw)
	}
	return Cut{ID: id, fields: fields}, nil
}

// Field returns the raw JSON of a top-level field.
func (c Cut) Field(name string) (json.RawMessage, bool) {
	v, ok := c.fields[name]
	return v, ok
}

// MarshalJSON returns the line the cut was read from. Cuts built with NewCut
// are encoded with sorted keys and without HTML escaping.
func (c Cut) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c.fields); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Reader streams cuts out of a manifest.
type Reader struct {
	path string
	f    *os.File
	gz   *gzip.Reader
	br   *bufio.Reader
	line int
}

// Open opens a .jsonl.gz manifest for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Reader{path: path, f: f, gz: gz, br: bufio.NewReaderSize(gz, 1<<20)}, nil
}

// Next returns the next cut, or io.EOF when the manifest is exhausted.
func (r *Reader) Next() (Cut, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return Cut{}, io.EOF
			}
			return Cut{}, fmt.Errorf("%s: %w", r.path, err)
		}
		r.line++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Cut{}, io.EOF
			}
			continue
		}
		var fields map[string]json.RawMessage
		if jerr := json.Unmarshal(line, &fields); jerr != nil {
			return Cut{}, fmt.Errorf("%s:%d: %w", r.path, r.line, jerr)
		}
		c, cerr := NewCut(fields)
		if cerr != nil {
			return Cut{}, fmt.Errorf("%s:%d: %w", r.path, r.line, cerr)
		}
		c.raw = line
		return c, nil
	}
}

func (r *Reader) Close() error {
	gerr := r.gz.Close()
	if err := r.f.Close(); err != nil {
		return err
	}
	return gerr
}

// ReadAll loads every cut of the manifest at path.
func ReadAll(path string) ([]Cut, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var cuts []Cut
	for {
		c, err := r.Next()
		if errors.Is(err, io.EOF) {
			return cuts, nil
		}
		if err != nil {
			return nil, err
		}
		cuts = append(cuts, c)
	}
}

// Writer writes a manifest to a temp file that replaces the target on Close.
type Writer struct {
	path  string
	tmp   *os.File
	gz    *gzip.Writer
	bw    *bufio.Writer
	count int
}

// Create starts writing the manifest at path.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("cannot create temp manifest: %w", err)
	}
	gz := gzip.NewWriter(tmp)
	return &Writer{path: path, tmp: tmp, gz: gz, bw: bufio.NewWriter(gz)}, nil
}

func (w *Writer) Write(c Cut) error {
	// json.Marshal would compact and HTML-escape the line.
	line, err := c.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(line); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count is the number of cuts written so far.
func (w *Writer) Count() int { return w.count }

// Close flushes the manifest and moves it into place.
func (w *Writer) Close() error {
	err := w.bw.Flush()
	if err == nil {
		err = w.gz.Close()
	}
	if cerr := w.tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("cannot write %s: %w", w.path, err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		_ = os.Remove(w.tmp.Name())
		return fmt.Errorf("cannot move manifest into place: %w", err)
	}
	return nil
}

// Abort discards everything written.
func (w *Writer) Abort() {
	_ = w.gz.Close()
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

// WriteAll writes cuts to path.
func WriteAll(path string, cuts []Cut) error {
	w, err := Create(path)
	if err != nil {
		return err
	}
	for _, c := range cuts {
		if err := w.Write(c); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Close()
}

package evaluate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// WER holds word error counts accumulated over one or more utterances.
type WER struct {
	Substitutions int
	Insertions    int
	Deletions     int
	RefWords      int
	Utterances    int
}

// Errors is the total number of word errors.
func (w WER) Errors() int { return w.Substitutions + w.Insertions + w.Deletions }

// Rate is the word error rate in percent. An empty reference yields 0.
func (w WER) Rate() float64 {
	if w.RefWords == 0 {
		return 0
	}
	return 100 * float64(w.Errors()) / float64(w.RefWords)
}

func (w WER) String() string {
	return fmt.Sprintf("%%WER %.2f%% [%d / %d, %d ins, %d del, %d sub]",
		w.Rate(), w.Errors(), w.RefWords, w.Insertions, w.Deletions, w.Substitutions)
}

// Add accumulates o into w.
func (w *WER) Add(o WER) {
	w.Substitutions += o.Substitutions
	w.Insertions += o.Insertions
	w.Deletions += o.Deletions
	w.RefWords += o.RefWords
	w.Utterances += o.Utterances
}

// ComputeWER aligns hyp against ref with a minimum edit distance and counts
// the errors. Words are compared after normalization.
func ComputeWER(ref, hyp []string) WER {
	r := normalizeWords(ref)
	h := normalizeWords(hyp)
	n, m := len(r), len(h)

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if r[i-1] == h[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			d[i][j] = 1 + min(d[i-1][j-1], d[i-1][j], d[i][j-1])
		}
	}

	res := WER{RefWords: n, Utterances: 1}
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && r[i-1] == h[j-1]:
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			res.Substitutions++
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			res.Deletions++
			i--
		default:
			res.Insertions++
			j--
		}
	}
	return res
}

// normalizeWords applies NFKC and case folding, drops punctuation other
// than apostrophes and removes words left empty.
func normalizeWords(words []string) []string {
	folder := cases.Fold()
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = folder.String(norm.NFKC.String(w))
		w = strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) && r != '\'' {
				return -1
			}
			return r
		}, w)
		out = append(out, strings.Fields(w)...)
	}
	return out
}

// Utterance is one reference/hypothesis pair of a recogs file.
type Utterance struct {
	ID  string
	Ref []string
	Hyp []string
}

// ParseRecogs reads the recogs-*.txt format written by decode.py, where
// each utterance appears as two lines:
//
//	1089-134686-0000-0:	ref=['HE', 'HOPED']
//	1089-134686-0000-0:	hyp=['HE', 'HOPED']
func ParseRecogs(r io.Reader) ([]Utterance, error) {
	var out []Utterance
	index := make(map[string]int)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		id, rest, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: missing utterance id", line)
		}
		rest = strings.TrimSpace(rest)
		kind, list, ok := strings.Cut(rest, "=")
		if !ok || (kind != "ref" && kind != "hyp") {
			return nil, fmt.Errorf("line %d: expected ref= or hyp=, got %q", line, rest)
		}
		words, err := parsePyList(list)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		i, seen := index[id]
		if !seen {
			i = len(out)
			index[id] = i
			out = append(out, Utterance{ID: id})
		}
		if kind == "ref" {
			out[i].Ref = words
		} else {
			out[i].Hyp = words
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScoreRecogs computes the corpus WER of a recogs file.
func ScoreRecogs(path string) (WER, error) {
	f, err := os.Open(path)
	if err != nil {
		return WER{}, err
	}
	defer f.Close()

	utts, err := ParseRecogs(f)
	if err != nil {
		return WER{}, fmt.Errorf("%s: %w", path, err)
	}
	var total WER
	for _, u := range utts {
		total.Add(ComputeWER(u.Ref, u.Hyp))
	}
	return total, nil
}

// parsePyList parses the repr of a Python list of strings such as
// ['A', "DON'T"].
func parsePyList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("not a list: %q", s)
	}
	body := s[1 : len(s)-1]

	var out []string
	for i := 0; i < len(body); {
		switch c := body[i]; c {
		case ' ', ',':
			i++
		case '\'', '"':
			var b strings.Builder
			j := i + 1
			for ; j < len(body) && body[j] != c; j++ {
				if body[j] == '\\' && j+1 < len(body) {
					j++
				}
				b.WriteByte(body[j])
			}
			if j >= len(body) {
				return nil, fmt.Errorf("unterminated string in %q", s)
			}
			out = append(out, b.String())
			i = j + 1
		default:
			return nil, fmt.Errorf("unexpected %q in %q", c, s)
		}
	}
	return out, nil
}

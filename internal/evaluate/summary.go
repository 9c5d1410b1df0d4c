package evaluate

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoSummary is returned when decode.py left no WER summary for a test set.
var ErrNoSummary = errors.New("no WER summary")

// Setting is one row of a WER summary: a decoding setting and its WER in
// percent.
type Setting struct {
	Name string
	WER  float64
}

// LatestSummary returns the most recently written
// wer-summary-{testSet}-*.txt file in dir.
func LatestSummary(dir, testSet string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "wer-summary-"+testSet+"-*.txt"))
	if err != nil {
		return "", err
	}
	var latest string
	var latestMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod || (mod == latestMod && m > latest) {
			latest, latestMod = m, mod
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w for %s in %s", ErrNoSummary, testSet, dir)
	}
	return latest, nil
}

// ReadSummary parses a summary file:
//
//	settings	WER
//	beam_size_4	2.39
func ReadSummary(path string) ([]Setting, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Setting
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || (line == 1 && fields[0] == "settings") {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected setting and WER, got %q", path, line, sc.Text())
		}
		wer, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, Setting{Name: fields[0], WER: wer})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSummary)
	}
	return out, nil
}

// Best returns the setting with the lowest WER. Ties keep the earlier row.
func Best(settings []Setting) Setting {
	var best Setting
	for i, s := range settings {
		if i == 0 || s.WER < best.WER {
			best = s
		}
	}
	return best
}

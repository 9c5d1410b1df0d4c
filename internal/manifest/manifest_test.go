package manifest

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cutLine renders a lhotse MonoCut whose codebook indexes live in h5.
func cutLine(id, h5 string) string {
	if h5 == "" {
		return fmt.Sprintf(`{"id":%q,"start":0,"duration":1.5,"channel":0,"type":"MonoCut"}`, id)
	}
	return fmt.Sprintf(`{"id":%q,"start":0,"duration":1.5,"channel":0,"type":"MonoCut",`+
		`"custom":{"codebook_indexes":{"array":{"storage_type":"numpy_hdf5","storage_path":%q,"storage_key":%q,"shape":[75,8]},"temporal_dim":0,"frame_shift":0.02,"start":0}}}`,
		id, h5, id)
}

func writeManifest(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func subsetLines(prefix string, n int, h5 string) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = cutLine(fmt.Sprintf("%s-%04d", prefix, i), h5)
	}
	return lines
}

func TestReadWriteRoundTripKeepsFields(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl.gz")
	writeManifest(t, in, []string{cutLine("a", "x.h5"), "", cutLine("b", "")})

	cuts, err := ReadAll(in)
	require.NoError(t, err)
	require.Len(t, cuts, 2)
	assert.Equal(t, "a", cuts[0].ID)

	out := filepath.Join(dir, "sub", "out.jsonl.gz")
	require.NoError(t, WriteAll(out, cuts))

	back, err := ReadAll(out)
	require.NoError(t, err)
	require.Len(t, back, 2)
	dur, ok := back[0].Field("duration")
	require.True(t, ok)
	assert.Equal(t, "1.5", string(dur))
	ref, ok := back[0].Codebook()
	require.True(t, ok)
	assert.Equal(t, "x.h5", ref.StoragePath)
	assert.Equal(t, []int{75, 8}, ref.Shape)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "sub", "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestReadRejectsCutWithoutID(t *testing.T) {
	in := filepath.Join(t.TempDir(), "bad.jsonl.gz")
	writeManifest(t, in, []string{`{"start":0}`})
	_, err := ReadAll(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":1:")
}

func TestMerge_CountsAndUniqueIDs(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		filepath.Join(dir, "librispeech_cuts_train-clean-100.jsonl.gz"),
		filepath.Join(dir, "librispeech_cuts_train-clean-360.jsonl.gz"),
		filepath.Join(dir, "librispeech_cuts_train-other-500.jsonl.gz"),
	}
	writeManifest(t, inputs[0], subsetLines("c100", 100, "a.h5"))
	writeManifest(t, inputs[1], subsetLines("c360", 200, "b.h5"))
	writeManifest(t, inputs[2], subsetLines("o500", 500, "c.h5"))

	out := filepath.Join(dir, "librispeech_cuts_train-all-shuf.jsonl.gz")
	n, err := Merge(inputs, out, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, 800, n)

	cuts, err := ReadAll(out)
	require.NoError(t, err)
	require.Len(t, cuts, 800)
	seen := make(map[string]bool)
	for _, c := range cuts {
		assert.False(t, seen[c.ID], "duplicate %s", c.ID)
		seen[c.ID] = true
	}

	// Shuffled: the first 100 entries are not exactly the clean-100 subset.
	inOrder := true
	for i := 0; i < 100; i++ {
		if cuts[i].ID != fmt.Sprintf("c100-%04d", i) {
			inOrder = false
			break
		}
	}
	assert.False(t, inOrder, "merged manifest should be shuffled")
}

func TestMerge_ReplacesStaleOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.jsonl.gz")
	writeManifest(t, in, subsetLines("a", 3, ""))
	out := filepath.Join(dir, "all.jsonl.gz")
	writeManifest(t, out, subsetLines("stale", 10, ""))

	n, err := Merge([]string{in}, out, rand.New(rand.NewPCG(0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	cuts, err := ReadAll(out)
	require.NoError(t, err)
	assert.Len(t, cuts, 3)
}

func TestMerge_StaleOutputRemovedEvenOnFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "all.jsonl.gz")
	writeManifest(t, out, subsetLines("stale", 1, ""))

	_, err := Merge([]string{filepath.Join(dir, "missing.jsonl.gz")}, out, rand.New(rand.NewPCG(0, 0)))
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMerge_RejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jsonl.gz")
	b := filepath.Join(dir, "b.jsonl.gz")
	writeManifest(t, a, subsetLines("x", 2, ""))
	writeManifest(t, b, subsetLines("x", 1, ""))

	_, err := Merge([]string{a, b}, filepath.Join(dir, "out.jsonl.gz"), rand.New(rand.NewPCG(0, 0)))
	assert.True(t, errors.Is(err, ErrDuplicateCut))
}

func TestCombine_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "split.1.jsonl.gz")
	b := filepath.Join(dir, "split.2.jsonl.gz")
	writeManifest(t, a, subsetLines("a", 2, ""))
	writeManifest(t, b, subsetLines("b", 2, ""))

	out := filepath.Join(dir, "all.jsonl.gz")
	n, err := Combine([]string{a, b}, out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	cuts, err := ReadAll(out)
	require.NoError(t, err)
	var ids []string
	for _, c := range cuts {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a-0000", "a-0001", "b-0000", "b-0001"}, ids)
}

func TestValidateCodebooks(t *testing.T) {
	root := t.TempDir()
	h5 := filepath.Join("exp", "vq", "splits4", "cb-0.h5")
	require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.Dir(h5)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, h5), []byte("h5"), 0o644))

	t.Run("all present", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "ok.jsonl.gz")
		writeManifest(t, p, subsetLines("u", 5, h5))
		rep, err := ValidateCodebooks(p, root)
		require.NoError(t, err)
		assert.Equal(t, 5, rep.Cuts)
		assert.Len(t, rep.StorageFiles, 1)
	})

	t.Run("cut without codebook", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "partial.jsonl.gz")
		writeManifest(t, p, []string{cutLine("good", h5), cutLine("bad", "")})
		_, err := ValidateCodebooks(p, root)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingCodebook))
		assert.Contains(t, err.Error(), "bad")
	})

	t.Run("storage file absent", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "absent.jsonl.gz")
		writeManifest(t, p, []string{cutLine("u", "exp/vq/splits4/gone.h5")})
		_, err := ValidateCodebooks(p, root)
		assert.True(t, errors.Is(err, ErrMissingCodebook))
	})

	t.Run("empty manifest", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "empty.jsonl.gz")
		writeManifest(t, p, nil)
		_, err := ValidateCodebooks(p, root)
		assert.Error(t, err)
	})
}

func readManifestText(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func TestWriteKeepsCutBytes(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jsonl.gz")
	lines := []string{
		`{"type":"MonoCut","id":"x<1>&y","duration":1.50,"supervisions":[{"text":"A <unk> & B"}]}`,
		`{"id":"z","start":0,  "custom":{}}`,
	}
	writeManifest(t, in, lines)

	cuts, err := ReadAll(in)
	require.NoError(t, err)
	out := filepath.Join(dir, "out.jsonl.gz")
	require.NoError(t, WriteAll(out, cuts))

	assert.Equal(t, strings.Join(lines, "\n")+"\n", readManifestText(t, out))
}

func TestNewCutEncodesWithoutHTMLEscaping(t *testing.T) {
	c, err := NewCut(map[string]json.RawMessage{
		"id":   json.RawMessage(`"a&b"`),
		"text": json.RawMessage(`"<s>"`),
	})
	require.NoError(t, err)
	data, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"id":"a&b","text":"<s>"}`, string(data))
}

// Package fetch makes sure the teacher checkpoint is present locally.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/layout"
	"github.com/kamusis/cbdistill/internal/logger"
	"github.com/kamusis/cbdistill/internal/probe"
)

// RequiredModules are the Python libraries needed to load the teacher model
// and train the quantizer. They are checked before any transfer starts.
var RequiredModules = []string{"fairseq", "multi_quantization"}

// Fetcher downloads the teacher checkpoint and its dictionary.
type Fetcher struct {
	Client   *http.Client
	Prober   *probe.Prober
	Log      *logger.Logger
	Progress io.Writer // download progress sink; nil disables it
	DryRun   bool
}

// Result reports what Fetch did.
type Result struct {
	Downloaded []string
	Skipped    bool // checkpoint already present
}

// Fetch ensures the checkpoint of run's teacher model exists. It is a no-op
// when the checkpoint is already on disk.
func (f *Fetcher) Fetch(ctx context.Context, run *config.Run, l *layout.Layout) (*Result, error) {
	if err := f.Prober.RequirePythonModules(ctx, RequiredModules...); err != nil {
		return nil, err
	}

	model := l.HubertModel()
	if info, err := os.Stat(model); err == nil && info.Size() > 0 {
		f.Log.WithField("path", model).Info("HuBERT model already exists")
		return &Result{Skipped: true}, nil
	}

	if err := os.MkdirAll(l.HubertModelDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating model dir: %w", err)
	}

	downloads := []struct {
		url  string
		dest string
	}{
		{ModelURL(run), model},
		{run.Remote.DictURL, l.HubertDict()},
	}

	res := &Result{}
	for _, d := range downloads {
		if info, err := os.Stat(d.dest); err == nil && info.Size() > 0 {
			f.Log.WithField("path", d.dest).Debug("already downloaded")
			continue
		}
		entry := f.Log.WithField("url", d.url).WithField("dest", d.dest)
		if f.DryRun {
			entry.Info("dry-run: would download")
			continue
		}
		entry.Info("downloading")
		n, err := f.download(ctx, d.url, d.dest)
		if err != nil {
			return res, err
		}
		entry.WithField("size", humanize.Bytes(uint64(n))).Info("downloaded")
		res.Downloaded = append(res.Downloaded, d.dest)
	}
	return res, nil
}

// ModelURL is the fixed remote location of the teacher checkpoint.
func ModelURL(run *config.Run) string {
	return strings.TrimRight(run.Remote.ModelBaseURL, "/") + "/" + string(run.TeacherModelID) + ".pt"
}

// download writes url to dest through a temp file renamed into place.
func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "cbdistill")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return 0, fmt.Errorf("download %s failed: %s\n%s", url, resp.Status, strings.TrimSpace(string(body)))
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("cannot create %s: %w", tmp, err)
	}

	pw := &progressWriter{
		w:     out,
		sink:  f.Progress,
		total: resp.ContentLength,
		label: filepath.Base(dest),
	}
	n, err := io.Copy(pw, resp.Body)
	pw.finish()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("writing %s: %w", dest, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("download %s truncated: got %d of %d bytes", url, n, resp.ContentLength)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return n, fmt.Errorf("moving %s: %w", dest, err)
	}
	return n, nil
}

// progressWriter renders a single-line byte counter while copying.
type progressWriter struct {
	w         io.Writer
	sink      io.Writer
	total     int64
	written   int64
	label     string
	lastPrint time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += int64(n)
	if pw.sink != nil && time.Since(pw.lastPrint) > 200*time.Millisecond {
		pw.print()
		pw.lastPrint = time.Now()
	}
	return n, err
}

func (pw *progressWriter) print() {
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.sink, "\r  %s: %s / %s (%.1f%%)", pw.label,
			humanize.Bytes(uint64(pw.written)), humanize.Bytes(uint64(pw.total)), pct)
		return
	}
	fmt.Fprintf(pw.sink, "\r  %s: %s", pw.label, humanize.Bytes(uint64(pw.written)))
}

func (pw *progressWriter) finish() {
	if pw.sink == nil {
		return
	}
	pw.print()
	fmt.Fprintln(pw.sink)
}


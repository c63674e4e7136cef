// Package artifact writes the per-run output files: raw reads, leads in
// JSON, CSV, XLSX and Markdown, and the run summary.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/model"
)

// DefaultPrefix starts every artifact file name unless configured otherwise.
const DefaultPrefix = "leadscout"

// DefaultTopN is the number of leads listed in the Markdown report.
const DefaultTopN = 30

const (
	tsLayout     = "20060102_150405"
	snippetRunes = 64
)

// PersistenceError reports an artifact or store write that failed. The run
// still completed; its results were not (fully) saved.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Bundle is everything a run hands to the writer.
type Bundle struct {
	Summary model.RunSummary
	Posts   []model.PostCandidate
	Reads   []model.PostRead
	Leads   []model.Lead
}

// Paths lists the files written for one run.
type Paths struct {
	Reads     string   `json:"reads"`
	LeadsJSON string   `json:"leads_json"`
	LeadsCSV  string   `json:"leads_csv"`
	LeadsXLSX string   `json:"leads_xlsx"`
	LeadsMD   string   `json:"leads_md"`
	Summary   string   `json:"summary"`
	Latest    []string `json:"latest,omitempty"`
}

// Writer writes run artifacts into one directory.
type Writer struct {
	dir    string
	prefix string
	topN   int
	xlsx   bool
	now    func() time.Time
	log    *zap.Logger
}

// New creates a writer for dir. topN below 1 means DefaultTopN.
func New(dir string, topN int) *Writer {
	if topN < 1 {
		topN = DefaultTopN
	}
	return &Writer{
		dir:    dir,
		prefix: DefaultPrefix,
		topN:   topN,
		xlsx:   true,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "artifact")),
	}
}

// FromConfig creates a writer from the artifacts config section.
func FromConfig(cfg config.ArtifactConfig) *Writer {
	w := New(cfg.OutDir, cfg.TopN)
	if cfg.Prefix != "" {
		w.prefix = cfg.Prefix
	}
	w.xlsx = cfg.XLSX
	return w
}

// WithClock replaces the clock used for file timestamps.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Dir is the output directory.
func (w *Writer) Dir() string { return w.dir }

type artifact struct {
	name   string
	latest string
	kind   string
	data   []byte
}

// Write renders and writes every artifact. Timestamped files are written
// first; the "latest" copies are replaced only when all of them succeeded
// and the run produced at least one lead.
func (w *Writer) Write(b Bundle) (Paths, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Paths{}, &PersistenceError{Path: w.dir, Err: eris.Wrap(err, "artifact: create output dir")}
	}

	now := w.now()
	ts := now.Format(tsLayout)
	generated := now.Format(time.RFC3339)

	files, err := w.render(b, ts, generated)
	if err != nil {
		return Paths{}, &PersistenceError{Path: w.dir, Err: err}
	}

	var paths Paths
	for _, f := range files {
		path := filepath.Join(w.dir, f.name)
		if err := WriteFileAtomic(path, f.data); err != nil {
			return paths, &PersistenceError{Path: path, Err: err}
		}
		*f.pick(&paths) = path
	}

	if len(b.Leads) == 0 {
		w.log.Info("no leads, keeping previous latest artifacts", zap.String("run_id", b.Summary.RunID))
		return paths, nil
	}

	paths.Latest, err = w.replaceLatest(files)
	if err != nil {
		return paths, err
	}

	w.log.Info("artifacts written",
		zap.String("run_id", b.Summary.RunID),
		zap.String("dir", w.dir),
		zap.Int("leads", len(b.Leads)),
	)
	return paths, nil
}

// replaceLatest stages every latest copy as a temp file before renaming
// any of them, so a staging failure leaves all previous copies in place.
func (w *Writer) replaceLatest(files []artifact) ([]string, error) {
	type staged struct{ tmp, path string }
	var all []staged
	discard := func() {
		for _, s := range all {
			_ = os.Remove(s.tmp)
		}
	}

	for _, f := range files {
		if f.latest == "" {
			continue
		}
		path := filepath.Join(w.dir, f.latest)
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			discard()
			return nil, &PersistenceError{Path: path, Err: eris.Errorf("artifact: %s is a directory", f.latest)}
		}
		tmp, err := stageTemp(path, f.data)
		if err != nil {
			discard()
			return nil, &PersistenceError{Path: path, Err: err}
		}
		all = append(all, staged{tmp: tmp, path: path})
	}

	out := make([]string, 0, len(all))
	for i, s := range all {
		if err := os.Rename(s.tmp, s.path); err != nil {
			all = all[i:]
			discard()
			return out, &PersistenceError{Path: s.path, Err: eris.Wrapf(err, "artifact: rename to %s", filepath.Base(s.path))}
		}
		out = append(out, s.path)
	}
	return out, nil
}

func (a artifact) pick(p *Paths) *string {
	switch a.kind {
	case "reads":
		return &p.Reads
	case "leads.csv":
		return &p.LeadsCSV
	case "leads.xlsx":
		return &p.LeadsXLSX
	case "leads.md":
		return &p.LeadsMD
	case "summary":
		return &p.Summary
	default:
		return &p.LeadsJSON
	}
}

func (w *Writer) render(b Bundle, ts, generated string) ([]artifact, error) {
	reads, err := marshalJSON(map[string]any{
		"generated_at":  generated,
		"run_id":        b.Summary.RunID,
		"post_count":    len(b.Posts),
		"read_count":    len(b.Reads),
		"posts":         nonNil(b.Posts),
		"reads":         nonNil(b.Reads),
		"control_stats": b.Summary.Control,
	})
	if err != nil {
		return nil, err
	}
	leads, err := marshalJSON(map[string]any{
		"generated_at":  generated,
		"run_id":        b.Summary.RunID,
		"lead_count":    len(b.Leads),
		"control_stats": b.Summary.Control,
		"leads":         nonNil(b.Leads),
	})
	if err != nil {
		return nil, err
	}
	csvData, err := RenderCSV(b.Leads)
	if err != nil {
		return nil, err
	}
	summary, err := marshalJSON(b.Summary)
	if err != nil {
		return nil, err
	}

	name := func(kind, ext string) string { return fmt.Sprintf("%s_%s_%s.%s", w.prefix, kind, ts, ext) }
	latest := func(kind, ext string) string { return fmt.Sprintf("%s_%s_latest.%s", w.prefix, kind, ext) }

	files := []artifact{
		{kind: "reads", name: name("reads", "json"), data: reads},
		{kind: "leads.json", name: name("leads", "json"), latest: latest("leads", "json"), data: leads},
		{kind: "leads.csv", name: name("leads", "csv"), latest: latest("leads", "csv"), data: csvData},
	}
	if w.xlsx {
		xlsxData, err := RenderXLSX(b.Leads)
		if err != nil {
			return nil, err
		}
		files = append(files, artifact{kind: "leads.xlsx", name: name("leads", "xlsx"), latest: latest("leads", "xlsx"), data: xlsxData})
	}
	return append(files,
		artifact{kind: "leads.md", name: name("leads", "md"), latest: latest("leads", "md"), data: []byte(RenderMarkdown(b.Summary, b.Leads, w.topN, generated))},
		artifact{kind: "summary", name: name("summary", "json"), latest: latest("summary", "json"), data: summary},
	), nil
}

// RenderMarkdown renders the human-readable top-N lead report.
func RenderMarkdown(s model.RunSummary, leads []model.Lead, topN int, generated string) string {
	var b strings.Builder

	b.WriteString("# Lead acquisition report\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", generated)
	fmt.Fprintf(&b, "- Run: %s\n", s.RunID)
	fmt.Fprintf(&b, "- Posts read: %d of %d found\n", s.PostsRead, s.PostsFound)
	fmt.Fprintf(&b, "- Leads: %d\n", len(leads))
	fmt.Fprintf(&b, "- Access control (posts): allowed=%d blocked=%d\n", s.Control.VideoAllowed, s.Control.VideoBlocked)
	fmt.Fprintf(&b, "- Access control (users): allowed=%d blocked=%d\n", s.Control.UserAllowed, s.Control.UserBlocked)
	if len(s.TimedOutPlatforms) > 0 {
		fmt.Fprintf(&b, "- Timed out: %s\n", strings.Join(s.TimedOutPlatforms, ", "))
	}

	top := make([]model.Lead, len(leads))
	copy(top, leads)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Confidence != top[j].Confidence {
			return top[i].Confidence > top[j].Confidence
		}
		return top[i].Score > top[j].Score
	})
	if len(top) > topN {
		top = top[:topN]
	}

	fmt.Fprintf(&b, "\n## Top %d leads\n\n", topN)
	b.WriteString("|Platform|Keyword|Author|Score|Confidence|Stage|Grade|Content|Post|\n")
	b.WriteString("|---|---|---|---:|---:|---|---|---|---|\n")
	for _, l := range top {
		fmt.Fprintf(&b, "|%s|%s|%s|%d|%d|%s|%s|%s|[open](%s)|\n",
			cell(l.Platform), cell(l.Keyword), cell(l.Author), l.Score, l.Confidence,
			l.Stage, l.Grade, snippet(l.Content), l.PostURL)
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.Join(strings.Fields(s), " "), "|", " ")
}

func snippet(s string) string {
	s = cell(s)
	if r := []rune(s); len(r) > snippetRunes {
		return string(r[:snippetRunes]) + "..."
	}
	return s
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, eris.Wrap(err, "artifact: encode json")
	}
	return buf.Bytes(), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := stageTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "artifact: rename to %s", filepath.Base(path))
	}
	return nil
}

// stageTemp writes and syncs data to a temp file in path's directory and
// returns the temp file name.
func stageTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return "", eris.Wrap(err, "artifact: create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", eris.Wrap(err, "artifact: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", eris.Wrap(err, "artifact: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", eris.Wrap(err, "artifact: close temp file")
	}
	return tmpName, nil
}

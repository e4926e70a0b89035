// Package assemble concatenates the front pages of a base permit document
// with the matched specification sheets into one PDF, using pdfcpu.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/permitpack/specsheet"
)

// DefaultMaxBasePages is the number of base pages kept when a request does
// not say otherwise.
const DefaultMaxBasePages = 7

var disableConfigDir sync.Once

// Config configures an Assembler.
type Config struct {
	// MaxBasePages applies when a Request leaves it at zero (default 7).
	MaxBasePages int `json:"max_base_pages" yaml:"max_base_pages"`

	// WorkDir holds intermediate files (default: os.TempDir()).
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxBasePages <= 0 {
		c.MaxBasePages = DefaultMaxBasePages
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request describes one assembly.
type Request struct {
	BasePath     string
	OutputPath   string
	MaxBasePages int
	Matches      []specsheet.MatchResult
}

// Appended is one specification sheet copied into the output.
type Appended struct {
	Row   int    `json:"row"`
	Path  string `json:"path"`
	Pages int    `json:"pages"`
}

// Result describes the assembled document.
type Result struct {
	OutputPath string              `json:"output_path"`
	BasePages  int                 `json:"base_pages"`
	Appended   []Appended          `json:"appended"`
	TotalPages int                 `json:"total_pages"`
	Skipped    []AssemblyPageError `json:"skipped,omitempty"`
}

// Log renders the skip log as human-readable lines.
func (r *Result) Log() []string {
	out := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, s.Error())
	}
	return out
}

// Assembler builds permit packages.
type Assembler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Assembler.
func New(cfg Config) *Assembler {
	cfg.defaults()
	disableConfigDir.Do(api.DisableConfigDir)
	return &Assembler{cfg: cfg, logger: cfg.Logger}
}

func pdfConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := api.PageCount(f, pdfConf())
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count: %w", err)
	}
	return n, nil
}

// Assemble writes the base front pages followed by every resolved sheet in
// match order. Unreadable sheets are skipped and recorded in Result.Skipped.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	if req.OutputPath == "" {
		return nil, &AssemblyError{Op: "output", Err: errors.New("empty output path")}
	}
	maxPages := req.MaxBasePages
	if maxPages <= 0 {
		maxPages = a.cfg.MaxBasePages
	}

	if _, err := os.Stat(req.BasePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: base document %s", ErrInputNotFound, req.BasePath)
		}
		return nil, &AssemblyError{Path: req.BasePath, Op: "stat", Err: err}
	}
	baseTotal, err := PageCount(req.BasePath)
	if err != nil {
		return nil, &AssemblyError{Path: req.BasePath, Op: "read base", Err: err}
	}
	keep := min(maxPages, baseTotal)

	work, err := os.MkdirTemp(a.cfg.WorkDir, "permitpack-assemble-")
	if err != nil {
		return nil, &AssemblyError{Path: a.cfg.WorkDir, Op: "workdir", Err: err}
	}
	defer os.RemoveAll(work)

	front := filepath.Join(work, "base.pdf")
	if err := api.TrimFile(req.BasePath, front, []string{"1-" + strconv.Itoa(keep)}, pdfConf()); err != nil {
		return nil, &AssemblyError{Path: req.BasePath, Op: "trim base", Err: err}
	}

	res := &Result{OutputPath: req.OutputPath, BasePages: keep}
	inputs := []string{front}
	for _, m := range req.Matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !m.Found() {
			continue
		}
		n, err := PageCount(m.ResolvedPath)
		if err != nil {
			skip := AssemblyPageError{Row: m.Component.RowIndex, Path: m.ResolvedPath, Err: err}
			a.logger.Warn("assemble: skipping sheet", "row", skip.Row, "path", skip.Path, "error", err)
			res.Skipped = append(res.Skipped, skip)
			continue
		}
		inputs = append(inputs, m.ResolvedPath)
		res.Appended = append(res.Appended, Appended{Row: m.Component.RowIndex, Path: m.ResolvedPath, Pages: n})
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, &AssemblyError{Path: req.OutputPath, Op: "mkdir", Err: err}
	}
	merged := filepath.Join(work, "merged.pdf")
	if len(inputs) == 1 {
		merged = front
	} else if err := api.MergeCreateFile(inputs, merged, false, pdfConf()); err != nil {
		return nil, &AssemblyError{Path: req.OutputPath, Op: "merge", Err: err}
	}
	if err := moveFile(merged, req.OutputPath); err != nil {
		return nil, &AssemblyError{Path: req.OutputPath, Op: "write", Err: err}
	}

	total, err := PageCount(req.OutputPath)
	if err != nil {
		return nil, &AssemblyError{Path: req.OutputPath, Op: "verify", Err: err}
	}
	res.TotalPages = total

	a.logger.Info("assemble: done",
		"output", req.OutputPath,
		"base_pages", keep,
		"sheets", len(res.Appended),
		"skipped", len(res.Skipped),
		"total_pages", total,
	)
	return res, nil
}

// moveFile renames src onto dst, copying through a sibling temp file when the
// two live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".permitpack-*.pdf")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// CLAUDE:SUMMARY Permit-package pipeline: parse BOM, locate sheets, retrieve misses, assemble PDF, publish, record.
// Package permit runs the permit-package pipeline end to end.
//
// Usage:
//
//	p := permit.New(permit.Deps{CacheDir: "data/specs", Assembler: assemble.New(assemble.Config{})})
//	rep, err := p.Run(ctx, permit.Request{BOMPath: "bom.csv", BasePath: "base.pdf", OutputPath: "out.pdf"})
//
// Only missing inputs, a malformed BOM and an unreadable base document abort
// a run. Every other failure (a sheet that cannot be read, a retrieval miss,
// a blob or store error) is recorded in the report logs.
package permit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/permitpack/assemble"
	"github.com/hazyhaar/permitpack/blob"
	"github.com/hazyhaar/permitpack/bom"
	"github.com/hazyhaar/permitpack/idgen"
	"github.com/hazyhaar/permitpack/metrics"
	"github.com/hazyhaar/permitpack/retrieve"
	"github.com/hazyhaar/permitpack/specsheet"
	"github.com/hazyhaar/permitpack/store"
)

// ErrInputNotFound is returned when the BOM or the base document is missing.
var ErrInputNotFound = errors.New("permit: input not found")

// Deps wires the pipeline. Retriever, Blob, Store and Metrics are optional.
type Deps struct {
	CacheDir     string
	OutputDir    string // default output location when a request has none
	MaxBasePages int    // default 7
	Catalog      *specsheet.Catalog

	Assembler *assemble.Assembler
	Retriever *retrieve.Retriever
	Blob      blob.Store
	Store     *store.Store
	Metrics   *metrics.Metrics

	NewRunID  idgen.Generator
	NewNoteID idgen.Generator
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d *Deps) defaults() {
	if d.OutputDir == "" {
		d.OutputDir = "output"
	}
	if d.MaxBasePages <= 0 {
		d.MaxBasePages = assemble.DefaultMaxBasePages
	}
	if d.Catalog == nil {
		d.Catalog = specsheet.DefaultCatalog()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Assembler == nil {
		d.Assembler = assemble.New(assemble.Config{MaxBasePages: d.MaxBasePages, Logger: d.Logger})
	}
	if d.NewRunID == nil {
		d.NewRunID = idgen.RunID
	}
	if d.NewNoteID == nil {
		d.NewNoteID = idgen.NoteID
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// Request describes one run.
type Request struct {
	ProjectID    string `json:"project_id"`
	BOMPath      string `json:"bom_path"`
	BasePath     string `json:"base_path"`
	OutputPath   string `json:"output_path"`
	MaxBasePages int    `json:"base_pages"`
}

// Pipeline runs permit-package builds. Safe for concurrent use.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	deps.defaults()
	return &Pipeline{deps: deps, logger: deps.Logger}
}

// Catalog returns the catalog used for exact matches.
func (p *Pipeline) Catalog() *specsheet.Catalog { return p.deps.Catalog }

// Store returns the project store, or nil.
func (p *Pipeline) Store() *store.Store { return p.deps.Store }

func (p *Pipeline) locator() (*specsheet.Locator, error) {
	return specsheet.NewLocator(specsheet.Config{
		CacheDir: p.deps.CacheDir,
		Catalog:  p.deps.Catalog,
		Logger:   p.logger,
	})
}

// Locate resolves a single component against the current cache contents.
// A cache directory that cannot be listed yields not_found.
func (p *Pipeline) Locate(c bom.Component) specsheet.MatchResult {
	loc, err := p.locator()
	if err != nil {
		p.logger.Warn("permit: locate", "error", err)
		return specsheet.MatchResult{Component: c, Status: specsheet.StatusNotFound, Message: err.Error()}
	}
	return loc.Locate(c)
}

// LocateBOM parses the BOM at path and resolves every row without
// retrieving or assembling anything.
func (p *Pipeline) LocateBOM(path string) ([]specsheet.MatchResult, error) {
	comps, err := bom.ParseFile(path)
	if err != nil {
		return nil, err
	}
	loc, err := p.locator()
	if err != nil {
		return nil, err
	}
	return loc.LocateAll(comps), nil
}

// Run executes parse, locate, retrieve, assemble, publish and record.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	start := p.deps.Now()
	runID := p.deps.NewRunID()
	log := p.logger.With("run_id", runID, "project_id", req.ProjectID)

	for _, in := range []struct{ kind, path string }{{"bom", req.BOMPath}, {"base document", req.BasePath}} {
		if _, err := os.Stat(in.path); err != nil {
			if in.path == "" || errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s %q", ErrInputNotFound, in.kind, in.path)
			}
			return nil, fmt.Errorf("permit: stat %s: %w", in.kind, err)
		}
	}

	comps, err := bom.ParseFile(req.BOMPath)
	if err != nil {
		return nil, err
	}
	log.Info("permit: bom parsed", "components", len(comps))

	loc, err := p.locator()
	if err != nil {
		return nil, err
	}
	matches := loc.LocateAll(comps)

	var logs []string
	if r := p.deps.Retriever; r != nil {
		if pending, absent := pendingRetrieval(matches); hasMissing(pending) {
			var notes []retrieve.Note
			pending, notes = r.RetrieveAll(ctx, pending)
			matches = mergeRetrieved(matches, pending, absent)
			logs = append(logs, p.saveNotes(ctx, notes)...)
		}
	}
	for _, m := range matches {
		logs = append(logs, matchLog(m))
	}

	out := req.OutputPath
	if out == "" {
		out = filepath.Join(p.deps.OutputDir, runID+".pdf")
	}
	maxPages := req.MaxBasePages
	if maxPages <= 0 {
		maxPages = p.deps.MaxBasePages
	}
	asm, err := p.deps.Assembler.Assemble(ctx, assemble.Request{
		BasePath:     req.BasePath,
		OutputPath:   out,
		MaxBasePages: maxPages,
		Matches:      matches,
	})
	if err != nil {
		if errors.Is(err, assemble.ErrInputNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrInputNotFound, err)
		}
		return nil, err
	}
	logs = append(logs, asm.Log()...)

	summary, missing := summarize(matches, asm.Skipped)
	rep := &Report{
		RunID:      runID,
		ProjectID:  req.ProjectID,
		Status:     StatusCompleted,
		OutputPath: asm.OutputPath,
		BasePages:  asm.BasePages,
		TotalPages: asm.TotalPages,
		Summary:    summary,
		Missing:    missing,
		Matches:    matches,
	}
	if summary.Missing > 0 {
		rep.Status = StatusPartial
	}

	if b := p.deps.Blob; b != nil {
		key := blob.Key(req.ProjectID, runID)
		location, err := b.Put(ctx, key, asm.OutputPath)
		if err != nil {
			log.Warn("permit: publish failed", "key", key, "error", err)
			logs = append(logs, "publish failed: "+err.Error())
		} else {
			rep.BlobKey = key
			rep.BlobLocation = location
			logs = append(logs, "published "+location)
		}
	}

	elapsed := p.deps.Now().Sub(start)
	rep.ProcessingTime = float64(elapsed.Milliseconds()) / 1000
	rep.Logs = logs

	if s := p.deps.Store; s != nil {
		if err := p.record(ctx, s, rep, elapsed); err != nil {
			log.Warn("permit: record run failed", "error", err)
			rep.Logs = append(rep.Logs, "record failed: "+err.Error())
		}
	}

	p.deps.Metrics.ObserveRun(rep.Status, elapsed)
	for _, m := range matches {
		p.deps.Metrics.ObserveComponent(string(m.Status), string(m.Origin))
	}

	log.Info("permit: run finished",
		"status", rep.Status,
		"found", summary.Found,
		"missing", summary.Missing,
		"total_pages", rep.TotalPages,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return rep, nil
}

// pendingRetrieval copies matches and marks every resolved match whose file
// is not on disk as not_found, so the retriever fetches it. absent holds the
// indexes it marked.
func pendingRetrieval(matches []specsheet.MatchResult) ([]specsheet.MatchResult, map[int]bool) {
	pending := make([]specsheet.MatchResult, len(matches))
	copy(pending, matches)
	absent := map[int]bool{}
	for i, m := range pending {
		if m.Status == specsheet.StatusNotFound || m.ResolvedPath == "" {
			continue
		}
		if _, err := os.Stat(m.ResolvedPath); err != nil {
			pending[i].Status = specsheet.StatusNotFound
			pending[i].Origin = ""
			pending[i].ResolvedPath = ""
			absent[i] = true
		}
	}
	return pending, absent
}

// mergeRetrieved keeps the locator's result for absent files the retriever
// could not fetch either, so a mapped part still reports found_exact.
func mergeRetrieved(orig, retrieved []specsheet.MatchResult, absent map[int]bool) []specsheet.MatchResult {
	for i := range retrieved {
		if absent[i] && retrieved[i].Status == specsheet.StatusNotFound {
			retrieved[i] = orig[i]
		}
	}
	return retrieved
}

func hasMissing(matches []specsheet.MatchResult) bool {
	for _, m := range matches {
		if m.Status == specsheet.StatusNotFound {
			return true
		}
	}
	return false
}

func (p *Pipeline) saveNotes(ctx context.Context, notes []retrieve.Note) []string {
	var logs []string
	for _, n := range notes {
		logs = append(logs, "product page kept for review: "+n.URL)
		if p.deps.Store == nil {
			continue
		}
		err := p.deps.Store.InsertNote(ctx, &store.Note{
			ID:         p.deps.NewNoteID(),
			PartNumber: n.PartNumber,
			URL:        n.URL,
			Title:      n.Title,
			Markdown:   n.Markdown,
			FetchedAt:  n.FetchedAt.UnixMilli(),
		})
		if err != nil {
			p.logger.Warn("permit: save note", "url", n.URL, "error", err)
		}
	}
	return logs
}

func (p *Pipeline) record(ctx context.Context, s *store.Store, rep *Report, elapsed time.Duration) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("permit: marshal report: %w", err)
	}
	run := &store.Run{
		ID:           rep.RunID,
		ProjectID:    rep.ProjectID,
		Status:       rep.Status,
		OutputPath:   rep.OutputPath,
		BlobKey:      rep.BlobKey,
		ProcessingMs: elapsed.Milliseconds(),
		Total:        rep.Summary.TotalComponents,
		Found:        rep.Summary.Found,
		Cached:       rep.Summary.Cached,
		Missing:      rep.Summary.Missing,
		SuccessRate:  rep.Summary.SuccessRate,
		ReportJSON:   string(data),
		CreatedAt:    p.deps.Now().UnixMilli(),
	}
	for _, m := range rep.Matches {
		c := m.Component
		run.Components = append(run.Components, store.RunComponent{
			RowIndex:     c.RowIndex,
			PartName:     c.PartName,
			PartNumber:   c.PartNumber,
			Manufacturer: c.Manufacturer,
			Quantity:     c.Quantity,
			Status:       string(m.Status),
			Origin:       string(m.Origin),
			ResolvedPath: m.ResolvedPath,
			Message:      m.Message,
		})
	}
	return s.InsertRun(ctx, run)
}

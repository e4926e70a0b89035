// CLAUDE:SUMMARY Network retrieval of missing spec sheets: JSON search, PDF download, page scan, bounded fan-out.
// Package retrieve looks for specification sheets the local cache does not
// have. For each unresolved component it queries a JSON search API, downloads
// the first candidate that is a valid PDF into the cache directory, and keeps
// a Markdown note of product pages that had no usable PDF.
//
// RetrieveAll runs one task per unresolved component with at most
// Concurrency tasks in flight. Each task has its own timeout; a failure or
// timeout leaves that component not_found and never cancels its siblings.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/permitpack/assemble"
	"github.com/hazyhaar/permitpack/bom"
	"github.com/hazyhaar/permitpack/metrics"
	"github.com/hazyhaar/permitpack/safeio"
	"github.com/hazyhaar/permitpack/specsheet"
)

var (
	// ErrRetrievalTimeout is reported when a task exceeds its timeout.
	ErrRetrievalTimeout = errors.New("retrieve: retrieval timed out")

	// ErrNoSheet is reported when no candidate yielded a valid PDF.
	ErrNoSheet = errors.New("retrieve: no specification sheet found")

	// ErrCircuitOpen is reported while the search engine breaker is open.
	ErrCircuitOpen = errors.New("retrieve: search engine circuit open")
)

// Config configures a Retriever.
type Config struct {
	// CacheDir receives downloaded sheets.
	CacheDir string

	Engine Engine

	Concurrency   int           // tasks in flight. Default: 4.
	Timeout       time.Duration // per task. Default: 45s.
	MaxCandidates int           // search hits and page links tried. Default: 5.
	MaxBytes      int64         // per response. Default: 25MB.
	UserAgent     string
	Retries       int           // per HTTP call. Default: 2, negative disables.
	Backoff       time.Duration // first retry wait, doubled each attempt. Default: 500ms.

	// URLValidator guards every fetched URL and redirect.
	// Default: safeio.ValidateURL.
	URLValidator func(string) error

	// Renderer, when set, renders pages whose static HTML has no PDF link.
	Renderer Renderer

	Breaker *Breaker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 5
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 25 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "permitpack/1.0 (+spec-sheet retrieval)"
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.URLValidator == nil {
		c.URLValidator = safeio.ValidateURL
	}
	if c.Breaker == nil {
		c.Breaker = NewBreaker()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Retriever fetches missing specification sheets. Safe for concurrent use.
type Retriever struct {
	cfg    Config
	client *http.Client
	notes  *noteMaker
	logger *slog.Logger
}

// New creates a Retriever.
func New(cfg Config) *Retriever {
	cfg.defaults()
	return &Retriever{
		cfg:    cfg,
		client: newHTTPClient(cfg.URLValidator),
		notes:  newNoteMaker(),
		logger: cfg.Logger,
	}
}

// Close releases the renderer, if any.
func (r *Retriever) Close() error {
	if r.cfg.Renderer != nil {
		return r.cfg.Renderer.Close()
	}
	return nil
}

// Query builds the search query for a component. Empty parts are dropped.
func Query(c bom.Component) string {
	parts := make([]string, 0, 5)
	for _, s := range []string{c.Manufacturer, c.PartNumber, c.PartName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, "datasheet", "pdf")
	return strings.Join(parts, " ")
}

// Retrieve searches for one component's sheet and stores it in the cache
// directory. It returns the stored path, or a note about the first product
// page without a usable PDF together with ErrNoSheet.
func (r *Retriever) Retrieve(ctx context.Context, c bom.Component) (string, *Note, error) {
	name := specsheet.SpecFileName(c.PartNumber)
	if name == "" {
		name = specsheet.SpecFileName(c.PartName)
	}
	if name == "" {
		return "", nil, fmt.Errorf("%w: component has no part number or name", ErrNoSheet)
	}
	dest, err := safeio.SafePath(r.cfg.CacheDir, name)
	if err != nil {
		return "", nil, err
	}

	if !r.cfg.Breaker.Allow() {
		return "", nil, ErrCircuitOpen
	}
	var hits []Hit
	err = withRetry(ctx, r.cfg.Retries, r.cfg.Backoff, r.logger, "search", func(ctx context.Context) error {
		var err error
		hits, err = r.cfg.Engine.Search(ctx, r.client, Query(c), r.cfg.MaxBytes)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			r.cfg.Breaker.RecordFailure()
		}
		return "", nil, err
	}
	r.cfg.Breaker.RecordSuccess()

	if len(hits) > r.cfg.MaxCandidates {
		hits = hits[:r.cfg.MaxCandidates]
	}

	var note *Note
	for _, h := range hits {
		if err := ctx.Err(); err != nil {
			return "", note, err
		}
		p, err := r.fetchRetry(ctx, h.URL)
		if err != nil {
			r.logger.Debug("retrieve: candidate failed", "url", h.URL, "error", err)
			continue
		}
		if p.isPDF() {
			err := r.store(p, dest)
			if err == nil {
				return dest, nil, nil
			}
			r.logger.Debug("retrieve: candidate rejected", "url", p.URL, "error", err)
			continue
		}
		if !p.isHTML() {
			continue
		}

		if path, ok := r.followLinks(ctx, p, c.PartNumber, dest); ok {
			return path, nil, nil
		}
		if note == nil {
			note = r.notes.note(c.PartNumber, p.URL, p.Body, r.cfg.Now())
		}
	}
	if err := ctx.Err(); err != nil {
		return "", note, err
	}
	return "", note, ErrNoSheet
}

// followLinks tries the PDF links of an HTML page, rendering the page in the
// browser first when the static markup has none.
func (r *Retriever) followLinks(ctx context.Context, p *page, partNumber, dest string) (string, bool) {
	base, _ := url.Parse(p.URL)
	links := pdfLinks(p.Body, base, partNumber)
	if len(links) == 0 && r.cfg.Renderer != nil {
		rendered, err := r.cfg.Renderer.Render(ctx, p.URL)
		if err != nil {
			r.logger.Debug("retrieve: render failed", "url", p.URL, "error", err)
		} else {
			links = pdfLinks(rendered, base, partNumber)
		}
	}
	if len(links) > r.cfg.MaxCandidates {
		links = links[:r.cfg.MaxCandidates]
	}
	for _, l := range links {
		if ctx.Err() != nil {
			return "", false
		}
		lp, err := r.fetchRetry(ctx, l)
		if err != nil || !lp.isPDF() {
			continue
		}
		if err := r.store(lp, dest); err != nil {
			r.logger.Debug("retrieve: link rejected", "url", l, "error", err)
			continue
		}
		return dest, true
	}
	return "", false
}

// store writes a downloaded PDF to a unique temp file in the cache
// directory, checks that it parses, and renames it into place.
func (r *Retriever) store(p *page, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".retrieve-*.pdf")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(p.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if _, err := assemble.PageCount(tmpName); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("retrieve: invalid pdf from %s: %w", p.URL, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	r.logger.Info("retrieve: stored sheet", "url", p.URL, "path", dest)
	return nil
}

// RetrieveAll runs Retrieve for every not_found match and returns the
// updated matches in the original order plus any notes collected. Matches
// that were already resolved are returned unchanged.
func (r *Retriever) RetrieveAll(ctx context.Context, matches []specsheet.MatchResult) ([]specsheet.MatchResult, []Note) {
	out := make([]specsheet.MatchResult, len(matches))
	copy(out, matches)
	notes := make([]*Note, len(matches))

	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i := range out {
		if out[i].Status != specsheet.StatusNotFound {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			out[i], notes[i] = r.retrieveOne(gctx, out[i])
			return nil
		})
	}
	_ = g.Wait()

	var collected []Note
	for _, n := range notes {
		if n != nil {
			collected = append(collected, *n)
		}
	}
	return out, collected
}

func (r *Retriever) retrieveOne(ctx context.Context, m specsheet.MatchResult) (specsheet.MatchResult, *Note) {
	tctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	c := m.Component
	path, note, err := r.Retrieve(tctx, c)
	log := r.logger.With("row", c.RowIndex, "part_number", c.PartNumber)

	switch {
	case err == nil:
		r.cfg.Metrics.ObserveRetrieval("found")
		log.Info("retrieve: found", "path", path)
		return specsheet.MatchResult{
			Component:    c,
			Status:       specsheet.StatusFoundPattern,
			ResolvedPath: path,
			Origin:       specsheet.OriginNetwork,
			Message:      "retrieved from network as " + filepath.Base(path),
		}, nil
	case errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		err = ErrRetrievalTimeout
		r.cfg.Metrics.ObserveRetrieval("timeout")
	case errors.Is(err, ErrNoSheet):
		r.cfg.Metrics.ObserveRetrieval("miss")
	case errors.Is(err, ErrCircuitOpen):
		r.cfg.Metrics.ObserveRetrieval("circuit_open")
	default:
		r.cfg.Metrics.ObserveRetrieval("error")
	}
	log.Warn("retrieve: miss", "error", err)

	m.Status = specsheet.StatusNotFound
	m.ResolvedPath = ""
	m.Origin = ""
	m.Message = strings.TrimSpace(m.Message + "; " + err.Error())
	return m, note
}

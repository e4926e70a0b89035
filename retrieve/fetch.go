package retrieve

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/hazyhaar/permitpack/safeio"
)

var pdfMagic = []byte("%PDF-")

// page is one fetched URL.
type page struct {
	URL         string // final URL after redirects
	ContentType string // media type without parameters
	Body        []byte
}

func (p *page) isPDF() bool { return bytes.HasPrefix(p.Body, pdfMagic) }

func (p *page) isHTML() bool {
	return p.ContentType == "text/html" || p.ContentType == "application/xhtml+xml"
}

// newHTTPClient returns a client that re-validates every redirect target.
func newHTTPClient(validate func(string) error) *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			if err := validate(req.URL.String()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
}

// fetch GETs rawURL after validating it. The body is capped at maxBytes.
func (r *Retriever) fetch(ctx context.Context, rawURL string) (*page, error) {
	if err := r.cfg.URLValidator(rawURL); err != nil {
		return nil, fmt.Errorf("retrieve: URL blocked: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieve: new request: %w", err)
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieve: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	body, err := safeio.LimitedReadAll(resp.Body, r.cfg.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("retrieve: read %s: %w", rawURL, err)
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return &page{
		URL:         resp.Request.URL.String(),
		ContentType: strings.ToLower(ct),
		Body:        body,
	}, nil
}

// fetchRetry wraps fetch with the configured retry policy.
func (r *Retriever) fetchRetry(ctx context.Context, rawURL string) (*page, error) {
	var p *page
	err := withRetry(ctx, r.cfg.Retries, r.cfg.Backoff, r.logger, "fetch", func(ctx context.Context) error {
		var err error
		p, err = r.fetch(ctx, rawURL)
		return err
	})
	return p, err
}

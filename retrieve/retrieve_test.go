package retrieve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/permitpack/assemble"
	"github.com/hazyhaar/permitpack/bom"
	"github.com/hazyhaar/permitpack/metrics"
	"github.com/hazyhaar/permitpack/pdftest"
	"github.com/hazyhaar/permitpack/safeio"
	"github.com/hazyhaar/permitpack/specsheet"
)

// catalogServer serves a fake search API plus the pages it points at.
// The search result for a query depends on which part number it mentions.
type catalogServer struct {
	*httptest.Server
	inflight    atomic.Int32
	maxInflight atomic.Int32
	searches    atomic.Int32
}

func newCatalogServer(t *testing.T) *catalogServer {
	t.Helper()
	cs := &catalogServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		cs.searches.Add(1)
		n := cs.inflight.Add(1)
		defer cs.inflight.Add(-1)
		for {
			m := cs.maxInflight.Load()
			if n <= m || cs.maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		q := r.URL.Query().Get("q")
		var target string
		switch {
		case strings.Contains(q, "DIRECT-1"):
			target = "/files/direct.pdf"
		case strings.Contains(q, "PAGE-2"):
			target = "/product/page2"
		case strings.Contains(q, "NOPDF-3"):
			target = "/product/nopdf"
		case strings.Contains(q, "SLOW-4"):
			target = "/slow"
		case strings.Contains(q, "FAKE-5"):
			target = "/files/fake.pdf"
		}
		results := []map[string]string{}
		if target != "" {
			results = append(results, map[string]string{"name": q, "link": cs.URL + target})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"results": results}})
	})
	mux.HandleFunc("/files/direct.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(pdftest.Build("direct", 2))
	})
	mux.HandleFunc("/files/PAGE-2_datasheet.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pdftest.Build("page2", 3))
	})
	mux.HandleFunc("/files/fake.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 truncated garbage"))
	})
	mux.HandleFunc("/product/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><a href="/files/PAGE-2_datasheet.pdf">Datasheet</a></body></html>`))
	})
	mux.HandleFunc("/product/nopdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Combiner</title></head><body><h1>Combiner box</h1><p>Call sales.</p></body></html>`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	cs.Server = httptest.NewServer(mux)
	t.Cleanup(cs.Close)
	return cs
}

func newTestRetriever(t *testing.T, cs *catalogServer, cfg Config) *Retriever {
	t.Helper()
	cfg.CacheDir = t.TempDir()
	cfg.Engine = Engine{
		Name:        "fake",
		URLTemplate: cs.URL + "/search?q={query}",
		ResultPath:  "data.results",
		Fields:      map[string]string{"title": "name", "url": "link"},
	}
	cfg.URLValidator = safeio.AllowAll
	if cfg.Retries == 0 {
		cfg.Retries = -1
	}
	return New(cfg)
}

func miss(row int, pn string) specsheet.MatchResult {
	return specsheet.MatchResult{
		Component: bom.Component{RowIndex: row, PartNumber: pn, PartName: "Part " + pn},
		Status:    specsheet.StatusNotFound,
		Message:   "no specification sheet",
	}
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "Enphase IQ8PLUS Microinverter datasheet pdf",
		Query(bom.Component{Manufacturer: "Enphase", PartNumber: " IQ8PLUS ", PartName: "Microinverter"}))
	assert.Equal(t, "Rail datasheet pdf", Query(bom.Component{PartName: "Rail"}))
}

func TestRetrieve_DirectPDF(t *testing.T) {
	cs := newCatalogServer(t)
	r := newTestRetriever(t, cs, Config{})

	path, note, err := r.Retrieve(context.Background(), bom.Component{PartNumber: "DIRECT-1"})
	require.NoError(t, err)
	assert.Nil(t, note)
	assert.Equal(t, filepath.Join(r.cfg.CacheDir, "direct1_spec.pdf"), path)

	n, err := assemble.PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRetrieve_FollowsProductPageLink(t *testing.T) {
	cs := newCatalogServer(t)
	r := newTestRetriever(t, cs, Config{})

	path, _, err := r.Retrieve(context.Background(), bom.Component{PartNumber: "PAGE-2"})
	require.NoError(t, err)
	n, err := assemble.PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type fakeRenderer struct {
	html  string
	calls atomic.Int32
}

func (f *fakeRenderer) Render(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return []byte(f.html), nil
}
func (f *fakeRenderer) Close() error { return nil }

func TestRetrieve_RendersWhenStaticPageHasNoLinks(t *testing.T) {
	// WHAT: a JS-only product page is rendered and its PDF link followed.
	cs := newCatalogServer(t)
	fr := &fakeRenderer{html: `<a href="` + cs.URL + `/files/direct.pdf">Spec sheet</a>`}
	r := newTestRetriever(t, cs, Config{Renderer: fr})

	path, _, err := r.Retrieve(context.Background(), bom.Component{PartNumber: "NOPDF-3"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fr.calls.Load())
	assert.FileExists(t, path)
	assert.NoError(t, r.Close())
}

func TestRetrieve_NoPDFKeepsNote(t *testing.T) {
	cs := newCatalogServer(t)
	r := newTestRetriever(t, cs, Config{})

	_, note, err := r.Retrieve(context.Background(), bom.Component{PartNumber: "NOPDF-3"})
	assert.True(t, errors.Is(err, ErrNoSheet))
	require.NotNil(t, note)
	assert.Equal(t, "Combiner", note.Title)
	assert.Contains(t, note.Markdown, "Combiner box")
	assert.Equal(t, "NOPDF-3", note.PartNumber)
}

func TestRetrieve_InvalidPDFRejected(t *testing.T) {
	cs := newCatalogServer(t)
	r := newTestRetriever(t, cs, Config{})

	_, _, err := r.Retrieve(context.Background(), bom.Component{PartNumber: "FAKE-5"})
	assert.True(t, errors.Is(err, ErrNoSheet))
	entries, _ := os.ReadDir(r.cfg.CacheDir)
	assert.Empty(t, entries, "temp file must be removed")
}

func TestRetrieve_BlockedURL(t *testing.T) {
	// WHAT: with the default validator a loopback result URL is never fetched.
	cs := newCatalogServer(t)
	r := newTestRetriever(t, cs, Config{})
	r.cfg.URLValidator = safeio.ValidateURL

	_, _, err := r.Retrieve(context.Background(), bom.Component{PartNumber: "DIRECT-1"})
	assert.True(t, errors.Is(err, ErrNoSheet))
}

func TestRetrieve_CircuitOpen(t *testing.T) {
	cs := newCatalogServer(t)
	b := NewBreaker(WithTripAfter(1))
	b.RecordFailure()
	r := newTestRetriever(t, cs, Config{Breaker: b})

	_, _, err := r.Retrieve(context.Background(), bom.Component{PartNumber: "DIRECT-1"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(0), cs.searches.Load())
}

func TestRetrieveAll_FanOut(t *testing.T) {
	// WHAT: only not_found entries are retried, order is preserved, the
	// semaphore bounds in-flight tasks and a slow task times out alone.
	cs := newCatalogServer(t)
	m := metrics.New()
	r := newTestRetriever(t, cs, Config{Concurrency: 2, Timeout: 300 * time.Millisecond, Metrics: m})

	found := specsheet.MatchResult{
		Component: bom.Component{RowIndex: 1, PartNumber: "KNOWN"}, Status: specsheet.StatusFoundExact,
		ResolvedPath: "/cache/known.pdf", Origin: specsheet.OriginCache,
	}
	in := []specsheet.MatchResult{
		found,
		miss(2, "DIRECT-1"),
		miss(3, "SLOW-4"),
		miss(4, "NOPDF-3"),
		miss(5, "PAGE-2"),
		miss(6, "UNKNOWN-6"),
	}

	out, notes := r.RetrieveAll(context.Background(), in)
	require.Len(t, out, len(in))
	for i := range out {
		assert.Equal(t, i+1, out[i].Component.RowIndex)
	}

	assert.Equal(t, found, out[0])

	assert.Equal(t, specsheet.StatusFoundPattern, out[1].Status)
	assert.Equal(t, specsheet.OriginNetwork, out[1].Origin)
	assert.Equal(t, filepath.Join(r.cfg.CacheDir, "direct1_spec.pdf"), out[1].ResolvedPath)

	assert.Equal(t, specsheet.StatusNotFound, out[2].Status)
	assert.Empty(t, out[2].ResolvedPath)
	assert.Contains(t, out[2].Message, ErrRetrievalTimeout.Error())

	assert.Equal(t, specsheet.StatusNotFound, out[3].Status)
	assert.Equal(t, specsheet.StatusFoundPattern, out[4].Status)
	assert.Equal(t, specsheet.StatusNotFound, out[5].Status)

	require.Len(t, notes, 1)
	assert.Equal(t, "NOPDF-3", notes[0].PartNumber)

	assert.LessOrEqual(t, cs.maxInflight.Load(), int32(2))
	assert.Equal(t, int32(5), cs.searches.Load())

	assert.Equal(t, in[1].Status, specsheet.StatusNotFound, "input slice is not mutated")
}

func TestRetrieveAll_ConcurrentCallers(t *testing.T) {
	cs := newCatalogServer(t)
	r := newTestRetriever(t, cs, Config{Concurrency: 3})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _ := r.RetrieveAll(context.Background(), []specsheet.MatchResult{miss(1, "DIRECT-1")})
			assert.Equal(t, specsheet.StatusFoundPattern, out[0].Status)
		}()
	}
	wg.Wait()
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/permitpack/metrics"
	"github.com/hazyhaar/permitpack/pdftest"
	"github.com/hazyhaar/permitpack/permit"
	"github.com/hazyhaar/permitpack/specsheet"
	"github.com/hazyhaar/permitpack/store"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	dir   string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cache := filepath.Join(dir, "specs")
	require.NoError(t, os.MkdirAll(cache, 0o755))
	pdftest.Write(t, cache, "inverter_spec.pdf", 2)
	pdftest.Write(t, cache, "rail_spec.pdf", 1)

	st := store.OpenMemory(t)
	m := metrics.New()
	pipe := permit.New(permit.Deps{
		CacheDir:  cache,
		OutputDir: filepath.Join(dir, "out"),
		Catalog: specsheet.NewCatalog(
			specsheet.Entry{File: "inverter_spec.pdf", PartNumbers: []string{"INV-1"}},
			specsheet.Entry{File: "rail_spec.pdf", PartNames: []string{"Rail"}},
		),
		Store:   st,
		Metrics: m,
	})
	cfg := Config{Pipeline: pipe, Metrics: m, UploadDir: dir}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func packageForm(t *testing.T, bomCSV string, base []byte, basePages string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if bomCSV != "" {
		fw, err := mw.CreateFormFile("bom", "bom.csv")
		require.NoError(t, err)
		fw.Write([]byte(bomCSV))
	}
	if base != nil {
		fw, err := mw.CreateFormFile("base", "base.pdf")
		require.NoError(t, err)
		fw.Write(base)
	}
	if basePages != "" {
		require.NoError(t, mw.WriteField("base_pages", basePages))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestProjects_CRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/projects", strings.NewReader(`{"name":"Maple St","ahj":"City of Springfield"}`), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[store.Project](t, resp)
	require.NotEmpty(t, created.ID)

	resp = env.do(t, http.MethodPost, "/v1/projects", strings.NewReader(`{"id":"`+created.ID+`","name":"Maple Street"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/projects/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[store.Project](t, resp)
	assert.Equal(t, "Maple Street", got.Name)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)

	resp = env.do(t, http.MethodGet, "/v1/projects", nil, "")
	assert.Len(t, decode[[]store.Project](t, resp), 1)

	resp = env.do(t, http.MethodGet, "/v1/projects/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/projects", strings.NewReader(`{"id":"x"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPermitPackage_EndToEnd(t *testing.T) {
	// WHAT: upload a BOM and a base, then fetch the recorded run.
	// WHY: the API is the main entry point for installers' tooling.
	env := newTestEnv(t, nil)
	ctx := t.Context()
	require.NoError(t, env.store.UpsertProject(ctx, &store.Project{ID: "p1", Name: "Oak Ave"}))

	bomCSV := "Part Name,Part Number,Qty\nMicroinverter,INV-1,20\nRail,,8\nMystery Box,MB-9,1\n"
	body, ct := packageForm(t, bomCSV, pdftest.Build("base", 9), "4")
	resp := env.do(t, http.MethodPost, "/v1/projects/p1/permit-packages", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rep := decode[permit.Report](t, resp)
	assert.Equal(t, "p1", rep.ProjectID)
	assert.Equal(t, permit.StatusPartial, rep.Status)
	assert.Equal(t, 4+2+1, rep.TotalPages)
	assert.Equal(t, []string{"Mystery Box"}, rep.Missing)
	assert.FileExists(t, rep.OutputPath)

	resp = env.do(t, http.MethodGet, "/v1/runs/"+rep.RunID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[store.Run](t, resp)
	assert.Len(t, run.Components, 3)

	resp = env.do(t, http.MethodGet, "/v1/projects/p1/runs", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]store.Run](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)

	resp = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `permitpack_runs_total{status="partial"} 1`)
}

func TestPermitPackage_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.UpsertProject(t.Context(), &store.Project{ID: "p1", Name: "Oak Ave"}))

	tests := []struct {
		name     string
		path     string
		bom      string
		base     []byte
		pages    string
		wantCode int
	}{
		{"unknown project", "/v1/projects/zz/permit-packages", "Part Name\nx\n", pdftest.Build("b", 1), "", http.StatusNotFound},
		{"missing base", "/v1/projects/p1/permit-packages", "Part Name\nx\n", nil, "", http.StatusBadRequest},
		{"bad base_pages", "/v1/projects/p1/permit-packages", "Part Name\nx\n", pdftest.Build("b", 1), "zero", http.StatusBadRequest},
		{"malformed bom", "/v1/projects/p1/permit-packages", "Nothing,Useful\n1,2\n", pdftest.Build("b", 1), "", http.StatusUnprocessableEntity},
		{"garbage base", "/v1/projects/p1/permit-packages", "Part Name\nx\n", []byte("not a pdf"), "", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := packageForm(t, tt.bom, tt.base, tt.pages)
			resp := env.do(t, http.MethodPost, tt.path, body, ct)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			errBody := decode[map[string]string](t, resp)
			assert.NotEmpty(t, errBody["error"])
		})
	}
}

func TestLocate(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/locate", strings.NewReader(`{"part_number":"INV-1"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[specsheet.MatchResult](t, resp)
	assert.Equal(t, specsheet.StatusFoundExact, m.Status)

	resp = env.do(t, http.MethodPost, "/v1/locate", strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/locate", strings.NewReader(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotes(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.InsertNote(t.Context(), &store.Note{ID: "n1", PartNumber: "ABC", URL: "https://example.com/abc", Markdown: "# ABC"}))
	require.NoError(t, env.store.InsertNote(t.Context(), &store.Note{ID: "n2", PartNumber: "XYZ", URL: "https://example.com/xyz"}))

	resp := env.do(t, http.MethodGet, "/v1/notes?part_number=ABC", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	notes := decode[[]store.Note](t, resp)
	require.Len(t, notes, 1)
	assert.Equal(t, "n1", notes[0].ID)

	resp = env.do(t, http.MethodGet, "/v1/notes", nil, "")
	assert.Len(t, decode[[]store.Note](t, resp), 2)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, func(c *Config) {
		c.Username = "installer"
		c.PasswordHash = string(hash)
	})

	resp := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "healthz stays open")

	resp = env.do(t, http.MethodGet, "/v1/projects", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	for _, creds := range []struct {
		user, pass string
		want       int
	}{
		{"installer", "wrong", http.StatusUnauthorized},
		{"someone", "s3cret", http.StatusUnauthorized},
		{"installer", "s3cret", http.StatusOK},
	} {
		req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/projects", nil)
		req.SetBasicAuth(creds.user, creds.pass)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, creds.want, resp.StatusCode, "%s/%s", creds.user, creds.pass)
	}
}

func TestNoStore(t *testing.T) {
	pipe := permit.New(permit.Deps{CacheDir: t.TempDir()})
	srv := httptest.NewServer(New(Config{Pipeline: pipe}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/projects")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/permitpack/blob"
	"github.com/hazyhaar/permitpack/config"
	"github.com/hazyhaar/permitpack/pdftest"
	"github.com/hazyhaar/permitpack/permit"
	"github.com/hazyhaar/permitpack/specsheet"
	"github.com/hazyhaar/permitpack/store"
)

// workspace writes a config, a catalog, a cache with one sheet, a BOM and
// a base document into a temp dir.
type workspace struct {
	dir, config, bom, base string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	cache := filepath.Join(dir, "specs")
	require.NoError(t, os.MkdirAll(cache, 0o755))
	pdftest.Write(t, cache, "inverter_spec.pdf", 2)

	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`entries:
  - file: inverter_spec.pdf
    part_numbers: [INV-1]
`), 0o644))

	cfg := filepath.Join(dir, "permitpack.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(
		"cache_dir: "+cache+"\n"+
			"output_dir: "+filepath.Join(dir, "out")+"\n"+
			"database: "+filepath.Join(dir, "permitpack.db")+"\n"+
			"catalog_file: "+catalog+"\n"+
			"base_pages: 3\n"+
			"blob:\n  driver: local\n  dir: "+filepath.Join(dir, "blobs")+"\n",
	), 0o644))

	bomPath := filepath.Join(dir, "bom.csv")
	require.NoError(t, os.WriteFile(bomPath, []byte("Part Name,Part Number,Qty\nMicroinverter,INV-1,12\nUnknown Thing,UT-1,1\n"), 0o644))

	return &workspace{
		dir:    dir,
		config: cfg,
		bom:    bomPath,
		base:   pdftest.Write(t, dir, "base.pdf", 5),
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_ProjectAssembleRuns(t *testing.T) {
	// WHAT: project add, assemble and runs share one database through the config.
	ws := newWorkspace(t)

	out, err := execute(t, "--config", ws.config, "project", "add", "--id", "p1", "--name", "Oak Ave", "--ahj", "Springfield")
	require.NoError(t, err)
	var p store.Project
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "Springfield", p.AHJ)

	out, err = execute(t, "--config", ws.config, "assemble", "--bom", ws.bom, "--base", ws.base, "--project", "p1", "--offline")
	require.NoError(t, err)
	var rep permit.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, permit.StatusPartial, rep.Status)
	assert.Equal(t, 3+2, rep.TotalPages)
	assert.Equal(t, []string{"Unknown Thing"}, rep.Missing)
	assert.Equal(t, filepath.Join(ws.dir, "out", rep.RunID+".pdf"), rep.OutputPath)
	assert.FileExists(t, filepath.Join(ws.dir, "blobs", "projects", "p1", "permits", rep.RunID+".pdf"))

	out, err = execute(t, "--config", ws.config, "runs", "--project", "p1")
	require.NoError(t, err)
	var runs []store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)

	out, err = execute(t, "--config", ws.config, "runs", "--id", rep.RunID)
	require.NoError(t, err)
	var run store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Len(t, run.Components, 2)

	_, err = execute(t, "--config", ws.config, "runs", "--id", "missing")
	assert.Error(t, err)

	out, err = execute(t, "--config", ws.config, "project", "list")
	require.NoError(t, err)
	var projects []store.Project
	require.NoError(t, json.Unmarshal([]byte(out), &projects))
	assert.Len(t, projects, 1)
}

func TestCLI_Locate(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "--config", ws.config, "locate", "--bom", ws.bom)
	require.NoError(t, err)
	var matches []specsheet.MatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 2)
	assert.Equal(t, specsheet.StatusFoundExact, matches[0].Status)
	assert.Equal(t, specsheet.StatusNotFound, matches[1].Status)
}

func TestCLI_Errors(t *testing.T) {
	ws := newWorkspace(t)

	_, err := execute(t, "--config", ws.config, "assemble", "--bom", filepath.Join(ws.dir, "nope.csv"), "--base", ws.base, "--offline")
	assert.ErrorIs(t, err, permit.ErrInputNotFound)

	_, err = execute(t, "--config", ws.config, "assemble", "--base", ws.base)
	assert.Error(t, err, "--bom is required")

	_, err = execute(t, "--config", ws.config, "--log-level", "loud", "locate", "--bom", ws.bom)
	var ce *config.ConfigError
	assert.ErrorAs(t, err, &ce)

	_, err = execute(t, "--config", filepath.Join(ws.dir, "absent.yaml"), "locate", "--bom", ws.bom)
	assert.ErrorAs(t, err, &ce)
}

func TestNewBlobStore(t *testing.T) {
	ctx := context.Background()

	s, err := newBlobStore(ctx, config.BlobConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = newBlobStore(ctx, config.BlobConfig{Driver: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &blob.LocalStore{}, s)

	s, err = newBlobStore(ctx, config.BlobConfig{Driver: "s3", Bucket: "permits", Endpoint: "http://127.0.0.1:9000", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.IsType(t, &blob.S3Store{}, s)

	_, err = newBlobStore(ctx, config.BlobConfig{Driver: "ftp"})
	assert.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	e := newEngine(config.EngineConfig{
		Name:        "brave",
		URLTemplate: "https://api.example.com/search?q={query}",
		ResultPath:  "web.results",
		Fields:      map[string]string{"snippet": "description"},
		Headers:     map[string]string{"X-Subscription-Token": "${BRAVE_KEY}"},
	})
	assert.Equal(t, "brave", e.Name)
	assert.Equal(t, "web.results", e.ResultPath)
	assert.Equal(t, "description", e.Fields["snippet"])
	assert.Equal(t, "${BRAVE_KEY}", e.Headers["X-Subscription-Token"])
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/permitpack/assemble"
	"github.com/hazyhaar/permitpack/bom"
	"github.com/hazyhaar/permitpack/idgen"
	"github.com/hazyhaar/permitpack/permit"
	"github.com/hazyhaar/permitpack/store"
)

var errNoStore = errors.New("project store is not configured")

// --- projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	st := s.pipe.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	list, err := st.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []*store.Project{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) upsertProject(w http.ResponseWriter, r *http.Request) {
	st := s.pipe.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	var p store.Project
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	code := http.StatusOK
	if p.ID == "" {
		p.ID = idgen.New()
		code = http.StatusCreated
	} else {
		existing, err := st.GetProject(r.Context(), p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if existing == nil {
			code = http.StatusCreated
		} else {
			p.CreatedAt = existing.CreatedAt
		}
	}
	if err := st.UpsertProject(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, code, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	st := s.pipe.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	p, err := st.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, errors.New("project not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- runs ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	st := s.pipe.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	runs, err := st.ListRuns(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	st := s.pipe.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// createPermitPackage stores the uploaded bom and base files in a private
// directory, runs the pipeline on them and returns the report.
func (s *Server) createPermitPackage(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if st := s.pipe.Store(); st != nil {
		p, err := st.GetProject(r.Context(), projectID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if p == nil {
			writeError(w, http.StatusNotFound, errors.New("project not found"))
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	basePages := 0
	if v := r.FormValue("base_pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("base_pages must be a positive integer, got %q", v))
			return
		}
		basePages = n
	}

	dir, err := os.MkdirTemp(s.cfg.UploadDir, "permitpack-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer os.RemoveAll(dir)

	bomPath, err := saveUpload(r, "bom", filepath.Join(dir, "bom.csv"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	basePath, err := saveUpload(r, "base", filepath.Join(dir, "base.pdf"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rep, err := s.pipe.Run(r.Context(), permit.Request{
		ProjectID:    projectID,
		BOMPath:      bomPath,
		BasePath:     basePath,
		MaxBasePages: basePages,
	})
	if err != nil {
		writeError(w, runErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func saveUpload(r *http.Request, field, dest string) (string, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("missing %s file: %w", field, err)
	}
	defer f.Close()
	return dest, copyTo(f, dest)
}

func copyTo(src multipart.File, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func runErrorStatus(err error) int {
	var pe *bom.ParseError
	var ae *assemble.AssemblyError
	switch {
	case errors.Is(err, permit.ErrInputNotFound):
		return http.StatusBadRequest
	case errors.As(err, &pe), errors.As(err, &ae):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- lookup ---

func (s *Server) locate(w http.ResponseWriter, r *http.Request) {
	var req permit.LocateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	resp, err := s.pipe.LocateEndpoint()(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	st := s.pipe.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	notes, err := st.ListNotes(r.Context(), r.URL.Query().Get("part_number"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if notes == nil {
		notes = []*store.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

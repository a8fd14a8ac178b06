// Package controlapi implements the CRUD surface over jobs described in
// spec.md §4.7 and §6. It follows the teacher's monitor/server.go pattern:
// explicit handler methods on a Server struct, a net/http.ServeMux for
// routing, and encoding/json for the request/response bodies. No
// third-party HTTP router appears anywhere in the teacher's own dependency
// graph for its monitor dashboard, so this one HTTP-layer piece is grounded
// on the teacher's own standard-library usage rather than an external
// library (see DESIGN.md). Because this module targets Go 1.21,
// net/http.ServeMux's path-parameter syntax (Go 1.22+) is unavailable;
// path segments after "/jobs/" are parsed manually, the same way
// monitor/server.go dispatches "/api/stream" and "/api/status" by fixed
// string comparison.
package controlapi

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tablecron/tablecron/internal/cronsched"
	"github.com/tablecron/tablecron/internal/executor"
	"github.com/tablecron/tablecron/internal/fetcher"
	"github.com/tablecron/tablecron/internal/logger"
	"github.com/tablecron/tablecron/internal/sandbox"
	"github.com/tablecron/tablecron/internal/store"
	"github.com/tablecron/tablecron/internal/types"
)

const uploadDir = "data/uploads"

// Server is the HTTP handler for the /api/jobs surface.
type Server struct {
	store    *store.Store
	sched    *cronsched.Scheduler
	exec     *executor.Executor
	fetcher  *fetcher.Fetcher
	sandbox  *sandbox.Sandbox
	log      logger.Logger
	mux      *http.ServeMux
	deadline time.Duration
}

// New builds a Server and registers its routes.
func New(st *store.Store, sched *cronsched.Scheduler, exec *executor.Executor, f *fetcher.Fetcher, sb *sandbox.Sandbox, log logger.Logger, sandboxDeadline time.Duration) *Server {
	s := &Server{store: st, sched: sched, exec: exec, fetcher: f, sandbox: sb, log: log, mux: http.NewServeMux(), deadline: sandboxDeadline}
	s.mux.HandleFunc("/api/jobs", s.handleCollection)
	s.mux.HandleFunc("/api/jobs/", s.handleItem)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleItem dispatches everything under /api/jobs/ by manually parsing the
// trailing path: "{name}", "create", "{name}/test", "upload-file".
func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	rest = strings.Trim(rest, "/")

	switch {
	case rest == "create" && r.Method == http.MethodPost:
		s.createJob(w, r)
	case rest == "upload-file" && r.Method == http.MethodPost:
		s.uploadFile(w, r)
	case strings.HasSuffix(rest, "/test") && r.Method == http.MethodPost:
		s.testJob(w, r, strings.TrimSuffix(rest, "/test"))
	case rest != "" && !strings.Contains(rest, "/"):
		switch r.Method {
		case http.MethodGet:
			s.getJob(w, r, rest)
		case http.MethodPut:
			s.updateJob(w, r, rest)
		case http.MethodDelete:
			s.deleteJob(w, r, rest)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, _ *http.Request, name string) {
	job, err := s.store.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var dto types.JobCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := validate(dto); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := types.Job{
		ID:         uuid.NewString(),
		Name:       dto.Name,
		Schedule:   dto.Schedule,
		Source:     dto.Source,
		Transform:  dto.Transform,
		Recipients: dto.Recipients,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.Put(job); err != nil {
		if err == store.ErrNameInUse {
			writeError(w, http.StatusBadRequest, "job_name already in use")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.sched.Register(job.Name, job.Schedule); err != nil {
		if rmErr := s.store.Remove(job.Name); rmErr != nil {
			s.log.Errorf("remove %s after failed register: %v", job.Name, rmErr)
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("register: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request, name string) {
	var dto types.JobCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := validate(dto); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := types.Job{
		Name:       name,
		Schedule:   dto.Schedule,
		Source:     dto.Source,
		Transform:  dto.Transform,
		Recipients: dto.Recipients,
	}
	if err := s.store.Replace(name, job); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.sched.Register(name, job.Schedule); err != nil {
		s.log.Errorf("re-register %s after update: %v", name, err)
	}

	updated, _ := s.store.Get(name)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteJob(w http.ResponseWriter, _ *http.Request, name string) {
	s.sched.Unregister(name)
	if err := s.store.Remove(name); err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testJob runs fetch+transform synchronously and returns the resulting CSV,
// without delivering mail or touching last_run.
func (s *Server) testJob(w http.ResponseWriter, r *http.Request, name string) {
	job, err := s.store.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	input, err := s.fetcher.Fetch(r.Context(), job.Source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("fetch: %v", err))
		return
	}
	result, err := s.sandbox.Run(job.Transform, input, s.deadline)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("transform: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	if err := writeCSVPreview(w, result); err != nil {
		s.log.Errorf("test run %s: write CSV preview: %v", name, err)
	}
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	destPath := filepath.Join(uploadDir, filepath.Base(header.Filename))
	dest, err := os.Create(destPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer dest.Close()

	size, err := io.Copy(dest, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filename": header.Filename,
		"path":     "/data/uploads/" + filepath.Base(header.Filename),
		"size":     size,
	})
}

func validate(dto types.JobCreateDTO) error {
	if strings.TrimSpace(dto.Name) == "" {
		return fmt.Errorf("job_name is required")
	}
	if _, err := cron.ParseStandard(dto.Schedule); err != nil {
		return fmt.Errorf("schedule_time: %w", err)
	}
	switch dto.Source.Type {
	case types.SourceAPI:
		if dto.Source.Location == "" {
			return fmt.Errorf("data_source.location is required for source_type=api")
		}
	case types.SourceFile:
		if dto.Source.Location == "" {
			return fmt.Errorf("data_source.location is required for source_type=file")
		}
		if dto.Source.FileType != types.FileCSV && dto.Source.FileType != types.FileJSON {
			return fmt.Errorf("data_source.file_type must be csv or json for source_type=file")
		}
	default:
		return fmt.Errorf("data_source.source_type must be api or file")
	}
	if strings.TrimSpace(dto.Transform) == "" {
		return fmt.Errorf("processing_script is required")
	}
	if len(dto.Recipients) == 0 {
		return fmt.Errorf("consumer_emails must be non-empty")
	}
	for _, addr := range dto.Recipients {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("consumer_emails: malformed address %q", addr)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeCSVPreview renders a test-run table with the same header-row and
// standard quoting (encoding/csv) the Mailer uses for delivered CSVs.
func writeCSVPreview(w http.ResponseWriter, table types.Table) error {
	cols := table.ColumnUnion()
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, row := range table.Rows {
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = fmt.Sprint(row[c])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

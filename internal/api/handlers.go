package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/topografia/internal/analysis"
	"github.com/lox/topografia/internal/apiclient"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/pgsource"
	"github.com/lox/topografia/internal/report"
	"github.com/lox/topografia/internal/resources"
	"github.com/lox/topografia/internal/store"
)

const narrativeTimeout = 2 * time.Minute

type HealthStatus struct {
	Status           string            `json:"status"`
	API              *resources.Health `json:"api,omitempty"`
	MigrationVersion int               `json:"migration_version,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a failure to a status: upstream 4xx pass through,
// anything else from the survey API is a bad gateway.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *apiclient.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.IsClientError():
		status = apiErr.StatusCode
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	case errors.Is(err, pgsource.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": resources.ErrorMessage(err)})
}

func projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Projects []models.Project
		Error    string
	}{}
	projects, err := s.svc.Projects.List(r.Context(), nil)
	if err != nil {
		data.Error = resources.ErrorMessage(err)
	}
	data.Projects = projects

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		log.Printf("api: render index: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	h, err := s.svc.Utilities.Health(r.Context())
	if err != nil {
		health.Errors = append(health.Errors, "api: "+resources.ErrorMessage(err))
	} else {
		health.API = &h
	}

	if s.opts.Store != nil {
		v, err := s.opts.Store.MigrationVersion()
		if err != nil {
			health.Errors = append(health.Errors, "store: "+err.Error())
		}
		health.MigrationVersion = v
	}

	status := http.StatusOK
	if len(health.Errors) > 0 {
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.Projects.List(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	p, err := s.svc.Projects.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// analyze loads and reduces a project. costo_m3 overrides the configured
// cost per cubic metre.
func (s *Server) analyze(ctx context.Context, r *http.Request, id int64) (models.Project, analysis.Summary, error) {
	in, err := analysis.Load(ctx, s.loader, s.opts.Source, id)
	if err != nil {
		return models.Project{}, analysis.Summary{}, err
	}
	in.CostPerM3 = s.opts.CostPerM3
	if v := r.URL.Query().Get("costo_m3"); v != "" {
		if cost, err := strconv.ParseFloat(v, 64); err == nil && cost >= 0 {
			in.CostPerM3 = cost
		}
	}
	return in.Project, analysis.Analyze(in), nil
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	_, summary, err := s.analyze(r.Context(), r, id)
	if err != nil {
		log.Printf("api: analysis of project %d: %v", id, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleScorecard(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if data, ok := s.scorecards.Get(id); ok {
		servePNG(w, data)
		return
	}

	p, summary, err := s.analyze(r.Context(), r, id)
	if err != nil {
		log.Printf("api: scorecard of project %d: %v", id, err)
		writeError(w, err)
		return
	}
	data, err := report.Scorecard(summary, p)
	if err != nil {
		log.Printf("api: render scorecard %d: %v", id, err)
		http.Error(w, "Failed to generate scorecard", http.StatusInternalServerError)
		return
	}
	s.scorecards.Set(id, data)
	servePNG(w, data)
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}

func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(w, r)
	if !ok {
		return
	}
	if s.opts.Narrator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "narratives disabled: OPENAI_API_KEY not set"})
		return
	}

	p, summary, err := s.analyze(r.Context(), r, id)
	if err != nil {
		writeError(w, err)
		return
	}

	s.narrateMu.Lock()
	defer s.narrateMu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), narrativeTimeout)
	defer cancel()
	text, err := s.opts.Narrator.Narrate(ctx, p, summary)
	if err != nil {
		log.Printf("api: narrative of project %d: %v", id, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": id,
		"verdict":    summary.Verdict,
		"narrative":  text,
	})
}

type exportView struct {
	ID            int64      `json:"id"`
	MeasurementID int64      `json:"measurement_id"`
	Format        string     `json:"format"`
	Filename      string     `json:"filename"`
	CreatedAt     time.Time  `json:"created_at"`
	SizeBytes     int64      `json:"size_bytes"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

func newExportView(e store.Export) exportView {
	v := exportView{
		ID:            e.ID,
		MeasurementID: e.MeasurementID,
		Format:        e.Format,
		Filename:      e.Filename,
		CreatedAt:     e.CreatedAt,
		SizeBytes:     e.SizeBytes,
	}
	if e.PublishedAt.Valid {
		t := e.PublishedAt.Time
		v.PublishedAt = &t
	}
	return v
}

func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeJSON(w, http.StatusOK, []exportView{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	exports, err := s.opts.Store.ListExports(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]exportView, 0, len(exports))
	for _, e := range exports {
		views = append(views, newExportView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

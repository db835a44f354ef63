// Package api serves a local dashboard over the survey API: project
// listings, analysis summaries, scorecards and narratives.
package api

import (
	"context"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/topografia/internal/analysis"
	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/report"
	"github.com/lox/topografia/internal/resources"
	"github.com/lox/topografia/internal/store"
)

const scorecardTTL = 5 * time.Minute

// Options configures the optional parts of a Server.
type Options struct {
	Port string
	// Source labels analysis metrics ("rest" or "postgres").
	Source    string
	CostPerM3 float64
	Store     *store.Store
	Narrator  *report.Narrator
}

type Server struct {
	svc        *resources.Service
	loader     analysis.Loader
	opts       Options
	tmpl       *template.Template
	scorecards *report.ScorecardCache
	narrateMu  sync.Mutex // one narrative request to OpenAI at a time
}

func NewServer(svc *resources.Service, loader analysis.Loader, opts Options) *Server {
	if opts.Port == "" {
		opts.Port = "8080"
	}
	if opts.Source == "" {
		opts.Source = "rest"
	}
	return &Server{
		svc:        svc,
		loader:     loader,
		opts:       opts,
		tmpl:       newTemplates(),
		scorecards: report.NewScorecardCache(scorecardTTL),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("GET /api/projects/{id}", s.handleProject)
	mux.HandleFunc("GET /api/projects/{id}/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /api/projects/{id}/scorecard.png", s.handleScorecard)
	mux.HandleFunc("GET /api/projects/{id}/narrative", s.handleNarrative)
	mux.HandleFunc("GET /api/exports", s.handleExports)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.opts.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.svc.Cache().PruneEvery(ctx, cache.Short)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

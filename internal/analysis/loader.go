package analysis

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lox/topografia/internal/metrics"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/resources"
)

// Loader reads the data a project analysis needs.
type Loader interface {
	Project(ctx context.Context, projectID int64) (models.Project, error)
	Stations(ctx context.Context, projectID int64) ([]models.Station, error)
	Measurements(ctx context.Context, projectID int64) ([]models.Measurement, error)
	Readings(ctx context.Context, projectID int64, measurements []models.Measurement) ([]models.Reading, error)
}

// Load gathers everything Analyze needs for one project. source labels
// the analyses-run metric.
func Load(ctx context.Context, l Loader, source string, projectID int64) (Input, error) {
	var in Input

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := l.Project(gctx, projectID)
		if err != nil {
			return fmt.Errorf("load project %d: %w", projectID, err)
		}
		in.Project = p
		return nil
	})
	g.Go(func() error {
		st, err := l.Stations(gctx, projectID)
		if err != nil {
			return fmt.Errorf("load stations: %w", err)
		}
		in.Stations = st
		return nil
	})
	g.Go(func() error {
		ms, err := l.Measurements(gctx, projectID)
		if err != nil {
			return fmt.Errorf("load measurements: %w", err)
		}
		in.Measurements = ms
		return nil
	})
	if err := g.Wait(); err != nil {
		return in, err
	}

	readings, err := l.Readings(ctx, projectID, in.Measurements)
	if err != nil {
		return in, fmt.Errorf("load readings: %w", err)
	}
	in.Readings = readings
	metrics.AnalysesRun.WithLabelValues(source).Inc()
	return in, nil
}

// RESTLoader reads through the cached API resources.
type RESTLoader struct {
	svc         *resources.Service
	concurrency int
}

func NewRESTLoader(svc *resources.Service) *RESTLoader {
	return &RESTLoader{svc: svc, concurrency: 4}
}

func (l *RESTLoader) Project(ctx context.Context, projectID int64) (models.Project, error) {
	return l.svc.Projects.Get(ctx, projectID)
}

func (l *RESTLoader) Stations(ctx context.Context, projectID int64) ([]models.Station, error) {
	return l.svc.Projects.Stations(ctx, projectID)
}

func (l *RESTLoader) Measurements(ctx context.Context, projectID int64) ([]models.Measurement, error) {
	return l.svc.Projects.Measurements(ctx, projectID)
}

// Readings fetches each measurement's readings, a few at a time.
func (l *RESTLoader) Readings(ctx context.Context, _ int64, measurements []models.Measurement) ([]models.Reading, error) {
	var (
		mu  sync.Mutex
		out = []models.Reading{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, m := range measurements {
		g.Go(func() error {
			rs, err := l.svc.Measurements.Readings(gctx, m.ID)
			if err != nil {
				return fmt.Errorf("measurement %d: %w", m.ID, err)
			}
			mu.Lock()
			out = append(out, rs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

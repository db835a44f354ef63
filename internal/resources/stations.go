package resources

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/endpoints"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/querykeys"
)

const (
	// chainageEpsilon is how close two chainages must be to count as the same station.
	chainageEpsilon = 0.0005

	generateWorkers = 4
)

var stationListOptions = cache.FetchOptions{StaleTime: cache.Medium, CacheTime: cache.Long}

type Stations struct{ b base }

func (s *Stations) ListByProject(ctx context.Context, projectID int64, filters url.Values) ([]models.Station, error) {
	return fetchList[models.Station](ctx, s.b, querykeys.Stations.ByProject(projectID, filters), stationListOptions,
		endpoints.WithQuery(endpoints.ProjectStations(projectID), filters))
}

func (s *Stations) List(ctx context.Context, filters url.Values) ([]models.Station, error) {
	return fetchList[models.Station](ctx, s.b, querykeys.Stations.List(filters), stationListOptions,
		endpoints.WithQuery(endpoints.Stations(), filters))
}

func (s *Stations) Get(ctx context.Context, id int64) (models.Station, error) {
	return fetchOne[models.Station](ctx, s.b, querykeys.Stations.Detail(id),
		cache.FetchOptions{StaleTime: cache.Long}, endpoints.Station(id))
}

func (s *Stations) Create(ctx context.Context, in models.StationInput) (models.Station, error) {
	created, err := s.post(ctx, in)
	if err != nil {
		return created, logFailure("create station", err)
	}
	s.invalidateProject(in.ProjectID)
	return created, nil
}

func (s *Stations) post(ctx context.Context, in models.StationInput) (models.Station, error) {
	var created models.Station
	if err := s.b.api.Post(ctx, endpoints.Stations(), in, &created); err != nil {
		return created, err
	}
	if created.ID != 0 {
		s.b.cache.Set(querykeys.Stations.Detail(created.ID), created)
	}
	return created, nil
}

func (s *Stations) invalidateProject(projectID int64) {
	s.b.cache.Invalidate(querykeys.Stations.Lists())
	if projectID != 0 {
		s.b.cache.Invalidate(querykeys.Projects.Stations(projectID))
	}
}

func (s *Stations) Update(ctx context.Context, id int64, patch models.StationPatch) (models.Station, error) {
	key := querykeys.Stations.Detail(id)
	updated, err := optimisticUpdate(ctx, s.b, key, patch.Apply,
		func(ctx context.Context) (models.Station, error) {
			var out models.Station
			err := s.b.api.Put(ctx, endpoints.Station(id), patch, &out)
			return out, err
		},
		func(updated models.Station, ok bool) {
			if ok && updated.ID != 0 {
				s.b.cache.Set(key, updated)
			} else {
				s.b.cache.Invalidate(key)
			}
			s.invalidateProject(updated.ProjectID)
		})
	return updated, logFailure(fmt.Sprintf("update station %d", id), err)
}

func (s *Stations) Delete(ctx context.Context, id int64) error {
	key := querykeys.Stations.Detail(id)
	var projectID int64
	if v, ok := s.b.cache.Get(key); ok {
		if st, ok := v.(models.Station); ok {
			projectID = st.ProjectID
		}
	}
	if err := s.b.api.Delete(ctx, endpoints.Station(id), nil); err != nil {
		return logFailure(fmt.Sprintf("delete station %d", id), err)
	}
	s.b.cache.Remove(key)
	s.invalidateProject(projectID)
	return nil
}

func (s *Stations) CreateResult(ctx context.Context, in models.StationInput) Result[models.Station] {
	return NewResult(s.Create(ctx, in))
}

func (s *Stations) UpdateResult(ctx context.Context, id int64, patch models.StationPatch) Result[models.Station] {
	return NewResult(s.Update(ctx, id, patch))
}

func (s *Stations) DeleteResult(ctx context.Context, id int64) Result[int64] {
	return NewResult(id, s.Delete(ctx, id))
}

// StationDefaults are the design values given to generated stations.
// Unset values fall back to the model defaults; an explicit zero is kept.
type StationDefaults struct {
	RightSlope models.Number
	LeftSlope  *float64
	BaseCL     models.Number
}

// GenerateFailure records a chainage that could not be created.
type GenerateFailure struct {
	Km  float64
	Err error
}

// GenerateReport summarises a Generate run.
type GenerateReport struct {
	Created []models.Station
	Skipped int
	Failed  []GenerateFailure
}

// Chainages lists every station position from start to end inclusive,
// stepping by interval and rounding to the millimetre. Positions are
// computed from the index rather than accumulated, so float error does
// not drift over long projects.
func Chainages(start, end, interval float64) []float64 {
	if interval <= 0 || end < start {
		return nil
	}
	n := int(math.Floor((end-start)/interval + 1e-9))
	out := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, roundMillis(start+float64(i)*interval))
	}
	return out
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Generate creates the theoretical stations of a project that do not
// exist yet. A station that fails to create is recorded in the report
// and does not stop the others.
func (s *Stations) Generate(ctx context.Context, project models.Project, d StationDefaults) (GenerateReport, error) {
	var report GenerateReport

	interval := project.Interval.Or(models.DefaultInterval)
	if !project.KmStart.Valid || !project.KmEnd.Valid {
		return report, errors.New("project has no chainage range")
	}
	chainages := Chainages(project.KmStart.Float64, project.KmEnd.Float64, interval)
	if len(chainages) == 0 {
		return report, fmt.Errorf("invalid chainage range %.3f-%.3f every %.3f",
			project.KmStart.Float64, project.KmEnd.Float64, interval)
	}

	existing, err := s.ListByProject(ctx, project.ID, nil)
	if err != nil {
		return report, fmt.Errorf("list existing stations: %w", err)
	}

	rightSlope := d.RightSlope.Or(models.DefaultRightSlope)
	baseCL := d.BaseCL.Or(models.DefaultBaseCL)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(generateWorkers)
	for _, km := range chainages {
		if hasChainage(existing, km) {
			report.Skipped++
			continue
		}
		g.Go(func() error {
			st, err := s.post(ctx, models.StationInput{
				ProjectID:  project.ID,
				Km:         km,
				RightSlope: rightSlope,
				BaseCL:     baseCL,
				LeftSlope:  d.LeftSlope,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("resources: generate station %.3f for project %d: %v", km, project.ID, err)
				report.Failed = append(report.Failed, GenerateFailure{Km: km, Err: err})
				return nil
			}
			report.Created = append(report.Created, st)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Created, func(i, j int) bool {
		return report.Created[i].Km.Float64 < report.Created[j].Km.Float64
	})
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Km < report.Failed[j].Km })

	if len(report.Created) > 0 {
		s.invalidateProject(project.ID)
	}
	log.Printf("resources: generated stations for project %d: %d created, %d skipped, %d failed",
		project.ID, len(report.Created), report.Skipped, len(report.Failed))
	return report, nil
}

func hasChainage(stations []models.Station, km float64) bool {
	for _, st := range stations {
		if st.Km.Valid && math.Abs(st.Km.Float64-km) <= chainageEpsilon {
			return true
		}
	}
	return false
}

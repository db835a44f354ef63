package resources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/endpoints"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/querykeys"
)

// Measurements change often during field work, so lists go stale quickly.
var measurementListOptions = cache.FetchOptions{StaleTime: cache.Short, CacheTime: cache.Medium}

type Measurements struct{ b base }

func (m *Measurements) ListByProject(ctx context.Context, projectID int64) ([]models.Measurement, error) {
	return fetchList[models.Measurement](ctx, m.b, querykeys.Measurements.ByProject(projectID), measurementListOptions,
		endpoints.ProjectMeasurements(projectID))
}

// ByStation returns the measurements taken at one chainage of a project.
func (m *Measurements) ByStation(ctx context.Context, projectID int64, km float64) ([]models.Measurement, error) {
	filters := url.Values{
		"proyecto_id": {strconv.FormatInt(projectID, 10)},
		"estacion_km": {strconv.FormatFloat(km, 'f', -1, 64)},
	}
	return fetchList[models.Measurement](ctx, m.b, querykeys.Measurements.ByStation(km, projectID), measurementListOptions,
		endpoints.WithQuery(endpoints.Measurements(), filters))
}

func (m *Measurements) List(ctx context.Context, filters url.Values) ([]models.Measurement, error) {
	return fetchList[models.Measurement](ctx, m.b, querykeys.Measurements.List(filters), measurementListOptions,
		endpoints.WithQuery(endpoints.Measurements(), filters))
}

func (m *Measurements) Get(ctx context.Context, id int64) (models.Measurement, error) {
	return fetchOne[models.Measurement](ctx, m.b, querykeys.Measurements.Detail(id),
		cache.FetchOptions{StaleTime: cache.Medium}, endpoints.Measurement(id))
}

// Readings returns every reading recorded under a measurement.
func (m *Measurements) Readings(ctx context.Context, id int64) ([]models.Reading, error) {
	return fetchList[models.Reading](ctx, m.b, querykeys.Measurements.Readings(id), measurementListOptions,
		endpoints.MeasurementReadings(id))
}

func (m *Measurements) Create(ctx context.Context, in models.MeasurementInput) (models.Measurement, error) {
	var created models.Measurement
	if err := m.b.api.Post(ctx, endpoints.Measurements(), in, &created); err != nil {
		return created, logFailure("create measurement", err)
	}
	if created.ID != 0 {
		m.b.cache.Set(querykeys.Measurements.Detail(created.ID), created)
	}
	m.invalidateProject(in.ProjectID)
	return created, nil
}

func (m *Measurements) invalidateProject(projectID int64) {
	m.b.cache.Invalidate(querykeys.Measurements.Lists())
	if projectID != 0 {
		m.b.cache.Invalidate(querykeys.Projects.Measurements(projectID))
	}
}

func (m *Measurements) Update(ctx context.Context, id int64, patch models.MeasurementPatch) (models.Measurement, error) {
	key := querykeys.Measurements.Detail(id)
	updated, err := optimisticUpdate(ctx, m.b, key, patch.Apply,
		func(ctx context.Context) (models.Measurement, error) {
			var out models.Measurement
			err := m.b.api.Put(ctx, endpoints.Measurement(id), patch, &out)
			return out, err
		},
		func(updated models.Measurement, ok bool) {
			if ok && updated.ID != 0 {
				m.b.cache.Set(key, updated)
			} else {
				m.b.cache.Invalidate(key)
			}
			m.invalidateProject(updated.ProjectID)
		})
	return updated, logFailure(fmt.Sprintf("update measurement %d", id), err)
}

func (m *Measurements) Delete(ctx context.Context, id int64) error {
	key := querykeys.Measurements.Detail(id)
	var projectID int64
	if v, ok := m.b.cache.Get(key); ok {
		if ms, ok := v.(models.Measurement); ok {
			projectID = ms.ProjectID
		}
	}
	if err := m.b.api.Delete(ctx, endpoints.Measurement(id), nil); err != nil {
		return logFailure(fmt.Sprintf("delete measurement %d", id), err)
	}
	m.b.cache.Remove(key)
	m.b.cache.Invalidate(querykeys.Readings.ForMeasurement(id))
	m.invalidateProject(projectID)
	return nil
}

func (m *Measurements) CreateResult(ctx context.Context, in models.MeasurementInput) Result[models.Measurement] {
	return NewResult(m.Create(ctx, in))
}

func (m *Measurements) UpdateResult(ctx context.Context, id int64, patch models.MeasurementPatch) Result[models.Measurement] {
	return NewResult(m.Update(ctx, id, patch))
}

func (m *Measurements) DeleteResult(ctx context.Context, id int64) Result[int64] {
	return NewResult(id, m.Delete(ctx, id))
}

package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/endpoints"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/querykeys"
)

var (
	projectListOptions   = cache.FetchOptions{StaleTime: cache.Medium, CacheTime: cache.Long}
	projectDetailOptions = cache.FetchOptions{StaleTime: cache.Long}
)

type Projects struct{ b base }

// List returns the caller's projects matching filters (e.g. estado, nombre).
func (p *Projects) List(ctx context.Context, filters url.Values) ([]models.Project, error) {
	return fetchList[models.Project](ctx, p.b, querykeys.Projects.List(filters), projectListOptions,
		endpoints.WithQuery(endpoints.Projects(), filters))
}

func (p *Projects) Get(ctx context.Context, id int64) (models.Project, error) {
	return fetchOne[models.Project](ctx, p.b, querykeys.Projects.Detail(id), projectDetailOptions, endpoints.Project(id))
}

func (p *Projects) Create(ctx context.Context, in models.ProjectInput) (models.Project, error) {
	return p.create(ctx, endpoints.Projects(), in, false)
}

// CreateComplete creates a project and lets the server generate its
// theoretical stations in the same call.
func (p *Projects) CreateComplete(ctx context.Context, in models.ProjectInput) (models.Project, error) {
	return p.create(ctx, endpoints.ProjectsComplete(), in, true)
}

func (p *Projects) create(ctx context.Context, path string, in models.ProjectInput, withStations bool) (models.Project, error) {
	in.ApplyDefaults()
	var created models.Project
	if err := p.b.api.Post(ctx, path, in, &created); err != nil {
		return created, logFailure("create project", err)
	}
	p.b.cache.Invalidate(querykeys.Projects.Lists())
	if withStations {
		p.b.cache.Invalidate(querykeys.Stations.Lists())
	}
	if created.ID != 0 {
		p.b.cache.Set(querykeys.Projects.Detail(created.ID), created)
	}
	log.Printf("resources: created project %d (%s)", created.ID, created.Name)
	return created, nil
}

// Update patches a project. The cached detail shows the change at once
// and is restored if the server rejects it.
func (p *Projects) Update(ctx context.Context, id int64, patch models.ProjectPatch) (models.Project, error) {
	key := querykeys.Projects.Detail(id)
	updated, err := optimisticUpdate(ctx, p.b, key, patch.Apply,
		func(ctx context.Context) (models.Project, error) {
			var out models.Project
			err := p.b.api.Patch(ctx, endpoints.Project(id), patch, &out)
			return out, err
		},
		func(updated models.Project, ok bool) {
			if ok && updated.ID != 0 {
				p.b.cache.Set(key, updated)
			} else {
				p.b.cache.Invalidate(key)
			}
			p.b.cache.Invalidate(querykeys.Projects.Lists())
		})
	return updated, logFailure(fmt.Sprintf("update project %d", id), err)
}

// Replace overwrites every field of a project.
func (p *Projects) Replace(ctx context.Context, id int64, in models.ProjectInput) (models.Project, error) {
	var out models.Project
	if err := p.b.api.Put(ctx, endpoints.Project(id), in, &out); err != nil {
		return out, logFailure(fmt.Sprintf("replace project %d", id), err)
	}
	p.b.cache.Set(querykeys.Projects.Detail(id), out)
	p.b.cache.Invalidate(querykeys.Projects.Lists())
	return out, nil
}

// Delete removes a project and drops everything cached beneath it.
func (p *Projects) Delete(ctx context.Context, id int64) error {
	if err := p.b.api.Delete(ctx, endpoints.Project(id), nil); err != nil {
		return logFailure(fmt.Sprintf("delete project %d", id), err)
	}
	p.b.cache.Remove(querykeys.Projects.Detail(id))
	querykeys.InvalidateProject(p.b.cache, id)
	querykeys.InvalidateLists(p.b.cache)
	log.Printf("resources: deleted project %d", id)
	return nil
}

func (p *Projects) Stations(ctx context.Context, id int64) ([]models.Station, error) {
	return fetchList[models.Station](ctx, p.b, querykeys.Projects.Stations(id),
		cache.FetchOptions{StaleTime: cache.Medium}, endpoints.ProjectStations(id))
}

func (p *Projects) Measurements(ctx context.Context, id int64) ([]models.Measurement, error) {
	return fetchList[models.Measurement](ctx, p.b, querykeys.Projects.Measurements(id),
		cache.FetchOptions{StaleTime: cache.Short}, endpoints.ProjectMeasurements(id))
}

// Debug returns the server's diagnostic dump for a project, uncached.
func (p *Projects) Debug(ctx context.Context, id int64) (json.RawMessage, error) {
	var out json.RawMessage
	err := p.b.api.Get(ctx, endpoints.ProjectDebug(id), &out)
	return out, logFailure(fmt.Sprintf("debug project %d", id), err)
}

func (p *Projects) CreateResult(ctx context.Context, in models.ProjectInput) Result[models.Project] {
	return NewResult(p.Create(ctx, in))
}

func (p *Projects) CreateCompleteResult(ctx context.Context, in models.ProjectInput) Result[models.Project] {
	return NewResult(p.CreateComplete(ctx, in))
}

func (p *Projects) UpdateResult(ctx context.Context, id int64, patch models.ProjectPatch) Result[models.Project] {
	return NewResult(p.Update(ctx, id, patch))
}

func (p *Projects) DeleteResult(ctx context.Context, id int64) Result[int64] {
	return NewResult(id, p.Delete(ctx, id))
}

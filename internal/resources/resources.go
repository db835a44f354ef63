// Package resources exposes the survey API entities (projects, stations,
// measurements, readings, users) through the query cache. Reads are
// cached and de-duplicated; writes go straight to the API and then update
// or invalidate the affected cache keys.
package resources

import (
	"context"
	"errors"
	"log"

	"github.com/lox/topografia/internal/apiclient"
	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/querykeys"
)

// Service groups every resource over one API client and one cache.
type Service struct {
	Projects     *Projects
	Stations     *Stations
	Measurements *Measurements
	Readings     *Readings
	Users        *Users
	Utilities    *Utilities

	cache *cache.Client
}

func New(api *apiclient.Client, c *cache.Client) *Service {
	b := base{api: api, cache: c}
	return &Service{
		Projects:     &Projects{b},
		Stations:     &Stations{b},
		Measurements: &Measurements{b},
		Readings:     &Readings{b},
		Users:        &Users{b},
		Utilities:    &Utilities{b},
		cache:        c,
	}
}

// Cache returns the query cache shared by the resources.
func (s *Service) Cache() *cache.Client {
	return s.cache
}

type base struct {
	api   *apiclient.Client
	cache *cache.Client
}

// Result is the envelope returned to callers that branch on the outcome
// of a mutation instead of handling an error.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewResult wraps the outcome of a mutation.
func NewResult[T any](data T, err error) Result[T] {
	if err != nil {
		return Result[T]{Error: ErrorMessage(err)}
	}
	return Result[T]{Success: true, Data: data}
}

// ErrorMessage returns the user-facing text for err.
func ErrorMessage(err error) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func fetchList[T any](ctx context.Context, b base, key querykeys.Key, opts cache.FetchOptions, path string) ([]T, error) {
	items, err := cache.Fetch(ctx, b.cache, key, opts, func(ctx context.Context) ([]T, error) {
		return apiclient.GetList[T](ctx, b.api, path)
	})
	if err != nil {
		log.Printf("resources: list %s: %v", path, err)
		return nil, err
	}
	return items, nil
}

func fetchOne[T any](ctx context.Context, b base, key querykeys.Key, opts cache.FetchOptions, path string) (T, error) {
	v, err := cache.Fetch(ctx, b.cache, key, opts, func(ctx context.Context) (T, error) {
		var out T
		err := b.api.Get(ctx, path, &out)
		return out, err
	})
	if err != nil {
		log.Printf("resources: get %s: %v", path, err)
	}
	return v, err
}

// optimisticUpdate writes patch(cached) under key before calling mutate.
// A failed mutate restores the previous cache state. settle runs either
// way and learns whether mutate succeeded.
func optimisticUpdate[T any](ctx context.Context, b base, key querykeys.Key, patch func(T) T, mutate func(ctx context.Context) (T, error), settle func(updated T, ok bool)) (T, error) {
	var (
		updated T
		ok      bool
	)
	err := b.cache.Optimistic(ctx, key,
		func(old any, present bool) (any, bool) {
			cur, isT := old.(T)
			if !present || !isT {
				return nil, false
			}
			return patch(cur), true
		},
		func(ctx context.Context) error {
			v, err := mutate(ctx)
			if err != nil {
				return err
			}
			updated, ok = v, true
			return nil
		},
		func() { settle(updated, ok) },
	)
	return updated, err
}

func logFailure(op string, err error) error {
	if err != nil {
		log.Printf("resources: %s: %v", op, err)
	}
	return err
}

package resources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/endpoints"
	"github.com/lox/topografia/internal/models"
	"github.com/lox/topografia/internal/querykeys"
)

type Users struct{ b base }

func (u *Users) List(ctx context.Context, filters url.Values) ([]models.User, error) {
	return fetchList[models.User](ctx, u.b, querykeys.Users.List(filters),
		cache.FetchOptions{StaleTime: cache.Medium}, endpoints.WithQuery(endpoints.Users(), filters))
}

// Me returns the profile of the signed-in user.
func (u *Users) Me(ctx context.Context) (models.User, error) {
	return fetchOne[models.User](ctx, u.b, querykeys.Users.Me(),
		cache.FetchOptions{StaleTime: cache.Medium}, endpoints.Me())
}

// Get returns one user. id must be a UUID; anything else is rejected
// without a request.
func (u *Users) Get(ctx context.Context, id string) (models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.User{}, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	return fetchOne[models.User](ctx, u.b, querykeys.Users.DetailString(id),
		cache.FetchOptions{StaleTime: cache.Long}, endpoints.User(id))
}

func (u *Users) Create(ctx context.Context, in models.UserInput) (models.User, error) {
	var created models.User
	if err := u.b.api.Post(ctx, endpoints.Users(), in, &created); err != nil {
		return created, logFailure("create user", err)
	}
	u.b.cache.Invalidate(querykeys.Users.Lists())
	if created.ID != "" {
		u.b.cache.Set(querykeys.Users.DetailString(created.ID), created)
	}
	return created, nil
}

func (u *Users) Update(ctx context.Context, id string, patch models.UserPatch) (models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.User{}, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	key := querykeys.Users.DetailString(id)
	updated, err := optimisticUpdate(ctx, u.b, key, patch.Apply,
		func(ctx context.Context) (models.User, error) {
			var out models.User
			err := u.b.api.Put(ctx, endpoints.User(id), patch, &out)
			return out, err
		},
		func(models.User, bool) {
			u.b.cache.Invalidate(key)
			u.b.cache.Invalidate(querykeys.Users.Lists())
		})
	return updated, logFailure("update user "+id, err)
}

// UpdateMe updates the signed-in user's own profile.
func (u *Users) UpdateMe(ctx context.Context, patch models.UserPatch) (models.User, error) {
	var out models.User
	if err := u.b.api.Put(ctx, endpoints.Me(), patch, &out); err != nil {
		return out, logFailure("update profile", err)
	}
	u.b.cache.Set(querykeys.Users.Me(), out)
	u.b.cache.Invalidate(querykeys.Users.Lists())
	return out, nil
}

func (u *Users) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid user id %q: %w", id, err)
	}
	if err := u.b.api.Delete(ctx, endpoints.User(id), nil); err != nil {
		return logFailure("delete user "+id, err)
	}
	u.b.cache.Remove(querykeys.Users.DetailString(id))
	u.b.cache.Invalidate(querykeys.Users.Lists())
	return nil
}

func (u *Users) CreateResult(ctx context.Context, in models.UserInput) Result[models.User] {
	return NewResult(u.Create(ctx, in))
}

func (u *Users) UpdateResult(ctx context.Context, id string, patch models.UserPatch) Result[models.User] {
	return NewResult(u.Update(ctx, id, patch))
}

func (u *Users) DeleteResult(ctx context.Context, id string) Result[string] {
	return NewResult(id, u.Delete(ctx, id))
}

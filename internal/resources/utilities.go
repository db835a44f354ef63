package resources

import (
	"context"
	"encoding/json"

	"github.com/lox/topografia/internal/cache"
	"github.com/lox/topografia/internal/endpoints"
	"github.com/lox/topografia/internal/querykeys"
)

// Health is the API's liveness reply. Fields the server adds are kept in Raw.
type Health struct {
	Status   string          `json:"status"`
	Version  string          `json:"version,omitempty"`
	Database string          `json:"database,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

type Utilities struct{ b base }

var utilityOptions = cache.FetchOptions{StaleTime: cache.Short, Retry: cache.NoRetry}

func (u *Utilities) Health(ctx context.Context) (Health, error) {
	raw, err := fetchOne[json.RawMessage](ctx, u.b, querykeys.Utilities.Health(), utilityOptions, endpoints.Health())
	if err != nil {
		return Health{}, err
	}
	h := Health{Raw: raw}
	if err := json.Unmarshal(raw, &h); err != nil {
		h.Status = "unknown"
	}
	return h, nil
}

func (u *Utilities) Info(ctx context.Context) (json.RawMessage, error) {
	return fetchOne[json.RawMessage](ctx, u.b, querykeys.Utilities.Info(), utilityOptions, endpoints.Info())
}

func (u *Utilities) Status(ctx context.Context) (json.RawMessage, error) {
	return fetchOne[json.RawMessage](ctx, u.b, querykeys.Utilities.Status(), utilityOptions, endpoints.Status())
}

// AuthTest asks the API to echo back the identity behind the current token.
func (u *Utilities) AuthTest(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := u.b.api.Get(ctx, endpoints.AuthTest(), &out)
	return out, logFailure("auth test", err)
}

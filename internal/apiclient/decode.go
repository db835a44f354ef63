package apiclient

import (
	"context"
	"encoding/json"
	"log"

	"github.com/tidwall/gjson"
)

// DecodeList decodes a JSON array of T. Anything that is not an array
// (null, an object, a scalar, invalid JSON) yields an empty slice, and
// elements that fail to decode are skipped.
func DecodeList[T any](raw []byte) []T {
	out := []T{}
	if !gjson.ValidBytes(raw) {
		if len(raw) > 0 {
			log.Printf("apiclient: list response is not valid JSON, using empty list")
		}
		return out
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		if parsed.Type != gjson.Null {
			log.Printf("apiclient: expected list, got %s; using empty list", parsed.Type)
		}
		return out
	}
	idx := 0
	parsed.ForEach(func(_, item gjson.Result) bool {
		defer func() { idx++ }()
		var v T
		if err := json.Unmarshal([]byte(item.Raw), &v); err != nil {
			log.Printf("apiclient: skipping list element %d: %v", idx, err)
			return true
		}
		out = append(out, v)
		return true
	})
	return out
}

// GetList fetches path and decodes the body with DecodeList.
func GetList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return DecodeList[T](raw), nil
}

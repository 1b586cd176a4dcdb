package odin

import (
	"context"
	"fmt"
	"strings"
)

// APIPrefix is the URI prefix of a given odin-control API version.
func APIPrefix(version string) string {
	return "api/" + version
}

// JoinPath joins URI segments with "/", skipping empty ones.
func JoinPath(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, "/")
}

// Adapters lists the adapters loaded by the server.
func (c *Connection) Adapters(ctx context.Context, apiPrefix string) ([]string, error) {
	resp, err := c.Get(ctx, JoinPath(apiPrefix, "adapters"))
	if err != nil {
		return nil, fmt.Errorf("failed to list adapters: %w", err)
	}

	raw, ok := resp["adapters"].([]any)
	if !ok {
		return nil, fmt.Errorf("failed to list adapters: unexpected response %v", resp)
	}

	names := make([]string, 0, len(raw))
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("failed to list adapters: non-string adapter name %v", item)
		}
		names = append(names, name)
	}
	return names, nil
}

// ValueOf extracts the value of the leaf named key from a GET response,
// unwrapping the metadata form when the server sent it.
func ValueOf(resp map[string]any, key string) (any, error) {
	value, ok := resp[key]
	if !ok {
		value, ok = resp["value"]
	}
	if !ok {
		return nil, fmt.Errorf("response has no %q field", key)
	}
	if m, isMap := value.(map[string]any); isMap {
		inner, hasValue := m["value"]
		if !hasValue {
			return nil, fmt.Errorf("%q is a subtree, not a parameter", key)
		}
		value = inner
	}
	return value, nil
}

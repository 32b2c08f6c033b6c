package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached upstream response.
type CacheKey struct {
	// Endpoint is the upstream path (e.g., "/entrez/eutils/elink.fcgi")
	Endpoint string

	// QueryParams are the request parameters that select the response.
	// Credentials must not be included.
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: geo:endpoint:param1=val1:param2=val2
//
// Example:
//
//	geo:entrez/eutils/esummary.fcgi:db=gds:id=200012345:retmode=json
func (k CacheKey) String() string {
	parts := []string{"geo"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}

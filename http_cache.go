package apiclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheDirectives represents the Cache-Control directives the client honours.
type CacheDirectives struct {
	NoStore bool
	NoCache bool
	MaxAge  *time.Duration
}

// parseCacheControl parses Cache-Control header into structured directives.
func parseCacheControl(header string) *CacheDirectives {
	directives := &CacheDirectives{}
	if header == "" {
		return directives
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}

		key, value, hasValue := strings.Cut(part, "=")
		if hasValue {
			value = strings.Trim(strings.TrimSpace(value), "\"")
			if strings.TrimSpace(key) == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					maxAge := time.Duration(seconds) * time.Second
					directives.MaxAge = &maxAge
				}
			}
			continue
		}

		switch part {
		case "no-store":
			directives.NoStore = true
		case "no-cache":
			directives.NoCache = true
		}
	}

	return directives
}

// resolveTTL picks the cache TTL for a fresh response. A positive caller TTL
// always wins. Otherwise, when headers are honoured, no-store or no-cache
// disables caching and max-age replaces the client default. A result <= 0
// means do not cache.
func resolveTTL(header http.Header, requested, fallback time.Duration, honourHeaders bool) time.Duration {
	if requested < 0 {
		return 0
	}
	if requested > 0 {
		return requested
	}
	if honourHeaders && header != nil {
		directives := parseCacheControl(header.Get("Cache-Control"))
		if directives.NoStore || directives.NoCache {
			return 0
		}
		if directives.MaxAge != nil {
			return *directives.MaxAge
		}
	}
	return fallback
}

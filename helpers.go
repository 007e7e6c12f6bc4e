// File: helpers.go

package tokenizer

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Wildcard grants every scope.
const Wildcard = "*"

// HashAccessToken returns the stored form of a signed access token.
func HashAccessToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashRefreshToken returns the stored form of a signed refresh token.
func HashRefreshToken(token string) string {
	sum := sha512.Sum512([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ParseLifetime converts a loosely typed lifetime into a duration.
//
// Accepted values are a number of seconds (any integer type, or a numeric
// string), an ISO-8601 duration string such as "PT2H" or "P15D", or a
// time.Duration. Anything else, including negative values, yields fallback.
func ParseLifetime(v any, fallback time.Duration) time.Duration {
	switch value := v.(type) {
	case nil:
		return fallback
	case time.Duration:
		if value < 0 {
			return fallback
		}
		return value
	case string:
		value = strings.TrimSpace(value)
		if value == "" {
			return fallback
		}
		if value[0] == 'P' || value[0] == 'p' {
			d, err := parseISO8601Duration(value)
			if err != nil {
				return fallback
			}
			return d
		}
		v = value
	}

	seconds, err := cast.ToInt64E(v)
	if err != nil || seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

var iso8601Duration = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISO8601Duration parses the PnYnMnWnDTnHnMnS form. Years count as 365
// days and months as 30 days.
func parseISO8601Duration(s string) (time.Duration, error) {
	s = strings.ToUpper(s)
	m := iso8601Duration.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	units := []time.Duration{
		365 * 24 * time.Hour,
		30 * 24 * time.Hour,
		7 * 24 * time.Hour,
		24 * time.Hour,
		time.Hour,
		time.Minute,
		time.Second,
	}

	var total time.Duration
	for i, unit := range units {
		part := m[i+1]
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}

// mergeScopes returns the effective scopes of a new token. A wildcard on
// either side collapses the result to the wildcard alone; otherwise the
// result is the ordered union without duplicates.
func mergeScopes(requested, abilities []string) []string {
	if slices.Contains(requested, Wildcard) || slices.Contains(abilities, Wildcard) {
		return []string{Wildcard}
	}

	merged := make([]string, 0, len(requested)+len(abilities))
	seen := make(map[string]struct{}, cap(merged))
	for _, list := range [][]string{requested, abilities} {
		for _, scope := range list {
			if scope == "" {
				continue
			}
			if _, ok := seen[scope]; ok {
				continue
			}
			seen[scope] = struct{}{}
			merged = append(merged, scope)
		}
	}
	return merged
}

// remaining returns how long until expiresAt, or zero when it has passed.
func remaining(now, expiresAt time.Time) time.Duration {
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

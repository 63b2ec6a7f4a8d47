package cache

import (
	"fmt"
	"strings"
)

// Kind is the request kind half of a cache key.
type Kind string

const (
	KindSearch   Kind = "search"
	KindForecast Kind = "forecast"
)

// Key identifies a cached response. Keys of different kinds never collide,
// whatever their parameters.
type Key struct {
	Kind   Kind
	Params string
}

// SearchKey normalizes query so that case and whitespace variants share an entry.
func SearchKey(query string) Key {
	return Key{Kind: KindSearch, Params: NormalizeQuery(query)}
}

// ForecastKey keys a forecast by city identifier and day count.
func ForecastKey(cityID string, days int) Key {
	return Key{Kind: KindForecast, Params: fmt.Sprintf("%s|days=%d", strings.TrimSpace(cityID), days)}
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.Params
}

// NormalizeQuery lowercases query and collapses runs of whitespace.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Package site holds the per-site adapter strategies used to find media,
// scrubbers and item identity on known video platforms, plus the generic
// fallback that handles everything else.
package site

import (
	"net/url"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// Adapter is one per-site strategy. Exactly one adapter is bound per tab for
// the lifetime of its page context; the registry rebinds on navigation.
//
// Selector methods return site-specific fast paths tried before the generic
// detection strategies; empty results mean "no fast path, go generic".
type Adapter interface {
	Name() string
	Matches(u *url.URL) bool

	// MediaSelectors are CSS selectors likely to hit the main player's
	// media element on this site.
	MediaSelectors() []string

	// ScrubberSelectors are CSS selectors likely to hit the seek bar.
	ScrubberSelectors() []string

	// ExtractItemID pulls the platform-native id out of a page URL.
	// Returns false when the URL does not address a single item.
	ExtractItemID(u *url.URL) (types.ItemID, bool)

	// HealthJS is an optional in-page boolean expression checked during
	// health passes. Empty means no adapter-specific check.
	HealthJS() string

	// NavSettleMS is how long the page needs after a soft navigation
	// before its player DOM is worth probing.
	NavSettleMS() int
}

// baseAdapter supplies the neutral defaults shared by site adapters.
type baseAdapter struct{}

func (baseAdapter) MediaSelectors() []string    { return nil }
func (baseAdapter) ScrubberSelectors() []string { return nil }
func (baseAdapter) HealthJS() string            { return "" }
func (baseAdapter) NavSettleMS() int            { return 500 }

// Registry is the fixed, ordered adapter list. Selection cannot fail: the
// generic adapter is always last and matches every URL.
type Registry struct {
	adapters []Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: []Adapter{
			youtubeAdapter{},
			vimeoAdapter{},
			twitchAdapter{},
			genericAdapter{},
		},
	}
}

// Select returns the first adapter whose predicate accepts the URL. An
// unparseable URL selects the generic adapter.
func (r *Registry) Select(rawURL string) Adapter {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return r.adapters[len(r.adapters)-1]
	}
	for _, a := range r.adapters {
		if a.Matches(u) {
			return a
		}
	}
	// Unreachable while generic stays last; kept so a bad edit fails loud.
	return r.adapters[len(r.adapters)-1]
}

// Adapters exposes the ordered list, generic last.
func (r *Registry) Adapters() []Adapter { return r.adapters }

// Identify derives the stable item key for a page: the adapter's native id
// when extractable, otherwise a hash of the normalized URL.
func Identify(a Adapter, rawURL string) types.ItemID {
	u, err := url.Parse(rawURL)
	if err != nil {
		return types.ItemID{Platform: PlatformWeb, ID: hashString(rawURL)}
	}
	if id, ok := a.ExtractItemID(u); ok {
		return id
	}
	return types.ItemID{Platform: PlatformWeb, ID: hashString(normalizeURL(u))}
}

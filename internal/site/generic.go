package site

import (
	"net/url"
	"strings"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// genericAdapter terminates the registry: it matches every URL and brings
// no fast paths, so detection runs purely on the generic strategies.
type genericAdapter struct{ baseAdapter }

func (genericAdapter) Name() string { return "generic" }

func (genericAdapter) Matches(*url.URL) bool { return true }

func (genericAdapter) ExtractItemID(*url.URL) (types.ItemID, bool) {
	return types.ItemID{}, false
}

// pathSegments splits a URL path into its non-empty segments.
func pathSegments(u *url.URL) []string {
	var segs []string
	for _, s := range strings.Split(u.EscapedPath(), "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// firstPathSegment returns the first non-empty path segment, or "".
func firstPathSegment(u *url.URL) string {
	if segs := pathSegments(u); len(segs) > 0 {
		return segs[0]
	}
	return ""
}

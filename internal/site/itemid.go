package site

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// PlatformWeb is the platform tag for items identified only by URL hash.
const PlatformWeb = "web"

// contentParams are the query parameters that select which item a page
// shows. Everything else (tracking junk, playback offsets, UI state) churns
// between visits to the same logical item and must not change the key.
var contentParams = map[string]bool{
	"v":        true,
	"id":       true,
	"video":    true,
	"video_id": true,
	"clip":     true,
	"ep":       true,
	"episode":  true,
	"media":    true,
}

// normalizeURL reduces a URL to the parts that identify its content:
// lowercased host without default port, the path without a trailing slash,
// and only the content-selecting query parameters in sorted order. Scheme,
// fragment, playback offsets and tracking parameters are dropped.
func normalizeURL(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	var kept []string
	for name, vals := range u.Query() {
		if !contentParams[strings.ToLower(name)] || len(vals) == 0 {
			continue
		}
		kept = append(kept, strings.ToLower(name)+"="+vals[0])
	}
	sort.Strings(kept)

	var b strings.Builder
	b.WriteString(host)
	b.WriteString(path)
	if len(kept) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(kept, "&"))
	}
	return b.String()
}

func hashString(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

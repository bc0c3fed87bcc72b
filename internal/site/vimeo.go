package site

import (
	"net/url"
	"strings"

	"github.com/stillpointlabs/vidmark/internal/types"
)

type vimeoAdapter struct{ baseAdapter }

func (vimeoAdapter) Name() string { return "vimeo" }

func (vimeoAdapter) Matches(u *url.URL) bool {
	h := strings.ToLower(u.Hostname())
	return h == "vimeo.com" || strings.HasSuffix(h, ".vimeo.com")
}

func (vimeoAdapter) MediaSelectors() []string {
	return []string{
		".vp-video-wrapper video",
		"[data-player] video",
	}
}

func (vimeoAdapter) ScrubberSelectors() []string {
	return []string{
		".vp-progress",
		`[data-progress-bar="true"]`,
		`.vp-controls [role="slider"]`,
	}
}

// Vimeo item URLs are /<numeric-id> on vimeo.com and /video/<numeric-id>
// on the player host.
func (vimeoAdapter) ExtractItemID(u *url.URL) (types.ItemID, bool) {
	segs := pathSegments(u)
	if len(segs) >= 1 && isDigits(segs[0]) {
		return types.ItemID{Platform: "vimeo", ID: segs[0]}, true
	}
	if len(segs) >= 2 && segs[0] == "video" && isDigits(segs[1]) {
		return types.ItemID{Platform: "vimeo", ID: segs[1]}, true
	}
	return types.ItemID{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

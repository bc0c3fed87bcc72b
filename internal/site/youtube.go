package site

import (
	"net/url"
	"strings"

	"github.com/stillpointlabs/vidmark/internal/types"
)

type youtubeAdapter struct{ baseAdapter }

func (youtubeAdapter) Name() string { return "youtube" }

func (youtubeAdapter) Matches(u *url.URL) bool {
	h := strings.ToLower(u.Hostname())
	return h == "youtu.be" ||
		h == "youtube.com" || strings.HasSuffix(h, ".youtube.com") ||
		h == "youtube-nocookie.com" || strings.HasSuffix(h, ".youtube-nocookie.com")
}

func (youtubeAdapter) MediaSelectors() []string {
	return []string{
		"#movie_player video.html5-main-video",
		"#movie_player video",
		"ytd-player video",
	}
}

func (youtubeAdapter) ScrubberSelectors() []string {
	return []string{
		".ytp-progress-bar",
		".ytp-progress-bar-container",
	}
}

func (youtubeAdapter) ExtractItemID(u *url.URL) (types.ItemID, bool) {
	h := strings.ToLower(u.Hostname())
	if h == "youtu.be" {
		if id := firstPathSegment(u); isYouTubeID(id) {
			return types.ItemID{Platform: "youtube", ID: id}, true
		}
		return types.ItemID{}, false
	}
	if id := u.Query().Get("v"); isYouTubeID(id) {
		return types.ItemID{Platform: "youtube", ID: id}, true
	}
	segs := pathSegments(u)
	if len(segs) >= 2 && (segs[0] == "shorts" || segs[0] == "embed" || segs[0] == "live") {
		if isYouTubeID(segs[1]) {
			return types.ItemID{Platform: "youtube", ID: segs[1]}, true
		}
	}
	return types.ItemID{}, false
}

func (youtubeAdapter) HealthJS() string {
	return `!!document.querySelector('#movie_player, ytd-player')`
}

// The watch page swaps its player chrome in after yt-navigate-finish;
// probing earlier finds last page's controls.
func (youtubeAdapter) NavSettleMS() int { return 800 }

// isYouTubeID accepts the 11-char watch id alphabet.
func isYouTubeID(s string) bool {
	if len(s) != 11 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

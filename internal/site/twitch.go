package site

import (
	"net/url"
	"strings"

	"github.com/stillpointlabs/vidmark/internal/types"
)

type twitchAdapter struct{ baseAdapter }

func (twitchAdapter) Name() string { return "twitch" }

func (twitchAdapter) Matches(u *url.URL) bool {
	h := strings.ToLower(u.Hostname())
	return h == "twitch.tv" || strings.HasSuffix(h, ".twitch.tv")
}

func (twitchAdapter) MediaSelectors() []string {
	return []string{
		`[data-a-target="video-player"] video`,
		".video-player video",
	}
}

func (twitchAdapter) ScrubberSelectors() []string {
	return []string{
		`[data-a-target="player-seekbar"]`,
		".seekbar-bar",
	}
}

// VODs (/videos/<id>) and clips carry a native id; live channel pages do
// not address a seekable item, so they fall back to the URL hash.
func (twitchAdapter) ExtractItemID(u *url.URL) (types.ItemID, bool) {
	segs := pathSegments(u)
	if len(segs) >= 2 && segs[0] == "videos" && isDigits(segs[1]) {
		return types.ItemID{Platform: "twitch", ID: segs[1]}, true
	}
	if len(segs) >= 3 && segs[1] == "clip" && segs[2] != "" {
		return types.ItemID{Platform: "twitch", ID: segs[2]}, true
	}
	return types.ItemID{}, false
}

// Twitch re-renders the seekbar when the player switches quality or the
// channel layout loads in; give it longer than a generic SPA.
func (twitchAdapter) NavSettleMS() int { return 1000 }

//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"
)

type mediaStatus struct {
	TabID            string  `json:"tab_id"`
	State            string  `json:"state"`
	URL              string  `json:"url"`
	Adapter          string  `json:"adapter"`
	Strategy         string  `json:"strategy"`
	Score            float64 `json:"score"`
	Duration         float64 `json:"duration"`
	CurrentTime      float64 `json:"current_time"`
	ScrubberStrategy string  `json:"scrubber_strategy"`
	MarkerCount      int     `json:"marker_count"`
	Item             *struct {
		Platform string `json:"platform"`
		ID       string `json:"id"`
	} `json:"item"`
}

func getMedia(t *testing.T) mediaStatus {
	t.Helper()
	resp := env.GET(t, env.tabPath("media"))
	requireStatus(t, resp, http.StatusOK)
	return decodeJSON[mediaStatus](t, resp)
}

func TestHealth(t *testing.T) {
	resp := env.GET(t, "/health")
	requireStatus(t, resp, http.StatusOK)
	drain(resp)
}

func TestAgentStatusListsTab(t *testing.T) {
	resp := env.GET(t, "/api/v1/status")
	requireStatus(t, resp, http.StatusOK)
	status := decodeJSON[struct {
		TabCount int           `json:"tab_count"`
		Tabs     []mediaStatus `json:"tabs"`
	}](t, resp)

	if status.TabCount < 1 {
		t.Fatalf("tab_count = %d, want at least 1", status.TabCount)
	}
	for _, tab := range status.Tabs {
		if tab.TabID == env.TabID {
			return
		}
	}
	t.Fatalf("tab %s missing from agent status", env.TabID)
}

func TestMediaDetected(t *testing.T) {
	st := getMedia(t)

	requireField(t, st.State, "ready", "state")
	if st.Item == nil {
		t.Fatal("ready tab has no identified item")
	}
	if st.Adapter == "" {
		t.Fatal("no adapter recorded")
	}
	if st.Strategy == "" {
		t.Fatal("no detection strategy recorded")
	}
	if st.Duration <= 0 {
		t.Fatalf("duration = %v, want > 0", st.Duration)
	}
}

func TestScrubberLocated(t *testing.T) {
	resp := env.GET(t, env.tabPath("scrubber"))
	requireStatus(t, resp, http.StatusOK)
	st := decodeJSON[struct {
		State            string `json:"state"`
		ScrubberStrategy string `json:"scrubber_strategy"`
	}](t, resp)

	requireField(t, st.State, "ready", "state")
	if st.ScrubberStrategy == "" {
		t.Fatal("no scrubber strategy recorded; markers cannot render")
	}
}

func TestSeekMovesPlayhead(t *testing.T) {
	st := getMedia(t)
	target := 5.0
	if st.Duration > 20 {
		target = st.Duration / 4
	}

	resp := env.POST(t, env.tabPath("seek"), map[string]any{"position": target})
	requireStatus(t, resp, http.StatusOK)
	out := decodeJSON[struct {
		Position float64 `json:"position"`
	}](t, resp)

	// Players snap to keyframes, so allow a little slack.
	if diff := out.Position - target; diff < -2 || diff > 2 {
		t.Fatalf("seek landed at %v, want about %v", out.Position, target)
	}
}

func TestSeekRejectsNegativePosition(t *testing.T) {
	resp := env.POST(t, env.tabPath("seek"), map[string]any{"position": -1})
	defer drain(resp)
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 400 or 422", resp.StatusCode)
	}
}

func TestUnknownTabReturnsNotFound(t *testing.T) {
	resp := env.GET(t, "/api/v1/tabs/no-such-tab/media")
	defer drain(resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestForceDetectRecovers(t *testing.T) {
	resp := env.POST(t, env.tabPath("detect"), map[string]any{"reason": "integration suite"})
	requireStatus(t, resp, http.StatusOK)
	drain(resp)

	deadline := time.Now().Add(30 * time.Second)
	for {
		st := getMedia(t)
		if st.State == "ready" {
			if st.Item == nil {
				t.Fatal("re-detected tab has no item")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tab did not return to ready after forced detection, state = %s", st.State)
		}
		time.Sleep(time.Second)
	}
}

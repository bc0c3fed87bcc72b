package pagectl

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSStringAndJSONHelpers(t *testing.T) {
	if got := jsString("hello\nworld"); got != "\"hello\\nworld\"" {
		t.Fatalf("jsString = %q, want %q", got, "\"hello\\nworld\"")
	}

	got := jsJSON(map[string]any{"a": 1, "b": true})
	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("jsJSON returned invalid JSON: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("jsJSON decoded map has %d fields, want 2", len(m))
	}
	if m["b"] != true {
		t.Fatalf("jsJSON decoded map = %v, want b=true", m["b"])
	}
}

func TestJSEvalWrappers(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if strings.Contains(syncExpr, "(async function") {
		t.Fatalf("sync wrapper should not be async: %s", syncExpr)
	}

	asyncExpr := wrapJSEvalAsync("await Promise.resolve(1);")
	if !strings.Contains(asyncExpr, "(async function(){\ntry {") {
		t.Fatalf("unexpected async wrapper: %s", asyncExpr)
	}
	if !strings.Contains(asyncExpr, "await Promise.resolve(1);") {
		t.Fatalf("async wrapper lost body: %s", asyncExpr)
	}
}

func TestProbesCarryVMGuard(t *testing.T) {
	probes := map[string]string{
		"collect":  jsCollectCandidates([]string{"video"}, 8),
		"await":    jsAwaitMedia(nil, 1000, 8),
		"frames":   jsCollectFrameCandidates(8),
		"accept":   jsAcceptCandidate("vm-1-1", 3),
		"scrubber": jsLocateScrubber("vm-1-1", nil, 6, 9),
		"ensure":   jsEnsureOverlay("vm-1-2", 3),
		"render":   jsRenderMarkers("vm-1-2", nil, 3),
		"clear":    jsClearOverlay(),
		"snapshot": jsMediaSnapshot("vm-1-1", ""),
		"seek":     jsSeek("vm-1-1", 12.5),
	}
	for name, js := range probes {
		if !strings.Contains(js, "window.__vidmark") {
			t.Fatalf("%s probe missing bootstrap guard", name)
		}
		if !strings.Contains(js, codeBootstrapMissing) {
			t.Fatalf("%s probe missing %s short-circuit", name, codeBootstrapMissing)
		}
	}
}

func TestEvalEnvelopeDecoding(t *testing.T) {
	var env evalEnvelope
	raw := `{"ok":true,"data":{"candidates":[{"handle":"vm-1-1","rect":{"x":0,"y":0,"w":640,"h":360},"vw":1280,"vh":720,"visible":1,"playing":true,"duration":900,"ready_state":4,"z":0,"hidden":false}]}}`
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.OK {
		t.Fatal("envelope ok = false, want true")
	}

	var list candidateList
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if len(list.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(list.Candidates))
	}
	f := list.Candidates[0]
	if f.Handle != "vm-1-1" || !f.Playing || f.Duration != 900 {
		t.Fatalf("decoded features = %+v", f)
	}
	if f.Rect.Area() != 640*360 {
		t.Fatalf("rect area = %v, want %v", f.Rect.Area(), 640*360)
	}

	raw = `{"ok":false,"error_code":"MEDIA_NOT_FOUND","error_message":"no media"}`
	env = evalEnvelope{}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if env.OK || env.ErrorCode != "MEDIA_NOT_FOUND" {
		t.Fatalf("error envelope = %+v", env)
	}
}

func TestSelectorInjectionStaysQuoted(t *testing.T) {
	// Selector strings pass through jsJSON so quotes and backslashes in
	// site selectors cannot break out of the probe source.
	js := jsCollectCandidates([]string{`video[src*="a\"b"]`}, 4)
	if !strings.Contains(js, `video[src*=\"a\\\"b\"]`) {
		t.Fatalf("selector not JSON-escaped in probe: %s", js)
	}
}

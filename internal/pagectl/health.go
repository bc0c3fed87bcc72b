package pagectl

import (
	"context"
	"fmt"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// MediaSnapshot reads the tracked element's live playback state plus the
// adapter's own health expression. A missing element reports
// connected:false rather than an error: deciding what that means is the
// health check's job, not the probe's.
func (c *Client) MediaSnapshot(ctx context.Context, tabID, handle, adapterHealthJS string) (MediaInfo, error) {
	var out MediaInfo
	if err := c.EvalOnTab(ctx, tabID, jsMediaSnapshot(handle, adapterHealthJS), &out); err != nil {
		return MediaInfo{}, err
	}
	return out, nil
}

// Seek positions the tracked media, clamped to [0, duration].
func (c *Client) Seek(ctx context.Context, tabID, handle string, position float64) (float64, error) {
	var out struct {
		Time float64 `json:"time"`
	}
	if err := c.EvalOnTab(ctx, tabID, jsSeek(handle, position), &out); err != nil {
		return 0, err
	}
	return out.Time, nil
}

func jsMediaSnapshot(handle, adapterHealthJS string) string {
	adapterCheck := ""
	if adapterHealthJS != "" {
		// Adapter-authored expression from our own registry.
		adapterCheck = `
try { adapterOK = !!(` + adapterHealthJS + `); } catch(_) { adapterOK = true; }`
	}
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var h = %s;
`, jsString(handle)) + `
var adapterOK = true;` + adapterCheck + `
var el = vm.byHandle(h);
if (!el || !el.isConnected) {
  return JSON.stringify({ok:true,data:{connected:false,adapter_ok:adapterOK,zero_area:true}});
}
var errName = "";
var me = el.error;
if (me) {
  var names = {1: "aborted", 2: "network", 3: "decode", 4: "src_not_supported"};
  errName = names[me.code] || ("code_" + me.code);
}
var r = el.getBoundingClientRect();
var dur = 0;
try { if (isFinite(el.duration) && el.duration > 0) dur = el.duration; } catch(_) {}
return JSON.stringify({ok:true,data:{
  connected: true,
  current_time: el.currentTime || 0,
  duration: dur,
  paused: !!el.paused,
  ended: !!el.ended,
  media_error: errName,
  zero_area: r.width <= 0 || r.height <= 0,
  adapter_ok: adapterOK
}});
`)
}

func jsSeek(handle string, position float64) string {
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var h = %s;
var p = %s;
`, jsString(handle), jsJSON(position)) + `
var el = vm.byHandle(h);
if (!el) return JSON.stringify({ok:false,error_code:"` + types.CodeMediaNotFound + `",error_message:"media handle not found"});
if (p < 0) p = 0;
try { if (isFinite(el.duration) && el.duration > 0 && p > el.duration) p = el.duration; } catch(_) {}
el.currentTime = p;
return JSON.stringify({ok:true,data:{time: el.currentTime || p}});
`)
}

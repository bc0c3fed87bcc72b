package pagectl

import (
	"encoding/json"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// evalEnvelope is the uniform JSON shape every injected expression returns.
// Probe bodies end with `return JSON.stringify({ok:true,data:...})` or an
// ok:false variant carrying a stable error code.
type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// jsString encodes v as a JS string literal.
func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// jsJSON encodes v as a JS value literal.
func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + types.CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

// jsVMGuard aborts a probe cleanly when the bootstrap is not installed in
// the document yet (fresh navigation, race with re-injection).
const jsVMGuard = `
const vm = window.__vidmark;
if (!vm) { return JSON.stringify({ok:false,error_code:"` + codeBootstrapMissing + `",error_message:"bootstrap not installed"}); }
`

// codeBootstrapMissing is internal to pagectl: callers see it converted to
// an EVAL_FAILURE after re-injection also fails.
const codeBootstrapMissing = "BOOTSTRAP_MISSING"

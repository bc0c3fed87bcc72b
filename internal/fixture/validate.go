package fixture

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stillpointlabs/vidmark/internal/pagectl"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// Same vocabulary the in-page locator uses for pattern matching.
var (
	scrubPattern = regexp.MustCompile(`(?i)(progress|scrub|seek|timeline|slider|track)`)
	patternAttrs = []string{"data-a-target", "data-testid", "aria-label", "id"}
)

const semanticSelector = `[role="slider"], [role="progressbar"], progress, input[type="range"]`

// Validation reports which locator heuristics would find a seek bar in a
// static document. Geometry-dependent strategies need a live layout and
// are not checked here; shadow-root content is only visible when the page
// serialized it declaratively.
type Validation struct {
	MediaCount   int `json:"media_count"`
	AdapterHits  int `json:"adapter_hits"`
	PatternHits  int `json:"pattern_hits"`
	SemanticHits int `json:"semantic_hits"`
}

// Strategies lists the locator strategies that would have a candidate.
func (v Validation) Strategies() []string {
	var out []string
	if v.AdapterHits > 0 {
		out = append(out, pagectl.ScrubStrategyAdapter)
	}
	if v.PatternHits > 0 {
		out = append(out, pagectl.ScrubStrategyPattern)
	}
	if v.SemanticHits > 0 {
		out = append(out, pagectl.ScrubStrategySemantic)
	}
	return out
}

// Locatable reports whether any strategy would find a seek bar.
func (v Validation) Locatable() bool {
	return v.AdapterHits > 0 || v.PatternHits > 0 || v.SemanticHits > 0
}

// Validate checks one parsed document. scrubberSelectors are the
// site-specific fast paths; pass nil to check only the generic heuristics.
func Validate(doc *goquery.Document, scrubberSelectors []string) Validation {
	var v Validation

	v.MediaCount = doc.Find("video, audio").Length()

	for _, sel := range scrubberSelectors {
		v.AdapterHits += doc.Find(sel).Length()
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if cls, ok := s.Attr("class"); ok && scrubPattern.MatchString(cls) {
			v.PatternHits++
			return
		}
		for _, attr := range patternAttrs {
			if val, ok := s.Attr(attr); ok && scrubPattern.MatchString(val) {
				v.PatternHits++
				return
			}
		}
	})

	v.SemanticHits = doc.Find(semanticSelector).Length()

	return v
}

// ValidateHTML parses raw HTML and validates it.
func ValidateHTML(html []byte, scrubberSelectors []string) (Validation, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Validation{}, types.NewError(types.CodeValidation, "fixture html unparsable", err)
	}
	return Validate(doc, scrubberSelectors), nil
}

// CorpusEntry is the validation result for one fixture file.
type CorpusEntry struct {
	File   string
	Meta   *Meta // nil when the file has no sidecar
	Result Validation
	Err    error
}

// ValidateCorpus runs static validation over every .html file under dir,
// sorted by name. A JSON sidecar next to a file supplies its URL;
// selectorsFor maps that URL to site-specific scrubber selectors and may
// be nil.
func ValidateCorpus(dir string, selectorsFor func(url string) []string) ([]CorpusEntry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, types.NewError(types.CodeStoreFailure, "fixture corpus: glob", err)
	}
	sort.Strings(matches)

	entries := make([]CorpusEntry, 0, len(matches))
	for _, path := range matches {
		entry := CorpusEntry{File: filepath.Base(path)}

		html, err := os.ReadFile(path)
		if err != nil {
			entry.Err = err
			entries = append(entries, entry)
			continue
		}

		if data, err := os.ReadFile(strings.TrimSuffix(path, ".html") + ".json"); err == nil {
			var meta Meta
			if json.Unmarshal(data, &meta) == nil && meta.URL != "" {
				entry.Meta = &meta
			}
		}

		var sels []string
		if entry.Meta != nil && selectorsFor != nil {
			sels = selectorsFor(entry.Meta.URL)
		}

		entry.Result, entry.Err = ValidateHTML(html, sels)
		entries = append(entries, entry)
	}

	return entries, nil
}

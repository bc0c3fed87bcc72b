// scrubcheck runs static scrubber-locator validation over a directory of
// captured page fixtures. Use it after a site redesign to see which locator
// strategies still find a seek bar before shipping updated selectors.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/stillpointlabs/vidmark/internal/fixture"
	"github.com/stillpointlabs/vidmark/internal/site"
)

func main() {
	dir := flag.String("dir", "fixtures", "directory of captured fixture pages")
	jsonOut := flag.Bool("json", false, "emit JSON instead of a table")
	strict := flag.Bool("strict", false, "exit non-zero when any fixture has no locatable scrubber")
	flag.Parse()

	registry := site.NewRegistry()
	entries, err := fixture.ValidateCorpus(*dir, func(url string) []string {
		return registry.Select(url).ScrubberSelectors()
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "scrubcheck failed: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintf(os.Stderr, "no fixtures under %s\n", *dir)
		os.Exit(1)
	}

	var failed int
	if *jsonOut {
		failed = printJSON(entries, registry)
	} else {
		failed = printTable(entries, registry)
	}
	if *strict && failed > 0 {
		os.Exit(1)
	}
}

func adapterName(registry *site.Registry, meta *fixture.Meta) string {
	if meta == nil {
		return "-"
	}
	return registry.Select(meta.URL).Name()
}

func printTable(entries []fixture.CorpusEntry, registry *site.Registry) int {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tADAPTER\tMEDIA\tADAPT\tPATTERN\tSEMANTIC\tLOCATABLE")

	var failed, adapterHits, patternHits, semanticHits int
	for _, e := range entries {
		name := adapterName(registry, e.Meta)
		if e.Err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "%s\t%s\terror: %v\n", e.File, name, e.Err)
			continue
		}
		loc := "no"
		if e.Result.Locatable() {
			loc = "yes"
		} else {
			failed++
		}
		if e.Result.AdapterHits > 0 {
			adapterHits++
		}
		if e.Result.PatternHits > 0 {
			patternHits++
		}
		if e.Result.SemanticHits > 0 {
			semanticHits++
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			e.File, name, e.Result.MediaCount, e.Result.AdapterHits, e.Result.PatternHits, e.Result.SemanticHits, loc)
	}
	_ = w.Flush()

	fmt.Printf("\nchecked %d fixtures: %d locatable, %d not\n", len(entries), len(entries)-failed, failed)
	fmt.Printf("strategy coverage: adapter %d, pattern %d, semantic %d\n", adapterHits, patternHits, semanticHits)
	return failed
}

type reportEntry struct {
	File      string             `json:"file"`
	URL       string             `json:"url,omitempty"`
	Adapter   string             `json:"adapter,omitempty"`
	Result    fixture.Validation `json:"result"`
	Locatable bool               `json:"locatable"`
	Error     string             `json:"error,omitempty"`
}

func printJSON(entries []fixture.CorpusEntry, registry *site.Registry) int {
	var failed int
	report := make([]reportEntry, 0, len(entries))
	for _, e := range entries {
		re := reportEntry{File: e.File, Result: e.Result, Locatable: e.Result.Locatable()}
		if e.Meta != nil {
			re.URL = e.Meta.URL
			re.Adapter = registry.Select(e.Meta.URL).Name()
		}
		if e.Err != nil {
			re.Error = e.Err.Error()
			re.Locatable = false
		}
		if !re.Locatable {
			failed++
		}
		report = append(report, re)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
	}
	return failed
}

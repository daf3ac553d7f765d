// Package report produces the end-of-run diagnostics: warnings for
// configured rules that never matched anything, and the optional statistics
// trailer appended to the dump as SQL comments.
package report

import (
	"fmt"
	"io"
	"time"

	"sqlanon/internal/core"
)

// UnusedRules writes a warning for every field rule (and JSON path) whose
// hit counter is still zero after the dump has been processed. Rules are
// visited in configuration order.
func UnusedRules(cfg *core.Config, w io.Writer) {
	for _, table := range cfg.Tables {
		for _, fname := range table.FieldOrder {
			fr := table.Fields[fname]
			for _, ps := range fr.JSONPaths {
				if ps.Spec.Hits == 0 {
					fmt.Fprintf(w, "WARNING! Field %s:%s - JSON path '%s' from config file has not been found in dump. Maybe a config file error?\n",
						table.Key, fr.Name, ps.Path)
				}
			}
			if fr.Spec.Hits == 0 {
				fmt.Fprintf(w, "WARNING! Field %s:%s from config file has not been found in dump. Maybe a config file error?\n",
					table.Key, fr.Name)
			}
		}
	}
}

// Stats appends the run statistics to the dump output as SQL comments, so
// the result stays loadable.
func Stats(cfg *core.Config, elapsed time.Duration, w io.Writer) {
	fmt.Fprintf(w, "-- Total execution time: %d ms\n", elapsed.Milliseconds())

	var total uint64
	for _, table := range cfg.Tables {
		for _, fname := range table.FieldOrder {
			fr := table.Fields[fname]
			fmt.Fprintf(w, "-- Field %s:%s anonymized %d time(s)\n", table.Key, fr.Name, fr.Spec.Hits)
			total += fr.Spec.Hits
			for _, ps := range fr.JSONPaths {
				total += ps.Spec.Hits
			}
		}
	}
	fmt.Fprintf(w, "-- TOTAL Number of anonymization(s): %d\n", total)
}

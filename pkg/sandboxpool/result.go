package sandboxpool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dataanalyst/sandboxpool/internal/container"
	"github.com/dataanalyst/sandboxpool/internal/logging"
)

// Column names a column in a TabularResult, in display order.
type Column struct {
	Name string
}

// TabularResult is the shape query tools hand the façade to stash inside a
// sandbox for a data-analysis session to pick up, mirroring the original
// agent's query-result envelope (rows plus an explicit column order, since
// map iteration order in the rows themselves can't be trusted).
type TabularResult struct {
	Rows    []map[string]any
	Columns []Column
}

const (
	resultJSONPath = "/tmp/mongodb_result.json"
	resultCSVPath  = "/tmp/mongodb_result.csv"
)

// WriteResultToContainer serializes result to the container at the two
// well-known paths spec.md §6 names: a pretty-printed JSON array and a CSV
// with a header row. An empty result is a no-op — there is nothing useful
// for a data-analysis sandbox to load. Write failures are logged here and
// never propagated, matching spec.md §4.5: a failed write here must not
// fail whatever query flow produced the result.
func (p *Pool) WriteResultToContainer(ctx context.Context, ref container.Ref, result TabularResult) {
	if len(result.Rows) == 0 {
		return
	}
	log := logging.For("sandboxpool")

	if jsonBytes, err := json.MarshalIndent(result.Rows, "", "  "); err != nil {
		log.Warn("encode result as JSON failed", "error", err)
	} else if err := p.driver.WriteToContainer(ctx, ref, resultJSONPath, jsonBytes); err != nil {
		log.Warn("write result failed", "path", resultJSONPath, "error", err)
	}

	csvBytes := renderCSV(result)
	if err := p.driver.WriteToContainer(ctx, ref, resultCSVPath, csvBytes); err != nil {
		log.Warn("write result failed", "path", resultCSVPath, "error", err)
	}
}

func renderCSV(result TabularResult) []byte {
	var b strings.Builder

	header := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		header[i] = csvField(c.Name)
	}
	b.WriteString(strings.Join(header, ","))
	b.WriteString("\n")

	for _, row := range result.Rows {
		fields := make([]string, len(result.Columns))
		for i, c := range result.Columns {
			fields[i] = csvField(row[c.Name])
		}
		b.WriteString(strings.Join(fields, ","))
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// csvField formats a single value per spec.md §4.5's rule: null/undefined
// (Go's nil, or a non-finite float from the original's NaN/Infinity edge
// case per SPEC_FULL.md §4) becomes empty; objects/arrays are re-encoded as
// JSON and double-quoted with inner quotes doubled; everything else is
// stringified and only quoted if it contains a comma, double-quote, or
// newline, again doubling any inner quotes.
func csvField(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return quoteIfNeeded(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return quoteIfNeeded(strconv.FormatFloat(val, 'g', -1, 64))
	case float32:
		return csvField(float64(val))
	case int, int32, int64, uint, uint32, uint64, bool:
		return quoteIfNeeded(fmt.Sprintf("%v", val))
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return `"` + strings.ReplaceAll(string(encoded), `"`, `""`) + `"`
	default:
		return quoteIfNeeded(fmt.Sprintf("%v", val))
	}
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

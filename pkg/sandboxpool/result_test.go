package sandboxpool

import (
	"math"
	"strings"
	"testing"
)

func TestRenderCSVBasicRow(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "id"}, {Name: "name"}},
		Rows: []map[string]any{
			{"id": float64(1), "name": "alice"},
		},
	}
	got := string(renderCSV(result))
	want := "id,name\n1,alice\n"
	if got != want {
		t.Errorf("renderCSV = %q, want %q", got, want)
	}
}

func TestRenderCSVQuotesValuesWithSpecialChars(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "note"}},
		Rows: []map[string]any{
			{"note": "hello, \"world\"\nbye"},
		},
	}
	got := string(renderCSV(result))
	want := "note\n\"hello, \"\"world\"\"\nbye\"\n"
	if got != want {
		t.Errorf("renderCSV = %q, want %q", got, want)
	}
}

func TestRenderCSVNullBecomesEmpty(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "id"}, {Name: "maybe"}},
		Rows: []map[string]any{
			{"id": float64(1), "maybe": nil},
		},
	}
	got := string(renderCSV(result))
	want := "id,maybe\n1,\n"
	if got != want {
		t.Errorf("renderCSV = %q, want %q", got, want)
	}
}

func TestRenderCSVNonFiniteNumberBecomesEmpty(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "v"}},
		Rows: []map[string]any{
			{"v": math.NaN()},
			{"v": math.Inf(1)},
		},
	}
	got := string(renderCSV(result))
	if !strings.Contains(got, "v\n\n\n") {
		t.Errorf("renderCSV = %q, want both rows to render as an empty field", got)
	}
}

func TestRenderCSVObjectValueIsDoubledQuotedJSON(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "meta"}},
		Rows: []map[string]any{
			{"meta": map[string]any{"a": "b"}},
		},
	}
	got := string(renderCSV(result))
	want := "meta\n\"{\"\"a\"\":\"\"b\"\"}\"\n"
	if got != want {
		t.Errorf("renderCSV = %q, want %q", got, want)
	}
}

func TestCSVFieldQuotesColumnNameWithComma(t *testing.T) {
	result := TabularResult{
		Columns: []Column{{Name: "a, b"}},
		Rows:    []map[string]any{{"a, b": "x"}},
	}
	got := string(renderCSV(result))
	if !strings.HasPrefix(got, "\"a, b\"\n") {
		t.Errorf("renderCSV = %q, want header to be quoted", got)
	}
}

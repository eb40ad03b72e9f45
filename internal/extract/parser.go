package extract

import (
	"encoding/json"
	"strings"
)

// Table holds one extracted table. Rows may be ragged relative to
// Headers; downstream rendering emits whatever is present.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Document is the normalized output for one logical page of
// provider text: free text plus zero or more tables.
type Document struct {
	Text   string  `json:"text"`
	Tables []Table `json:"tables"`
}

const (
	fenceOpen  = "```json"
	fenceClose = "```"
)

// structuredPayload mirrors the JSON shape the provider is instructed
// to emit. Pointer fields distinguish "absent" from "empty" so that a
// table entry missing headers or rows fails the whole decode.
type structuredPayload struct {
	Text   string            `json:"text"`
	Tables []structuredTable `json:"tables"`
}

type structuredTable struct {
	Headers *[]string   `json:"headers"`
	Rows    *[][]string `json:"rows"`
}

// Parse normalizes raw provider text into a Document. The provider is
// instructed to emit a fenced JSON block but is not guaranteed to
// comply, so every decode failure degrades to treating the whole
// input as plain text. Parse never fails.
func Parse(raw string) Document {
	trimmed := strings.TrimSpace(raw)

	if !strings.HasPrefix(trimmed, fenceOpen) || !strings.HasSuffix(trimmed, fenceClose) ||
		len(trimmed) < len(fenceOpen)+len(fenceClose) {
		return Document{Text: raw}
	}

	inner := trimmed[len(fenceOpen) : len(trimmed)-len(fenceClose)]
	inner = strings.TrimSpace(inner)

	var payload structuredPayload
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		return Document{Text: raw}
	}

	doc := Document{Text: payload.Text}
	for _, t := range payload.Tables {
		if t.Headers == nil || t.Rows == nil {
			// Half-specified tables mean the structured output cannot
			// be trusted as a whole; fall back rather than emit a
			// partially parsed document.
			return Document{Text: raw}
		}
		doc.Tables = append(doc.Tables, Table{Headers: *t.Headers, Rows: *t.Rows})
	}

	return doc
}

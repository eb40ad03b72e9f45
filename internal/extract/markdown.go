package extract

import (
	"fmt"
	"strings"
)

// Assemble renders documents into a single Markdown artifact. It is a
// pure function of its input: re-assembling a stored result must
// produce byte-identical output. Each document ends with a horizontal
// rule page separator, including the last one.
func Assemble(docs []Document) string {
	var b strings.Builder

	for pageNum, doc := range docs {
		if doc.Text != "" {
			b.WriteString(doc.Text)
			b.WriteString("\n\n")
		}
		for i, table := range doc.Tables {
			fmt.Fprintf(&b, "## Table %d (Page %d)\n\n", i+1, pageNum+1)
			b.WriteString("|" + strings.Join(table.Headers, "|") + "|\n")
			sep := make([]string, len(table.Headers))
			for j := range sep {
				sep[j] = "---"
			}
			b.WriteString("|" + strings.Join(sep, "|") + "|\n")
			for _, row := range table.Rows {
				b.WriteString("|" + strings.Join(row, "|") + "|\n")
			}
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}

	return b.String()
}

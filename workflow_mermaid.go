package braid

import (
	"fmt"
	"strings"
	"unicode"
)

// Mermaid renders the graph as a Mermaid flowchart. Nodes appear in
// insertion order, edges in the order they were added, so output is
// deterministic for a given build sequence. Conditional edges are
// labeled; start and end nodes get distinct styling.
func (w *Workflow) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	for _, id := range w.order {
		fmt.Fprintf(&b, "    %s[\"%s\"]\n", mermaidID(id), mermaidLabel(id))
	}
	for _, e := range w.edges {
		if e.Condition != nil {
			fmt.Fprintf(&b, "    %s -->|Conditional| %s\n", mermaidID(e.From), mermaidID(e.To))
		} else {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
		}
	}
	if w.startID != "" {
		fmt.Fprintf(&b, "    style %s fill:#9f9,stroke:#333\n", mermaidID(w.startID))
	}
	if w.endID != "" {
		fmt.Fprintf(&b, "    style %s fill:#f99,stroke:#333\n", mermaidID(w.endID))
	}
	return b.String()
}

// mermaidID sanitizes a node id for use as a Mermaid identifier:
// whitespace and ; : , become underscores, every other character outside
// [A-Za-z0-9_-] is removed.
func mermaidID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case unicode.IsSpace(r), r == ';', r == ':', r == ',':
			b.WriteByte('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// mermaidLabel escapes a label for a quoted Mermaid node label.
func mermaidLabel(label string) string {
	s := strings.ReplaceAll(label, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, "#quot;")
}

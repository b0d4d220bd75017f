package diagram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/calltrace/pkg/tracer"
)

// RenderMermaid renders a trace snapshot as a Mermaid sequenceDiagram. Loop
// blocks, activations and failures map one-to-one onto the PlantUML output.
func RenderMermaid(snap tracer.Snapshot) string {
	var b strings.Builder

	b.WriteString("sequenceDiagram\n")
	if snap.Name != "" {
		b.WriteString(fmt.Sprintf("    title %s\n", mermaidEscapeText(snap.Name)))
	}

	ids := make(map[string]string, len(snap.Participants))
	for i, p := range snap.Participants {
		id := "p" + strconv.Itoa(i)
		ids[p] = id
		b.WriteString(fmt.Sprintf("    participant %s as %s\n", id, mermaidEscapeText(p)))
	}
	id := func(name string) string {
		if v, ok := ids[name]; ok {
			return v
		}
		return mermaidSafeID(name)
	}

	indent := "    "
	for _, st := range snap.Statements {
		switch st.Kind {
		case tracer.KindCall:
			b.WriteString(fmt.Sprintf("%s%s->>%s: %s\n", indent, id(st.From), id(st.To), mermaidEscapeText(st.Text)))
		case tracer.KindActivate:
			b.WriteString(fmt.Sprintf("%sactivate %s\n", indent, id(st.To)))
		case tracer.KindReturn:
			b.WriteString(fmt.Sprintf("%s%s-->>%s: return %s\n", indent, id(st.From), id(st.To), mermaidEscapeText(st.Text)))
		case tracer.KindRaise:
			b.WriteString(fmt.Sprintf("%s%s--x%s: raise %s\n", indent, id(st.From), id(st.To), mermaidEscapeText(st.Text)))
		case tracer.KindDeactivate:
			b.WriteString(fmt.Sprintf("%sdeactivate %s\n", indent, id(st.To)))
		case tracer.KindLoop:
			b.WriteString(fmt.Sprintf("%sloop %d times\n", indent, st.Count))
			indent += "    "
		case tracer.KindEnd:
			if len(indent) > 4 {
				indent = indent[:len(indent)-4]
			}
			b.WriteString(indent + "end\n")
		}
	}

	return b.String()
}

// RenderMermaidGraph renders a call-graph DiagramModel as a Mermaid flowchart.
func RenderMermaidGraph(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph LR\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		arrow := "-->"
		if edge.Failed {
			arrow = "-.->"
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef ok fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")

	for _, node := range model.Nodes {
		if node.Status != nil {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), node.Status.Status))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)

	switch node.Kind {
	case NodeKindEntry:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case NodeKindModule:
		return fmt.Sprintf("%s{{\"%s\"}}", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots, dashes and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel escapes double quotes inside a quoted node label.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// mermaidEscapeText escapes the characters Mermaid treats as statement
// separators or entity markers in message text.
func mermaidEscapeText(s string) string {
	r := strings.NewReplacer("#", "#35;", ";", "#59;", "\n", " ")
	return r.Replace(s)
}

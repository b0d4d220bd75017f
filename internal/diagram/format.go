package diagram

import (
	"github.com/rendis/calltrace/pkg/schema"
	"github.com/rendis/calltrace/pkg/tracer"
)

// TextFormats lists the formats RenderText accepts.
var TextFormats = []string{"plantuml", "mermaid", "ascii", "graph"}

// RenderText renders snap in one of the TextFormats. "graph" is the Mermaid
// call graph; the others are sequence diagrams.
func RenderText(snap tracer.Snapshot, format string) (string, error) {
	switch format {
	case "plantuml", "puml", "":
		return snap.PlantUML(), nil
	case "mermaid":
		return RenderMermaid(snap), nil
	case "ascii":
		return RenderASCII(snap), nil
	case "graph":
		model, err := Build(snap)
		if err != nil {
			return "", err
		}
		return RenderMermaidGraph(model), nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format).
		WithDetails(map[string]any{"supported": TextFormats}).WithTrace(snap.ID)
}

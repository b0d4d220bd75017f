package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/calltrace/pkg/tracer"
)

// RenderASCII renders a trace snapshot for a terminal: a row of participant
// boxes followed by an indented timeline in which activations and loop
// blocks nest.
func RenderASCII(snap tracer.Snapshot) string {
	var b strings.Builder

	if snap.Name != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", snap.Name))
	}

	boxes := make([]asciiBox, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		boxes = append(boxes, makeBox(p))
	}
	renderBoxRow(&b, boxes)
	if len(boxes) > 0 {
		b.WriteByte('\n')
	}

	var indents []string
	prefix := func() string { return strings.Join(indents, "") }
	pop := func() {
		if len(indents) > 0 {
			indents = indents[:len(indents)-1]
		}
	}

	for _, st := range snap.Statements {
		switch st.Kind {
		case tracer.KindCall:
			b.WriteString(fmt.Sprintf("%s%s ─→ %s\n", prefix(), st.From, st.Text))
		case tracer.KindActivate:
			indents = append(indents, "  ")
		case tracer.KindReturn:
			b.WriteString(fmt.Sprintf("%s← return %s\n", prefix(), st.Text))
		case tracer.KindRaise:
			b.WriteString(fmt.Sprintf("%s✗ raise %s\n", prefix(), st.Text))
		case tracer.KindDeactivate:
			pop()
		case tracer.KindLoop:
			b.WriteString(fmt.Sprintf("%s┌ loop %d times\n", prefix(), st.Count))
			indents = append(indents, "│ ")
		case tracer.KindEnd:
			pop()
			b.WriteString(prefix() + "└ end\n")
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox draws a single-line label inside a box.
func makeBox(label string) asciiBox {
	n := utf8.RuneCountInString(label)
	width := n + 4 // 2 border + 2 padding

	top := "┌" + strings.Repeat("─", width-2) + "┐"
	mid := "│ " + label + " │"
	bot := "└" + strings.Repeat("─", width-2) + "┘"

	return asciiBox{lines: []string{top, mid, bot}, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ") // gap between boxes
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

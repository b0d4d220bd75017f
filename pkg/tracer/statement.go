package tracer

import (
	"strconv"
	"strings"
)

// Kind classifies a diagram statement.
type Kind string

const (
	KindCall       Kind = "call"
	KindActivate   Kind = "activate"
	KindReturn     Kind = "return"
	KindRaise      Kind = "raise"
	KindDeactivate Kind = "deactivate"
	KindLoop       Kind = "loop"
	KindEnd        Kind = "end"
)

// Statement is one line of the sequence diagram.
//
// From/To hold the arrow endpoints for call, return and raise statements; To
// alone names the participant of activate and deactivate. Text carries the call
// signature, the formatted return value, or the failure kind. Count is set on
// loop statements only.
type Statement struct {
	Kind  Kind   `json:"kind"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Text  string `json:"text,omitempty"`
	Count int    `json:"count,omitempty"`
}

const (
	startMarker = "@startuml"
	endMarker   = "@enduml"
)

// PlantUML renders the statement as one PlantUML line.
func (s Statement) PlantUML() string {
	switch s.Kind {
	case KindCall:
		return quote(s.From) + " -> " + quote(s.To) + ": " + s.Text
	case KindActivate:
		return "activate " + quote(s.To)
	case KindReturn:
		return quote(s.From) + " --> " + quote(s.To) + ": return " + s.Text
	case KindRaise:
		return quote(s.From) + " -x " + quote(s.To) + ": raise " + s.Text
	case KindDeactivate:
		return "deactivate " + quote(s.To)
	case KindLoop:
		return "loop " + strconv.Itoa(s.Count) + " times"
	case KindEnd:
		return "end"
	}
	return "' unknown statement " + string(s.Kind)
}

// quote wraps a participant name in double quotes. PlantUML has no escape for
// an embedded double quote, so those become single quotes.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `'`) + `"`
}

// Snapshot is an immutable copy of a tracer's flushed diagram state.
type Snapshot struct {
	ID           string      `json:"id"`
	Name         string      `json:"name,omitempty"`
	Participants []string    `json:"participants"`
	Statements   []Statement `json:"statements"`
}

// PlantUML assembles the complete diagram text: the opening marker, one
// declaration per participant in first-seen order, every statement, and the
// closing marker.
func (s Snapshot) PlantUML() string {
	var b strings.Builder
	b.WriteString(startMarker)
	b.WriteByte('\n')
	for _, p := range s.Participants {
		b.WriteString("participant ")
		b.WriteString(quote(p))
		b.WriteByte('\n')
	}
	for _, st := range s.Statements {
		b.WriteString(st.PlantUML())
		b.WriteByte('\n')
	}
	b.WriteString(endMarker)
	b.WriteByte('\n')
	return b.String()
}

// Loops counts the loop blocks in the snapshot, nested ones included.
func (s Snapshot) Loops() int {
	n := 0
	for _, st := range s.Statements {
		if st.Kind == KindLoop {
			n++
		}
	}
	return n
}

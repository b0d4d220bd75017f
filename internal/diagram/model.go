package diagram

// NodeKind classifies a call-graph node by the role its participant plays.
type NodeKind string

const (
	NodeKindEntry    NodeKind = "entry"    // calls others but is never called
	NodeKindFunction NodeKind = "function" // a traced function
	NodeKindModule   NodeKind = "module"   // package initialisation code
)

// DiagramModel is the call-graph representation shared by the graph renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one participant.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries what the trace recorded for a participant as callee.
type StatusOverlay struct {
	Status   string // "ok" or "failed"
	Calls    int
	Failures int
}

// Edge aggregates every recorded call from one participant to another. Calls
// counts loop iterations, not diagram lines.
type Edge struct {
	From   string
	To     string
	Label  string
	Calls  int
	Failed bool
}

const (
	statusOK     = "ok"
	statusFailed = "failed"
)

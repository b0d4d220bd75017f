package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/calltrace/internal/logging"
	"github.com/rendis/calltrace/internal/store"
	"github.com/rendis/calltrace/pkg/tracer"
)

func TestPipelineDiagram(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.New("debug", "text", &logs)
	tr := tracer.New(tracer.WithID("demo"))

	require.NoError(t, newPipeline(tr, logger).main(context.Background()))

	d := tr.Diagram()
	for _, line := range []string{
		`"main" -> "load_data": load_data("data.csv")`,
		`"load_data" --> "main": return "some,csv,data"`,
		`"main" -> "process_data": process_data("some,csv,data")`,
		`loop 3 times`,
		`"process_data" -> "parse_row": parse_row("row_0")`,
		`"parse_row" --> "process_data": return true`,
		`"main" -> "save_data": save_data(data="processed_data", output_path="output.pkl")`,
		`"main" -> "load_data": load_data("other_file.csv")`,
		`"load_data" -x "main": raise PathError`,
	} {
		assert.Contains(t, d, line+"\n")
	}
	assert.Equal(t, 1, strings.Count(d, "parse_row("), "repeats collapse into one loop body")

	st := tr.Stats()
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, 1, st.Loops)
	assert.Equal(t, 6, st.Participants)

	// Logs from traced code carry the trace and participant.
	assert.Contains(t, logs.String(), "trace_id=demo")
	assert.Contains(t, logs.String(), "participant=parse_row")
	assert.Contains(t, logs.String(), "second pass failed as expected")
}

func TestPipelineThreshold(t *testing.T) {
	tr := tracer.New(tracer.WithLoopThreshold(4))
	require.NoError(t, newPipeline(tr, logging.Discard()).main(context.Background()))

	d := tr.Diagram()
	assert.NotContains(t, d, "loop")
	assert.Equal(t, 3, strings.Count(d, `"process_data" -> "parse_row"`))
}

func TestPipelineEventsRecorded(t *testing.T) {
	rec := store.NewRecorder()
	tr := tracer.New(tracer.WithObserver(rec))
	require.NoError(t, newPipeline(tr, logging.Discard()).main(context.Background()))

	var repeats, raises int
	for _, ev := range rec.Events() {
		switch ev.Kind {
		case tracer.EventRepeat:
			repeats++
		case tracer.EventRaise:
			raises++
		}
	}
	assert.Equal(t, 2, repeats)
	assert.Equal(t, 1, raises)
}

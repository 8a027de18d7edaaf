package output

import (
	"encoding/json"
	"io"

	"odatacheck/internal/rules"
)

type flusher interface {
	Flush() error
}

func flushIfPossible(w io.Writer) error {
	f, ok := w.(flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}

// writeNDJSON writes v as one line when it is an Event or a rules.Result and
// ignores anything else. Buffered writers are flushed per line so consumers
// see progress as it happens.
func writeNDJSON(w io.Writer, v any) error {
	var e Event
	switch t := v.(type) {
	case Event:
		e = t
	case rules.Result:
		e = eventFromResult(t)
	default:
		return nil
	}
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return err
	}
	return flushIfPossible(w)
}

// writeJSONArray writes results as one indented array. A nil slice is
// written as [] so consumers never see null.
func writeJSONArray(w io.Writer, results []rules.Result) error {
	if results == nil {
		results = []rules.Result{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return err
	}
	return flushIfPossible(w)
}

package pipeline

import (
	"encoding/json"

	"github.com/sheet-agent/backend/internal/storage/models"
)

type EventKind string

const (
	EventStatus             EventKind = "status"
	EventFileSelected       EventKind = "file_selected"
	EventCodeChunk          EventKind = "code_chunk"
	EventExecutionResult    EventKind = "execution_result"
	EventColumnTraceability EventKind = "column_traceability"
	EventComplete           EventKind = "complete"
	EventError              EventKind = "error"
)

type StatusPayload struct {
	Message string `json:"message"`
}

type FileSelectedPayload struct {
	FileName string `json:"file_name"`
}

type CodeChunkPayload struct {
	Chunk string `json:"chunk"`
}

type ExecutionResultPayload struct {
	Output     string   `json:"output"`
	Error      string   `json:"error"`
	Success    bool     `json:"success"`
	GraphFiles []string `json:"graph_files"`
}

type TraceabilityPayload struct {
	ColumnsUsed  []string                  `json:"columns_used"`
	OriginalFile string                    `json:"original_file"`
	Provenance   []models.ColumnProvenance `json:"provenance,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Event is one unit of pipeline progress. Exactly one payload field is
// set, matching Kind; events are immutable once emitted and ordered
// within a run.
type Event struct {
	Kind            EventKind
	Status          *StatusPayload
	FileSelected    *FileSelectedPayload
	CodeChunk       *CodeChunkPayload
	ExecutionResult *ExecutionResultPayload
	Traceability    *TraceabilityPayload
	Error           *ErrorPayload
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

// MarshalJSON flattens the active payload and adds a "type" field, the
// wire shape shared by the SSE and voice channels.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch e.Kind {
	case EventStatus:
		payload = e.Status
	case EventFileSelected:
		payload = e.FileSelected
	case EventCodeChunk:
		payload = e.CodeChunk
	case EventExecutionResult:
		payload = e.ExecutionResult
	case EventColumnTraceability:
		payload = e.Traceability
	case EventError:
		payload = e.Error
	}

	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}

	kind, err := json.Marshal(string(e.Kind))
	if err != nil {
		return nil, err
	}
	fields["type"] = kind

	return json.Marshal(fields)
}

func statusEvent(message string) Event {
	return Event{Kind: EventStatus, Status: &StatusPayload{Message: message}}
}

func fileSelectedEvent(fileName string) Event {
	return Event{Kind: EventFileSelected, FileSelected: &FileSelectedPayload{FileName: fileName}}
}

func codeChunkEvent(chunk string) Event {
	return Event{Kind: EventCodeChunk, CodeChunk: &CodeChunkPayload{Chunk: chunk}}
}

func errorEvent(message string) Event {
	return Event{Kind: EventError, Error: &ErrorPayload{Error: message}}
}

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheet-agent/backend/internal/exec"
	"github.com/sheet-agent/backend/internal/selector"
	"github.com/sheet-agent/backend/internal/storage/models"
)

type fakeSelector struct {
	name string
	err  error
}

func (f *fakeSelector) Select(ctx context.Context, question string) (string, error) {
	return f.name, f.err
}

type fakeResolver struct {
	err error
}

func (f *fakeResolver) Stat(name string) (*models.SpreadsheetFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.SpreadsheetFile{Name: name, Path: "/sheets/" + name, Fingerprint: "fp1"}, nil
}

type fakeTables struct {
	err error
}

func (f *fakeTables) GetTable(ctx context.Context, file models.SpreadsheetFile) (*models.ReconstructedTable, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReconstructedTable{
		FileName:    file.Name,
		Fingerprint: file.Fingerprint,
		SheetName:   "Sheet1",
		Columns:     []string{"Region", "Revenue"},
		Provenance: []models.ColumnProvenance{
			{Column: "Region", SheetName: "Sheet1", ColumnLetter: "A"},
			{Column: "Revenue", SheetName: "Sheet1", ColumnLetter: "B"},
		},
	}, nil
}

type fakeCodegen struct {
	chunks []string
	err    error
}

func (f *fakeCodegen) GenerateCodeStream(ctx context.Context, question string, table *models.ReconstructedTable, onChunk func(chunk string) error) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var code string
	for _, chunk := range f.chunks {
		if err := onChunk(chunk); err != nil {
			return "", err
		}
		code += chunk
	}
	return code, nil
}

type fakeRunner struct {
	result *exec.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, code, filePath string) (*exec.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeHistory struct {
	records []*models.AnalysisRecord
}

func (f *fakeHistory) InsertAnalysisRecord(r *models.AnalysisRecord) error {
	f.records = append(f.records, r)
	return nil
}

func workingOrchestrator(history History) *Orchestrator {
	return NewOrchestrator(
		&fakeSelector{name: "sales.xlsx"},
		&fakeResolver{},
		&fakeTables{},
		&fakeCodegen{chunks: []string{"result = df.groupby('Region')", "['Revenue'].sum()"}},
		&fakeRunner{result: &exec.Result{Output: "Region\nWest 100", Success: true}},
		history,
	)
}

func collect(s *Session) []Event {
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestStreamSuccessEventSequence(t *testing.T) {
	o := workingOrchestrator(nil)

	events := collect(o.Stream(context.Background(), "total revenue by region"))

	assert.Equal(t, []EventKind{
		EventStatus,
		EventFileSelected,
		EventStatus,
		EventCodeChunk,
		EventCodeChunk,
		EventStatus,
		EventExecutionResult,
		EventColumnTraceability,
		EventComplete,
	}, kinds(events))

	var fileSelected, traced *Event
	for i := range events {
		switch events[i].Kind {
		case EventFileSelected:
			fileSelected = &events[i]
		case EventColumnTraceability:
			traced = &events[i]
		}
	}
	require.NotNil(t, fileSelected)
	assert.Equal(t, "sales.xlsx", fileSelected.FileSelected.FileName)
	require.NotNil(t, traced)
	assert.Equal(t, []string{"Region", "Revenue"}, traced.Traceability.ColumnsUsed)
	assert.Equal(t, "sales.xlsx", traced.Traceability.OriginalFile)
}

func TestStreamSelectionFailure(t *testing.T) {
	o := NewOrchestrator(
		&fakeSelector{err: selector.ErrNoFile},
		&fakeResolver{},
		&fakeTables{},
		&fakeCodegen{},
		&fakeRunner{},
		nil,
	)

	events := collect(o.Stream(context.Background(), "no such data"))

	assert.Equal(t, []EventKind{EventStatus, EventError}, kinds(events))
	assert.Equal(t, "no suitable file for this question", events[1].Error.Error)
}

func TestStreamReconstructionFailure(t *testing.T) {
	o := NewOrchestrator(
		&fakeSelector{name: "sales.xlsx"},
		&fakeResolver{},
		&fakeTables{err: errors.New("structure analysis failed")},
		&fakeCodegen{},
		&fakeRunner{},
		nil,
	)

	events := collect(o.Stream(context.Background(), "anything"))
	got := kinds(events)

	assert.Equal(t, []EventKind{EventStatus, EventFileSelected, EventError}, got)
	assert.Equal(t, "failed to reconstruct the spreadsheet into a clean table", events[len(events)-1].Error.Error)
}

func TestStreamCodeLevelExecutionFailureStillCompletes(t *testing.T) {
	o := NewOrchestrator(
		&fakeSelector{name: "sales.xlsx"},
		&fakeResolver{},
		&fakeTables{},
		&fakeCodegen{chunks: []string{"df['Revenue'].sum("}},
		&fakeRunner{result: &exec.Result{ErrorText: "SyntaxError: unexpected EOF", Success: false}},
		nil,
	)

	events := collect(o.Stream(context.Background(), "total revenue"))
	got := kinds(events)

	// A runtime error inside the generated code is a result, not a
	// pipeline failure.
	require.Equal(t, EventComplete, got[len(got)-1])

	var payload *ExecutionResultPayload
	for _, ev := range events {
		if ev.Kind == EventExecutionResult {
			payload = ev.ExecutionResult
		}
	}
	require.NotNil(t, payload)
	assert.False(t, payload.Success)
	assert.Equal(t, "SyntaxError: unexpected EOF", payload.Error)
}

func TestStreamRunnerInfraFailure(t *testing.T) {
	o := NewOrchestrator(
		&fakeSelector{name: "sales.xlsx"},
		&fakeResolver{},
		&fakeTables{},
		&fakeCodegen{chunks: []string{"code"}},
		&fakeRunner{err: errors.New("connection refused")},
		nil,
	)

	events := collect(o.Stream(context.Background(), "total revenue"))
	last := events[len(events)-1]

	assert.Equal(t, EventError, last.Kind)
	assert.Equal(t, "code execution environment failed", last.Error.Error)
}

func TestStreamCancelledBeforeStartEmitsNothing(t *testing.T) {
	o := workingOrchestrator(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collect(o.Stream(ctx, "total revenue"))
	assert.Empty(t, events)
}

func TestAnalyzeAssemblesResult(t *testing.T) {
	history := &fakeHistory{}
	o := workingOrchestrator(history)

	result, err := o.Analyze(context.Background(), "total revenue by region")
	require.NoError(t, err)

	assert.Equal(t, "sales.xlsx", result.OriginalFile)
	assert.Equal(t, "result = df.groupby('Region')['Revenue'].sum()", result.Code)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"Region", "Revenue"}, result.ColumnsUsed)

	require.Len(t, history.records, 1)
	assert.Equal(t, result.ID, history.records[0].ID)
}

func TestAnalyzeSurfacesPipelineError(t *testing.T) {
	o := NewOrchestrator(
		&fakeSelector{err: selector.ErrNoFile},
		&fakeResolver{},
		&fakeTables{},
		&fakeCodegen{},
		&fakeRunner{},
		nil,
	)

	_, err := o.Analyze(context.Background(), "no such data")
	require.Error(t, err)
	assert.Equal(t, "no suitable file for this question", err.Error())
}

func TestSessionClosesAfterTerminalEvent(t *testing.T) {
	o := workingOrchestrator(nil)

	s := o.Stream(context.Background(), "total revenue")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("session channel never closed")
		}
	}
}

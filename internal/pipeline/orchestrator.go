package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/exec"
	"github.com/sheet-agent/backend/internal/metrics"
	"github.com/sheet-agent/backend/internal/selector"
	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/internal/trace"
	"github.com/sheet-agent/backend/pkg/logger"
)

// Stage is the orchestrator's position in the pipeline state machine.
type Stage string

const (
	StageStarted        Stage = "started"
	StageSelecting      Stage = "selecting"
	StageReconstructing Stage = "reconstructing"
	StageGenerating     Stage = "generating"
	StageExecuting      Stage = "executing"
	StageTracingColumns Stage = "tracing_columns"
	StageCompleted      Stage = "completed"
	StageErrored        Stage = "errored"
)

// FileSelector picks the workbook for a question, ErrNoFile when none fits.
type FileSelector interface {
	Select(ctx context.Context, question string) (string, error)
}

// FileResolver refreshes a workbook's fingerprint by name.
type FileResolver interface {
	Stat(name string) (*models.SpreadsheetFile, error)
}

// TableProvider returns the clean table for a workbook, cached per
// fingerprint.
type TableProvider interface {
	GetTable(ctx context.Context, file models.SpreadsheetFile) (*models.ReconstructedTable, error)
}

// CodeGenerator streams analysis code for a question against a table.
type CodeGenerator interface {
	GenerateCodeStream(ctx context.Context, question string, table *models.ReconstructedTable, onChunk func(chunk string) error) (string, error)
}

// History persists finished runs; may be nil.
type History interface {
	InsertAnalysisRecord(r *models.AnalysisRecord) error
}

// Orchestrator drives one analysis request through selection,
// reconstruction, code generation, execution and traceability, emitting
// one ProgressEvent per transition. Collaborator failures surface as a
// single terminal error event; the run never dies ungracefully.
type Orchestrator struct {
	selector FileSelector
	resolver FileResolver
	tables   TableProvider
	codegen  CodeGenerator
	runner   exec.Runner
	history  History
}

func NewOrchestrator(sel FileSelector, resolver FileResolver, tables TableProvider, codegen CodeGenerator, runner exec.Runner, history History) *Orchestrator {
	return &Orchestrator{
		selector: sel,
		resolver: resolver,
		tables:   tables,
		codegen:  codegen,
		runner:   runner,
		history:  history,
	}
}

// AnalysisResult is the assembled outcome of one run, the sync-API view
// of the same data the event stream carries incrementally.
type AnalysisResult struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	OriginalFile string   `json:"original_file"`
	Code         string   `json:"code"`
	Output       string   `json:"output"`
	Error        string   `json:"error"`
	Success      bool     `json:"success"`
	ColumnsUsed  []string `json:"columns_used"`
	GraphFiles   []string `json:"graph_files"`
	LatencyMS    int      `json:"latency_ms"`
}

// Stream starts a pipeline run and returns its session. The run is
// abandoned as soon as ctx is cancelled: no further events are emitted
// and pending collaborator results are discarded.
func (o *Orchestrator) Stream(ctx context.Context, question string) *Session {
	s := newSession(uuid.New().String(), defaultEventBuffer)

	go func() {
		defer s.close()
		o.run(ctx, question, s)
	}()

	return s
}

// Analyze runs the full pipeline synchronously and assembles the result
// from its own event stream.
func (o *Orchestrator) Analyze(ctx context.Context, question string) (*AnalysisResult, error) {
	s := newSession(uuid.New().String(), defaultEventBuffer)

	done := make(chan *AnalysisResult, 1)
	go func() {
		defer s.close()
		done <- o.run(ctx, question, s)
	}()

	var errorText string
	for ev := range s.Events() {
		if ev.Kind == EventError {
			errorText = ev.Error.Error
		}
	}

	result := <-done
	if result == nil {
		if errorText != "" {
			return nil, errors.New(errorText)
		}
		return nil, ctx.Err()
	}
	return result, nil
}

// run is the state machine. It returns the assembled result for
// completed runs and nil for errored or abandoned ones.
func (o *Orchestrator) run(ctx context.Context, question string, s *Session) *AnalysisResult {
	started := time.Now()
	stage := StageStarted

	fail := func(message string, err error) {
		stage = StageErrored
		logger.Error("Pipeline run failed",
			zap.String("analysis_id", s.ID),
			zap.String("stage", string(stage)),
			zap.String("message", message),
			zap.Error(err),
		)
		metrics.AnalysisTotal.WithLabelValues("error").Inc()
		s.emit(ctx, errorEvent(message))
	}

	logger.Info("Pipeline run started",
		zap.String("analysis_id", s.ID),
		zap.String("question", question),
	)

	// Started -> Selecting
	stage = StageSelecting
	if !s.emit(ctx, statusEvent("Parsing question and selecting file...")) {
		return nil
	}

	stageStart := time.Now()
	fileName, err := o.selector.Select(ctx, question)
	if err != nil {
		if errors.Is(err, selector.ErrNoFile) {
			fail("no suitable file for this question", err)
		} else {
			fail("file selection failed", err)
		}
		return nil
	}
	metrics.StageDuration.WithLabelValues(string(StageSelecting)).Observe(time.Since(stageStart).Seconds())

	file, err := o.resolver.Stat(fileName)
	if err != nil {
		fail("selected file is no longer available", err)
		return nil
	}

	// Selecting -> Reconstructing
	stage = StageReconstructing
	if !s.emit(ctx, fileSelectedEvent(file.Name)) {
		return nil
	}

	stageStart = time.Now()
	table, err := o.tables.GetTable(ctx, *file)
	if err != nil {
		fail("failed to reconstruct the spreadsheet into a clean table", err)
		return nil
	}
	metrics.StageDuration.WithLabelValues(string(StageReconstructing)).Observe(time.Since(stageStart).Seconds())

	// Reconstructing -> Generating
	stage = StageGenerating
	if !s.emit(ctx, statusEvent("Generating analysis code...")) {
		return nil
	}

	stageStart = time.Now()
	abandoned := errors.New("run abandoned")
	code, err := o.codegen.GenerateCodeStream(ctx, question, table, func(chunk string) error {
		if !s.emit(ctx, codeChunkEvent(chunk)) {
			return abandoned
		}
		return nil
	})
	if errors.Is(err, abandoned) {
		return nil
	}
	if err != nil {
		// Chunks already streamed stay with the client for diagnosis.
		fail("code generation failed", err)
		return nil
	}
	metrics.StageDuration.WithLabelValues(string(StageGenerating)).Observe(time.Since(stageStart).Seconds())

	// Generating -> Executing
	stage = StageExecuting
	if !s.emit(ctx, statusEvent("Executing code...")) {
		return nil
	}

	stageStart = time.Now()
	execResult, err := o.runner.Run(ctx, code, file.Path)
	if err != nil {
		// The environment itself failed; a code-level error would have
		// come back inside execResult instead.
		fail("code execution environment failed", err)
		return nil
	}
	metrics.StageDuration.WithLabelValues(string(StageExecuting)).Observe(time.Since(stageStart).Seconds())

	// Executing -> TracingColumns
	stage = StageTracingColumns
	if !s.emit(ctx, Event{Kind: EventExecutionResult, ExecutionResult: &ExecutionResultPayload{
		Output:     execResult.Output,
		Error:      execResult.ErrorText,
		Success:    execResult.Success,
		GraphFiles: execResult.GraphFiles,
	}}) {
		return nil
	}

	columns := trace.Extract(code, table)

	if !s.emit(ctx, Event{Kind: EventColumnTraceability, Traceability: &TraceabilityPayload{
		ColumnsUsed:  columns,
		OriginalFile: file.Name,
		Provenance:   trace.Provenance(table, columns),
	}}) {
		return nil
	}

	// TracingColumns -> Completed
	stage = StageCompleted
	if !s.emit(ctx, Event{Kind: EventComplete}) {
		return nil
	}

	latency := int(time.Since(started).Milliseconds())
	metrics.AnalysisTotal.WithLabelValues("success").Inc()

	result := &AnalysisResult{
		ID:           s.ID,
		Question:     question,
		OriginalFile: file.Name,
		Code:         code,
		Output:       execResult.Output,
		Error:        execResult.ErrorText,
		Success:      execResult.Success,
		ColumnsUsed:  columns,
		GraphFiles:   execResult.GraphFiles,
		LatencyMS:    latency,
	}

	o.record(result)

	logger.Info("Pipeline run completed",
		zap.String("analysis_id", s.ID),
		zap.String("file", file.Name),
		zap.Bool("success", execResult.Success),
		zap.Int("latency_ms", latency),
	)

	return result
}

func (o *Orchestrator) record(result *AnalysisResult) {
	if o.history == nil {
		return
	}

	err := o.history.InsertAnalysisRecord(&models.AnalysisRecord{
		ID:          result.ID,
		Question:    result.Question,
		FileName:    result.OriginalFile,
		Code:        result.Code,
		Output:      result.Output,
		ErrorText:   result.Error,
		Success:     result.Success,
		ColumnsUsed: result.ColumnsUsed,
		GraphFiles:  result.GraphFiles,
		LatencyMS:   result.LatencyMS,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to persist analysis record",
			zap.String("analysis_id", result.ID),
			zap.Error(err),
		)
	}
}

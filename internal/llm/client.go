package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/metrics"
	"github.com/sheet-agent/backend/internal/recon"
	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/pkg/circuitbreaker"
	"github.com/sheet-agent/backend/pkg/logger"
	"github.com/sheet-agent/backend/pkg/retry"
)

// Client wraps the OpenAI API behind the collaborator interfaces the
// pipeline consumes: summarization, file choice, structure analysis and
// code generation.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, baseURL, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

type completionRequest struct {
	systemPrompt string
	userPrompt   string
	temperature  float32
	maxTokens    int
	jsonMode     bool
	operation    string
}

func (c *Client) complete(ctx context.Context, req completionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.maxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.userPrompt},
		},
	}
	if req.jsonMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			metrics.LLMTokensUsed.WithLabelValues(req.operation, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(req.operation, "completion").Add(float64(resp.Usage.CompletionTokens))

			logger.Debug("LLM completion generated",
				zap.String("operation", req.operation),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

// SummarizeWorkbook produces the 2-3 sentence knowledge-base summary
// for one workbook from a rendered sample of its sheets.
func (c *Client) SummarizeWorkbook(ctx context.Context, fileName, sample string) (string, error) {
	systemPrompt := `You are a data analysis expert. Generate a concise summary of a spreadsheet's content and purpose.

Cover:
1. What type of data the file contains (e.g. sales data, financial records, inventory)
2. The main purpose/use case of the file
3. Key data categories or dimensions (time periods, regions, product types)
4. Important metrics or measures if apparent

Keep the summary to 2-3 sentences, focused on helping decide when this file is relevant to a user's question.`

	userPrompt := fmt.Sprintf(`File name: %s

Sample content:
%s

Generate a concise summary of the file's content and purpose.`, fileName, sample)

	content, err := c.complete(ctx, completionRequest{
		systemPrompt: systemPrompt,
		userPrompt:   userPrompt,
		temperature:  0.3,
		maxTokens:    200,
		operation:    "summarize",
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize workbook: %w", err)
	}

	metrics.SummariesGenerated.Inc()
	return strings.TrimSpace(content), nil
}

// ChooseFile asks the model to pick the single best candidate for the
// question, or "none" when no candidate fits.
func (c *Client) ChooseFile(ctx context.Context, question string, candidates []models.FileSummary) (string, error) {
	type candidateInfo struct {
		FileName string   `json:"file_name"`
		Summary  string   `json:"summary"`
		Sheets   []string `json:"sheets,omitempty"`
	}

	infos := make([]candidateInfo, 0, len(candidates))
	for _, cand := range candidates {
		infos = append(infos, candidateInfo{
			FileName: cand.FileName,
			Summary:  cand.Summary,
			Sheets:   cand.SheetNames,
		})
	}
	candidateJSON, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal candidates: %w", err)
	}

	systemPrompt := `You are an expert data analysis assistant. Given a user's question and summaries of candidate spreadsheet files, select the single file best suited to answer the question.

Return a JSON object:
{"file_name": "chosen file name or none", "reasoning": "brief explanation"}

Use "none" for file_name when no candidate fits the question.`

	userPrompt := fmt.Sprintf(`User question: %s

Candidate files:
%s

Return the JSON response as specified.`, question, string(candidateJSON))

	content, err := c.complete(ctx, completionRequest{
		systemPrompt: systemPrompt,
		userPrompt:   userPrompt,
		temperature:  0.3,
		maxTokens:    300,
		jsonMode:     true,
		operation:    "select",
	})
	if err != nil {
		return "", err
	}

	var result struct {
		FileName string `json:"file_name"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &result); err != nil {
		return "", fmt.Errorf("failed to parse selection response: %w", err)
	}

	chosen := strings.TrimSpace(result.FileName)
	if chosen == "" || strings.EqualFold(chosen, "none") {
		return "", nil
	}
	return chosen, nil
}

// AnalyzeStructure classifies the rows of an unmerged workbook sample:
// label rows to drop and header rows per sheet.
func (c *Client) AnalyzeStructure(ctx context.Context, sample, mergeInfo string) (map[string]recon.SheetStructure, error) {
	systemPrompt := `You are a structured data processing AI specialized in spreadsheet structure analysis.

Key capabilities:
1. Identify header rows: headers are short labels (1-5 words) describing data columns, at the top of the table.
2. Distinguish headers from data: data rows contain actual values (numbers, dates, long descriptions). Headers are concise column labels.
3. Identify multi-level headers: only consecutive top rows that are clearly header labels.
4. Identify label rows: sheet-level titles, notes or descriptions that appear before the actual table.

Critical rules:
- If a row contains long text, numbers, or detailed values, it is DATA, not a header.
- Multi-level headers are rare, usually 1-3 rows, all at the very top.
- When in doubt, use fewer header rows.`

	userPrompt := fmt.Sprintf(`Analyze the structure of each worksheet and identify:
1. Label rows: sheet-level titles/notes to remove (before the table)
2. Header rows: the actual column header row(s), short labels only

Worksheet data after unmerging cells (first 10 rows per sheet):
%s

Original merged cell information (for determining header levels):
%s

Return a JSON object mapping each sheet name exactly to its structure:
{"sheet_name": {"labels": [row_numbers], "header": [row_numbers]}}

Row numbers are 1-based. "labels" may be empty; "header" must contain at least one row. Output only the JSON object.`, sample, mergeInfo)

	content, err := c.complete(ctx, completionRequest{
		systemPrompt: systemPrompt,
		userPrompt:   userPrompt,
		temperature:  0.3,
		maxTokens:    500,
		jsonMode:     true,
		operation:    "reconstruct",
	})
	if err != nil {
		return nil, err
	}

	var structures map[string]recon.SheetStructure
	if err := json.Unmarshal([]byte(stripFences(content)), &structures); err != nil {
		return nil, fmt.Errorf("failed to parse structure analysis: %w", err)
	}

	return structures, nil
}

const codegenSystemPrompt = `You are an expert Python data analyst. Generate pandas analysis code for spreadsheet data.

Requirements:
1. Output only code: no explanations, no markdown code fences. Start with:
import pandas as pd
import warnings
warnings.simplefilter(action='ignore', category=Warning)
pd.set_option('display.max_columns', None)
2. Read the file with the predefined variable: df = pd.read_excel(file_path). Never hardcode a path.
3. Use column names EXACTLY as given in the schema, preserving spaces and special characters.
4. Convert numeric fields with pd.to_numeric(..., errors='coerce') before calculations; convert time fields with pd.to_datetime(..., errors='coerce').
5. Check column existence before filtering: if 'column_name' in df.columns. Check df.empty after reading.
6. Wrap file operations and data processing in try-except and print specific error details.
7. Print all results with print().
8. If the question calls for a chart, build it with import plotly.graph_objects as go, save with fig.write_html('<name>.html') and then print("Chart saved to: <name>.html").`

func buildCodegenPrompt(question string, table *models.ReconstructedTable) string {
	var schema strings.Builder
	fmt.Fprintf(&schema, "File: %s\nSheet: %s\nTotal rows: %d, Total columns: %d\n\nColumns:\n",
		table.FileName, table.SheetName, len(table.Rows), len(table.Columns))
	for _, col := range table.Columns {
		fmt.Fprintf(&schema, "  - %s\n", col)
	}

	sampleRows := table.Rows
	if len(sampleRows) > 5 {
		sampleRows = sampleRows[:5]
	}
	if len(sampleRows) > 0 {
		schema.WriteString("\nSample rows:\n")
		for i, row := range sampleRows {
			pairs := make([]string, 0, len(table.Columns))
			for j, col := range table.Columns {
				if j < len(row) {
					pairs = append(pairs, fmt.Sprintf("%s: %s", col, row[j]))
				}
			}
			fmt.Fprintf(&schema, "  Row %d: %s\n", i+1, strings.Join(pairs, ", "))
		}
	}

	return fmt.Sprintf(`User question: %s

Table schema (reconstructed from the original workbook):
%s
Generate Python code that reads the file via the predefined file_path variable, performs the requested analysis and prints the results.`, question, schema.String())
}

// GenerateCode produces the full analysis code in one call.
func (c *Client) GenerateCode(ctx context.Context, question string, table *models.ReconstructedTable) (string, error) {
	content, err := c.complete(ctx, completionRequest{
		systemPrompt: codegenSystemPrompt,
		userPrompt:   buildCodegenPrompt(question, table),
		temperature:  0.3,
		operation:    "codegen",
	})
	if err != nil {
		return "", fmt.Errorf("code generation failed: %w", err)
	}
	return StripCodeFences(content), nil
}

// GenerateCodeStream streams generated code, invoking onChunk for each
// token batch in arrival order, and returns the accumulated code. A
// non-nil error from onChunk aborts the stream.
func (c *Client) GenerateCodeStream(ctx context.Context, question string, table *models.ReconstructedTable, onChunk func(chunk string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stream *openai.ChatCompletionStream

	err := c.cb.Execute(ctx, func() error {
		var err error
		stream, err = c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: 0.3,
			MaxTokens:   c.maxTokens,
			Stream:      true,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: codegenSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: buildCodegenPrompt(question, table)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to open code stream: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var accumulated strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return accumulated.String(), fmt.Errorf("code stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		accumulated.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return accumulated.String(), err
		}
	}

	return StripCodeFences(accumulated.String()), nil
}

// StripCodeFences removes surrounding markdown code fences the model
// sometimes adds despite instructions.
func StripCodeFences(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "```python") {
		code = code[len("```python"):]
	} else if strings.HasPrefix(code, "```") {
		code = code[3:]
	}
	code = strings.TrimSuffix(strings.TrimSpace(code), "```")
	return strings.TrimSpace(code)
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

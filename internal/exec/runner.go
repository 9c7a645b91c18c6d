package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/sheet-agent/backend/pkg/circuitbreaker"
	"github.com/sheet-agent/backend/pkg/logger"
	"github.com/sheet-agent/backend/pkg/retry"
)

// Result is the outcome of running one code snippet. Success false with
// a non-empty ErrorText means the code itself failed; that is a normal
// result, not an infrastructure error.
type Result struct {
	Output     string   `json:"output"`
	ErrorText  string   `json:"error"`
	Success    bool     `json:"success"`
	GraphFiles []string `json:"graph_files"`
}

// Runner executes generated analysis code in isolation. An error return
// means the execution environment itself failed; code-level failures
// come back inside the Result.
type Runner interface {
	Run(ctx context.Context, code, filePath string) (*Result, error)
}

// SandboxClient talks to the opaque sandboxed execution service over
// HTTP. The service receives a snippet plus the spreadsheet path and
// returns stdout, stderr and produced artifact names.
type SandboxClient struct {
	endpoint    string
	httpClient  *http.Client
	retryConfig retry.Config
	cb          *circuitbreaker.CircuitBreaker
}

func NewSandboxClient(endpoint string, timeoutSec int) *SandboxClient {
	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	return &SandboxClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		retryConfig: retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Second,
			Logger:       logger.GetLogger(),
		},
		cb: circuitbreaker.New("sandbox", circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      15 * time.Second,
			Logger:           logger.GetLogger(),
		}),
	}
}

var chartSavedPattern = regexp.MustCompile(`Chart saved to:\s*(\S+\.html)`)

func (c *SandboxClient) Run(ctx context.Context, code, filePath string) (*Result, error) {
	payload, err := json.Marshal(map[string]string{
		"code":      code,
		"file_path": filePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	var result *Result
	err = c.cb.Execute(ctx, func() error {
		result, err = retry.DoWithResult(ctx, c.retryConfig, func() (*Result, error) {
			return c.post(ctx, payload)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// The sandbox reports produced files; older runner builds only
	// announce charts on stdout, so fall back to scanning the output.
	if len(result.GraphFiles) == 0 {
		for _, m := range chartSavedPattern.FindAllStringSubmatch(result.Output, -1) {
			result.GraphFiles = append(result.GraphFiles, m[1])
		}
	}

	logger.Info("Code executed",
		zap.Bool("success", result.Success),
		zap.Int("graph_files", len(result.GraphFiles)),
	)

	return result, nil
}

func (c *SandboxClient) post(ctx context.Context, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execution service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execution service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse execution response: %w", err)
	}

	return &result, nil
}

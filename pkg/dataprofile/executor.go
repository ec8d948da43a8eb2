package dataprofile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrNotSelect rejects SQL that is not a single read-only query.
var ErrNotSelect = errors.New("only SELECT statements are allowed")

// Executor runs generated code against the session dataset
type Executor interface {
	RunSQL(ctx context.Context, req SQLRequest) (*SQLResult, error)
	RunPython(ctx context.Context, req PythonRequest) (*PythonResult, error)
}

// SQLRequest is one run_sql call
type SQLRequest struct {
	SessionID string `json:"session_id"`
	SQL       string `json:"sql"`
	Limit     int    `json:"limit"`
}

// SQLResult is the tabular output of a query
type SQLResult struct {
	Rows            []map[string]interface{} `json:"rows"`
	Columns         []string                 `json:"columns,omitempty"`
	RowCount        int                      `json:"row_count"`
	ExecutionTimeMs int64                    `json:"execution_time_ms,omitempty"`
}

// PythonRequest is one run_python call
type PythonRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Timeout   int    `json:"timeout"` // seconds
}

// PythonResult is the output of an analysis script
type PythonResult struct {
	Result interface{} `json:"result,omitempty"`
	Stdout string      `json:"stdout,omitempty"`
	Error  string      `json:"error,omitempty"`
}

var (
	sqlComment   = regexp.MustCompile(`(?s)--[^\n]*|/\*.*?\*/`)
	sqlForbidden = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|create|alter|attach|detach|copy|pragma|truncate|grant|vacuum|install|load)\b`)
	sqlLeading   = regexp.MustCompile(`(?i)^(select|with)\b`)
)

// ValidateSelect accepts a single SELECT (or WITH ... SELECT) statement.
func ValidateSelect(query string) error {
	body := strings.TrimSpace(sqlComment.ReplaceAllString(query, " "))
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if body == "" {
		return fmt.Errorf("empty query: %w", ErrNotSelect)
	}
	if strings.Contains(body, ";") {
		return fmt.Errorf("multiple statements: %w", ErrNotSelect)
	}
	if !sqlLeading.MatchString(body) {
		return ErrNotSelect
	}
	if m := sqlForbidden.FindString(body); m != "" {
		return fmt.Errorf("%s is not permitted: %w", strings.ToUpper(m), ErrNotSelect)
	}
	return nil
}

// HTTPExecutor calls the analysis backend's /sql/execute and /python/execute endpoints
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor creates an executor for baseURL
func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// RunSQL executes a validated query
func (e *HTTPExecutor) RunSQL(ctx context.Context, req SQLRequest) (*SQLResult, error) {
	if err := ValidateSelect(req.SQL); err != nil {
		return nil, err
	}

	var result SQLResult
	if err := e.post(ctx, "/sql/execute", req, &result); err != nil {
		return nil, fmt.Errorf("SQL execution failed: %w", err)
	}
	if result.RowCount == 0 {
		result.RowCount = len(result.Rows)
	}
	return &result, nil
}

// RunPython executes an analysis script
func (e *HTTPExecutor) RunPython(ctx context.Context, req PythonRequest) (*PythonResult, error) {
	var result PythonResult
	if err := e.post(ctx, "/python/execute", req, &result); err != nil {
		return nil, fmt.Errorf("Python execution failed: %w", err)
	}
	return &result, nil
}

func (e *HTTPExecutor) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(responseError(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package dataprofile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPStore reads profiles from the analysis backend's session API
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store for baseURL, e.g. http://localhost:8000/api
func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type sessionPayload struct {
	DataDNA *Profile `json:"data_dna"`
}

// Load fetches GET /session/{id} and returns its data_dna
func (s *HTTPStore) Load(ctx context.Context, sessionID string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to load session: %s", responseError(resp))
	}

	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if payload.DataDNA == nil {
		return nil, fmt.Errorf("session %s has no data_dna: %w", sessionID, ErrNotFound)
	}
	payload.DataDNA.SessionID = sessionID
	return payload.DataDNA, nil
}

// AppendInsight posts to /session/{id}/insights
func (s *HTTPStore) AppendInsight(ctx context.Context, sessionID string, insight Insight) error {
	body, err := json.Marshal(map[string]interface{}{"insight": insight})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/session/"+url.PathEscape(sessionID)+"/insights", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to save insight: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("failed to save insight: %s", responseError(resp))
	}
	return nil
}

func responseError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := strings.TrimSpace(string(data))
	if text == "" {
		return resp.Status
	}
	return resp.Status + ": " + text
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cartpilot/internal/domain"
)

// panelClient is a thin HTTP client for the control panel's REST API.
type panelClient struct {
	base string
	hc   *http.Client
}

func newPanelClient(serverURL string) *panelClient {
	return &panelClient{
		base: strings.TrimRight(serverURL, "/"),
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope carries the status fields present on every API response.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e envelope) asError() error {
	if e.Code != "" {
		return fmt.Errorf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Errorf("%s", e.Message)
}

type sessionListResponse struct {
	envelope
	Sessions []domain.SessionView `json:"sessions"`
}

type sessionActionResponse struct {
	envelope
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
}

type batchResponse struct {
	envelope
	Started        []string            `json:"started"`
	Failed         []domain.BatchError `json:"failed"`
	TotalAttempted int                 `json:"total_attempted"`
	Queued         []string            `json:"queued"`
}

type stopAllResponse struct {
	envelope
	Stopped             []string            `json:"stopped"`
	Failed              []domain.BatchError `json:"failed"`
	SequentialCancelled bool                `json:"sequential_cancelled"`
}

type logsResponse struct {
	envelope
	SessionID string             `json:"session_id"`
	Logs      []domain.LogRecord `json:"logs"`
	Count     int                `json:"count"`
	Running   bool               `json:"running"`
}

type healthResponse struct {
	envelope
	ActiveSessions   int   `json:"active_sessions"`
	TotalSessions    int   `json:"total_sessions"`
	SequentialActive bool  `json:"sequential_active"`
	UptimeSeconds    int64 `json:"uptime_seconds"`
}

// doJSON performs a request and decodes the response into out, which must
// embed envelope. Error envelopes become Go errors.
func (c *panelClient) doJSON(method, path string, out interface{ env() envelope }) error {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("control panel unreachable: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if e := out.env(); e.Status != "success" {
		return e.asError()
	}
	return nil
}

func (e envelope) env() envelope { return e }

func (c *panelClient) get(path string, out interface{ env() envelope }) error {
	return c.doJSON(http.MethodGet, path, out)
}

func (c *panelClient) post(path string, out interface{ env() envelope }) error {
	return c.doJSON(http.MethodPost, path, out)
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Ответы API. CLI не импортирует internal/api, поэтому поля
// повторяют JSON, а время остаётся строкой.

type FlowResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	Version   int    `json:"version,omitempty"`
	CreatedAt string `json:"created_at"`
}

type FlowVersionResponse struct {
	FlowID    string         `json:"flow_id"`
	Version   int            `json:"version"`
	Spec      map[string]any `json:"spec"`
	CreatedAt string         `json:"created_at"`
}

type RunResponse struct {
	ID             string         `json:"id"`
	FlowID         string         `json:"flow_id"`
	Version        int            `json:"version"`
	Status         string         `json:"status"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Messages       []string       `json:"messages,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
	TerminalQueue  string         `json:"terminal_queue,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	FinishedAt     string         `json:"finished_at,omitempty"`
	Error          string         `json:"error,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

type CreateFlowRequest struct {
	Name string          `json:"name"`
	Spec json.RawMessage `json:"spec,omitempty"`
}

type UpdateFlowRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateRunRequest struct {
	Inputs         map[string]any `json:"inputs,omitempty"`
	Version        *int           `json:"version,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ListRunsOpts — фильтр runs. Нулевые поля не передаются.
type ListRunsOpts struct {
	FlowID string
	Status string
	Limit  int
	Offset int
}

func (o ListRunsOpts) query() url.Values {
	q := url.Values{}
	if o.FlowID != "" {
		q.Set("flow_id", o.FlowID)
	}
	if o.Status != "" {
		q.Set("status", strings.ToUpper(o.Status))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client — HTTP-клиент Relay API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient создаёт клиент для API по адресу baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) ListFlows(ctx context.Context) ([]FlowResponse, error) {
	return send[[]FlowResponse](ctx, c, http.MethodGet, "/api/v1/flows", nil)
}

// CreateFlow создаёт flow. Непустой spec становится версией 1.
func (c *Client) CreateFlow(ctx context.Context, req CreateFlowRequest) (*FlowResponse, error) {
	return sendPtr[FlowResponse](ctx, c, http.MethodPost, "/api/v1/flows", req)
}

func (c *Client) GetFlow(ctx context.Context, id string) (*FlowResponse, error) {
	return sendPtr[FlowResponse](ctx, c, http.MethodGet, flowPath(id), nil)
}

// FindFlow ищет flow по имени. nil без ошибки — flow нет.
func (c *Client) FindFlow(ctx context.Context, name string) (*FlowResponse, error) {
	flows, err := c.ListFlows(ctx)
	if err != nil {
		return nil, err
	}
	for i := range flows {
		if flows[i].Name == name {
			return &flows[i], nil
		}
	}
	return nil, nil
}

func (c *Client) UpdateFlow(ctx context.Context, id string, req UpdateFlowRequest) (*FlowResponse, error) {
	return sendPtr[FlowResponse](ctx, c, http.MethodPut, flowPath(id), req)
}

func (c *Client) DeleteFlow(ctx context.Context, id string) error {
	_, err := send[struct{}](ctx, c, http.MethodDelete, flowPath(id), nil)
	return err
}

func (c *Client) ListVersions(ctx context.Context, flowID string) ([]FlowVersionResponse, error) {
	return send[[]FlowVersionResponse](ctx, c, http.MethodGet, flowPath(flowID, "versions"), nil)
}

// CreateVersion публикует новую версию spec для flow.
func (c *Client) CreateVersion(ctx context.Context, flowID string, spec json.RawMessage) (*FlowVersionResponse, error) {
	body := map[string]json.RawMessage{"spec": spec}
	return sendPtr[FlowVersionResponse](ctx, c, http.MethodPost, flowPath(flowID, "versions"), body)
}

func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	path := "/api/v1/runs"
	if q := opts.query(); len(q) > 0 {
		path += "?" + q.Encode()
	}
	return send[[]RunResponse](ctx, c, http.MethodGet, path, nil)
}

// CreateRun создаёт run для flow. С wait API выполняет run в рамках
// запроса и возвращает итог.
func (c *Client) CreateRun(ctx context.Context, flowID string, req CreateRunRequest, wait bool) (*RunResponse, error) {
	path := flowPath(flowID, "runs")
	if wait {
		path += "?wait=true"
	}
	return sendPtr[RunResponse](ctx, c, http.MethodPost, path, req)
}

func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	return sendPtr[RunResponse](ctx, c, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil)
}

// CancelRun отменяет run, который ещё не начал выполняться.
func (c *Client) CancelRun(ctx context.Context, id string) (*RunResponse, error) {
	return sendPtr[RunResponse](ctx, c, http.MethodPost, "/api/v1/runs/"+url.PathEscape(id)+"/cancel", nil)
}

func flowPath(id string, sub ...string) string {
	return "/api/v1/flows/" + url.PathEscape(id) + strings.Join(append([]string{""}, sub...), "/")
}

// envelope — ответ API: data при успехе, error при ошибке.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func sendPtr[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	v, err := send[T](ctx, c, method, path, body)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// send выполняет запрос и декодирует data из ответа в T.
func send[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return zero, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return zero, nil
	}

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return zero, apiErr
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	var v T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return zero, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return v, nil
}

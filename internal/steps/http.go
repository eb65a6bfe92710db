package steps

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/relay/internal/telemetry"
)

// StepTypeHTTP — тип HTTP шага.
const StepTypeHTTP = "http"

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 << 20
)

// Ключи конфигурации HTTP шага.
const (
	configMethod          = "method"
	configURL             = "url"
	configHeaders         = "headers"
	configBody            = "body"
	configFollowRedirects = "follow_redirects"
	configValidateSSL     = "validate_ssl"
	configTimeoutSec      = "timeout_sec"
	configFailOnStatus    = "fail_on_status"
)

// HTTPStep вызывает внешний HTTP сервис.
//
// Конфигурация:
//
//	{
//	    "method": "POST",
//	    "url": "https://hooks.example.com/orders",
//	    "headers": {"Authorization": "Bearer {{ .inputs.token }}"},
//	    "body": {"order": {"$ref": "load.body.id"}},
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "fail_on_status": true,
//	    "timeout_sec": 30
//	}
//
// Outputs: status_code, headers (map[string]string) и body. Тело с
// Content-Type application/json разбирается, иначе остаётся строкой.
//
// Если fail_on_status не выключен, ответ вне 2xx завершает шаг с
// *HTTPStatusError.
type HTTPStep struct {
	// Общие для всех вызовов шага.
	secure   *http.Transport
	insecure *http.Transport
}

// NewHTTPStep создаёт новый HTTPStep.
func NewHTTPStep() *HTTPStep {
	base := http.DefaultTransport.(*http.Transport)

	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &HTTPStep{
		secure:   base.Clone(),
		insecure: insecure,
	}
}

// Type возвращает тип шага.
func (s *HTTPStep) Type() string {
	return StepTypeHTTP
}

// Execute выполняет HTTP запрос.
func (s *HTTPStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	call, err := newHTTPCall(req.Config)
	if err != nil {
		return nil, err
	}

	httpReq, err := call.request(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	logger := telemetry.FromContext(ctx)
	start := time.Now()

	resp, err := s.client(call, req.Timeout).Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("%s %s: %w", call.method, call.url, err)
	}
	defer resp.Body.Close()

	logger.Debug("http step done",
		"step_id", req.StepID,
		"method", call.method,
		"url", call.url,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	body, err := decodeHTTPBody(resp)
	if err != nil {
		return nil, err
	}

	if call.failOnStatus && !successful(resp.StatusCode) {
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       body,
		}
	}

	return NewResponse(map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeader(resp.Header),
		"body":        body,
	}), nil
}

// client собирает клиент под конкретный вызов. Таймаут задачи
// важнее timeout_sec.
func (s *HTTPStep) client(call *httpCall, taskTimeout time.Duration) *http.Client {
	c := &http.Client{
		Timeout:   call.timeout,
		Transport: s.secure,
	}
	if taskTimeout > 0 {
		c.Timeout = taskTimeout
	}
	if !call.validateSSL {
		c.Transport = s.insecure
	}
	if !call.followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// httpCall — разобранная конфигурация одного вызова.
type httpCall struct {
	method          string
	url             string
	header          http.Header
	body            any
	followRedirects bool
	validateSSL     bool
	failOnStatus    bool
	timeout         time.Duration
}

func newHTTPCall(config Config) (*httpCall, error) {
	url := config.String(configURL)
	if url == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, StepTypeHTTP)
	}

	call := &httpCall{
		method:          strings.ToUpper(config.String(configMethod)),
		url:             url,
		header:          make(http.Header),
		body:            config[configBody],
		followRedirects: config.Bool(configFollowRedirects, true),
		validateSSL:     config.Bool(configValidateSSL, true),
		failOnStatus:    config.Bool(configFailOnStatus, true),
		timeout:         defaultHTTPTimeout,
	}
	if call.method == "" {
		call.method = http.MethodGet
	}
	if sec := config.Int(configTimeoutSec); sec > 0 {
		call.timeout = time.Duration(sec) * time.Second
	}
	for k, v := range config.StringMap(configHeaders) {
		call.header.Set(k, v)
	}

	return call, nil
}

func (c *httpCall) request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if c.body != nil {
		data, err := encodeHTTPBody(c.body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)

		if c.header.Get("Content-Type") == "" {
			c.header.Set("Content-Type", "application/json")
		}
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.header
	return req, nil
}

// encodeHTTPBody отправляет строки и байты как есть, остальное как JSON.
func encodeHTTPBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// decodeHTTPBody читает тело ответа. Невалидный JSON отдаётся строкой.
func decodeHTTPBody(resp *http.Response) (any, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		var v any
		if json.Unmarshal(data, &v) == nil {
			return v, nil
		}
	}
	return string(data), nil
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func successful(code int) bool {
	return code >= 200 && code < 300
}

// HTTPStatusError — ответ с кодом вне диапазона 2xx.
//
// Реализует engine.FieldError: политика {"matches": {"status": 503}}
// или {"matches": {"code": "HTTP_STATUS"}} сопоставляется с этой ошибкой.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       any
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Fields возвращает поля для политик MatchFields.
func (e *HTTPStatusError) Fields() map[string]any {
	return map[string]any{
		"status": e.StatusCode,
		"code":   "HTTP_STATUS",
	}
}

// IsHTTPStatusError проверяет, является ли ошибка ответом вне 2xx.
func IsHTTPStatusError(err error) bool {
	var se *HTTPStatusError
	return errors.As(err, &se)
}

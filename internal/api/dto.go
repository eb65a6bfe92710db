package api

import (
	"encoding/json"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
)

// CreateFlowRequest — тело POST /flows. Непустой Spec сразу
// становится версией 1.
type CreateFlowRequest struct {
	Name     string          `json:"name"`
	IsActive *bool           `json:"is_active,omitempty"`
	Spec     json.RawMessage `json:"spec,omitempty"`
}

// UpdateFlowRequest — тело PUT /flows/{id}. nil поля не меняются.
type UpdateFlowRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateFlowVersionRequest struct {
	Spec json.RawMessage `json:"spec"`
}

type CreateRunRequest struct {
	Inputs         map[string]any `json:"inputs,omitempty"`
	Version        *int           `json:"version,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ExecuteRequest — тело POST /execute: spec выполняется без сохранения.
type ExecuteRequest struct {
	Spec   json.RawMessage `json:"spec"`
	Inputs map[string]any  `json:"inputs,omitempty"`
}

// FlowResponse — flow в ответах API.
type FlowResponse struct {
	domain.Flow

	// Version — номер версии, созданной вместе с flow.
	Version int `json:"version,omitempty"`
}

func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{Flow: f}
}

type FlowVersionResponse struct {
	domain.FlowVersion
}

func FlowVersionFromDomain(v domain.FlowVersion) FlowVersionResponse {
	return FlowVersionResponse{FlowVersion: v}
}

// RunResponse — run в ответах API с вычисляемыми полями.
type RunResponse struct {
	domain.Run

	Finished   bool  `json:"finished"`
	DurationMs int64 `json:"duration_ms,omitempty"`
}

func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		Run:        r,
		Finished:   r.IsFinished(),
		DurationMs: r.Duration().Milliseconds(),
	}
}

// ValidateResponse — результат POST /flows/validate. Невалидный spec
// описывается полем Error, остальные поля тогда пусты.
type ValidateResponse struct {
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	Entry       string      `json:"entry,omitempty"`
	Queues      []string    `json:"queues,omitempty"`
	Edges       []flow.Edge `json:"edges,omitempty"`
	Unreachable []string    `json:"unreachable,omitempty"`
}

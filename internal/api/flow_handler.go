package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
)

// GET /api/v1/flows
func (h *Handler) listFlows(w http.ResponseWriter, r *http.Request) error {
	flows, err := h.flowRepo.List(r.Context())
	if err != nil {
		return err
	}

	out := make([]FlowResponse, len(flows))
	for i, f := range flows {
		out[i] = FlowFromDomain(f)
	}
	writeList(w, out)
	return nil
}

// createFlow создаёт flow и, если передан spec, его первую версию.
// Spec проверяется до создания flow: flow без версий не остаётся.
//
// POST /api/v1/flows
func (h *Handler) createFlow(w http.ResponseWriter, r *http.Request) error {
	var req CreateFlowRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return badRequest("name is required")
	}

	var spec *domain.FlowSpec
	if len(req.Spec) > 0 {
		parsed, err := flow.Parse(req.Spec, h.builder.Registry())
		if err != nil {
			return invalidSpec(err)
		}
		spec = parsed
	}

	f := &domain.Flow{
		ID:        uuid.New(),
		Name:      req.Name,
		IsActive:  req.IsActive == nil || *req.IsActive,
		CreatedAt: time.Now(),
	}
	if err := h.flowRepo.Create(r.Context(), f); err != nil {
		return storeError(err, "")
	}

	resp := FlowFromDomain(*f)
	if spec != nil {
		version, err := h.flowRepo.CreateVersion(r.Context(), f.ID, *spec)
		if err != nil {
			return err
		}
		resp.Version = version.Version
	}

	writeData(w, http.StatusCreated, resp)
	return nil
}

// GET /api/v1/flows/{id}
func (h *Handler) getFlow(w http.ResponseWriter, r *http.Request) error {
	f, err := h.loadFlow(r)
	if err != nil {
		return err
	}

	writeData(w, http.StatusOK, FlowFromDomain(*f))
	return nil
}

// updateFlow меняет имя и признак активности. Spec меняется
// только новой версией.
//
// PUT /api/v1/flows/{id}
func (h *Handler) updateFlow(w http.ResponseWriter, r *http.Request) error {
	f, err := h.loadFlow(r)
	if err != nil {
		return err
	}

	var req UpdateFlowRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return badRequest("name must not be empty")
		}
		f.Name = *req.Name
	}
	if req.IsActive != nil {
		f.IsActive = *req.IsActive
	}

	if err := h.flowRepo.Update(r.Context(), f); err != nil {
		return storeError(err, "flow not found")
	}

	writeData(w, http.StatusOK, FlowFromDomain(*f))
	return nil
}

// DELETE /api/v1/flows/{id}
func (h *Handler) deleteFlow(w http.ResponseWriter, r *http.Request) error {
	id, err := flowID(r)
	if err != nil {
		return err
	}

	if err := h.flowRepo.Delete(r.Context(), id); err != nil {
		return storeError(err, "flow not found")
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/v1/flows/{id}/versions
func (h *Handler) listFlowVersions(w http.ResponseWriter, r *http.Request) error {
	f, err := h.loadFlow(r)
	if err != nil {
		return err
	}

	versions, err := h.flowRepo.ListVersions(r.Context(), f.ID)
	if err != nil {
		return err
	}

	out := make([]FlowVersionResponse, len(versions))
	for i, v := range versions {
		out[i] = FlowVersionFromDomain(v)
	}
	writeList(w, out)
	return nil
}

// POST /api/v1/flows/{id}/versions
func (h *Handler) createFlowVersion(w http.ResponseWriter, r *http.Request) error {
	var req CreateFlowVersionRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if len(req.Spec) == 0 {
		return badRequest("spec is required")
	}

	spec, err := flow.Parse(req.Spec, h.builder.Registry())
	if err != nil {
		return invalidSpec(err)
	}

	f, err := h.loadFlow(r)
	if err != nil {
		return err
	}

	version, err := h.flowRepo.CreateVersion(r.Context(), f.ID, *spec)
	if err != nil {
		return storeError(err, "flow not found")
	}

	writeData(w, http.StatusCreated, FlowVersionFromDomain(*version))
	return nil
}

// GET /api/v1/flows/{id}/versions/{version}
func (h *Handler) getFlowVersion(w http.ResponseWriter, r *http.Request) error {
	id, err := flowID(r)
	if err != nil {
		return err
	}

	n, convErr := strconv.Atoi(chi.URLParam(r, "version"))
	if convErr != nil || n <= 0 {
		return badRequest("invalid version number")
	}

	version, err := h.flowRepo.GetVersion(r.Context(), id, n)
	if err != nil {
		return storeError(err, "flow version not found")
	}

	writeData(w, http.StatusOK, FlowVersionFromDomain(*version))
	return nil
}

// validateFlow проверяет FlowSpec без сохранения. Невалидный spec —
// это ответ 200 с Valid=false, а не ошибка запроса.
//
// POST /api/v1/flows/validate
func (h *Handler) validateFlow(w http.ResponseWriter, r *http.Request) error {
	data, err := readBody(r)
	if err != nil {
		return badRequest(err.Error())
	}

	writeData(w, http.StatusOK, h.describe(data))
	return nil
}

func (h *Handler) describe(data []byte) ValidateResponse {
	spec, err := flow.Parse(data, h.builder.Registry())
	if err != nil {
		return ValidateResponse{Error: err.Error()}
	}

	graph, err := flow.BuildGraph(spec)
	if err != nil {
		return ValidateResponse{Error: err.Error()}
	}

	entry := spec.EntryQueue()
	resp := ValidateResponse{
		Valid:       true,
		Entry:       entry,
		Edges:       graph.Edges(),
		Unreachable: graph.Unreachable(entry),
	}
	for _, q := range spec.Queues {
		resp.Queues = append(resp.Queues, q.ID)
	}
	return resp
}

// loadFlow загружает flow по {id} из пути.
func (h *Handler) loadFlow(r *http.Request) (*domain.Flow, error) {
	id, err := flowID(r)
	if err != nil {
		return nil, err
	}

	f, err := h.flowRepo.GetByID(r.Context(), id)
	if err != nil {
		return nil, storeError(err, "flow not found")
	}
	return f, nil
}

func flowID(r *http.Request) (uuid.UUID, error) {
	return pathUUID(r, "id", "invalid flow id")
}

func pathUUID(r *http.Request, param, msg string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, badRequest(msg)
	}
	return id, nil
}

// maxBodySize — ограничение тела запроса со спецификацией.
const maxBodySize = 4 << 20

func readBody(r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(&raw); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.New("request body too large")
		}
		return nil, errors.New("invalid request body")
	}
	return raw, nil
}

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/relay/internal/domain"
	"github.com/shaiso/relay/internal/flow"
	"github.com/shaiso/relay/internal/repo"
)

// defaultRunsLimit — размер страницы списка runs по умолчанию.
const defaultRunsLimit = 50

// GET /api/v1/runs?flow_id=...&status=...&limit=...&offset=...
func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) error {
	filter, err := runFilter(r.URL.Query())
	if err != nil {
		return err
	}

	runs, err := h.runRepo.List(r.Context(), filter)
	if err != nil {
		return err
	}

	out := make([]RunResponse, len(runs))
	for i, run := range runs {
		out[i] = RunFromDomain(run)
	}
	writeList(w, out)
	return nil
}

func runFilter(q url.Values) (repo.RunFilter, error) {
	filter := repo.RunFilter{
		Status: domain.RunStatus(q.Get("status")),
		Limit:  defaultRunsLimit,
	}

	if s := q.Get("flow_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return filter, badRequest("invalid flow_id")
		}
		filter.FlowID = &id
	}

	var ok bool
	if filter.Limit, ok = intParam(q.Get("limit"), defaultRunsLimit); !ok || filter.Limit <= 0 {
		return filter, badRequest("invalid limit")
	}
	if filter.Offset, ok = intParam(q.Get("offset"), 0); !ok || filter.Offset < 0 {
		return filter, badRequest("invalid offset")
	}

	return filter, nil
}

// createRun создаёт run для flow.
//
// По умолчанию run остаётся PENDING и выполняется оркестратором.
// С ?wait=true run выполняется в рамках запроса и возвращается с отчётом.
//
// POST /api/v1/flows/{id}/runs[?wait=true]
func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) error {
	var req CreateRunRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	wait := r.URL.Query().Get("wait") == "true"
	if wait && h.executor == nil {
		return badRequest("synchronous execution is not enabled")
	}

	f, err := h.loadFlow(r)
	if err != nil {
		return err
	}

	version, err := h.runVersion(r.Context(), f.ID, req.Version)
	if err != nil {
		return err
	}

	// Входные параметры проверяются сразу, а не в оркестраторе
	if _, err := flow.ResolveInputs(&version.Spec, req.Inputs); err != nil {
		return badRequest(err.Error())
	}

	existing, err := h.findIdempotent(r.Context(), f.ID, req.IdempotencyKey)
	if err != nil {
		return err
	}
	if existing != nil {
		writeData(w, http.StatusOK, RunFromDomain(*existing))
		return nil
	}

	run := &domain.Run{
		ID:             uuid.New(),
		FlowID:         f.ID,
		Version:        version.Version,
		Status:         domain.RunStatusPending,
		Inputs:         req.Inputs,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	if err := h.runRepo.Create(r.Context(), run); err != nil {
		// Параллельный запрос с тем же ключом успел раньше
		if errors.Is(err, repo.ErrAlreadyExists) && req.IdempotencyKey != "" {
			if existing, _ := h.findIdempotent(r.Context(), f.ID, req.IdempotencyKey); existing != nil {
				writeData(w, http.StatusOK, RunFromDomain(*existing))
				return nil
			}
		}
		return storeError(err, "")
	}

	if wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.executeTimeout)
		defer cancel()

		if err := h.executor.Execute(ctx, run); err != nil {
			return err
		}
	} else {
		h.notifyPending(r.Context(), run.ID)
	}

	writeData(w, http.StatusCreated, RunFromDomain(*run))
	return nil
}

// runVersion возвращает запрошенную версию flow или последнюю.
func (h *Handler) runVersion(ctx context.Context, flowID uuid.UUID, n *int) (*domain.FlowVersion, error) {
	if n != nil {
		v, err := h.flowRepo.GetVersion(ctx, flowID, *n)
		return v, storeError(err, "flow version not found")
	}

	v, err := h.flowRepo.GetLatestVersion(ctx, flowID)
	return v, storeError(err, "flow has no versions")
}

// findIdempotent ищет run с тем же ключом идемпотентности.
// Пустой ключ — поиска нет.
func (h *Handler) findIdempotent(ctx context.Context, flowID uuid.UUID, key string) (*domain.Run, error) {
	if key == "" {
		return nil, nil
	}

	run, err := h.runRepo.GetByIdempotencyKey(ctx, flowID, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return run, err
}

// notifyPending публикует run.pending. Run уже сохранён, поэтому
// без брокера его заберёт polling оркестратора.
func (h *Handler) notifyPending(ctx context.Context, runID uuid.UUID) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishRunPending(ctx, runID); err != nil {
		h.logger.Warn("failed to publish run.pending", "run_id", runID, "error", err)
	}
}

// GET /api/v1/runs/{id}
func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) error {
	run, err := h.loadRun(r)
	if err != nil {
		return err
	}

	writeData(w, http.StatusOK, RunFromDomain(*run))
	return nil
}

// cancelRun отменяет run, который ещё не начал выполняться.
//
// POST /api/v1/runs/{id}/cancel
func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) error {
	run, err := h.loadRun(r)
	if err != nil {
		return err
	}

	if run.Status != domain.RunStatusPending {
		return invalidState("only pending runs can be cancelled")
	}
	run.MarkCancelled()

	if err := h.runRepo.Update(r.Context(), run); err != nil {
		return storeError(err, "run not found")
	}

	writeData(w, http.StatusOK, RunFromDomain(*run))
	return nil
}

func (h *Handler) loadRun(r *http.Request) (*domain.Run, error) {
	id, err := pathUUID(r, "id", "invalid run id")
	if err != nil {
		return nil, err
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if err != nil {
		return nil, storeError(err, "run not found")
	}
	return run, nil
}

// executeFlow выполняет переданный FlowSpec без сохранения и возвращает отчёт.
//
// POST /api/v1/execute
func (h *Handler) executeFlow(w http.ResponseWriter, r *http.Request) error {
	var req ExecuteRequest
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

	ctx, cancel := context.WithTimeout(r.Context(), h.executeTimeout)
	defer cancel()

	// Execute возвращает ошибку, только если flow не собрался:
	// например, входные параметры не подошли
	report, err := flow.Execute(ctx, h.builder, spec, req.Inputs)
	if err != nil {
		return invalidSpec(err)
	}

	writeData(w, http.StatusOK, report)
	return nil
}

// intParam разбирает целый query-параметр. Пустая строка — def.
func intParam(s string, def int) (int, bool) {
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shaiso/relay/internal/repo"
)

// ErrorCode — машиночитаемый код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeInvalidSpec      ErrorCode = "INVALID_SPEC"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error — ошибка обработчика, которую клиент видит как есть.
// Остальные ошибки превращаются в 500 без подробностей.
type Error struct {
	Status  int
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: msg}
}

func invalidSpec(err error) *Error {
	return &Error{Status: http.StatusBadRequest, Code: ErrCodeInvalidSpec, Message: err.Error()}
}

func notFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: msg}
}

func invalidState(msg string) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Code: ErrCodeInvalidState, Message: msg}
}

var errInternal = &Error{
	Status:  http.StatusInternalServerError,
	Code:    ErrCodeInternalError,
	Message: "internal server error",
}

// storeError переводит ошибку хранилища в ответ API.
// missing — сообщение для repo.ErrNotFound.
func storeError(err error, missing string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return notFound(missing)
	case errors.Is(err, repo.ErrAlreadyExists):
		return &Error{Status: http.StatusConflict, Code: ErrCodeConflict, Message: err.Error()}
	case errors.Is(err, repo.ErrInvalidState):
		return invalidState(err.Error())
	default:
		return err
	}
}

// apiFunc — обработчик, который возвращает ошибку вместо записи ответа.
type apiFunc func(w http.ResponseWriter, r *http.Request) error

// handle превращает apiFunc в http.HandlerFunc.
func (h *Handler) handle(fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) {
			h.logger.Error("request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"error", err,
			)
			apiErr = errInternal
		}
		writeError(w, apiErr)
	}
}

// envelope — тело успешного ответа.
type envelope struct {
	Data  any  `json:"data"`
	Total *int `json:"total,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, ErrorResponse{Error: ErrorDetail{Code: e.Code, Message: e.Message}})
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func writeList[T any](w http.ResponseWriter, items []T) {
	n := len(items)
	writeJSON(w, http.StatusOK, envelope{Data: items, Total: &n})
}

// decodeBody декодирует JSON тело запроса в v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/middleware"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/store"
)

// maxBodyBytes はJSONリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時は400を書き込みfalseを返す。
// 空のボディはゼロ値として扱う。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// storeErrorContext はストアのエラーをAPIErrorに変換する際の補足情報。
type storeErrorContext struct {
	resource  string // "project" または "task"
	id        string
	priority  string
	projectID string
}

// writeStoreError はストアのコマンドから返されたエラーを適切なHTTPステータスコードに変換する。
func writeStoreError(w http.ResponseWriter, err error, c storeErrorContext) {
	switch {
	case errors.Is(err, store.ErrInvalidProjectName):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidProjectNameError())
	case errors.Is(err, store.ErrInvalidTaskName):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTaskNameError())
	case errors.Is(err, store.ErrInvalidPriority):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPriorityError(c.priority))
	case errors.Is(err, store.ErrInvalidProjectID):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError("project_id"))
	case errors.Is(err, store.ErrProjectNotFound):
		id := c.id
		if c.resource != "project" {
			id = c.projectID
		}
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProjectNotFoundError(id))
	case errors.Is(err, store.ErrTaskNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewTaskNotFoundError(c.id))
	case errors.Is(err, store.ErrClosed), backend.IsKind(err, backend.KindInvalidToken):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case backend.IsKind(err, backend.KindNotFound):
		// ローカルには存在するがリモートで一致する行がない
		if c.resource == "project" {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProjectNotFoundError(c.id))
		} else {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewTaskNotFoundError(c.id))
		}
	default:
		slog.Error("store command failed",
			slog.String("resource", c.resource),
			slog.String("id", c.id),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendFailedError())
	}
}

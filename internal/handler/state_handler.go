package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/middleware"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/store"
)

// storeAccess はリクエストのセッションからストアを取得する共通処理。
type storeAccess struct {
	stores StoreProvider
}

// open はコンテキストのセッションに対応するストアとアクセストークンを返す。
// 失敗時はレスポンスを書き込みokにfalseを返す。
func (a storeAccess) open(w http.ResponseWriter, r *http.Request) (DomainStore, string, bool) {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, "", false
	}

	s, err := a.stores.Get(r.Context(), sess.ID, sess.UserID, sess.AccessToken)
	if err != nil {
		if backend.IsKind(err, backend.KindInvalidToken) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return nil, "", false
		}
		slog.Error("failed to load state",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStateLoadFailedError())
		return nil, "", false
	}
	return s, sess.AccessToken, true
}

// pathID はURLパスの{id}をUUIDとして検証して返す。
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError("id"))
		return "", false
	}
	return id, true
}

// projectResponse はプロジェクトのAPIレスポンス。
type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsOpen    bool      `json:"is_open"`
	CreatedAt time.Time `json:"created_at"`
}

// ownerResponse はストア所有者のAPIレスポンス。
type ownerResponse struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// stateResponse はストア全体のAPIレスポンス。
type stateResponse struct {
	Owner    ownerResponse     `json:"owner"`
	Projects []projectResponse `json:"projects"`
	Tasks    []taskResponse    `json:"tasks"`
	LoadedAt time.Time         `json:"loaded_at"`
}

// projectRequest はプロジェクト作成・名前変更のリクエストボディ。
type projectRequest struct {
	Name string `json:"name"`
}

func toProjectResponse(p model.Project) projectResponse {
	return projectResponse{
		ID:        p.ID,
		Name:      p.Name,
		IsOpen:    p.IsOpen,
		CreatedAt: p.CreatedAt,
	}
}

func toProjectResponses(projects []model.Project) []projectResponse {
	results := make([]projectResponse, len(projects))
	for i, p := range projects {
		results[i] = toProjectResponse(p)
	}
	return results
}

// StateHandler はストア全体とプロジェクトのエンドポイントを処理する。
type StateHandler struct {
	access storeAccess
}

// NewStateHandler はStateHandlerを生成する。
func NewStateHandler(stores StoreProvider) *StateHandler {
	return &StateHandler{access: storeAccess{stores: stores}}
}

// GetState はプロジェクトとタスクをまとめて返す。
// GET /api/state
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.access.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(s.Snapshot()))
}

// Reload はリモートから再読み込みする。失敗時は既存の状態を保持する。
// POST /api/state/reload
func (h *StateHandler) Reload(w http.ResponseWriter, r *http.Request) {
	s, token, ok := h.access.open(w, r)
	if !ok {
		return
	}

	if err := s.Reload(r.Context(), token); err != nil {
		if errors.Is(err, store.ErrClosed) || backend.IsKind(err, backend.KindInvalidToken) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		slog.Error("failed to reload state", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStateLoadFailedError())
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(s.Snapshot()))
}

// ListProjects はプロジェクト一覧を作成日時の昇順で返す。
// GET /api/projects
func (h *StateHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.access.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponses(s.Projects()))
}

// CreateProject はプロジェクトを作成する。
// POST /api/projects
func (h *StateHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	h.projectCommand(w, r, http.StatusCreated, storeErrorContext{resource: "project"},
		func(ctx context.Context, s DomainStore, token string) (model.Project, error) {
			return s.CreateProject(ctx, token, req.Name)
		})
}

// RenameProject はプロジェクト名を変更する。
// PATCH /api/projects/{id}
func (h *StateHandler) RenameProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req projectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	h.projectCommand(w, r, http.StatusOK, storeErrorContext{resource: "project", id: id},
		func(ctx context.Context, s DomainStore, token string) (model.Project, error) {
			return s.RenameProject(ctx, token, id, req.Name)
		})
}

// ToggleProject はサイドバーでの展開状態を切り替える。
// POST /api/projects/{id}/toggle
func (h *StateHandler) ToggleProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	h.projectCommand(w, r, http.StatusOK, storeErrorContext{resource: "project", id: id},
		func(ctx context.Context, s DomainStore, token string) (model.Project, error) {
			return s.ToggleProjectOpen(ctx, token, id)
		})
}

// DeleteProject はプロジェクトを削除する。所属タスクは削除しない。
// DELETE /api/projects/{id}
func (h *StateHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, token, ok := h.access.open(w, r)
	if !ok {
		return
	}

	if err := s.DeleteProject(r.Context(), token, id); err != nil {
		writeStoreError(w, err, storeErrorContext{resource: "project", id: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StateHandler) projectCommand(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	ec storeErrorContext,
	run func(ctx context.Context, s DomainStore, token string) (model.Project, error),
) {
	s, token, ok := h.access.open(w, r)
	if !ok {
		return
	}

	p, err := run(r.Context(), s, token)
	if err != nil {
		writeStoreError(w, err, ec)
		return
	}
	writeJSON(w, status, toProjectResponse(p))
}

func toStateResponse(snap store.Snapshot) stateResponse {
	return stateResponse{
		Owner: ownerResponse{
			UserID:    snap.Owner.UserID,
			FirstName: snap.Owner.FirstName,
			LastName:  snap.Owner.LastName,
		},
		Projects: toProjectResponses(snap.Projects),
		Tasks:    toTaskResponses(snap.Tasks),
		LoadedAt: snap.LoadedAt,
	}
}

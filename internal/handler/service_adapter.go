package handler

import (
	"context"

	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/store"
)

// DomainStore はハンドラーが使用するセッション別ストアの操作。
type DomainStore interface {
	Snapshot() store.Snapshot
	Projects() []model.Project
	Tasks() []model.Task
	Reload(ctx context.Context, accessToken string) error

	CreateProject(ctx context.Context, accessToken, name string) (model.Project, error)
	RenameProject(ctx context.Context, accessToken, id, name string) (model.Project, error)
	ToggleProjectOpen(ctx context.Context, accessToken, id string) (model.Project, error)
	DeleteProject(ctx context.Context, accessToken, id string) error

	CreateTask(ctx context.Context, accessToken string, in store.TaskInput) (model.Task, error)
	EditTask(ctx context.Context, accessToken, id string, edit store.TaskEdit) (model.Task, error)
	ToggleTaskCompleted(ctx context.Context, accessToken, id string) (model.Task, error)
	DeleteTask(ctx context.Context, accessToken, id string) error
}

// StoreProvider はセッションに対応するストアを返す。
type StoreProvider interface {
	Get(ctx context.Context, sessionID, userID, accessToken string) (DomainStore, error)
}

// RegistryAdapter は store.Registry を StoreProvider に適合させるアダプタ。
type RegistryAdapter struct {
	registry *store.Registry
}

// NewRegistryAdapter はRegistryAdapterを生成する。
func NewRegistryAdapter(registry *store.Registry) *RegistryAdapter {
	return &RegistryAdapter{registry: registry}
}

// Get はセッションのストアを返す。初回はリモートから読み込む。
func (a *RegistryAdapter) Get(ctx context.Context, sessionID, userID, accessToken string) (DomainStore, error) {
	s, err := a.registry.Get(ctx, sessionID, userID, accessToken)
	if err != nil {
		// nilの*store.Storeを非nilのインターフェースとして返さない
		return nil, err
	}
	return s, nil
}

var (
	_ DomainStore   = (*store.Store)(nil)
	_ StoreProvider = (*RegistryAdapter)(nil)
)

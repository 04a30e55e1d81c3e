// Package store はセッションごとのプロジェクトとタスクのメモリ上のコレクションを保持し、
// リモートバックエンドとの同期を行う。
//
// すべてのコマンドは、リモート呼び出しが成功した場合にのみローカル状態を変更する。
// 失敗した場合はローカル状態を変更せずにエラーを返す。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/metrics"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/security"
)

// MinProjectNameLength はプロジェクト名の最小文字数。
const MinProjectNameLength = 2

var (
	ErrInvalidProjectName = errors.New("project name too short")
	ErrInvalidTaskName    = errors.New("task name empty")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrInvalidProjectID   = errors.New("invalid project id")
	ErrProjectNotFound    = errors.New("project not found")
	ErrTaskNotFound       = errors.New("task not found")

	// ErrClosed はサインアウト等で破棄されたストアへの操作を示す。
	ErrClosed = errors.New("store closed")
)

// Owner はストアの所有ユーザー。タスク作成時に氏名を非正規化して保存する。
type Owner struct {
	UserID    string
	FirstName string
	LastName  string
}

// TaskInput はタスク作成の入力。
type TaskInput struct {
	Name      string
	Priority  string
	DueDate   *time.Time
	ProjectID *string
}

// TaskEdit はタスク編集の入力。nilのフィールドは変更しない。
type TaskEdit struct {
	Name     *string
	Priority *string
}

// Snapshot はストアの内容のコピー。
type Snapshot struct {
	Owner    Owner
	Projects []model.Project
	Tasks    []model.Task
	LoadedAt time.Time
}

// Store は1ユーザー分のプロジェクト（作成日時の昇順）とタスク（作成日時の降順）を保持する。
// コマンドはミューテックスで直列化され、読み取りはコピーを返す。
type Store struct {
	mu        sync.Mutex
	data      backend.Data
	sanitizer security.NameSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
	userID    string // 生成後は変更しない

	owner    Owner
	projects []model.Project
	tasks    []model.Task
	loadedAt time.Time
	lastUsed time.Time
	closed   bool
}

// newStore は読み込み済みのデータからStoreを生成する。
func newStore(data backend.Data, sanitizer security.NameSanitizer, collector metrics.MetricsCollector, now func() time.Time, loaded *Loaded) *Store {
	t := now()
	return &Store{
		data:      data,
		sanitizer: sanitizer,
		metrics:   collector,
		now:       now,
		userID:    loaded.Owner.UserID,
		owner:     loaded.Owner,
		projects:  loaded.Projects,
		tasks:     loaded.Tasks,
		loadedAt:  t,
		lastUsed:  t,
	}
}

// Loaded はLoadAllの結果。
type Loaded struct {
	Owner    Owner
	Projects []model.Project
	Tasks    []model.Task
}

// LoadAll はユーザーのプロジェクトとタスクを並行して取得する。
// どちらかの取得に失敗した場合は何も返さない。
// プロフィールの取得は氏名の非正規化にのみ使用するため、失敗しても読み込みは継続する。
func LoadAll(ctx context.Context, data backend.Data, accessToken, userID string) (*Loaded, error) {
	var (
		projects []model.Project
		tasks    []model.Task
		profile  *model.User
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		projects, err = data.ListProjects(gctx, accessToken, userID)
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tasks, err = data.ListTasks(gctx, accessToken, userID)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		p, err := data.GetProfile(gctx, accessToken, userID)
		if err != nil {
			if !backend.IsKind(err, backend.KindNotFound) && gctx.Err() == nil {
				slog.Warn("failed to load profile for store",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		}
		profile = p
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 行レベルの制御に加えて、所有者が異なる行は保持しない
	projects, foreignProjects := ownedProjects(projects, userID)
	tasks, foreignTasks := ownedTasks(tasks, userID)
	if foreignProjects > 0 || foreignTasks > 0 {
		slog.Warn("dropped rows owned by another user",
			slog.String("user_id", userID),
			slog.Int("projects", foreignProjects),
			slog.Int("tasks", foreignTasks),
		)
	}

	owner := Owner{UserID: userID}
	if profile != nil {
		owner.FirstName = profile.FirstName
		owner.LastName = profile.LastName
	}
	if projects == nil {
		projects = []model.Project{}
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	return &Loaded{Owner: owner, Projects: projects, Tasks: tasks}, nil
}

// ownedProjects はuserIDが所有するプロジェクトのみを返す。2つ目の戻り値は除外した件数。
func ownedProjects(in []model.Project, userID string) ([]model.Project, int) {
	out := in[:0:0]
	for _, p := range in {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, len(in) - len(out)
}

// ownedTasks はuserIDが所有するタスクのみを返す。2つ目の戻り値は除外した件数。
func ownedTasks(in []model.Task, userID string) ([]model.Task, int) {
	out := in[:0:0]
	for _, t := range in {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, len(in) - len(out)
}

// Snapshot は現在の内容のコピーを返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()

	return Snapshot{
		Owner:    s.owner,
		Projects: cloneProjects(s.projects),
		Tasks:    cloneTasks(s.tasks),
		LoadedAt: s.loadedAt,
	}
}

// Projects はプロジェクトのコピーを返す。
func (s *Store) Projects() []model.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	return cloneProjects(s.projects)
}

// Tasks はタスクのコピーを返す。
func (s *Store) Tasks() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	return cloneTasks(s.tasks)
}

// Reload はリモートから全件を再取得して置き換える。失敗時は現在の内容を保持する。
func (s *Store) Reload(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return err
	}

	loaded, err := LoadAll(ctx, s.data, accessToken, s.owner.UserID)
	if err != nil {
		s.record("reload", err)
		return err
	}

	s.owner = loaded.Owner
	s.projects = loaded.Projects
	s.tasks = loaded.Tasks
	s.loadedAt = s.now()
	s.record("reload", nil)
	return nil
}

// CreateProject はプロジェクトを作成し、末尾に追加する。
func (s *Store) CreateProject(ctx context.Context, accessToken, name string) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return model.Project{}, err
	}

	name, err := s.projectName(name)
	if err != nil {
		s.record("create_project", err)
		return model.Project{}, err
	}

	created, err := s.data.InsertProject(ctx, accessToken, s.owner.UserID, name)
	if err != nil {
		s.record("create_project", err)
		return model.Project{}, fmt.Errorf("failed to create project: %w", err)
	}

	s.projects = append(s.projects, *created)
	s.record("create_project", nil)
	return *created, nil
}

// RenameProject はプロジェクト名を変更する。
func (s *Store) RenameProject(ctx context.Context, accessToken, id, name string) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return model.Project{}, err
	}

	name, err := s.projectName(name)
	if err != nil {
		s.record("rename_project", err)
		return model.Project{}, err
	}
	idx := s.projectIndex(id)
	if idx < 0 {
		s.record("rename_project", ErrProjectNotFound)
		return model.Project{}, ErrProjectNotFound
	}

	updated, err := s.data.UpdateProject(ctx, accessToken, id, s.owner.UserID, backend.ProjectPatch{Name: &name})
	if err != nil {
		s.record("rename_project", err)
		return model.Project{}, fmt.Errorf("failed to rename project: %w", err)
	}

	s.projects[idx] = *updated
	s.record("rename_project", nil)
	return *updated, nil
}

// ToggleProjectOpen はプロジェクトの展開状態を反転する。
func (s *Store) ToggleProjectOpen(ctx context.Context, accessToken, id string) (model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return model.Project{}, err
	}

	idx := s.projectIndex(id)
	if idx < 0 {
		s.record("toggle_project", ErrProjectNotFound)
		return model.Project{}, ErrProjectNotFound
	}

	open := !s.projects[idx].IsOpen
	updated, err := s.data.UpdateProject(ctx, accessToken, id, s.owner.UserID, backend.ProjectPatch{IsOpen: &open})
	if err != nil {
		s.record("toggle_project", err)
		return model.Project{}, fmt.Errorf("failed to toggle project: %w", err)
	}

	s.projects[idx] = *updated
	s.record("toggle_project", nil)
	return *updated, nil
}

// DeleteProject はプロジェクトを削除する。
// 参照しているタスクは削除せず、ユーザー単位のビューからのみ参照できるようになる。
func (s *Store) DeleteProject(ctx context.Context, accessToken, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return err
	}

	idx := s.projectIndex(id)
	if idx < 0 {
		s.record("delete_project", ErrProjectNotFound)
		return ErrProjectNotFound
	}

	if err := s.data.DeleteProject(ctx, accessToken, id, s.owner.UserID); err != nil {
		s.record("delete_project", err)
		return fmt.Errorf("failed to delete project: %w", err)
	}

	s.projects = append(s.projects[:idx], s.projects[idx+1:]...)
	s.record("delete_project", nil)
	return nil
}

// CreateTask はタスクを作成し、先頭に追加する。
func (s *Store) CreateTask(ctx context.Context, accessToken string, in TaskInput) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return model.Task{}, err
	}

	newTask, err := s.taskInput(in)
	if err != nil {
		s.record("create_task", err)
		return model.Task{}, err
	}

	created, err := s.data.InsertTask(ctx, accessToken, newTask)
	if err != nil {
		s.record("create_task", err)
		return model.Task{}, fmt.Errorf("failed to create task: %w", err)
	}

	s.tasks = append([]model.Task{*created}, s.tasks...)
	s.record("create_task", nil)
	return cloneTask(*created), nil
}

// EditTask はタスク名と優先度を変更する。
func (s *Store) EditTask(ctx context.Context, accessToken, id string, edit TaskEdit) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return model.Task{}, err
	}

	var patch backend.TaskPatch
	if edit.Name != nil {
		name := s.sanitizer.Sanitize(*edit.Name)
		if name == "" {
			s.record("edit_task", ErrInvalidTaskName)
			return model.Task{}, ErrInvalidTaskName
		}
		patch.Name = &name
	}
	if edit.Priority != nil {
		p := model.Priority(*edit.Priority)
		if !p.Valid() {
			s.record("edit_task", ErrInvalidPriority)
			return model.Task{}, ErrInvalidPriority
		}
		patch.Priority = &p
	}

	idx := s.taskIndex(id)
	if idx < 0 {
		s.record("edit_task", ErrTaskNotFound)
		return model.Task{}, ErrTaskNotFound
	}
	if patch.Name == nil && patch.Priority == nil {
		return cloneTask(s.tasks[idx]), nil
	}

	updated, err := s.data.UpdateTask(ctx, accessToken, id, s.owner.UserID, patch)
	if err != nil {
		s.record("edit_task", err)
		return model.Task{}, fmt.Errorf("failed to edit task: %w", err)
	}

	s.tasks[idx] = *updated
	s.record("edit_task", nil)
	return cloneTask(*updated), nil
}

// ToggleTaskCompleted はタスクの完了状態を反転する。
func (s *Store) ToggleTaskCompleted(ctx context.Context, accessToken, id string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return model.Task{}, err
	}

	idx := s.taskIndex(id)
	if idx < 0 {
		s.record("toggle_task", ErrTaskNotFound)
		return model.Task{}, ErrTaskNotFound
	}

	completed := !s.tasks[idx].Completed
	updated, err := s.data.UpdateTask(ctx, accessToken, id, s.owner.UserID, backend.TaskPatch{Completed: &completed})
	if err != nil {
		s.record("toggle_task", err)
		return model.Task{}, fmt.Errorf("failed to toggle task: %w", err)
	}

	s.tasks[idx] = *updated
	s.record("toggle_task", nil)
	return cloneTask(*updated), nil
}

// DeleteTask はタスクを削除する。
func (s *Store) DeleteTask(ctx context.Context, accessToken, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return err
	}

	idx := s.taskIndex(id)
	if idx < 0 {
		s.record("delete_task", ErrTaskNotFound)
		return ErrTaskNotFound
	}

	if err := s.data.DeleteTask(ctx, accessToken, id, s.owner.UserID); err != nil {
		s.record("delete_task", err)
		return fmt.Errorf("failed to delete task: %w", err)
	}

	s.tasks = append(s.tasks[:idx], s.tasks[idx+1:]...)
	s.record("delete_task", nil)
	return nil
}

// close はストアを破棄済みにする。以降のコマンドはErrClosedを返す。
func (s *Store) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// idleSince は最終利用時刻を返す。
func (s *Store) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// begin はコマンド開始時の共通処理。ロックを保持した状態で呼び出す。
func (s *Store) begin() error {
	if s.closed {
		return ErrClosed
	}
	s.lastUsed = s.now()
	return nil
}

func (s *Store) projectName(raw string) (string, error) {
	name := s.sanitizer.Sanitize(raw)
	if utf8.RuneCountInString(name) < MinProjectNameLength {
		return "", ErrInvalidProjectName
	}
	return name, nil
}

// taskInput は入力を検証し、リモートに渡すNewTaskを組み立てる。
func (s *Store) taskInput(in TaskInput) (backend.NewTask, error) {
	name := s.sanitizer.Sanitize(in.Name)
	if name == "" {
		return backend.NewTask{}, ErrInvalidTaskName
	}

	priority := model.PriorityMedium
	if in.Priority != "" {
		priority = model.Priority(in.Priority)
		if !priority.Valid() {
			return backend.NewTask{}, ErrInvalidPriority
		}
	}

	var projectID *string
	if in.ProjectID != nil && *in.ProjectID != "" {
		parsed, err := uuid.Parse(*in.ProjectID)
		if err != nil {
			return backend.NewTask{}, ErrInvalidProjectID
		}
		id := parsed.String()
		if s.projectIndex(id) < 0 {
			return backend.NewTask{}, ErrProjectNotFound
		}
		projectID = &id
	}

	return backend.NewTask{
		Name:           name,
		Priority:       priority,
		DueDate:        in.DueDate,
		ProjectID:      projectID,
		UserID:         s.owner.UserID,
		OwnerFirstName: s.owner.FirstName,
		OwnerLastName:  s.owner.LastName,
	}, nil
}

func (s *Store) projectIndex(id string) int {
	for i := range s.projects {
		if s.projects[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) taskIndex(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// record はコマンドの結果をメトリクスに記録する。
func (s *Store) record(command string, err error) {
	s.metrics.RecordStoreMutation(command, outcomeOf(err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ErrTaskNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidProjectName), errors.Is(err, ErrInvalidTaskName),
		errors.Is(err, ErrInvalidPriority), errors.Is(err, ErrInvalidProjectID):
		return "invalid"
	default:
		return "backend_error"
	}
}

func cloneProjects(in []model.Project) []model.Project {
	out := make([]model.Project, len(in))
	copy(out, in)
	return out
}

func cloneTasks(in []model.Task) []model.Task {
	out := make([]model.Task, len(in))
	for i := range in {
		out[i] = cloneTask(in[i])
	}
	return out
}

func cloneTask(t model.Task) model.Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	if t.ProjectID != nil {
		p := *t.ProjectID
		t.ProjectID = &p
	}
	return t
}

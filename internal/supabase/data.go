package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/model"
)

const preferRepresentation = "return=representation"

// profileRow はusersテーブルの行。
type profileRow struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *profileRow) toModel() *model.User {
	return &model.User{
		ID:        r.ID,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		CreatedAt: r.CreatedAt,
	}
}

// projectRow はprojectsテーブルの行。
type projectRow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"user_id"`
	IsOpen    bool      `json:"is_open"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *projectRow) toModel() model.Project {
	return model.Project{
		ID:        r.ID,
		Name:      r.Name,
		UserID:    r.UserID,
		IsOpen:    r.IsOpen,
		CreatedAt: r.CreatedAt,
	}
}

// taskRow はtasksテーブルの行。
type taskRow struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Priority      string    `json:"priority"`
	Completed     bool      `json:"completed"`
	DueDate       *flexTime `json:"due_date"`
	ProjectID     *string   `json:"project_id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	UserFirstName *string   `json:"user_first_name"`
	UserLastName  *string   `json:"user_last_name"`
}

func (r *taskRow) toModel() model.Task {
	t := model.Task{
		ID:        r.ID,
		Name:      r.Name,
		Priority:  model.Priority(r.Priority),
		Completed: r.Completed,
		ProjectID: r.ProjectID,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt,
	}
	if !t.Priority.Valid() {
		t.Priority = model.PriorityMedium
	}
	if r.DueDate != nil && !r.DueDate.IsZero() {
		due := r.DueDate.Time
		t.DueDate = &due
	}
	if r.UserFirstName != nil {
		t.OwnerFirstName = *r.UserFirstName
	}
	if r.UserLastName != nil {
		t.OwnerLastName = *r.UserLastName
	}
	return t
}

// flexTime はtimestamptz列とdate列の両方を受け付ける時刻型。
type flexTime struct {
	time.Time
}

var flexLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02",
}

// UnmarshalJSON はnullと複数の時刻形式を受け付ける。
func (t *flexTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range flexLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported time format: %q", s)
}

// ownerFilter はidとuser_idの両方で行を絞り込むクエリを組み立てる。
func ownerFilter(id, userID string) url.Values {
	return url.Values{
		"id":      {"eq." + id},
		"user_id": {"eq." + userID},
	}
}

// GetProfile はユーザーのプロフィール行を取得する。行が無い場合はKindNotFound。
func (c *Client) GetProfile(ctx context.Context, accessToken, userID string) (*model.User, error) {
	const op = "data.get_profile"

	var rows []profileRow
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   restPath + "/users",
		query:  url.Values{"select": {"*"}, "id": {"eq." + userID}},
		token:  accessToken,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.Error{Kind: backend.KindNotFound, Op: op, Status: http.StatusOK}
	}
	return rows[0].toModel(), nil
}

// InsertProfile は呼び出し元の権限でプロフィール行を作成する。
func (c *Client) InsertProfile(ctx context.Context, accessToken string, user *model.User) error {
	return c.insertProfile(ctx, "data.insert_profile", accessToken, user)
}

func (c *Client) insertProfile(ctx context.Context, op, token string, user *model.User) error {
	body := map[string]string{
		"id":         user.ID,
		"email":      user.Email,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
	}
	return c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   restPath + "/users",
		token:  token,
		body:   body,
		prefer: "return=minimal",
	}, nil)
}

// ListProjects はユーザーのプロジェクトを作成日時の昇順で取得する。
func (c *Client) ListProjects(ctx context.Context, accessToken, userID string) ([]model.Project, error) {
	var rows []projectRow
	err := c.do(ctx, request{
		op:     "data.list_projects",
		method: http.MethodGet,
		path:   restPath + "/projects",
		query: url.Values{
			"select":  {"*"},
			"user_id": {"eq." + userID},
			"order":   {"created_at.asc"},
		},
		token: accessToken,
	}, &rows)
	if err != nil {
		return nil, err
	}

	projects := make([]model.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, rows[i].toModel())
	}
	return projects, nil
}

// InsertProject はプロジェクトを作成する。新規プロジェクトは展開状態で作成する。
func (c *Client) InsertProject(ctx context.Context, accessToken, userID, name string) (*model.Project, error) {
	const op = "data.insert_project"

	var rows []projectRow
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   restPath + "/projects",
		token:  accessToken,
		body:   map[string]any{"name": name, "user_id": userID, "is_open": true},
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.Error{Kind: backend.KindUnknown, Op: op, Status: http.StatusCreated, Err: errEmptyRepresentation}
	}
	p := rows[0].toModel()
	return &p, nil
}

// UpdateProject はプロジェクトを部分更新する。
func (c *Client) UpdateProject(ctx context.Context, accessToken, id, userID string, patch backend.ProjectPatch) (*model.Project, error) {
	const op = "data.update_project"

	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.IsOpen != nil {
		body["is_open"] = *patch.IsOpen
	}

	var rows []projectRow
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPatch,
		path:   restPath + "/projects",
		query:  ownerFilter(id, userID),
		token:  accessToken,
		body:   body,
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.Error{Kind: backend.KindNotFound, Op: op, Status: http.StatusOK}
	}
	p := rows[0].toModel()
	return &p, nil
}

// DeleteProject はプロジェクトを削除する。参照しているタスクは削除しない。
func (c *Client) DeleteProject(ctx context.Context, accessToken, id, userID string) error {
	return c.deleteOwned(ctx, "data.delete_project", "/projects", accessToken, id, userID)
}

// ListTasks はユーザーのタスクを作成日時の降順で取得する。
func (c *Client) ListTasks(ctx context.Context, accessToken, userID string) ([]model.Task, error) {
	var rows []taskRow
	err := c.do(ctx, request{
		op:     "data.list_tasks",
		method: http.MethodGet,
		path:   restPath + "/tasks",
		query: url.Values{
			"select":  {"*"},
			"user_id": {"eq." + userID},
			"order":   {"created_at.desc"},
		},
		token: accessToken,
	}, &rows)
	if err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, rows[i].toModel())
	}
	return tasks, nil
}

// InsertTask はタスクを作成する。所有者名は表示用に行へ非正規化して保存する。
func (c *Client) InsertTask(ctx context.Context, accessToken string, task backend.NewTask) (*model.Task, error) {
	const op = "data.insert_task"

	body := map[string]any{
		"name":       task.Name,
		"priority":   string(task.Priority),
		"completed":  false,
		"user_id":    task.UserID,
		"project_id": task.ProjectID,
		"due_date":   nil,
	}
	if task.DueDate != nil {
		body["due_date"] = task.DueDate.UTC().Format(time.RFC3339)
	}
	if task.OwnerFirstName != "" {
		body["user_first_name"] = task.OwnerFirstName
	}
	if task.OwnerLastName != "" {
		body["user_last_name"] = task.OwnerLastName
	}

	var rows []taskRow
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   restPath + "/tasks",
		token:  accessToken,
		body:   body,
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.Error{Kind: backend.KindUnknown, Op: op, Status: http.StatusCreated, Err: errEmptyRepresentation}
	}
	t := rows[0].toModel()
	return &t, nil
}

// UpdateTask はタスクを部分更新する。
func (c *Client) UpdateTask(ctx context.Context, accessToken, id, userID string, patch backend.TaskPatch) (*model.Task, error) {
	const op = "data.update_task"

	body := map[string]any{}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Priority != nil {
		body["priority"] = string(*patch.Priority)
	}
	if patch.Completed != nil {
		body["completed"] = *patch.Completed
	}

	var rows []taskRow
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPatch,
		path:   restPath + "/tasks",
		query:  ownerFilter(id, userID),
		token:  accessToken,
		body:   body,
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &backend.Error{Kind: backend.KindNotFound, Op: op, Status: http.StatusOK}
	}
	t := rows[0].toModel()
	return &t, nil
}

// DeleteTask はタスクを削除する。
func (c *Client) DeleteTask(ctx context.Context, accessToken, id, userID string) error {
	return c.deleteOwned(ctx, "data.delete_task", "/tasks", accessToken, id, userID)
}

// deleteOwned はidとuser_idで絞り込んだ削除を行い、削除行が無い場合はKindNotFoundを返す。
func (c *Client) deleteOwned(ctx context.Context, op, table, accessToken, id, userID string) error {
	var rows []json.RawMessage
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodDelete,
		path:   restPath + table,
		query:  ownerFilter(id, userID),
		token:  accessToken,
		prefer: preferRepresentation,
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &backend.Error{Kind: backend.KindNotFound, Op: op, Status: http.StatusOK}
	}
	return nil
}

var errEmptyRepresentation = fmt.Errorf("backend returned no representation")

var _ backend.Data = (*Client)(nil)

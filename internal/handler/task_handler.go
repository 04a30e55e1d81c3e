package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Djangliori/task-new-app/internal/middleware"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/store"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// taskResponse はタスクのAPIレスポンス。
type taskResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Priority       string     `json:"priority"`
	Completed      bool       `json:"completed"`
	DueDate        *time.Time `json:"due_date"`
	ProjectID      *string    `json:"project_id"`
	CreatedAt      time.Time  `json:"created_at"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	OwnerFirstName string     `json:"owner_first_name"`
	OwnerLastName  string     `json:"owner_last_name"`
}

// taskListResponse はタスク一覧のAPIレスポンス。
type taskListResponse struct {
	View  string         `json:"view"`
	Tasks []taskResponse `json:"tasks"`
}

// calendarDayResponse はカレンダーの1日分のAPIレスポンス。
type calendarDayResponse struct {
	Date         string   `json:"date"`
	Total        int      `json:"total"`
	Completed    int      `json:"completed"`
	HighPriority int      `json:"high_priority"`
	TaskIDs      []string `json:"task_ids"`
}

// calendarResponse は月間カレンダーのAPIレスポンス。
type calendarResponse struct {
	Month    string                `json:"month"`
	Timezone string                `json:"timezone"`
	Days     []calendarDayResponse `json:"days"`
}

// createTaskRequest はタスク作成のリクエストボディ。
// due_dateはRFC3339またはYYYY-MM-DD形式。
type createTaskRequest struct {
	Name      string  `json:"name"`
	Priority  string  `json:"priority"`
	DueDate   string  `json:"due_date"`
	ProjectID *string `json:"project_id"`
}

// editTaskRequest はタスク編集のリクエストボディ。
type editTaskRequest struct {
	Name     *string `json:"name"`
	Priority *string `json:"priority"`
}

func toTaskResponse(t model.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		Name:           t.Name,
		Priority:       string(t.Priority),
		Completed:      t.Completed,
		DueDate:        t.DueDate,
		ProjectID:      t.ProjectID,
		CreatedAt:      t.CreatedAt,
		ScheduledAt:    t.ScheduledAt(),
		OwnerFirstName: t.OwnerFirstName,
		OwnerLastName:  t.OwnerLastName,
	}
}

func toTaskResponses(tasks []model.Task) []taskResponse {
	results := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		results[i] = toTaskResponse(t)
	}
	return results
}

// TaskHandlerConfig はタスクハンドラーの設定。
type TaskHandlerConfig struct {
	// Location はtzパラメータがない場合に日付判定に使うタイムゾーン。
	Location *time.Location
	// Now は現在時刻を返す。nilの場合はtime.Nowを使う。
	Now func() time.Time
}

// TaskHandler はタスクのエンドポイントを処理する。
type TaskHandler struct {
	access   storeAccess
	location *time.Location
	now      func() time.Time
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(stores StoreProvider, config TaskHandlerConfig) *TaskHandler {
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &TaskHandler{
		access:   storeAccess{stores: stores},
		location: loc,
		now:      now,
	}
}

// ListTasks は指定ビューのタスク一覧を返す。
// GET /api/tasks?view=all|today|upcoming|completed|unfiled|project|search
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	view, ok := store.ParseView(query.Get("view"))
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidViewError(query.Get("view")))
		return
	}
	loc, ok := h.requestLocation(w, r)
	if !ok {
		return
	}

	projectID := query.Get("project_id")
	if view == store.ViewProject {
		if _, err := uuid.Parse(projectID); err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidIDError("project_id"))
			return
		}
	}

	s, _, ok := h.access.open(w, r)
	if !ok {
		return
	}

	tasks := s.Tasks()
	switch view {
	case store.ViewToday:
		tasks = store.Today(tasks, h.now(), loc)
	case store.ViewUpcoming:
		tasks = store.Upcoming(tasks, h.now(), loc)
	case store.ViewCompleted:
		tasks = store.Completed(tasks)
	case store.ViewUnfiled:
		tasks = store.Unfiled(tasks)
	case store.ViewProject:
		tasks = store.ByProject(tasks, projectID)
	case store.ViewSearch:
		tasks = store.Search(tasks, query.Get("q"))
	}

	writeJSON(w, http.StatusOK, taskListResponse{
		View:  string(view),
		Tasks: toTaskResponses(tasks),
	})
}

// Calendar は月間の日ごとの集計を返す。monthを省略すると当月。
// GET /api/tasks/calendar?month=YYYY-MM
func (h *TaskHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.requestLocation(w, r)
	if !ok {
		return
	}

	month := r.URL.Query().Get("month")
	var first time.Time
	if month == "" {
		y, m, _ := h.now().In(loc).Date()
		first = time.Date(y, m, 1, 0, 0, 0, 0, loc)
	} else {
		parsed, err := time.ParseInLocation(monthLayout, month, loc)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidMonthError(month))
			return
		}
		first = parsed
	}

	s, _, ok := h.access.open(w, r)
	if !ok {
		return
	}

	days := store.Calendar(s.Tasks(), first.Year(), first.Month(), loc)
	resp := calendarResponse{
		Month:    first.Format(monthLayout),
		Timezone: loc.String(),
		Days:     make([]calendarDayResponse, len(days)),
	}
	for i, d := range days {
		resp.Days[i] = calendarDayResponse{
			Date:         d.Date,
			Total:        d.Total,
			Completed:    d.Completed,
			HighPriority: d.HighPriority,
			TaskIDs:      d.TaskIDs,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTask はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loc, ok := h.requestLocation(w, r)
	if !ok {
		return
	}

	due, err := parseDueDate(req.DueDate, loc)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDueDateError(req.DueDate))
		return
	}

	in := store.TaskInput{
		Name:      req.Name,
		Priority:  req.Priority,
		DueDate:   due,
		ProjectID: req.ProjectID,
	}
	ec := storeErrorContext{resource: "task", priority: req.Priority}
	if req.ProjectID != nil {
		ec.projectID = *req.ProjectID
	}

	h.taskCommand(w, r, http.StatusCreated, ec,
		func(ctx context.Context, s DomainStore, token string) (model.Task, error) {
			return s.CreateTask(ctx, token, in)
		})
}

// EditTask はタスクの名前と優先度を変更する。
// PATCH /api/tasks/{id}
func (h *TaskHandler) EditTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req editTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ec := storeErrorContext{resource: "task", id: id}
	if req.Priority != nil {
		ec.priority = *req.Priority
	}

	h.taskCommand(w, r, http.StatusOK, ec,
		func(ctx context.Context, s DomainStore, token string) (model.Task, error) {
			return s.EditTask(ctx, token, id, store.TaskEdit{Name: req.Name, Priority: req.Priority})
		})
}

// ToggleTask は完了状態を反転する。
// POST /api/tasks/{id}/toggle
func (h *TaskHandler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	h.taskCommand(w, r, http.StatusOK, storeErrorContext{resource: "task", id: id},
		func(ctx context.Context, s DomainStore, token string) (model.Task, error) {
			return s.ToggleTaskCompleted(ctx, token, id)
		})
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/{id}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, token, ok := h.access.open(w, r)
	if !ok {
		return
	}

	if err := s.DeleteTask(r.Context(), token, id); err != nil {
		writeStoreError(w, err, storeErrorContext{resource: "task", id: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) taskCommand(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	ec storeErrorContext,
	run func(ctx context.Context, s DomainStore, token string) (model.Task, error),
) {
	s, token, ok := h.access.open(w, r)
	if !ok {
		return
	}

	t, err := run(r.Context(), s, token)
	if err != nil {
		writeStoreError(w, err, ec)
		return
	}
	writeJSON(w, status, toTaskResponse(t))
}

// requestLocation はtzクエリパラメータのタイムゾーンを返す。省略時は既定のタイムゾーン。
func (h *TaskHandler) requestLocation(w http.ResponseWriter, r *http.Request) (*time.Location, bool) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		return h.location, true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTimezoneError(tz))
		return nil, false
	}
	return loc, true
}

// parseDueDate は期限をパースする。空文字列は期限なし。
// 日付のみの場合はlocの0時として扱う。
func parseDueDate(value string, loc *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

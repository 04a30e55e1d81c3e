// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, link, task, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidID          = "INVALID_ID"
	ErrCodeInvalidProjectName = "INVALID_PROJECT_NAME"
	ErrCodeInvalidTaskName    = "INVALID_TASK_NAME"
	ErrCodeInvalidPriority    = "INVALID_PRIORITY"
	ErrCodeInvalidDueDate     = "INVALID_DUE_DATE"
	ErrCodeInvalidView        = "INVALID_VIEW"
	ErrCodeInvalidTimezone    = "INVALID_TIMEZONE"
	ErrCodeInvalidMonth       = "INVALID_MONTH"
	ErrCodeProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrCodeTaskNotFound       = "TASK_NOT_FOUND"
	ErrCodeBackendFailed      = "BACKEND_FAILED"
	ErrCodeStateLoadFailed    = "STATE_LOAD_FAILED"
	ErrCodeCSRFInvalid        = "CSRF_INVALID"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInvalidPreference  = "INVALID_PREFERENCE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication is required.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "The request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON body.",
	}
}

// NewInvalidIDError は不正なID形式のエラーを生成する。
func NewInvalidIDError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidID,
		Message:  fmt.Sprintf("Invalid identifier: %s", field),
		Category: "validation",
		Action:   "Use the identifier returned by the API.",
	}
}

// NewInvalidProjectNameError はプロジェクト名が不正な場合のエラーを生成する。
func NewInvalidProjectNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProjectName,
		Message:  "Project name must be at least 2 characters long.",
		Category: "validation",
		Action:   "Enter a longer project name.",
	}
}

// NewInvalidTaskNameError はタスク名が空の場合のエラーを生成する。
func NewInvalidTaskNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTaskName,
		Message:  "Task name must not be empty.",
		Category: "validation",
		Action:   "Enter a task name.",
	}
}

// NewInvalidPriorityError は優先度が不正な場合のエラーを生成する。
func NewInvalidPriorityError(priority string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPriority,
		Message:  fmt.Sprintf("Invalid priority: %s", priority),
		Category: "validation",
		Action:   "Priority must be one of high, medium or low.",
	}
}

// NewInvalidDueDateError は期限の形式が不正な場合のエラーを生成する。
func NewInvalidDueDateError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDueDate,
		Message:  fmt.Sprintf("Invalid due date: %s", value),
		Category: "validation",
		Action:   "Use RFC 3339 (2006-01-02T15:04:05Z07:00) or a plain date (2006-01-02).",
	}
}

// NewInvalidViewError は未知のビュー指定エラーを生成する。
func NewInvalidViewError(view string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidView,
		Message:  fmt.Sprintf("Invalid view: %s", view),
		Category: "validation",
		Action:   "View must be one of all, today, upcoming, completed, unfiled, project or search.",
	}
}

// NewInvalidTimezoneError はタイムゾーン指定が不正な場合のエラーを生成する。
func NewInvalidTimezoneError(tz string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimezone,
		Message:  fmt.Sprintf("Unknown time zone: %s", tz),
		Category: "validation",
		Action:   "Use an IANA time zone name such as Asia/Tbilisi.",
	}
}

// NewInvalidMonthError は月指定が不正な場合のエラーを生成する。
func NewInvalidMonthError(month string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMonth,
		Message:  fmt.Sprintf("Invalid month: %s", month),
		Category: "validation",
		Action:   "Use the YYYY-MM format.",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("Project not found: %s", projectID),
		Category: "task",
		Action:   "Reload your projects and try again.",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("Task not found: %s", taskID),
		Category: "task",
		Action:   "Reload your tasks and try again.",
	}
}

// NewBackendFailedError はリモート保存に失敗した場合のエラーを生成する。
// ローカル状態は変更されていないことを示す。
func NewBackendFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendFailed,
		Message:  "The change could not be saved. Nothing was modified.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewStateLoadFailedError はプロジェクト・タスクの読み込み失敗エラーを生成する。
func NewStateLoadFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStateLoadFailed,
		Message:  "Your projects and tasks could not be loaded.",
		Category: "system",
		Action:   "Reload the page to try again.",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRF token validation failed.",
		Category: "auth",
		Action:   "Fetch /api/csrf-token and send it in the X-CSRF-Token header.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInvalidPreferenceError は設定値が不正な場合のエラーを生成する。
func NewInvalidPreferenceError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPreference,
		Message:  fmt.Sprintf("Invalid preference: %s", detail),
		Category: "validation",
		Action:   "Language must be ka or en and the navigation item must exist.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

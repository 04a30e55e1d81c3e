// Package model はドメインモデルを定義する。
package model

import "time"

// Priority はタスクの優先度を表す。
type Priority string

const (
	// PriorityHigh は高優先度。
	PriorityHigh Priority = "high"
	// PriorityMedium は中優先度。
	PriorityMedium Priority = "medium"
	// PriorityLow は低優先度。
	PriorityLow Priority = "low"
)

// Valid は定義済みの優先度かどうかを判定する。
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Project はタスクをまとめる名前付きのグループを表す。
type Project struct {
	ID        string
	Name      string
	UserID    string
	IsOpen    bool // サイドバーでの展開状態
	CreatedAt time.Time
}

// Task は1件の作業単位を表す。
// ProjectIDがnilのタスクはプロジェクトに属さない一般タスクとして扱う。
type Task struct {
	ID        string
	Name      string
	Priority  Priority
	Completed bool
	DueDate   *time.Time
	ProjectID *string
	UserID    string
	CreatedAt time.Time

	// 表示用に非正規化された所有者名
	OwnerFirstName string
	OwnerLastName  string
}

// ScheduledAt はスケジューリングに使う日時を返す。
// 期限が未設定の場合は作成日時で代替する。
func (t *Task) ScheduledAt() time.Time {
	if t.DueDate != nil {
		return *t.DueDate
	}
	return t.CreatedAt
}

// InProject は指定プロジェクトに属するタスクかどうかを判定する。
func (t *Task) InProject(projectID string) bool {
	return t.ProjectID != nil && *t.ProjectID == projectID
}

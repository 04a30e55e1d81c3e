// Package repository はデータ永続化のインターフェースを定義する。
// プロジェクト・タスク・プロフィールはホスト型バックエンドが保持するため、
// ローカルDBに永続化するのはセッションのみである。
package repository

import (
	"context"
	"time"

	"github.com/Djangliori/task-new-app/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。見つからない場合や期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// UpdateTokens はトークンペアとアクセストークン有効期限を更新する。
	// 該当セッションが存在しない場合はErrSessionNotFoundを返す。
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, tokenExpiresAt time.Time) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired は有効期限を過ぎたセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

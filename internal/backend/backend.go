// Package backend はホスト型の認証・ストレージサービス（リモートバックエンド）との契約を定義する。
// 実装はinternal/supabaseが提供し、アプリケーション側はこのパッケージの型とエラー種別のみに依存する。
package backend

import (
	"context"
	"time"

	"github.com/Djangliori/task-new-app/internal/model"
)

// ProfileMetadata はサインアップ時に認証ユーザーへ付与するプロフィール情報。
type ProfileMetadata struct {
	FirstName string
	LastName  string
}

// AuthUser は認証サービス側のユーザー。
type AuthUser struct {
	ID             string
	Email          string
	Metadata       ProfileMetadata
	EmailConfirmed bool
	CreatedAt      time.Time
}

// AuthSession は認証サービスが発行したトークンペアとユーザー。
type AuthSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         AuthUser
}

// SignUpResult はサインアップの結果。
// メール確認が必要な設定ではSessionはnilになる。
type SignUpResult struct {
	User    AuthUser
	Session *AuthSession
}

// OTPType はワンタイム検証リンクの種別を表す。
type OTPType string

const (
	OTPSignup      OTPType = "signup"
	OTPEmail       OTPType = "email"
	OTPRecovery    OTPType = "recovery"
	OTPInvite      OTPType = "invite"
	OTPMagicLink   OTPType = "magiclink"
	OTPEmailChange OTPType = "email_change"
)

// Valid は既知の種別かどうかを判定する。
func (t OTPType) Valid() bool {
	switch t {
	case OTPSignup, OTPEmail, OTPRecovery, OTPInvite, OTPMagicLink, OTPEmailChange:
		return true
	default:
		return false
	}
}

// Auth はリモートバックエンドの認証API。
type Auth interface {
	// SignUp は新規ユーザーを登録する。redirectToは確認メールのリンク先。
	SignUp(ctx context.Context, email, password string, meta ProfileMetadata, redirectTo string) (*SignUpResult, error)
	// SignIn はメールアドレスとパスワードでサインインする。
	SignIn(ctx context.Context, email, password string) (*AuthSession, error)
	// GetUser はアクセストークンに紐づくユーザーを取得する。
	GetUser(ctx context.Context, accessToken string) (*AuthUser, error)
	// Refresh はリフレッシュトークンで新しいトークンペアを取得する。
	Refresh(ctx context.Context, refreshToken string) (*AuthSession, error)
	// SetSession はメールのリンクから受け取ったトークンペアでセッションを確立する。
	// アクセストークンが無効な場合はリフレッシュトークンで再発行する。
	SetSession(ctx context.Context, accessToken, refreshToken string) (*AuthSession, error)
	// VerifyOTP はtoken_hashとtypeの組でワンタイム検証を行う。
	VerifyOTP(ctx context.Context, tokenHash string, otpType OTPType) (*AuthSession, error)
	// ResetPasswordForEmail はパスワード再設定メールを送信する。
	ResetPasswordForEmail(ctx context.Context, email, returnURL string) error
	// UpdatePassword はセッションのユーザーのパスワードを変更する。
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	// SignOut はリモート側のセッションを無効化する。
	SignOut(ctx context.Context, accessToken string) error
}

// ProjectPatch はプロジェクトの部分更新内容。nilのフィールドは変更しない。
type ProjectPatch struct {
	Name   *string
	IsOpen *bool
}

// TaskPatch はタスクの部分更新内容。nilのフィールドは変更しない。
type TaskPatch struct {
	Name      *string
	Priority  *model.Priority
	Completed *bool
}

// NewTask はタスク作成時の入力。
type NewTask struct {
	Name           string
	Priority       model.Priority
	DueDate        *time.Time
	ProjectID      *string
	UserID         string
	OwnerFirstName string
	OwnerLastName  string
}

// Data はリモートバックエンドのテーブルAPI。
// 呼び出し元のアクセストークンで実行されるため、行単位のアクセス制御が適用される。
// 更新と削除はidとuser_idの両方で絞り込み、一致する行がない場合はKindNotFoundを返す。
type Data interface {
	GetProfile(ctx context.Context, accessToken, userID string) (*model.User, error)
	InsertProfile(ctx context.Context, accessToken string, user *model.User) error

	ListProjects(ctx context.Context, accessToken, userID string) ([]model.Project, error)
	InsertProject(ctx context.Context, accessToken, userID, name string) (*model.Project, error)
	UpdateProject(ctx context.Context, accessToken, id, userID string, patch ProjectPatch) (*model.Project, error)
	DeleteProject(ctx context.Context, accessToken, id, userID string) error

	ListTasks(ctx context.Context, accessToken, userID string) ([]model.Task, error)
	InsertTask(ctx context.Context, accessToken string, task NewTask) (*model.Task, error)
	UpdateTask(ctx context.Context, accessToken, id, userID string, patch TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, accessToken, id, userID string) error
}

// ProfileCreator は特権でusersテーブルへプロフィール行を作成する。
// 新規ユーザー自身の権限ではまだ行を作成できないため、サービスロールで実行する。
type ProfileCreator interface {
	CreateProfile(ctx context.Context, user *model.User) error
}

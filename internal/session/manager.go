// Package session はBFFのログインセッションのライフサイクルを管理する。
// ブラウザにはセッションIDのみを渡し、リモートバックエンドのトークンペアは
// sessionsテーブルに保持する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/metrics"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/repository"
	"github.com/Djangliori/task-new-app/internal/security"
)

const (
	// DefaultRefreshWindow はアクセストークンを先行して更新する残り時間。
	DefaultRefreshWindow = 60 * time.Second

	// refreshTimeout はトークンの再発行と永続化にかける時間の上限。
	// 再発行後はリフレッシュトークンがローテーション済みになるため、呼び出し元のキャンセルでは中断しない。
	refreshTimeout = 15 * time.Second

	// LoginPath は未認証時のリダイレクト先。
	LoginPath = "/login"

	resetPasswordPath = "/reset-password"
	confirmEmailPath  = "/auth/confirm"
)

var (
	// ErrUnauthenticated はセッションが存在しない、期限切れ、またはリモート側で無効化されたことを示す。
	ErrUnauthenticated = errors.New("session not found or expired")

	// ErrInvalidInput は必須入力が欠けていることを示す。
	ErrInvalidInput = errors.New("invalid input")

	// ErrLinkRejected はメールのリンクから受け取った資格情報がリモートバックエンドに拒否されたことを示す。
	ErrLinkRejected = errors.New("link credentials rejected")

	// ErrOldPasswordIncorrect はパスワード再設定時の旧パスワード確認に失敗したことを示す。
	ErrOldPasswordIncorrect = errors.New("old password incorrect")
)

// StoreDropper はサインアウト時にセッション別のドメインストアを破棄する。
type StoreDropper interface {
	Drop(sessionID string)
	DropUser(userID string) int
}

// Config はセッション管理の設定。
type Config struct {
	BaseURL            string        // リダイレクトリンクの組み立てに使用する公開URL
	SessionMaxAge      time.Duration // ログイン保持ありのセッション有効期間
	SessionShortMaxAge time.Duration // ログイン保持なしのセッション有効期間
	RefreshWindow      time.Duration // アクセストークン先行更新の閾値
}

// LinkCredentials はパスワード再設定・メール確認リンクから取り出した資格情報。
// トークンペアまたはtoken_hashとtypeの組のどちらかを持つ。
type LinkCredentials struct {
	AccessToken  string
	RefreshToken string
	TokenHash    string
	Type         backend.OTPType
}

// HasTokenPair はトークンペアを持つかどうかを返す。
func (c LinkCredentials) HasTokenPair() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// HasTokenHash はtoken_hashとtypeの組を持つかどうかを返す。
func (c LinkCredentials) HasTokenHash() bool {
	return c.TokenHash != "" && c.Type != ""
}

// BootstrapResult はページ読み込み時のセッション確認結果。
type BootstrapResult struct {
	Authenticated bool
	Session       *model.Session
	User          *model.User
	Redirect      string
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// SignUpOutcome はサインアップの結果。
// ProfileCompleteがfalseの場合、認証ユーザーは作成されたがプロフィール行がない。
type SignUpOutcome struct {
	User            *model.User
	ProfileComplete bool
}

// Manager はセッションの確立・更新・破棄を行う。
type Manager struct {
	sessions  repository.SessionRepository
	auth      backend.Auth
	data      backend.Data
	profiles  backend.ProfileCreator
	sanitizer security.NameSanitizer
	metrics   metrics.MetricsCollector
	stores    StoreDropper
	config    Config
	refreshes singleflight.Group
	now       func() time.Time
}

// NewManager はManagerを生成する。storesがnilの場合はストア破棄を行わない。
func NewManager(
	sessions repository.SessionRepository,
	auth backend.Auth,
	data backend.Data,
	profiles backend.ProfileCreator,
	sanitizer security.NameSanitizer,
	collector metrics.MetricsCollector,
	stores StoreDropper,
	config Config,
) *Manager {
	if config.RefreshWindow <= 0 {
		config.RefreshWindow = DefaultRefreshWindow
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Manager{
		sessions:  sessions,
		auth:      auth,
		data:      data,
		profiles:  profiles,
		sanitizer: sanitizer,
		metrics:   collector,
		stores:    stores,
		config:    config,
		now:       time.Now,
	}
}

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Bootstrap はセッションIDから認証状態を確認する。
// エラーは返さず、失敗はすべて未認証としてログイン画面へのリダイレクトを指示する。
func (m *Manager) Bootstrap(ctx context.Context, sessionID string) BootstrapResult {
	unauthenticated := BootstrapResult{Redirect: LoginPath}
	if sessionID == "" {
		return unauthenticated
	}

	sess, err := m.Current(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			slog.Warn("session bootstrap failed", slog.String("error", err.Error()))
		}
		return unauthenticated
	}

	user, err := m.loadUser(ctx, sess.AccessToken, sess.UserID)
	if err != nil {
		slog.Warn("failed to load user on bootstrap",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		return unauthenticated
	}

	return BootstrapResult{Authenticated: true, Session: sess, User: user}
}

// Current は有効なセッションを返す。
// アクセストークンの期限が近い場合はリフレッシュし、新しいトークンペアを永続化する。
func (m *Manager) Current(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, ErrUnauthenticated
	}

	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, ErrUnauthenticated
	}

	if !sess.TokenExpiresWithin(m.now(), m.config.RefreshWindow) {
		return sess, nil
	}

	// 同一セッションへの同時リクエストでローテーション済みトークンを再利用しないよう1回にまとめる
	v, err, _ := m.refreshes.Do(sessionID, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx, sess)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Session), nil
}

// AccessToken はリモートバックエンド呼び出しに使用する有効なアクセストークンを返す。
func (m *Manager) AccessToken(ctx context.Context, sessionID string) (string, error) {
	sess, err := m.Current(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// refresh はトークンペアを再発行して永続化する。
func (m *Manager) refresh(ctx context.Context, sess *model.Session) (*model.Session, error) {
	issued, err := m.auth.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		if backend.IsKind(err, backend.KindInvalidToken) {
			// リモート側で失効済みのためローカルのセッションも破棄する
			if delErr := m.sessions.DeleteByID(ctx, sess.ID); delErr != nil {
				slog.Error("failed to delete revoked session",
					slog.String("user_id", sess.UserID),
					slog.String("error", delErr.Error()),
				)
			}
			m.dropStore(sess.ID)
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := m.sessions.UpdateTokens(ctx, sess.ID, issued.AccessToken, issued.RefreshToken, issued.ExpiresAt); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	refreshed := *sess
	refreshed.AccessToken = issued.AccessToken
	refreshed.RefreshToken = issued.RefreshToken
	refreshed.TokenExpiresAt = issued.ExpiresAt
	refreshed.UpdatedAt = m.now()

	slog.Debug("access token refreshed", slog.String("user_id", sess.UserID))
	return &refreshed, nil
}

// SignIn はメールアドレスとパスワードで認証し、新しいセッションを永続化する。
// リモートのエラーはbackend.Errorのまま返す。
func (m *Manager) SignIn(ctx context.Context, email, password string, rememberMe bool) (*model.Session, *model.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, ErrInvalidInput
	}

	// 1. リモートバックエンドで認証
	issued, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	// 2. セッションを発行
	sess, err := m.createSession(ctx, issued, rememberMe)
	if err != nil {
		return nil, nil, err
	}

	// 3. プロフィールを取得（失敗時は認証ユーザーの情報で代替）
	user, err := m.loadUser(ctx, issued.AccessToken, issued.User.ID)
	if err != nil {
		user = userFromAuth(&issued.User)
	}

	slog.Info("user signed in",
		slog.String("user_id", sess.UserID),
		slog.Bool("remember_me", rememberMe),
	)
	return sess, user, nil
}

// SignUp は新規ユーザーを登録し、プロフィール行を作成する。
// プロフィール作成は特権作成、サインアップで得たセッションでの直接挿入の順に試みる。
// どちらも失敗した場合も登録自体は成功として扱い、ProfileCompleteをfalseにする。
func (m *Manager) SignUp(ctx context.Context, in SignUpInput) (*SignUpOutcome, error) {
	firstName := m.sanitizer.Sanitize(in.FirstName)
	lastName := m.sanitizer.Sanitize(in.LastName)
	email := NormalizeEmail(in.Email)
	if firstName == "" || lastName == "" || email == "" || in.Password == "" {
		return nil, ErrInvalidInput
	}

	// 1. 認証ユーザーを作成
	res, err := m.auth.SignUp(ctx, email, in.Password,
		backend.ProfileMetadata{FirstName: firstName, LastName: lastName},
		m.config.BaseURL+confirmEmailPath,
	)
	if err != nil {
		return nil, err
	}

	createdAt := res.User.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.now()
	}
	user := &model.User{
		ID:        res.User.ID,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: createdAt,
	}

	// 2. プロフィール行を作成
	complete := m.createProfile(ctx, user, res.Session)

	// 3. 登録後はログイン画面へ遷移するため、発行された一時セッションは破棄する
	if res.Session != nil {
		m.signOutRemote(ctx, res.Session.AccessToken, user.ID)
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.Bool("profile_complete", complete),
	)
	return &SignUpOutcome{User: user, ProfileComplete: complete}, nil
}

// createProfile はプロフィール行を作成し、成功したかどうかを返す。
func (m *Manager) createProfile(ctx context.Context, user *model.User, issued *backend.AuthSession) bool {
	err := m.profiles.CreateProfile(ctx, user)
	if err == nil {
		return true
	}
	slog.Warn("privileged profile creation failed, falling back to direct insert",
		slog.String("user_id", user.ID),
		slog.String("error", err.Error()),
	)

	if issued != nil {
		fallbackErr := m.data.InsertProfile(ctx, issued.AccessToken, user)
		if fallbackErr == nil {
			return true
		}
		err = fallbackErr
	}

	slog.Error("profile creation failed, user has no profile row",
		slog.String("user_id", user.ID),
		slog.Bool("had_session", issued != nil),
		slog.String("error", err.Error()),
	)
	m.metrics.RecordProfileIncomplete()
	return false
}

// RequestPasswordReset はパスワード再設定メールを送信する。
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return ErrInvalidInput
	}
	if err := m.auth.ResetPasswordForEmail(ctx, email, m.config.BaseURL+resetPasswordPath); err != nil {
		return fmt.Errorf("failed to request password reset: %w", err)
	}
	return nil
}

// CompletePasswordReset はリンクの資格情報でセッションを確立し、
// 旧パスワードで再認証してからパスワードを変更する。
// 旧パスワードの確認失敗はErrOldPasswordIncorrect、リンクの拒否はErrLinkRejectedを返す。
// 変更に成功した場合、当該ユーザーの既存セッションはすべて破棄する。
func (m *Manager) CompletePasswordReset(ctx context.Context, creds LinkCredentials, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return ErrInvalidInput
	}

	// 1. リンクの資格情報でセッションを確立
	linkSession, err := m.establish(ctx, creds, backend.OTPRecovery)
	if err != nil {
		return err
	}
	defer m.signOutRemote(ctx, linkSession.AccessToken, linkSession.User.ID)

	// 2. 対象ユーザーのメールアドレスを取得
	email := linkSession.User.Email
	if email == "" {
		authUser, err := m.auth.GetUser(ctx, linkSession.AccessToken)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLinkRejected, err)
		}
		email = authUser.Email
	}

	// 3. 旧パスワードで再認証
	verified, err := m.auth.SignIn(ctx, NormalizeEmail(email), oldPassword)
	if err != nil {
		if backend.IsKind(err, backend.KindInvalidCredentials) {
			return ErrOldPasswordIncorrect
		}
		return fmt.Errorf("failed to verify old password: %w", err)
	}
	defer m.signOutRemote(ctx, verified.AccessToken, verified.User.ID)

	// 4. パスワードを変更
	if err := m.auth.UpdatePassword(ctx, linkSession.AccessToken, newPassword); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	// 5. 旧パスワードで発行済みのセッションを破棄
	userID := linkSession.User.ID
	if userID != "" {
		if err := m.sessions.DeleteByUserID(ctx, userID); err != nil {
			slog.Error("failed to revoke sessions after password reset",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		if m.stores != nil {
			m.stores.DropUser(userID)
		}
	}

	slog.Info("password reset completed", slog.String("user_id", userID))
	return nil
}

// ConfirmEmail は確認リンクの資格情報を検証する。
// 確立された一時セッションはBFFのセッションとして永続化しない。
func (m *Manager) ConfirmEmail(ctx context.Context, creds LinkCredentials) error {
	linkSession, err := m.establish(ctx, creds, backend.OTPSignup)
	if err != nil {
		return err
	}
	m.signOutRemote(ctx, linkSession.AccessToken, linkSession.User.ID)

	slog.Info("email confirmed", slog.String("user_id", linkSession.User.ID))
	return nil
}

// SignOut はリモートセッションを無効化し、セッション行とドメインストアを破棄する。
// リモートの無効化はベストエフォートで、失敗してもローカルの破棄は行う。
func (m *Manager) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to find session on sign out", slog.String("error", err.Error()))
	}
	if sess != nil {
		m.signOutRemote(ctx, sess.AccessToken, sess.UserID)
	}

	m.dropStore(sessionID)

	if err := m.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if sess != nil {
		slog.Info("user signed out", slog.String("user_id", sess.UserID))
	}
	return nil
}

// CookieMaxAge はセッションCookieのMax-Age（秒）を返す。
// ログイン保持なしの場合は0（ブラウザセッションCookie）を返す。
func (m *Manager) CookieMaxAge(sess *model.Session) int {
	if sess == nil || !sess.RememberMe {
		return 0
	}
	return int(m.config.SessionMaxAge / time.Second)
}

// establish はリンクの資格情報からリモートセッションを確立する。
// token_hashにtypeがない場合はdefaultTypeを使用する。
func (m *Manager) establish(ctx context.Context, creds LinkCredentials, defaultType backend.OTPType) (*backend.AuthSession, error) {
	var (
		linkSession *backend.AuthSession
		err         error
	)

	switch {
	case creds.HasTokenPair():
		linkSession, err = m.auth.SetSession(ctx, creds.AccessToken, creds.RefreshToken)
	case creds.TokenHash != "":
		otpType := creds.Type
		if otpType == "" {
			otpType = defaultType
		}
		linkSession, err = m.auth.VerifyOTP(ctx, creds.TokenHash, otpType)
	default:
		return nil, ErrInvalidInput
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLinkRejected, err)
	}
	return linkSession, nil
}

// createSession はリモートのトークンペアからセッションを作成し永続化する。
func (m *Manager) createSession(ctx context.Context, issued *backend.AuthSession, rememberMe bool) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	maxAge := m.config.SessionShortMaxAge
	if rememberMe {
		maxAge = m.config.SessionMaxAge
	}

	now := m.now()
	sess := &model.Session{
		ID:             sessionID,
		UserID:         issued.User.ID,
		AccessToken:    issued.AccessToken,
		RefreshToken:   issued.RefreshToken,
		TokenExpiresAt: issued.ExpiresAt,
		RememberMe:     rememberMe,
		ExpiresAt:      now.Add(maxAge),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

// loadUser はプロフィール行を取得する。
// 行が存在しない場合は認証ユーザーのメタデータから組み立てる。
func (m *Manager) loadUser(ctx context.Context, accessToken, userID string) (*model.User, error) {
	profile, err := m.data.GetProfile(ctx, accessToken, userID)
	if err == nil {
		return profile, nil
	}
	if !backend.IsKind(err, backend.KindNotFound) {
		slog.Warn("failed to load profile, using auth metadata",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	authUser, err := m.auth.GetUser(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth user: %w", err)
	}
	return userFromAuth(authUser), nil
}

// signOutRemote はリモートセッションをベストエフォートで無効化する。
func (m *Manager) signOutRemote(ctx context.Context, accessToken, userID string) {
	if accessToken == "" {
		return
	}
	if err := m.auth.SignOut(ctx, accessToken); err != nil {
		slog.Warn("remote sign out failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) dropStore(sessionID string) {
	if m.stores != nil {
		m.stores.Drop(sessionID)
	}
}

func userFromAuth(u *backend.AuthUser) *model.User {
	return &model.User{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.Metadata.FirstName,
		LastName:  u.Metadata.LastName,
		CreatedAt: u.CreatedAt,
	}
}

// generateSessionID は暗号的に安全なセッションID（64文字の16進数）を生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

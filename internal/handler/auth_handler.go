package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Djangliori/task-new-app/internal/authflow"
	"github.com/Djangliori/task-new-app/internal/i18n"
	"github.com/Djangliori/task-new-app/internal/middleware"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/prefs"
	"github.com/Djangliori/task-new-app/internal/session"
)

// AuthFlowServiceInterface は認証ハンドラーが必要とするフロー実行のインターフェース。
type AuthFlowServiceInterface interface {
	Login(ctx context.Context, lang i18n.Lang, clientKey string, req authflow.LoginRequest) authflow.Result
	Register(ctx context.Context, lang i18n.Lang, clientKey string, req authflow.RegisterRequest) authflow.Result
	ForgotPassword(ctx context.Context, lang i18n.Lang, clientKey string, req authflow.ForgotRequest) authflow.Result
	ResetPassword(ctx context.Context, lang i18n.Lang, clientKey string, req authflow.ResetRequest) authflow.Result
	ConfirmEmail(ctx context.Context, lang i18n.Lang, clientKey string, req authflow.ConfirmRequest) authflow.Result
	InspectReset(lang i18n.Lang, link string) authflow.Inspection
	InspectConfirm(lang i18n.Lang, link string) authflow.Inspection
}

// SessionServiceInterface は認証ハンドラーが必要とするセッション操作のインターフェース。
type SessionServiceInterface interface {
	Bootstrap(ctx context.Context, sessionID string) session.BootstrapResult
	SignOut(ctx context.Context, sessionID string) error
	CookieMaxAge(sess *model.Session) int
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie          middleware.CookieOptions
	DefaultLanguage i18n.Lang
}

// AuthHandler はログイン・登録・パスワード再設定・メール確認のHTTPハンドラー。
type AuthHandler struct {
	flows    AuthFlowServiceInterface
	sessions SessionServiceInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(flows AuthFlowServiceInterface, sessions SessionServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		flows:    flows,
		sessions: sessions,
		config:   config,
	}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
}

// bootstrapResponse はページ読み込み時のセッション確認レスポンス。
type bootstrapResponse struct {
	Authenticated bool              `json:"authenticated"`
	Redirect      string            `json:"redirect,omitempty"`
	User          *userResponse     `json:"user,omitempty"`
	Preferences   prefs.Preferences `json:"preferences"`
}

// linkRequest はリンク検査リクエストのボディ。
type linkRequest struct {
	Link string `json:"link"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		FullName:  u.FullName(),
	}
}

// Bootstrap はセッションを確認し、未認証ならログインページへの遷移先を返す。
// GET /auth/bootstrap
func (h *AuthHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromRequest(r)
	result := h.sessions.Bootstrap(r.Context(), sessionID)

	if !result.Authenticated && sessionID != "" {
		middleware.ClearSessionCookie(w, h.config.Cookie)
	}

	writeJSON(w, http.StatusOK, bootstrapResponse{
		Authenticated: result.Authenticated,
		Redirect:      result.Redirect,
		User:          toUserResponse(result.User),
		Preferences:   prefs.Read(r, h.config.DefaultLanguage),
	})
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req authflow.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result := h.flows.Login(r.Context(), h.lang(r), clientKey(r), req)
	if result.Session != nil {
		middleware.SetSessionCookie(w, result.Session.ID, h.sessions.CookieMaxAge(result.Session), h.config.Cookie)

		p := prefs.Read(r, h.config.DefaultLanguage)
		p.RememberMe = req.RememberMe
		if err := prefs.Write(w, p, h.prefsCookie()); err != nil {
			slog.Warn("failed to write preferences", slog.String("error", err.Error()))
		}
	}

	writeFlowResult(w, result)
}

// Register は新規ユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req authflow.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeFlowResult(w, h.flows.Register(r.Context(), h.lang(r), clientKey(r), req))
}

// ForgotPassword はパスワード再設定メールを送信する。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req authflow.ForgotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeFlowResult(w, h.flows.ForgotPassword(r.Context(), h.lang(r), clientKey(r), req))
}

// InspectReset は再設定リンクを検査し、フォームを表示できるかを返す。
// POST /auth/reset-password/inspect
func (h *AuthHandler) InspectReset(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.flows.InspectReset(h.lang(r), req.Link))
}

// ResetPassword はリンクのトークンと旧パスワードでパスワードを変更する。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req authflow.ResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeFlowResult(w, h.flows.ResetPassword(r.Context(), h.lang(r), clientKey(r), req))
}

// InspectConfirm は確認リンクを検査し、確認ボタンを表示できるかを返す。
// POST /auth/confirm/inspect
func (h *AuthHandler) InspectConfirm(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.flows.InspectConfirm(h.lang(r), req.Link))
}

// ConfirmEmail は確認リンクでメールアドレスを確認する。
// POST /auth/confirm
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req authflow.ConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeFlowResult(w, h.flows.ConfirmEmail(r.Context(), h.lang(r), clientKey(r), req))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.SessionIDFromRequest(r); sessionID != "" {
		// 失敗してもCookieはクリアする
		if err := h.sessions.SignOut(r.Context(), sessionID); err != nil {
			slog.Error("failed to sign out", slog.String("error", err.Error()))
		}
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": session.LoginPath})
}

func (h *AuthHandler) lang(r *http.Request) i18n.Lang {
	return prefs.Read(r, h.config.DefaultLanguage).Language
}

func (h *AuthHandler) prefsCookie() prefs.CookieOptions {
	return prefs.CookieOptions{Domain: h.config.Cookie.Domain, Secure: h.config.Cookie.Secure}
}

// clientKey は二重送信判定に使うクライアントの識別子を返す。
// CSRF Cookieを優先し、ない場合は接続元IPを使う。
func clientKey(r *http.Request) string {
	if token := middleware.CSRFTokenFromRequest(r); token != "" {
		return "csrf:" + token
	}
	return "ip:" + middleware.ClientIP(r)
}

// writeFlowResult はフロー結果をメッセージキーに応じたステータスで書き込む。
func writeFlowResult(w http.ResponseWriter, result authflow.Result) {
	writeJSON(w, flowStatus(result), result)
}

// flowStatus はフロー結果からHTTPステータスコードにマッピングする。
func flowStatus(result authflow.Result) int {
	if result.InFlight() {
		return http.StatusConflict
	}
	if result.Succeeded() {
		return http.StatusOK
	}

	switch result.MessageKey {
	case i18n.KeyAllFieldsRequired, i18n.KeyPasswordsDontMatch, i18n.KeyPasswordTooShort,
		i18n.KeyEmailRequired, i18n.KeyOldPasswordRequired:
		return http.StatusBadRequest
	case i18n.KeyWeakPassword:
		return http.StatusUnprocessableEntity
	case i18n.KeyInvalidCredentials, i18n.KeyOldPasswordIncorrect:
		return http.StatusUnauthorized
	case i18n.KeyEmailNotConfirmed:
		return http.StatusForbidden
	case i18n.KeyEmailAlreadyRegistered:
		return http.StatusConflict
	case i18n.KeyRateLimited:
		return http.StatusTooManyRequests
	case i18n.KeyUseEmailLink, i18n.KeyLinkExpired, i18n.KeyInvalidConfirmationLink, i18n.KeyConfirmFailed:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

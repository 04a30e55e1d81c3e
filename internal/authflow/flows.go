package authflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/i18n"
	"github.com/Djangliori/task-new-app/internal/metrics"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/session"
)

// Tone は結果メッセージの表示色。
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
	ToneInfo    Tone = "info"
)

const (
	homePath  = "/"
	loginPath = session.LoginPath
)

// Result はフォーム送信の結果。表示言語のメッセージを含む。
type Result struct {
	State           State    `json:"state"`
	Tone            Tone     `json:"tone"`
	MessageKey      i18n.Key `json:"message_key"`
	Message         string   `json:"message"`
	Redirect        string   `json:"redirect,omitempty"`
	RedirectAfterMs int64    `json:"redirect_after_ms"`

	// ログイン成功時のみ設定される。Cookieの発行に使用する。
	Session *model.Session `json:"-"`
	User    *model.User    `json:"-"`
}

// Succeeded は成功した結果かどうかを返す。
func (r Result) Succeeded() bool {
	return r.State == StateSuccess || r.State == StateRedirecting
}

// InFlight は重複送信として抑止された結果かどうかを返す。
func (r Result) InFlight() bool {
	return r.MessageKey == i18n.KeyFlowInFlight
}

// Inspection はリンクを開いた時点のフォーム表示可否。
type Inspection struct {
	FormEnabled bool     `json:"form_enabled"`
	Tone        Tone     `json:"tone,omitempty"`
	MessageKey  i18n.Key `json:"message_key,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Sessions はフローが使用するセッション操作。session.Managerが実装する。
type Sessions interface {
	SignIn(ctx context.Context, email, password string, rememberMe bool) (*model.Session, *model.User, error)
	SignUp(ctx context.Context, in session.SignUpInput) (*session.SignUpOutcome, error)
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, creds session.LinkCredentials, oldPassword, newPassword string) error
	ConfirmEmail(ctx context.Context, creds session.LinkCredentials) error
}

// Config はフローの設定。
type Config struct {
	ResetRedirectDelay   time.Duration
	ConfirmRedirectDelay time.Duration
}

// LoginRequest はログインフォームの入力。
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// RegisterRequest は登録フォームの入力。
type RegisterRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ForgotRequest はパスワード再設定メール要求フォームの入力。
type ForgotRequest struct {
	Email string `json:"email"`
}

// ResetRequest はパスワード再設定フォームの入力。Linkはページを開いたURL全体。
type ResetRequest struct {
	Link            string `json:"link"`
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ConfirmRequest はメール確認の入力。Linkはページを開いたURL全体。
type ConfirmRequest struct {
	Link string `json:"link"`
}

// Service は認証フローを実行する。
type Service struct {
	sessions Sessions
	guard    *Guard
	metrics  metrics.MetricsCollector
	config   Config
}

// NewService はServiceを生成する。
func NewService(sessions Sessions, guard *Guard, collector metrics.MetricsCollector, config Config) *Service {
	if guard == nil {
		guard = NewGuard()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{sessions: sessions, guard: guard, metrics: collector, config: config}
}

// outcome はリモート呼び出しの結果。
type outcome struct {
	key      i18n.Key
	ok       bool
	redirect string
	delay    time.Duration
	session  *model.Session
	user     *model.User
}

func failed(key i18n.Key) outcome {
	return outcome{key: key}
}

// run はフローの共通手順を実行する。
// 重複送信の抑止、入力検証、リモート呼び出し、状態遷移、メトリクス記録を行う。
func (s *Service) run(ctx context.Context, flow Flow, lang i18n.Lang, clientKey string, validate func() i18n.Key, call func(ctx context.Context) outcome) Result {
	// 1. 同一クライアントの送信が処理中なら呼び出さずに返す
	release, ok := s.guard.Begin(flow, clientKey)
	if !ok {
		s.metrics.RecordAuthAttempt(string(flow), string(i18n.KeyFlowInFlight))
		return Result{
			State:      StateSubmitting,
			Tone:       ToneInfo,
			MessageKey: i18n.KeyFlowInFlight,
			Message:    i18n.Message(lang, i18n.KeyFlowInFlight),
		}
	}
	defer release()

	machine := NewMachine()
	s.transition(machine, flow, StateSubmitting)

	// 2. 入力検証（失敗時はネットワークを使用しない）
	var out outcome
	if key := validate(); key != "" {
		out = failed(key)
	} else {
		out = call(ctx)
	}

	// 3. 結果に応じて遷移
	res := Result{
		MessageKey: out.key,
		Message:    i18n.Message(lang, out.key),
	}
	if !out.ok {
		s.transition(machine, flow, StateError)
		res.State = machine.State()
		res.Tone = ToneError
		s.metrics.RecordAuthAttempt(string(flow), string(out.key))
		return res
	}

	s.transition(machine, flow, StateSuccess)
	res.Tone = ToneSuccess
	res.Session = out.session
	res.User = out.user
	if out.redirect != "" {
		s.transition(machine, flow, StateRedirecting)
		res.Redirect = out.redirect
		res.RedirectAfterMs = out.delay.Milliseconds()
	}
	res.State = machine.State()

	s.metrics.RecordAuthAttempt(string(flow), "success")
	return res
}

func (s *Service) transition(m *Machine, flow Flow, to State) {
	if err := m.Transition(to); err != nil {
		slog.Error("auth flow transition failed",
			slog.String("flow", string(flow)),
			slog.String("error", err.Error()),
		)
	}
}

// Login はログインフローを実行する。成功時はResult.Sessionに新しいセッションを設定する。
func (s *Service) Login(ctx context.Context, lang i18n.Lang, clientKey string, req LoginRequest) Result {
	return s.run(ctx, FlowLogin, lang, clientKey,
		func() i18n.Key { return ValidateLogin(req.Email, req.Password) },
		func(ctx context.Context) outcome {
			sess, user, err := s.sessions.SignIn(ctx, req.Email, req.Password, req.RememberMe)
			if err != nil {
				logFlowError(FlowLogin, err)
				return failed(classifyAuthError(err))
			}
			return outcome{key: i18n.KeyLoginSuccess, ok: true, redirect: homePath, session: sess, user: user}
		},
	)
}

// Register は登録フローを実行する。
// プロフィール作成に失敗した場合も登録成功として扱う。
func (s *Service) Register(ctx context.Context, lang i18n.Lang, clientKey string, req RegisterRequest) Result {
	return s.run(ctx, FlowRegister, lang, clientKey,
		func() i18n.Key {
			return ValidateRegister(req.FirstName, req.LastName, req.Email, req.Password, req.ConfirmPassword)
		},
		func(ctx context.Context) outcome {
			_, err := s.sessions.SignUp(ctx, session.SignUpInput{
				FirstName: req.FirstName,
				LastName:  req.LastName,
				Email:     req.Email,
				Password:  req.Password,
			})
			if err != nil {
				logFlowError(FlowRegister, err)
				if errors.Is(err, session.ErrInvalidInput) {
					return failed(i18n.KeyAllFieldsRequired)
				}
				return failed(classifyAuthError(err))
			}
			return outcome{key: i18n.KeyRegisterSuccess, ok: true, redirect: loginPath}
		},
	)
}

// ForgotPassword はパスワード再設定メールの送信フローを実行する。
func (s *Service) ForgotPassword(ctx context.Context, lang i18n.Lang, clientKey string, req ForgotRequest) Result {
	return s.run(ctx, FlowForgotPassword, lang, clientKey,
		func() i18n.Key { return ValidateForgot(req.Email) },
		func(ctx context.Context) outcome {
			if err := s.sessions.RequestPasswordReset(ctx, req.Email); err != nil {
				logFlowError(FlowForgotPassword, err)
				if backend.IsKind(err, backend.KindRateLimited) {
					return failed(i18n.KeyRateLimited)
				}
				return failed(i18n.KeyResetEmailFailed)
			}
			return outcome{key: i18n.KeyResetEmailSent, ok: true}
		},
	)
}

// ResetPassword はパスワード再設定フローを実行する。
// 成功時は一定時間後にログイン画面へリダイレクトする。
func (s *Service) ResetPassword(ctx context.Context, lang i18n.Lang, clientKey string, req ResetRequest) Result {
	var creds session.LinkCredentials
	return s.run(ctx, FlowResetPassword, lang, clientKey,
		func() i18n.Key {
			if key := ValidateReset(req.OldPassword, req.NewPassword, req.ConfirmPassword); key != "" {
				return key
			}
			parsed, err := ParseLink(req.Link)
			if err != nil {
				return resetLinkKey(err)
			}
			creds = parsed
			return ""
		},
		func(ctx context.Context) outcome {
			err := s.sessions.CompletePasswordReset(ctx, creds, req.OldPassword, req.NewPassword)
			if err != nil {
				logFlowError(FlowResetPassword, err)
				return failed(classifyResetError(err))
			}
			return outcome{key: i18n.KeyPasswordUpdated, ok: true, redirect: loginPath, delay: s.config.ResetRedirectDelay}
		},
	)
}

// ConfirmEmail はメール確認フローを実行する。
// 成功時は一定時間後にログイン画面へリダイレクトする。
func (s *Service) ConfirmEmail(ctx context.Context, lang i18n.Lang, clientKey string, req ConfirmRequest) Result {
	var creds session.LinkCredentials
	return s.run(ctx, FlowConfirmEmail, lang, clientKey,
		func() i18n.Key {
			parsed, err := ParseLink(req.Link)
			if err != nil {
				return confirmLinkKey(err)
			}
			creds = parsed
			return ""
		},
		func(ctx context.Context) outcome {
			if err := s.sessions.ConfirmEmail(ctx, creds); err != nil {
				logFlowError(FlowConfirmEmail, err)
				return failed(i18n.KeyConfirmFailed)
			}
			return outcome{key: i18n.KeyConfirmSuccess, ok: true, redirect: loginPath, delay: s.config.ConfirmRedirectDelay}
		},
	)
}

// InspectReset はパスワード再設定リンクを検査し、フォームを表示できるかを返す。
func (s *Service) InspectReset(lang i18n.Lang, link string) Inspection {
	if _, err := ParseLink(link); err != nil {
		key := resetLinkKey(err)
		tone := ToneError
		if key == i18n.KeyUseEmailLink {
			tone = ToneInfo
		}
		return Inspection{Tone: tone, MessageKey: key, Message: i18n.Message(lang, key)}
	}
	return Inspection{FormEnabled: true}
}

// InspectConfirm はメール確認リンクを検査し、確認ボタンを表示できるかを返す。
func (s *Service) InspectConfirm(lang i18n.Lang, link string) Inspection {
	if _, err := ParseLink(link); err != nil {
		key := confirmLinkKey(err)
		return Inspection{Tone: ToneError, MessageKey: key, Message: i18n.Message(lang, key)}
	}
	return Inspection{
		FormEnabled: true,
		Tone:        ToneInfo,
		MessageKey:  i18n.KeyConfirmReady,
		Message:     i18n.Message(lang, i18n.KeyConfirmReady),
	}
}

func resetLinkKey(err error) i18n.Key {
	if errors.Is(err, ErrLinkExpired) {
		return i18n.KeyLinkExpired
	}
	return i18n.KeyUseEmailLink
}

func confirmLinkKey(err error) i18n.Key {
	if errors.Is(err, ErrLinkExpired) {
		return i18n.KeyConfirmFailed
	}
	return i18n.KeyInvalidConfirmationLink
}

// classifyAuthError はリモートのエラー種別をメッセージキーに変換する。
func classifyAuthError(err error) i18n.Key {
	switch backend.KindOf(err) {
	case backend.KindEmailNotConfirmed:
		return i18n.KeyEmailNotConfirmed
	case backend.KindInvalidCredentials:
		return i18n.KeyInvalidCredentials
	case backend.KindEmailAlreadyRegistered:
		return i18n.KeyEmailAlreadyRegistered
	case backend.KindWeakPassword:
		return i18n.KeyWeakPassword
	case backend.KindRateLimited:
		return i18n.KeyRateLimited
	default:
		return i18n.KeyUnknownError
	}
}

func classifyResetError(err error) i18n.Key {
	switch {
	case errors.Is(err, session.ErrOldPasswordIncorrect):
		return i18n.KeyOldPasswordIncorrect
	case errors.Is(err, session.ErrLinkRejected):
		return i18n.KeyLinkExpired
	case backend.IsKind(err, backend.KindWeakPassword):
		return i18n.KeyWeakPassword
	case backend.IsKind(err, backend.KindRateLimited):
		return i18n.KeyRateLimited
	default:
		return i18n.KeyPasswordUpdateFailed
	}
}

func logFlowError(flow Flow, err error) {
	slog.Warn("auth flow failed",
		slog.String("flow", string(flow)),
		slog.String("kind", backend.KindOf(err).String()),
		slog.String("error", err.Error()),
	)
}

package authflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/i18n"
	"github.com/Djangliori/task-new-app/internal/metrics"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/session"
)

// --- モック定義 ---

type mockSessions struct {
	signInFn        func(ctx context.Context, email, password string, rememberMe bool) (*model.Session, *model.User, error)
	signUpFn        func(ctx context.Context, in session.SignUpInput) (*session.SignUpOutcome, error)
	requestResetFn  func(ctx context.Context, email string) error
	completeResetFn func(ctx context.Context, creds session.LinkCredentials, oldPassword, newPassword string) error
	confirmEmailFn  func(ctx context.Context, creds session.LinkCredentials) error
	calls           int32
}

func (m *mockSessions) SignIn(ctx context.Context, email, password string, rememberMe bool) (*model.Session, *model.User, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password, rememberMe)
	}
	return &model.Session{ID: "sess-1"}, &model.User{ID: "user-1"}, nil
}

func (m *mockSessions) SignUp(ctx context.Context, in session.SignUpInput) (*session.SignUpOutcome, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in)
	}
	return &session.SignUpOutcome{User: &model.User{ID: "user-1"}, ProfileComplete: true}, nil
}

func (m *mockSessions) RequestPasswordReset(ctx context.Context, email string) error {
	atomic.AddInt32(&m.calls, 1)
	if m.requestResetFn != nil {
		return m.requestResetFn(ctx, email)
	}
	return nil
}

func (m *mockSessions) CompletePasswordReset(ctx context.Context, creds session.LinkCredentials, oldPassword, newPassword string) error {
	atomic.AddInt32(&m.calls, 1)
	if m.completeResetFn != nil {
		return m.completeResetFn(ctx, creds, oldPassword, newPassword)
	}
	return nil
}

func (m *mockSessions) ConfirmEmail(ctx context.Context, creds session.LinkCredentials) error {
	atomic.AddInt32(&m.calls, 1)
	if m.confirmEmailFn != nil {
		return m.confirmEmailFn(ctx, creds)
	}
	return nil
}

type recordingMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	attempts []string
}

func (r *recordingMetrics) RecordAuthAttempt(flow, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, flow+":"+outcome)
}

var _ Sessions = (*mockSessions)(nil)

func newTestService(sessions *mockSessions) (*Service, *recordingMetrics) {
	rec := &recordingMetrics{}
	svc := NewService(sessions, NewGuard(), rec, Config{
		ResetRedirectDelay:   3 * time.Second,
		ConfirmRedirectDelay: 3 * time.Second,
	})
	return svc, rec
}

const resetLink = "https://tasks.example.com/reset-password#access_token=a&refresh_token=r&type=recovery"

// --- Login ---

func TestLogin_Success(t *testing.T) {
	sessions := &mockSessions{}
	svc, rec := newTestService(sessions)

	res := svc.Login(context.Background(), i18n.English, "csrf-1", LoginRequest{Email: "a@b.com", Password: "abcdef", RememberMe: true})

	if res.State != StateRedirecting || res.Tone != ToneSuccess || res.Redirect != "/" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.RedirectAfterMs != 0 {
		t.Errorf("ログイン成功は即時リダイレクトするべき: %d", res.RedirectAfterMs)
	}
	if res.Session == nil || res.Session.ID != "sess-1" {
		t.Errorf("Session = %+v", res.Session)
	}
	if !res.Succeeded() {
		t.Error("Succeeded should be true")
	}
	if len(rec.attempts) != 1 || rec.attempts[0] != "login:success" {
		t.Errorf("attempts = %v", rec.attempts)
	}
}

func TestLogin_ErrorClassification(t *testing.T) {
	tests := []struct {
		kind backend.Kind
		want i18n.Key
	}{
		{backend.KindEmailNotConfirmed, i18n.KeyEmailNotConfirmed},
		{backend.KindInvalidCredentials, i18n.KeyInvalidCredentials},
		{backend.KindRateLimited, i18n.KeyRateLimited},
		{backend.KindNetwork, i18n.KeyUnknownError},
		{backend.KindUnknown, i18n.KeyUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			sessions := &mockSessions{
				signInFn: func(_ context.Context, _, _ string, _ bool) (*model.Session, *model.User, error) {
					return nil, nil, fmt.Errorf("sign in: %w", &backend.Error{Kind: tt.kind})
				},
			}
			svc, _ := newTestService(sessions)

			res := svc.Login(context.Background(), i18n.English, "csrf-1", LoginRequest{Email: "a@b.com", Password: "abcdef"})
			if res.State != StateError || res.Tone != ToneError {
				t.Errorf("unexpected result: %+v", res)
			}
			if res.MessageKey != tt.want {
				t.Errorf("MessageKey = %q, want %q", res.MessageKey, tt.want)
			}
			if res.Redirect != "" || res.Session != nil {
				t.Error("失敗時は遷移しないべき")
			}
		})
	}
}

func TestLogin_ValidationSkipsNetwork(t *testing.T) {
	sessions := &mockSessions{}
	svc, _ := newTestService(sessions)

	res := svc.Login(context.Background(), i18n.Georgian, "csrf-1", LoginRequest{Email: "", Password: "x"})
	if res.MessageKey != i18n.KeyAllFieldsRequired || res.Message != "ყველა ველის შევსება სავალდებულოა" {
		t.Errorf("unexpected result: %+v", res)
	}
	if sessions.calls != 0 {
		t.Errorf("検証エラーではネットワークを呼び出さないべき: %d", sessions.calls)
	}
}

func TestLogin_DuplicateSubmissionIsNoOp(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	sessions := &mockSessions{
		signInFn: func(_ context.Context, _, _ string, _ bool) (*model.Session, *model.User, error) {
			close(started)
			<-release
			return &model.Session{ID: "sess-1"}, &model.User{}, nil
		},
	}
	svc, _ := newTestService(sessions)
	req := LoginRequest{Email: "a@b.com", Password: "abcdef"}

	done := make(chan Result)
	go func() {
		done <- svc.Login(context.Background(), i18n.English, "csrf-1", req)
	}()
	<-started

	second := svc.Login(context.Background(), i18n.English, "csrf-1", req)
	if !second.InFlight() || second.State != StateSubmitting {
		t.Errorf("重複送信はin-flight結果を返すべき: %+v", second)
	}

	close(release)
	first := <-done
	if !first.Succeeded() {
		t.Errorf("最初の送信は成功するべき: %+v", first)
	}
	if got := atomic.LoadInt32(&sessions.calls); got != 1 {
		t.Errorf("SignIn calls = %d, want 1", got)
	}
}

// --- Register ---

func TestRegister_ShortPasswordRejectedLocally(t *testing.T) {
	sessions := &mockSessions{}
	svc, _ := newTestService(sessions)

	res := svc.Register(context.Background(), i18n.English, "csrf-1", RegisterRequest{
		FirstName: "Nino", LastName: "Beridze", Email: "a@b.com", Password: "abcde", ConfirmPassword: "abcde",
	})
	if res.MessageKey != i18n.KeyPasswordTooShort {
		t.Errorf("MessageKey = %q", res.MessageKey)
	}
	if sessions.calls != 0 {
		t.Error("ネットワークを呼び出さないべき")
	}
}

func TestRegister_MismatchRejectedLocally(t *testing.T) {
	sessions := &mockSessions{}
	svc, _ := newTestService(sessions)

	res := svc.Register(context.Background(), i18n.English, "csrf-1", RegisterRequest{
		FirstName: "Nino", LastName: "Beridze", Email: "a@b.com", Password: "abcdef", ConfirmPassword: "abcdeg",
	})
	if res.MessageKey != i18n.KeyPasswordsDontMatch || res.Message != "Passwords do not match" {
		t.Errorf("unexpected result: %+v", res)
	}
	if sessions.calls != 0 {
		t.Error("ネットワークを呼び出さないべき")
	}
}

func TestRegister_SecondAttemptAlreadyRegistered(t *testing.T) {
	registered := map[string]bool{}
	sessions := &mockSessions{
		signUpFn: func(_ context.Context, in session.SignUpInput) (*session.SignUpOutcome, error) {
			if registered[in.Email] {
				return nil, &backend.Error{Kind: backend.KindEmailAlreadyRegistered}
			}
			registered[in.Email] = true
			return &session.SignUpOutcome{User: &model.User{ID: "user-1"}, ProfileComplete: true}, nil
		},
	}
	svc, _ := newTestService(sessions)
	req := RegisterRequest{FirstName: "Nino", LastName: "Beridze", Email: "a@b.com", Password: "abcdef", ConfirmPassword: "abcdef"}

	first := svc.Register(context.Background(), i18n.English, "csrf-1", req)
	if !first.Succeeded() || first.MessageKey != i18n.KeyRegisterSuccess || first.Redirect != "/login" {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second := svc.Register(context.Background(), i18n.English, "csrf-1", req)
	if second.MessageKey != i18n.KeyEmailAlreadyRegistered {
		t.Errorf("2回目はemail_already_registeredになるべき: %q", second.MessageKey)
	}
}

func TestRegister_ProfileIncompleteStillSucceeds(t *testing.T) {
	sessions := &mockSessions{
		signUpFn: func(_ context.Context, _ session.SignUpInput) (*session.SignUpOutcome, error) {
			return &session.SignUpOutcome{User: &model.User{ID: "user-1"}, ProfileComplete: false}, nil
		},
	}
	svc, _ := newTestService(sessions)

	res := svc.Register(context.Background(), i18n.English, "csrf-1", RegisterRequest{
		FirstName: "Nino", LastName: "Beridze", Email: "a@b.com", Password: "abcdef", ConfirmPassword: "abcdef",
	})
	if !res.Succeeded() {
		t.Errorf("プロフィール作成失敗でも成功として扱うべき: %+v", res)
	}
}

// --- ForgotPassword ---

func TestForgotPassword(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want i18n.Key
		ok   bool
	}{
		{name: "成功", want: i18n.KeyResetEmailSent, ok: true},
		{name: "レート制限", err: &backend.Error{Kind: backend.KindRateLimited}, want: i18n.KeyRateLimited},
		{name: "その他", err: &backend.Error{Kind: backend.KindNetwork}, want: i18n.KeyResetEmailFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessions{
				requestResetFn: func(_ context.Context, _ string) error { return tt.err },
			}
			svc, _ := newTestService(sessions)

			res := svc.ForgotPassword(context.Background(), i18n.English, "csrf-1", ForgotRequest{Email: "a@b.com"})
			if res.MessageKey != tt.want || res.Succeeded() != tt.ok {
				t.Errorf("unexpected result: %+v", res)
			}
			if tt.ok && (res.State != StateSuccess || res.Redirect != "") {
				t.Errorf("送信成功はその場でメッセージを表示するべき: %+v", res)
			}
		})
	}
}

// --- ResetPassword ---

func TestResetPassword_Success(t *testing.T) {
	var gotCreds session.LinkCredentials
	sessions := &mockSessions{
		completeResetFn: func(_ context.Context, creds session.LinkCredentials, oldPassword, newPassword string) error {
			gotCreds = creds
			if oldPassword != "oldpass" || newPassword != "newpass" {
				t.Errorf("unexpected passwords: %q %q", oldPassword, newPassword)
			}
			return nil
		},
	}
	svc, _ := newTestService(sessions)

	res := svc.ResetPassword(context.Background(), i18n.English, "csrf-1", ResetRequest{
		Link: resetLink, OldPassword: "oldpass", NewPassword: "newpass", ConfirmPassword: "newpass",
	})
	if res.State != StateRedirecting || res.Redirect != "/login" || res.RedirectAfterMs != 3000 {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotCreds.AccessToken != "a" || gotCreds.RefreshToken != "r" {
		t.Errorf("creds = %+v", gotCreds)
	}
}

func TestResetPassword_MissingLinkBlocksWithoutNetwork(t *testing.T) {
	sessions := &mockSessions{}
	svc, _ := newTestService(sessions)

	res := svc.ResetPassword(context.Background(), i18n.English, "csrf-1", ResetRequest{
		Link: "https://tasks.example.com/reset-password", OldPassword: "oldpass", NewPassword: "newpass", ConfirmPassword: "newpass",
	})
	if res.MessageKey != i18n.KeyUseEmailLink || res.State != StateError {
		t.Errorf("unexpected result: %+v", res)
	}
	if sessions.calls != 0 {
		t.Error("ネットワークを呼び出さないべき")
	}
}

func TestResetPassword_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want i18n.Key
	}{
		{"旧パスワード誤り", session.ErrOldPasswordIncorrect, i18n.KeyOldPasswordIncorrect},
		{"リンク拒否", fmt.Errorf("%w: %w", session.ErrLinkRejected, &backend.Error{Kind: backend.KindInvalidToken}), i18n.KeyLinkExpired},
		{"弱いパスワード", fmt.Errorf("update: %w", &backend.Error{Kind: backend.KindWeakPassword}), i18n.KeyWeakPassword},
		{"その他", errors.New("boom"), i18n.KeyPasswordUpdateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &mockSessions{
				completeResetFn: func(_ context.Context, _ session.LinkCredentials, _, _ string) error { return tt.err },
			}
			svc, _ := newTestService(sessions)

			res := svc.ResetPassword(context.Background(), i18n.English, "csrf-1", ResetRequest{
				Link: resetLink, OldPassword: "oldpass", NewPassword: "newpass", ConfirmPassword: "newpass",
			})
			if res.MessageKey != tt.want {
				t.Errorf("MessageKey = %q, want %q", res.MessageKey, tt.want)
			}
		})
	}
}

func TestInspectReset(t *testing.T) {
	svc, _ := newTestService(&mockSessions{})

	if got := svc.InspectReset(i18n.English, resetLink); !got.FormEnabled {
		t.Errorf("有効なリンクではフォームを表示するべき: %+v", got)
	}

	missing := svc.InspectReset(i18n.English, "https://tasks.example.com/reset-password")
	if missing.FormEnabled || missing.MessageKey != i18n.KeyUseEmailLink || missing.Message != "Please use the reset link from your email" {
		t.Errorf("unexpected inspection: %+v", missing)
	}

	expired := svc.InspectReset(i18n.Georgian, "https://tasks.example.com/reset-password#error_code=otp_expired")
	if expired.FormEnabled || expired.MessageKey != i18n.KeyLinkExpired || expired.Tone != ToneError {
		t.Errorf("unexpected inspection: %+v", expired)
	}
}

// --- ConfirmEmail ---

func TestConfirmEmail(t *testing.T) {
	sessions := &mockSessions{}
	svc, _ := newTestService(sessions)

	res := svc.ConfirmEmail(context.Background(), i18n.English, "csrf-1", ConfirmRequest{
		Link: "https://tasks.example.com/auth/confirm?token_hash=h&type=signup",
	})
	if res.State != StateRedirecting || res.MessageKey != i18n.KeyConfirmSuccess || res.RedirectAfterMs != 3000 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestConfirmEmail_Failures(t *testing.T) {
	sessions := &mockSessions{
		confirmEmailFn: func(_ context.Context, _ session.LinkCredentials) error {
			return fmt.Errorf("%w: %w", session.ErrLinkRejected, &backend.Error{Kind: backend.KindInvalidToken})
		},
	}
	svc, _ := newTestService(sessions)

	rejected := svc.ConfirmEmail(context.Background(), i18n.English, "csrf-1", ConfirmRequest{
		Link: "https://tasks.example.com/auth/confirm#access_token=a&refresh_token=r",
	})
	if rejected.MessageKey != i18n.KeyConfirmFailed {
		t.Errorf("MessageKey = %q", rejected.MessageKey)
	}

	missing := svc.ConfirmEmail(context.Background(), i18n.English, "csrf-1", ConfirmRequest{Link: "https://tasks.example.com/auth/confirm"})
	if missing.MessageKey != i18n.KeyInvalidConfirmationLink {
		t.Errorf("MessageKey = %q", missing.MessageKey)
	}
}

func TestInspectConfirm(t *testing.T) {
	svc, _ := newTestService(&mockSessions{})

	ready := svc.InspectConfirm(i18n.Georgian, "https://tasks.example.com/auth/confirm#access_token=a&refresh_token=r")
	if !ready.FormEnabled || ready.MessageKey != i18n.KeyConfirmReady {
		t.Errorf("unexpected inspection: %+v", ready)
	}

	invalid := svc.InspectConfirm(i18n.English, "https://tasks.example.com/auth/confirm")
	if invalid.FormEnabled || invalid.Message != "❌ Invalid confirmation link." {
		t.Errorf("unexpected inspection: %+v", invalid)
	}
}

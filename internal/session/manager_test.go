package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Djangliori/task-new-app/internal/backend"
	"github.com/Djangliori/task-new-app/internal/metrics"
	"github.com/Djangliori/task-new-app/internal/model"
	"github.com/Djangliori/task-new-app/internal/repository"
	"github.com/Djangliori/task-new-app/internal/security"
)

// --- モック定義 ---

type mockSessionRepo struct {
	createFn         func(ctx context.Context, s *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	updateTokensFn   func(ctx context.Context, id, access, refresh string, exp time.Time) error
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, s *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, s)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) UpdateTokens(ctx context.Context, id, access, refresh string, exp time.Time) error {
	if m.updateTokensFn != nil {
		return m.updateTokensFn(ctx, id, access, refresh, exp)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockAuth struct {
	signUpFn       func(ctx context.Context, email, password string, meta backend.ProfileMetadata, redirectTo string) (*backend.SignUpResult, error)
	signInFn       func(ctx context.Context, email, password string) (*backend.AuthSession, error)
	getUserFn      func(ctx context.Context, token string) (*backend.AuthUser, error)
	refreshFn      func(ctx context.Context, refresh string) (*backend.AuthSession, error)
	setSessionFn   func(ctx context.Context, access, refresh string) (*backend.AuthSession, error)
	verifyOTPFn    func(ctx context.Context, hash string, t backend.OTPType) (*backend.AuthSession, error)
	resetFn        func(ctx context.Context, email, returnURL string) error
	updatePasswdFn func(ctx context.Context, token, pw string) error
	signOutFn      func(ctx context.Context, token string) error
	signOutCalls   []string
	mu             sync.Mutex
}

func (m *mockAuth) SignUp(ctx context.Context, email, password string, meta backend.ProfileMetadata, redirectTo string) (*backend.SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, meta, redirectTo)
	}
	return &backend.SignUpResult{User: backend.AuthUser{ID: "user-1", Email: email}}, nil
}

func (m *mockAuth) SignIn(ctx context.Context, email, password string) (*backend.AuthSession, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuth) GetUser(ctx context.Context, token string) (*backend.AuthUser, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, token)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuth) Refresh(ctx context.Context, refresh string) (*backend.AuthSession, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refresh)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuth) SetSession(ctx context.Context, access, refresh string) (*backend.AuthSession, error) {
	if m.setSessionFn != nil {
		return m.setSessionFn(ctx, access, refresh)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuth) VerifyOTP(ctx context.Context, hash string, t backend.OTPType) (*backend.AuthSession, error) {
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, hash, t)
	}
	return nil, errors.New("not configured")
}

func (m *mockAuth) ResetPasswordForEmail(ctx context.Context, email, returnURL string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email, returnURL)
	}
	return nil
}

func (m *mockAuth) UpdatePassword(ctx context.Context, token, pw string) error {
	if m.updatePasswdFn != nil {
		return m.updatePasswdFn(ctx, token, pw)
	}
	return nil
}

func (m *mockAuth) SignOut(ctx context.Context, token string) error {
	m.mu.Lock()
	m.signOutCalls = append(m.signOutCalls, token)
	m.mu.Unlock()
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

type mockData struct {
	backend.Data
	getProfileFn    func(ctx context.Context, token, userID string) (*model.User, error)
	insertProfileFn func(ctx context.Context, token string, user *model.User) error
}

func (m *mockData) GetProfile(ctx context.Context, token, userID string) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, token, userID)
	}
	return nil, &backend.Error{Kind: backend.KindNotFound}
}

func (m *mockData) InsertProfile(ctx context.Context, token string, user *model.User) error {
	if m.insertProfileFn != nil {
		return m.insertProfileFn(ctx, token, user)
	}
	return nil
}

type mockProfileCreator struct {
	createFn func(ctx context.Context, user *model.User) error
}

func (m *mockProfileCreator) CreateProfile(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

type countingMetrics struct {
	metrics.Nop
	profileIncomplete int
}

func (c *countingMetrics) RecordProfileIncomplete() { c.profileIncomplete++ }

type mockStores struct {
	dropped      []string
	droppedUsers []string
}

func (m *mockStores) Drop(sessionID string) { m.dropped = append(m.dropped, sessionID) }

func (m *mockStores) DropUser(userID string) int {
	m.droppedUsers = append(m.droppedUsers, userID)
	return 1
}

var (
	_ repository.SessionRepository = (*mockSessionRepo)(nil)
	_ backend.Auth                 = (*mockAuth)(nil)
	_ backend.ProfileCreator       = (*mockProfileCreator)(nil)
	_ StoreDropper                 = (*mockStores)(nil)
)

// --- テストヘルパー ---

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo     *mockSessionRepo
	auth     *mockAuth
	data     *mockData
	profiles *mockProfileCreator
	metrics  *countingMetrics
	stores   *mockStores
}

func newFixture() *fixture {
	return &fixture{
		repo:     &mockSessionRepo{},
		auth:     &mockAuth{},
		data:     &mockData{},
		profiles: &mockProfileCreator{},
		metrics:  &countingMetrics{},
		stores:   &mockStores{},
	}
}

func (f *fixture) manager() *Manager {
	m := NewManager(f.repo, f.auth, f.data, f.profiles, security.NewNameSanitizer(), f.metrics, f.stores, Config{
		BaseURL:            "https://tasks.example.com",
		SessionMaxAge:      30 * 24 * time.Hour,
		SessionShortMaxAge: 12 * time.Hour,
	})
	m.now = func() time.Time { return testNow }
	return m
}

func issuedSession(access string) *backend.AuthSession {
	return &backend.AuthSession{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    testNow.Add(time.Hour),
		User: backend.AuthUser{
			ID:       "user-1",
			Email:    "nino@example.com",
			Metadata: backend.ProfileMetadata{FirstName: "Nino", LastName: "Beridze"},
		},
	}
}

func storedSession(tokenExpiresAt time.Time) *model.Session {
	return &model.Session{
		ID:             "sess-1",
		UserID:         "user-1",
		AccessToken:    "old-access",
		RefreshToken:   "old-refresh",
		TokenExpiresAt: tokenExpiresAt,
		ExpiresAt:      testNow.Add(time.Hour),
	}
}

// --- Bootstrap ---

func TestBootstrap_NoCookieRedirectsToLogin(t *testing.T) {
	f := newFixture()
	res := f.manager().Bootstrap(context.Background(), "")

	if res.Authenticated || res.Redirect != LoginPath {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestBootstrap_UnknownSession(t *testing.T) {
	f := newFixture()
	res := f.manager().Bootstrap(context.Background(), "missing")

	if res.Authenticated || res.Redirect != LoginPath {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestBootstrap_RepositoryFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return nil, errors.New("connection refused")
	}

	res := f.manager().Bootstrap(context.Background(), "sess-1")
	if res.Authenticated || res.Redirect != LoginPath {
		t.Errorf("バックエンド障害は未認証として扱うべき: %+v", res)
	}
}

func TestBootstrap_WithProfile(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(time.Hour)), nil
	}
	f.data.getProfileFn = func(_ context.Context, token, userID string) (*model.User, error) {
		if token != "old-access" || userID != "user-1" {
			t.Errorf("unexpected args: %s %s", token, userID)
		}
		return &model.User{ID: "user-1", FirstName: "Nino", LastName: "Beridze"}, nil
	}

	res := f.manager().Bootstrap(context.Background(), "sess-1")
	if !res.Authenticated || res.Redirect != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.User.FullName() != "Nino Beridze" {
		t.Errorf("User = %+v", res.User)
	}
}

func TestBootstrap_MissingProfileFallsBackToMetadata(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(time.Hour)), nil
	}
	f.auth.getUserFn = func(_ context.Context, _ string) (*backend.AuthUser, error) {
		return &backend.AuthUser{ID: "user-1", Email: "nino@example.com",
			Metadata: backend.ProfileMetadata{FirstName: "Nino", LastName: "Beridze"}}, nil
	}

	res := f.manager().Bootstrap(context.Background(), "sess-1")
	if !res.Authenticated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.User.FirstName != "Nino" || res.User.Email != "nino@example.com" {
		t.Errorf("メタデータから組み立てるべき: %+v", res.User)
	}
}

// --- Current / AccessToken ---

func TestAccessToken_NoRefreshWhenFresh(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(5 * time.Minute)), nil
	}
	f.auth.refreshFn = func(_ context.Context, _ string) (*backend.AuthSession, error) {
		t.Error("期限に余裕がある場合はリフレッシュしないべき")
		return nil, nil
	}

	token, err := f.manager().AccessToken(context.Background(), "sess-1")
	if err != nil || token != "old-access" {
		t.Errorf("got %q, %v", token, err)
	}
}

func TestAccessToken_RefreshesInsideWindow(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(30 * time.Second)), nil
	}
	f.auth.refreshFn = func(_ context.Context, refresh string) (*backend.AuthSession, error) {
		if refresh != "old-refresh" {
			t.Errorf("refresh token = %q", refresh)
		}
		return issuedSession("new-access"), nil
	}
	var persisted string
	f.repo.updateTokensFn = func(_ context.Context, id, access, refresh string, exp time.Time) error {
		persisted = id + ":" + access + ":" + refresh
		if !exp.Equal(testNow.Add(time.Hour)) {
			t.Errorf("token expiry = %v", exp)
		}
		return nil
	}

	token, err := f.manager().AccessToken(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "new-access" {
		t.Errorf("token = %q, want new-access", token)
	}
	if persisted != "sess-1:new-access:refresh-new-access" {
		t.Errorf("persisted = %q", persisted)
	}
}

func TestAccessToken_RevokedRefreshDeletesSession(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(-time.Minute)), nil
	}
	f.auth.refreshFn = func(_ context.Context, _ string) (*backend.AuthSession, error) {
		return nil, &backend.Error{Kind: backend.KindInvalidToken, Op: "refresh"}
	}
	var deleted string
	f.repo.deleteByIDFn = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}

	_, err := f.manager().AccessToken(context.Background(), "sess-1")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("失効したセッションは削除されるべき: %q", deleted)
	}
	if len(f.stores.dropped) != 1 {
		t.Errorf("ストアも破棄されるべき: %v", f.stores.dropped)
	}
}

func TestAccessToken_NetworkFailureKeepsSession(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(-time.Minute)), nil
	}
	f.auth.refreshFn = func(_ context.Context, _ string) (*backend.AuthSession, error) {
		return nil, &backend.Error{Kind: backend.KindNetwork, Op: "refresh"}
	}
	f.repo.deleteByIDFn = func(_ context.Context, _ string) error {
		t.Error("一時的な障害ではセッションを削除しないべき")
		return nil
	}

	_, err := f.manager().AccessToken(context.Background(), "sess-1")
	if err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected wrapped network error, got %v", err)
	}
	if !backend.IsKind(err, backend.KindNetwork) {
		t.Errorf("backend.Errorがラップされているべき: %v", err)
	}
}

func TestAccessToken_RefreshSurvivesCallerCancel(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(-time.Minute)), nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.auth.refreshFn = func(_ context.Context, _ string) (*backend.AuthSession, error) {
		// ローテーション直後にクライアントが切断する
		cancel()
		return issuedSession("new-access"), nil
	}
	var persisted string
	f.repo.updateTokensFn = func(ctx context.Context, _, access, _ string, _ time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		persisted = access
		return nil
	}

	token, err := f.manager().AccessToken(ctx, "sess-1")
	if err != nil {
		t.Fatalf("切断後も再発行したトークンは永続化されるべき: %v", err)
	}
	if token != "new-access" || persisted != "new-access" {
		t.Errorf("token = %q, persisted = %q", token, persisted)
	}
}

func TestAccessToken_ConcurrentRefreshIsShared(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(-time.Minute)), nil
	}
	var calls int32
	release := make(chan struct{})
	f.auth.refreshFn = func(_ context.Context, _ string) (*backend.AuthSession, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return issuedSession("new-access"), nil
	}

	m := f.manager()
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AccessToken(context.Background(), "sess-1")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Refresh calls = %d, want 1", got)
	}
}

// --- SignIn ---

func TestSignIn_NormalizesEmailAndPersists(t *testing.T) {
	f := newFixture()
	f.auth.signInFn = func(_ context.Context, email, password string) (*backend.AuthSession, error) {
		if email != "nino@example.com" {
			t.Errorf("email = %q, want normalized", email)
		}
		return issuedSession("access-1"), nil
	}
	var created *model.Session
	f.repo.createFn = func(_ context.Context, s *model.Session) error {
		created = s
		return nil
	}
	f.data.getProfileFn = func(_ context.Context, _, _ string) (*model.User, error) {
		return &model.User{ID: "user-1", FirstName: "Nino"}, nil
	}

	m := f.manager()
	sess, user, err := m.SignIn(context.Background(), "  Nino@Example.COM ", "secret1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil || created != sess {
		t.Fatal("セッションが永続化されていません")
	}
	if len(sess.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(sess.ID))
	}
	if !sess.ExpiresAt.Equal(testNow.Add(30 * 24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", sess.ExpiresAt)
	}
	if sess.AccessToken != "access-1" || sess.RefreshToken != "refresh-access-1" {
		t.Errorf("tokens = %q %q", sess.AccessToken, sess.RefreshToken)
	}
	if user.FirstName != "Nino" {
		t.Errorf("user = %+v", user)
	}
	if m.CookieMaxAge(sess) != 30*24*60*60 {
		t.Errorf("CookieMaxAge = %d", m.CookieMaxAge(sess))
	}
}

func TestSignIn_ShortSessionWithoutRememberMe(t *testing.T) {
	f := newFixture()
	f.auth.signInFn = func(_ context.Context, _, _ string) (*backend.AuthSession, error) {
		return issuedSession("access-1"), nil
	}
	f.auth.getUserFn = func(_ context.Context, _ string) (*backend.AuthUser, error) {
		return nil, errors.New("unavailable")
	}

	m := f.manager()
	sess, user, err := m.SignIn(context.Background(), "nino@example.com", "secret1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.ExpiresAt.Equal(testNow.Add(12 * time.Hour)) {
		t.Errorf("ExpiresAt = %v", sess.ExpiresAt)
	}
	if m.CookieMaxAge(sess) != 0 {
		t.Errorf("ログイン保持なしはブラウザセッションCookieになるべき")
	}
	if user.LastName != "Beridze" {
		t.Errorf("サインイン応答のメタデータで代替するべき: %+v", user)
	}
}

func TestSignIn_BackendErrorPassedThrough(t *testing.T) {
	f := newFixture()
	f.auth.signInFn = func(_ context.Context, _, _ string) (*backend.AuthSession, error) {
		return nil, &backend.Error{Kind: backend.KindEmailNotConfirmed}
	}
	f.repo.createFn = func(_ context.Context, _ *model.Session) error {
		t.Error("失敗時はセッションを作成しないべき")
		return nil
	}

	_, _, err := f.manager().SignIn(context.Background(), "nino@example.com", "secret1", false)
	if !backend.IsKind(err, backend.KindEmailNotConfirmed) {
		t.Errorf("expected EmailNotConfirmed, got %v", err)
	}
}

func TestSignIn_EmptyInput(t *testing.T) {
	f := newFixture()
	if _, _, err := f.manager().SignIn(context.Background(), "  ", "pw", false); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// --- SignUp ---

func TestSignUp_PrivilegedProfile(t *testing.T) {
	f := newFixture()
	f.auth.signUpFn = func(_ context.Context, email, _ string, meta backend.ProfileMetadata, redirectTo string) (*backend.SignUpResult, error) {
		if email != "a@b.com" || meta.FirstName != "Nino" || meta.LastName != "Beridze" {
			t.Errorf("unexpected args: %s %+v", email, meta)
		}
		if redirectTo != "https://tasks.example.com/auth/confirm" {
			t.Errorf("redirectTo = %q", redirectTo)
		}
		return &backend.SignUpResult{User: backend.AuthUser{ID: "user-9", Email: email}}, nil
	}
	var profile *model.User
	f.profiles.createFn = func(_ context.Context, u *model.User) error {
		profile = u
		return nil
	}

	out, err := f.manager().SignUp(context.Background(), SignUpInput{
		FirstName: " <b>Nino</b> ", LastName: "Beridze", Email: "A@B.com", Password: "abcdef",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.ProfileComplete {
		t.Error("ProfileComplete should be true")
	}
	if profile == nil || profile.ID != "user-9" || profile.FirstName != "Nino" || profile.Email != "a@b.com" {
		t.Errorf("profile = %+v", profile)
	}
	if !profile.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v", profile.CreatedAt)
	}
}

func TestSignUp_FallsBackToDirectInsert(t *testing.T) {
	f := newFixture()
	f.auth.signUpFn = func(_ context.Context, email, _ string, _ backend.ProfileMetadata, _ string) (*backend.SignUpResult, error) {
		s := issuedSession("signup-access")
		return &backend.SignUpResult{User: s.User, Session: s}, nil
	}
	f.profiles.createFn = func(_ context.Context, _ *model.User) error {
		return errors.New("service unavailable")
	}
	var insertedWith string
	f.data.insertProfileFn = func(_ context.Context, token string, _ *model.User) error {
		insertedWith = token
		return nil
	}

	out, err := f.manager().SignUp(context.Background(), SignUpInput{
		FirstName: "Nino", LastName: "Beridze", Email: "nino@example.com", Password: "abcdef",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.ProfileComplete || insertedWith != "signup-access" {
		t.Errorf("サインアップのセッションで直接挿入するべき: %+v %q", out, insertedWith)
	}
	if f.metrics.profileIncomplete != 0 {
		t.Error("成功時はprofile_incompleteを記録しないべき")
	}
	if len(f.auth.signOutCalls) != 1 || f.auth.signOutCalls[0] != "signup-access" {
		t.Errorf("一時セッションはサインアウトされるべき: %v", f.auth.signOutCalls)
	}
}

func TestSignUp_BothProfileAttemptsFail(t *testing.T) {
	f := newFixture()
	f.auth.signUpFn = func(_ context.Context, _, _ string, _ backend.ProfileMetadata, _ string) (*backend.SignUpResult, error) {
		s := issuedSession("signup-access")
		return &backend.SignUpResult{User: s.User, Session: s}, nil
	}
	f.profiles.createFn = func(_ context.Context, _ *model.User) error { return errors.New("privileged failed") }
	f.data.insertProfileFn = func(_ context.Context, _ string, _ *model.User) error { return errors.New("rls denied") }

	out, err := f.manager().SignUp(context.Background(), SignUpInput{
		FirstName: "Nino", LastName: "Beridze", Email: "nino@example.com", Password: "abcdef",
	})
	if err != nil {
		t.Fatalf("登録自体は成功として扱うべき: %v", err)
	}
	if out.ProfileComplete {
		t.Error("ProfileComplete should be false")
	}
	if f.metrics.profileIncomplete != 1 {
		t.Errorf("profileIncomplete = %d, want 1", f.metrics.profileIncomplete)
	}
}

func TestSignUp_NoSessionNoFallback(t *testing.T) {
	f := newFixture()
	f.profiles.createFn = func(_ context.Context, _ *model.User) error { return errors.New("privileged failed") }
	f.data.insertProfileFn = func(_ context.Context, _ string, _ *model.User) error {
		t.Error("セッションがない場合は直接挿入を試みないべき")
		return nil
	}

	out, err := f.manager().SignUp(context.Background(), SignUpInput{
		FirstName: "Nino", LastName: "Beridze", Email: "nino@example.com", Password: "abcdef",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ProfileComplete || f.metrics.profileIncomplete != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestSignUp_AlreadyRegistered(t *testing.T) {
	f := newFixture()
	f.auth.signUpFn = func(_ context.Context, _, _ string, _ backend.ProfileMetadata, _ string) (*backend.SignUpResult, error) {
		return nil, &backend.Error{Kind: backend.KindEmailAlreadyRegistered}
	}
	f.profiles.createFn = func(_ context.Context, _ *model.User) error {
		t.Error("登録失敗時はプロフィールを作成しないべき")
		return nil
	}

	_, err := f.manager().SignUp(context.Background(), SignUpInput{
		FirstName: "Nino", LastName: "Beridze", Email: "a@b.com", Password: "abcdef",
	})
	if !backend.IsKind(err, backend.KindEmailAlreadyRegistered) {
		t.Errorf("expected EmailAlreadyRegistered, got %v", err)
	}
}

func TestSignUp_RejectsMarkupOnlyName(t *testing.T) {
	f := newFixture()
	f.auth.signUpFn = func(_ context.Context, _, _ string, _ backend.ProfileMetadata, _ string) (*backend.SignUpResult, error) {
		t.Error("不正な入力ではバックエンドを呼び出さないべき")
		return nil, nil
	}

	_, err := f.manager().SignUp(context.Background(), SignUpInput{
		FirstName: "<script></script>", LastName: "Beridze", Email: "a@b.com", Password: "abcdef",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// --- パスワード再設定 ---

func TestRequestPasswordReset_ReturnURL(t *testing.T) {
	f := newFixture()
	var gotEmail, gotURL string
	f.auth.resetFn = func(_ context.Context, email, returnURL string) error {
		gotEmail, gotURL = email, returnURL
		return nil
	}

	if err := f.manager().RequestPasswordReset(context.Background(), " Nino@Example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEmail != "nino@example.com" || gotURL != "https://tasks.example.com/reset-password" {
		t.Errorf("got %q %q", gotEmail, gotURL)
	}
}

func TestRequestPasswordReset_Failure(t *testing.T) {
	f := newFixture()
	f.auth.resetFn = func(_ context.Context, _, _ string) error {
		return &backend.Error{Kind: backend.KindRateLimited}
	}

	err := f.manager().RequestPasswordReset(context.Background(), "nino@example.com")
	if !backend.IsKind(err, backend.KindRateLimited) {
		t.Errorf("expected RateLimited, got %v", err)
	}
}

func resetFixture() *fixture {
	f := newFixture()
	f.auth.setSessionFn = func(_ context.Context, access, refresh string) (*backend.AuthSession, error) {
		if access != "link-access" || refresh != "link-refresh" {
			return nil, &backend.Error{Kind: backend.KindInvalidToken}
		}
		return issuedSession("link-access"), nil
	}
	return f
}

var linkCreds = LinkCredentials{AccessToken: "link-access", RefreshToken: "link-refresh"}

func TestCompletePasswordReset_Success(t *testing.T) {
	f := resetFixture()
	f.auth.signInFn = func(_ context.Context, email, password string) (*backend.AuthSession, error) {
		if email != "nino@example.com" || password != "oldpass" {
			return nil, &backend.Error{Kind: backend.KindInvalidCredentials}
		}
		return issuedSession("verify-access"), nil
	}
	var updated string
	f.auth.updatePasswdFn = func(_ context.Context, token, pw string) error {
		updated = token + ":" + pw
		return nil
	}
	var revoked string
	f.repo.deleteByUserIDFn = func(_ context.Context, userID string) error {
		revoked = userID
		return nil
	}

	err := f.manager().CompletePasswordReset(context.Background(), linkCreds, "oldpass", "newpass1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated != "link-access:newpass1" {
		t.Errorf("UpdatePassword args = %q", updated)
	}
	if revoked != "user-1" {
		t.Errorf("既存セッションが破棄されていません: %q", revoked)
	}
	if len(f.stores.droppedUsers) != 1 || f.stores.droppedUsers[0] != "user-1" {
		t.Errorf("既存セッションのストアも破棄されるべき: %v", f.stores.droppedUsers)
	}
	if len(f.auth.signOutCalls) != 2 {
		t.Errorf("一時セッションはすべてサインアウトされるべき: %v", f.auth.signOutCalls)
	}
}

func TestCompletePasswordReset_OldPasswordIncorrect(t *testing.T) {
	f := resetFixture()
	f.auth.signInFn = func(_ context.Context, _, _ string) (*backend.AuthSession, error) {
		return nil, &backend.Error{Kind: backend.KindInvalidCredentials}
	}
	f.auth.updatePasswdFn = func(_ context.Context, _, _ string) error {
		t.Error("旧パスワード確認失敗時は変更しないべき")
		return nil
	}

	err := f.manager().CompletePasswordReset(context.Background(), linkCreds, "wrong", "newpass1")
	if !errors.Is(err, ErrOldPasswordIncorrect) {
		t.Errorf("expected ErrOldPasswordIncorrect, got %v", err)
	}
	if errors.Is(err, ErrLinkRejected) {
		t.Error("リンク無効とは区別されるべき")
	}
}

func TestCompletePasswordReset_LinkRejected(t *testing.T) {
	f := resetFixture()

	err := f.manager().CompletePasswordReset(context.Background(),
		LinkCredentials{AccessToken: "stale", RefreshToken: "stale"}, "oldpass", "newpass1")
	if !errors.Is(err, ErrLinkRejected) {
		t.Errorf("expected ErrLinkRejected, got %v", err)
	}
	if !backend.IsKind(err, backend.KindInvalidToken) {
		t.Errorf("backend.Errorもラップされているべき: %v", err)
	}
}

func TestCompletePasswordReset_TokenHashUsesRecoveryType(t *testing.T) {
	f := newFixture()
	var gotType backend.OTPType
	f.auth.verifyOTPFn = func(_ context.Context, hash string, otpType backend.OTPType) (*backend.AuthSession, error) {
		gotType = otpType
		return issuedSession("otp-access"), nil
	}
	f.auth.signInFn = func(_ context.Context, _, _ string) (*backend.AuthSession, error) {
		return issuedSession("verify-access"), nil
	}

	err := f.manager().CompletePasswordReset(context.Background(), LinkCredentials{TokenHash: "abc"}, "oldpass", "newpass1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotType != backend.OTPRecovery {
		t.Errorf("type = %q, want recovery", gotType)
	}
}

// --- ConfirmEmail ---

func TestConfirmEmail_TokenPair(t *testing.T) {
	f := resetFixture()
	f.repo.createFn = func(_ context.Context, _ *model.Session) error {
		t.Error("確認リンクのセッションは永続化しないべき")
		return nil
	}

	if err := f.manager().ConfirmEmail(context.Background(), linkCreds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.auth.signOutCalls) != 1 {
		t.Errorf("一時セッションはサインアウトされるべき: %v", f.auth.signOutCalls)
	}
}

func TestConfirmEmail_TokenHash(t *testing.T) {
	f := newFixture()
	f.auth.verifyOTPFn = func(_ context.Context, hash string, otpType backend.OTPType) (*backend.AuthSession, error) {
		if hash != "hash-1" || otpType != backend.OTPEmail {
			t.Errorf("unexpected args: %s %s", hash, otpType)
		}
		return issuedSession("otp-access"), nil
	}

	err := f.manager().ConfirmEmail(context.Background(), LinkCredentials{TokenHash: "hash-1", Type: backend.OTPEmail})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfirmEmail_NoCredentials(t *testing.T) {
	f := newFixture()
	if err := f.manager().ConfirmEmail(context.Background(), LinkCredentials{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

// --- SignOut ---

func TestSignOut_IgnoresRemoteFailure(t *testing.T) {
	f := newFixture()
	f.repo.findByIDFn = func(_ context.Context, _ string) (*model.Session, error) {
		return storedSession(testNow.Add(time.Hour)), nil
	}
	f.auth.signOutFn = func(_ context.Context, _ string) error {
		return &backend.Error{Kind: backend.KindNetwork}
	}
	var deleted string
	f.repo.deleteByIDFn = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}

	if err := f.manager().SignOut(context.Background(), "sess-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != "sess-1" {
		t.Errorf("deleted = %q", deleted)
	}
	if len(f.stores.dropped) != 1 || f.stores.dropped[0] != "sess-1" {
		t.Errorf("dropped = %v", f.stores.dropped)
	}
}

func TestSignOut_DeleteFailure(t *testing.T) {
	f := newFixture()
	f.repo.deleteByIDFn = func(_ context.Context, _ string) error {
		return errors.New("db down")
	}

	if err := f.manager().SignOut(context.Background(), "sess-1"); err == nil {
		t.Error("expected error")
	}
}

func TestGenerateSessionID(t *testing.T) {
	a, err := generateSessionID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := generateSessionID()
	if len(a) != 64 || a == b {
		t.Errorf("unexpected IDs: %q %q", a, b)
	}
}

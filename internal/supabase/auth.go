package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/Djangliori/task-new-app/internal/backend"
)

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UserMetadata     struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"user_metadata"`
	// 登録済みメールアドレスへのサインアップでは空配列の匿名化ユーザーが返る
	Identities []json.RawMessage `json:"identities"`
}

func (u *userResponse) toAuthUser() backend.AuthUser {
	return backend.AuthUser{
		ID:    u.ID,
		Email: u.Email,
		Metadata: backend.ProfileMetadata{
			FirstName: u.UserMetadata.FirstName,
			LastName:  u.UserMetadata.LastName,
		},
		EmailConfirmed: u.EmailConfirmedAt != nil,
		CreatedAt:      u.CreatedAt,
	}
}

// tokenResponse はトークン発行系エンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`
}

// signUpResponse はメール確認の要否でトークンレスポンスとユーザーオブジェクトのどちらかになる。
type signUpResponse struct {
	tokenResponse
	userResponse
}

func (c *Client) toSession(op string, tr *tokenResponse) (*backend.AuthSession, error) {
	if tr.AccessToken == "" || tr.User == nil {
		return nil, &backend.Error{Kind: backend.KindUnknown, Op: op, Err: errMissingSession}
	}
	return &backend.AuthSession{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.tokenExpiry(tr),
		User:         tr.User.toAuthUser(),
	}, nil
}

// tokenExpiry はexpires_at、expires_in、JWTのexpの順で有効期限を決定する。
func (c *Client) tokenExpiry(tr *tokenResponse) time.Time {
	if tr.ExpiresAt > 0 {
		return time.Unix(tr.ExpiresAt, 0).UTC()
	}
	if tr.ExpiresIn > 0 {
		return c.now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	}
	if claims, err := c.ParseAccessToken(tr.AccessToken); err == nil {
		return claims.Expiry()
	}
	return time.Time{}
}

var errMissingSession = errors.New("response did not contain a session")

// SignUp は新規ユーザーを登録する。
func (c *Client) SignUp(ctx context.Context, email, password string, meta backend.ProfileMetadata, redirectTo string) (*backend.SignUpResult, error) {
	const op = "auth.sign_up"

	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	body := map[string]any{
		"email":    email,
		"password": password,
		"data": map[string]string{
			"first_name": meta.FirstName,
			"last_name":  meta.LastName,
		},
	}

	var resp signUpResponse
	if err := c.do(ctx, request{op: op, method: http.MethodPost, path: authPath + "/signup", query: query, body: body}, &resp); err != nil {
		return nil, err
	}

	// 1. 自動確認が有効な場合はセッション付きで返る
	if resp.AccessToken != "" && resp.tokenResponse.User != nil {
		session, err := c.toSession(op, &resp.tokenResponse)
		if err != nil {
			return nil, err
		}
		return &backend.SignUpResult{User: session.User, Session: session}, nil
	}

	// 2. 確認メール送信の場合はユーザーのみ。identitiesが空なら登録済み
	if resp.userResponse.ID == "" {
		return nil, &backend.Error{Kind: backend.KindUnknown, Op: op, Err: errMissingSession}
	}
	if resp.userResponse.Identities != nil && len(resp.userResponse.Identities) == 0 {
		return nil, &backend.Error{Kind: backend.KindEmailAlreadyRegistered, Op: op, Status: http.StatusOK, Code: "user_already_exists"}
	}
	return &backend.SignUpResult{User: resp.userResponse.toAuthUser()}, nil
}

// SignIn はパスワードグラントでサインインする。
func (c *Client) SignIn(ctx context.Context, email, password string) (*backend.AuthSession, error) {
	const op = "auth.sign_in"

	var resp tokenResponse
	err := c.do(ctx, request{
		op:         op,
		method:     http.MethodPost,
		path:       authPath + "/token",
		query:      url.Values{"grant_type": {"password"}},
		body:       map[string]string{"email": email, "password": password},
		credential: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.toSession(op, &resp)
}

// GetUser はアクセストークンに紐づくユーザーを取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*backend.AuthUser, error) {
	var resp userResponse
	if err := c.do(ctx, request{op: "auth.get_user", method: http.MethodGet, path: authPath + "/user", token: accessToken}, &resp); err != nil {
		return nil, err
	}
	user := resp.toAuthUser()
	return &user, nil
}

// Refresh はリフレッシュトークンで新しいトークンペアを取得する。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*backend.AuthSession, error) {
	const op = "auth.refresh"

	var resp tokenResponse
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   authPath + "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.toSession(op, &resp)
}

// tokenRefreshSkew は期限切れ間近とみなす猶予。
const tokenRefreshSkew = 10 * time.Second

// SetSession はメールのリンクから受け取ったトークンペアでセッションを確立する。
// アクセストークンが有効ならGetUserで検証し、期限切れや無効の場合はRefreshにフォールバックする。
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*backend.AuthSession, error) {
	const op = "auth.set_session"

	if accessToken == "" && refreshToken == "" {
		return nil, &backend.Error{Kind: backend.KindInvalidToken, Op: op, Code: "missing_tokens"}
	}

	// 1. アクセストークンが読めて期限内ならユーザーを取得して確定する
	if accessToken != "" {
		claims, err := c.ParseAccessToken(accessToken)
		if err == nil && !c.expired(claims, tokenRefreshSkew) {
			user, err := c.GetUser(ctx, accessToken)
			if err == nil {
				return &backend.AuthSession{
					AccessToken:  accessToken,
					RefreshToken: refreshToken,
					ExpiresAt:    claims.Expiry(),
					User:         *user,
				}, nil
			}
			if !backend.IsKind(err, backend.KindInvalidToken) {
				return nil, err
			}
		}
	}

	// 2. リフレッシュトークンで再発行する
	if refreshToken == "" {
		return nil, &backend.Error{Kind: backend.KindInvalidToken, Op: op, Code: "missing_refresh_token"}
	}
	return c.Refresh(ctx, refreshToken)
}

// VerifyOTP はtoken_hashとtypeでワンタイム検証を行い、セッションを受け取る。
func (c *Client) VerifyOTP(ctx context.Context, tokenHash string, otpType backend.OTPType) (*backend.AuthSession, error) {
	const op = "auth.verify_otp"

	if tokenHash == "" || !otpType.Valid() {
		return nil, &backend.Error{Kind: backend.KindInvalidToken, Op: op, Code: "invalid_otp_params"}
	}

	var resp tokenResponse
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodPost,
		path:   authPath + "/verify",
		body:   map[string]string{"token_hash": tokenHash, "type": string(otpType)},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.toSession(op, &resp)
}

// ResetPasswordForEmail はパスワード再設定メールを送信する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, returnURL string) error {
	query := url.Values{}
	if returnURL != "" {
		query.Set("redirect_to", returnURL)
	}
	return c.do(ctx, request{
		op:     "auth.recover",
		method: http.MethodPost,
		path:   authPath + "/recover",
		query:  query,
		body:   map[string]string{"email": email},
	}, nil)
}

// UpdatePassword はセッションのユーザーのパスワードを変更する。
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	return c.do(ctx, request{
		op:     "auth.update_user",
		method: http.MethodPut,
		path:   authPath + "/user",
		token:  accessToken,
		body:   map[string]string{"password": newPassword},
	}, nil)
}

// SignOut はこのセッションのリフレッシュトークンを無効化する。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, request{
		op:     "auth.sign_out",
		method: http.MethodPost,
		path:   authPath + "/logout",
		query:  url.Values{"scope": {"local"}},
		token:  accessToken,
	}, nil)
}

var _ backend.Auth = (*Client)(nil)
